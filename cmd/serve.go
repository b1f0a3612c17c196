package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conneroisu/hotssr/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the development server",
	Long: `Start the SSR development server. Every route, for every method, is
rendered by the server entry and spliced into index.html. Files under the
root are watched; stylesheet changes are pushed to open tabs and any other
change reloads them.

Examples:
  hotssr serve                     # Serve on localhost:3000
  hotssr serve -p 8080 --open      # Other port, open a browser
  hotssr serve --root ./web        # Project in a subdirectory`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveBindings = map[string]string{
	"open": "server.open",
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addServerFlags(serveCmd.Flags())
	serveCmd.Flags().Bool("open", false, "Open the browser once the server is up")
	serveCmd.Flags().Bool("no-hmr", false, "Disable the HMR client and websocket")

	AddFlagValidation(serveCmd.Flags(), "port", validatePort)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, serverBindings, serveBindings)
	if err != nil {
		return err
	}
	// --no-hmr only ever disables, so it is applied after loading.
	if noHMR, _ := cmd.Flags().GetBool("no-hmr"); noHMR {
		cfg.Development.HMR = false
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{Config: cfg, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := srv.Listen(); err != nil {
		return err
	}
	printBanner(cmd.OutOrStdout(), srv.URL(), cfg.Development.HMR)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func printBanner(w io.Writer, url string, hmr bool) {
	green := color.New(color.FgGreen, color.Bold)
	faint := color.New(color.Faint)

	_, _ = green.Fprintf(w, "Server is running on %s\n", url)
	if hmr {
		_, _ = faint.Fprintln(w, "  hot reload enabled, press Ctrl+C to stop")
	} else {
		_, _ = faint.Fprintln(w, "  press Ctrl+C to stop")
	}
}
