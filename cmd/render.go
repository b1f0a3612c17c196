package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/conneroisu/hotssr/internal/logging"
	"github.com/conneroisu/hotssr/internal/server"
)

var renderOutput string

var renderCmd = &cobra.Command{
	Use:     "render [url]",
	Aliases: []string{"r"},
	Short:   "Render one URL and print the HTML",
	Long: `Run the same pipeline the dev server runs for a request, once, and print the
resulting document. Nothing listens and nothing is watched.

Examples:
  hotssr render                    # Render /
  hotssr render "/about?tab=team"  # Render with a query string
  hotssr render / -o out.html      # Write to a file`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	addServerFlags(renderCmd.Flags())
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "Write the HTML to a file instead of stdout")
}

func runRender(cmd *cobra.Command, args []string) error {
	url := "/"
	if len(args) == 1 {
		url = args[0]
	}

	cfg, err := loadConfig(cmd, serverBindings)
	if err != nil {
		return err
	}
	// A single render has no browser to reload.
	cfg.Development.HMR = false
	cfg.Development.Metrics = false

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{Config: cfg, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx := commandContext(cmd)
	op := logging.StartOperation(logger, "render")
	html, err := srv.SSR().Render(ctx, url)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", url, err)
	}
	op.End(ctx, "url", url, "bytes", len(html))

	var out io.Writer = cmd.OutOrStdout()
	if renderOutput != "" {
		f, err := os.Create(renderOutput)
		if err != nil {
			return fmt.Errorf("creating %s: %w", renderOutput, err)
		}
		defer f.Close()
		out = f
	}

	_, err = io.WriteString(out, html)
	return err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
