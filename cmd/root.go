// Package cmd provides the command-line interface for hotssr.
//
// Configuration System:
//
//	Values resolve with the following precedence:
//	1. Command-line flags (--port, --root, etc.) - highest priority
//	2. HOTSSR_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (HOTSSR_SERVER_PORT, etc.)
//	4. Configuration file (.hotssr.yml) - lowest priority
//
// Environment Variables:
//
//	HOTSSR_CONFIG_FILE: Path to custom configuration file
//	HOTSSR_SERVER_PORT: Override server port
//	HOTSSR_APP_ENTRY: Override the server entry module
//	And every other key following the HOTSSR_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/hotssr/internal/config"
	"github.com/conneroisu/hotssr/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hotssr",
	Short: "A server-side-rendering dev server with hot reload",
	Long: `hotssr is a development server for server-side-rendered JavaScript apps.
Every request reads index.html, renders the app with the export of
src/entry-server.js and splices the markup into the page.

Quick Start:
  hotssr init                     Scaffold a project
  hotssr serve                    Start the dev server on :3000
  hotssr render /about            Print the rendered HTML for a URL

Command Aliases:
  init (i), serve (s), render (r)`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .hotssr.yml, can also use HOTSSR_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// initConfig points viper at the config file and enables HOTSSR_*
// environment overrides.
//
// Config file lookup (highest to lowest):
//  1. --config flag
//  2. HOTSSR_CONFIG_FILE environment variable
//  3. .hotssr.yml in the current directory
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("HOTSSR_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".hotssr")
	}

	viper.SetEnvPrefix("HOTSSR")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing file is fine; defaults apply.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

var persistentBindings = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
}

// loadConfig binds the command's flags and loads the validated config.
func loadConfig(cmd *cobra.Command, bindings ...map[string]string) (*config.Config, error) {
	for _, b := range append([]map[string]string{persistentBindings}, bindings...) {
		if err := bindFlags(cmd, b); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	logConfig := logging.DefaultConfig()
	logConfig.Level = level
	logConfig.Format = cfg.Log.Format

	return logging.NewLogger(logConfig), nil
}
