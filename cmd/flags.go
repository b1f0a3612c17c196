package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// addServerFlags registers the listener and project flags shared by the
// commands that build a server.
func addServerFlags(fs *pflag.FlagSet) {
	fs.IntP("port", "p", 3000, "Port to serve on")
	fs.String("host", "localhost", "Host to bind to")
	fs.String("root", ".", "Project root containing index.html")
	fs.String("entry", "/src/entry-server.js", "Server entry module, relative to root")
}

// serverBindings maps server flags to config keys.
var serverBindings = map[string]string{
	"port":  "server.port",
	"host":  "server.host",
	"root":  "app.root",
	"entry": "app.entry",
}

// bindFlags binds each named flag that the command defines to its viper
// key. Unchanged flags do not override config files or env vars.
func bindFlags(cmd *cobra.Command, bindings map[string]string) error {
	for flagName, key := range bindings {
		flag := cmd.Flags().Lookup(flagName)
		if flag == nil {
			flag = cmd.InheritedFlags().Lookup(flagName)
		}
		if flag == nil {
			continue
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding --%s: %w", flagName, err)
		}
	}
	return nil
}

// AddFlagValidation wraps a flag's value so Set rejects invalid input at
// parse time.
func AddFlagValidation(fs *pflag.FlagSet, flagName string, validator func(string) error) {
	flag := fs.Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{Value: flag.Value, validator: validator}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(value string) error {
	if err := v.validator(value); err != nil {
		return err
	}
	return v.Value.Set(value)
}

func validatePort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("port must be a number: %w", err)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", port)
	}
	return nil
}
