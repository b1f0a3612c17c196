//go:build property
// +build property

package config

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/viper"
)

// TestConfigurationProperties tests configuration loading and validation properties
func TestConfigurationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("valid ports and hosts always load", prop.ForAll(
		func(port int, host string) bool {
			v := viper.New()
			v.Set("server.port", port)
			v.Set("server.host", host)

			cfg, err := LoadFrom(v)
			return err == nil && cfg.Server.Port == port && cfg.Server.Host == host
		},
		gen.IntRange(0, 65535),
		gen.RegexMatch(`^[a-zA-Z0-9.-]{1,32}$`),
	))

	properties.Property("out of range ports are always rejected", prop.ForAll(
		func(port int) bool {
			v := viper.New()
			v.Set("server.port", port)

			_, err := LoadFrom(v)
			return err != nil
		},
		gen.OneGenOf(gen.IntRange(-100000, -1), gen.IntRange(65536, 1000000)),
	))

	properties.Property("templates that climb out of root are rejected", prop.ForAll(
		func(prefix, name string) bool {
			path := prefix + "/../../" + name
			err := validateRelativePath("template", path)
			return err != nil && strings.Contains(err.Error(), "traversal")
		},
		gen.RegexMatch(`^[a-z]{1,8}$`),
		gen.RegexMatch(`^[a-z]{1,8}\.html$`),
	))

	properties.Property("defines round trip through ParseDefines", prop.ForAll(
		func(key, value string) bool {
			defines, err := ParseDefines([]string{key + "=" + value})
			return err == nil && defines[key] == value
		},
		gen.RegexMatch(`^[A-Z_]{1,12}$`),
		gen.RegexMatch(`^[a-z0-9]{1,12}$`),
	))

	properties.TestingRun(t)
}
