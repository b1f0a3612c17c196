//go:build property
// +build property

package ssr

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSpliceProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Prefix and suffix never contain the marker's leading '<'.
	segment := gen.RegexMatch(`^[a-zA-Z0-9 /="]{0,40}$`)

	properties.Property("output is prefix + markup + suffix", prop.ForAll(
		func(prefix, suffix, markup string) bool {
			html, found := Splice(prefix+placeholder+suffix, placeholder, markup)
			return found && html == prefix+markup+suffix
		},
		segment, segment, gen.AnyString(),
	))

	properties.Property("only the first marker is replaced", prop.ForAll(
		func(prefix, rest, markup string) bool {
			html, _ := Splice(prefix+placeholder+rest+placeholder, placeholder, markup)
			return html == prefix+markup+rest+placeholder
		},
		segment, segment, gen.AnyString(),
	))

	properties.Property("templates without the marker are unchanged", prop.ForAll(
		func(template, markup string) bool {
			if strings.Contains(template, placeholder) {
				return true
			}
			html, found := Splice(template, placeholder, markup)
			return !found && html == template
		},
		gen.AnyString(), gen.AnyString(),
	))

	properties.TestingRun(t)
}
