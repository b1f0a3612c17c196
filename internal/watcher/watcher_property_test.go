//go:build property

package watcher

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFileWatcherPathProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 100

	root := t.TempDir()
	fw, err := NewFileWatcher(Options{
		Root:     root,
		Debounce: 10 * time.Millisecond,
		Ignore:   []string{"**/node_modules/**"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Stop()

	segment := gen.RegexMatch(`[a-z]{1,8}`)
	segments := gen.SliceOfN(3, segment)

	properties := gopter.NewProperties(parameters)

	properties.Property("anything below node_modules is ignored", prop.ForAll(
		func(prefix, suffix []string) bool {
			parts := append(append(append([]string{}, prefix...), "node_modules"), suffix...)
			return fw.Ignored(strings.Join(parts, "/"))
		},
		segments,
		segments,
	))

	properties.Property("paths without node_modules are kept", prop.ForAll(
		func(parts []string) bool {
			return !fw.Ignored(strings.Join(parts, "/"))
		},
		segments.SuchThat(func(parts []string) bool {
			for _, p := range parts {
				if p == "node_modules" {
					return false
				}
			}
			return true
		}),
	))

	properties.Property("relative paths resolve inside the root", prop.ForAll(
		func(parts []string) bool {
			abs, err := fw.resolve(filepath.Join(parts...))
			if err != nil {
				return false
			}
			rel, err := fw.relative(abs)
			return err == nil && rel == strings.Join(parts, "/")
		},
		segments,
	))

	properties.Property("escaping the root is rejected", prop.ForAll(
		func(parts []string) bool {
			_, err := fw.resolve(filepath.Join(append([]string{"..", ".."}, parts...)...))
			return err != nil
		},
		segments,
	))

	properties.TestingRun(t)
}
