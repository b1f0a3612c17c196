// Package testutils holds fixtures shared by the package tests.
package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/hotssr/internal/config"
)

// IndexHTML is a minimal shell carrying the default placeholder.
const IndexHTML = `<!DOCTYPE html>
<html>
  <head><title>app</title></head>
  <body><div id="app"><!--main-app--></div></body>
</html>`

// EchoEntry renders the request URL inside a paragraph.
const EchoEntry = `export function render(url) { return { html: "<p>" + url + "</p>" }; }`

// WriteFiles writes slash-separated relative paths under root, creating
// parent directories.
func WriteFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// CreateTempProject creates a project with index.html and the given server
// entry, plus any extra files.
func CreateTempProject(t *testing.T, entry string, extra map[string]string) string {
	t.Helper()

	root := t.TempDir()
	files := map[string]string{
		config.DefaultTemplate: IndexHTML,
		"src/entry-server.js":  entry,
		"src/main.js":          `console.log("client");`,
	}
	for name, content := range extra {
		files[name] = content
	}
	WriteFiles(t, root, files)

	return root
}

// CreateTestConfig loads a validated config for root that listens on a
// random loopback port. settings are applied as viper keys.
func CreateTestConfig(t *testing.T, root string, settings map[string]interface{}) *config.Config {
	t.Helper()

	v := viper.New()
	v.Set("app.root", root)
	v.Set("server.port", 0)
	v.Set("server.host", "127.0.0.1")
	for key, value := range settings {
		v.Set(key, value)
	}

	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	return cfg
}

// AssertFilePermissions checks the permission bits of path.
func AssertFilePermissions(t *testing.T, path string, expectedMode os.FileMode) {
	t.Helper()

	info, err := os.Stat(path)
	require.NoError(t, err)

	actualMode := info.Mode()
	require.Equal(t, expectedMode, actualMode&os.FileMode(0777),
		"File %s has incorrect permissions: got %o, want %o",
		path, actualMode&os.FileMode(0777), expectedMode)
}
