package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/hotssr/internal/config"
)

var initCmd = &cobra.Command{
	Use:     "init [dir]",
	Aliases: []string{"i"},
	Short:   "Scaffold a new hotssr project",
	Long: `Create index.html, a server entry, a client entry, a stylesheet and a
.hotssr.yml with the default settings. If no directory is given the current
one is used. Existing files are never overwritten unless --force is set.

Examples:
  hotssr init                 # Scaffold in the current directory
  hotssr init my-app          # Scaffold in ./my-app
  hotssr init my-app --force  # Overwrite existing files`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
}

const configFileName = ".hotssr.yml"

const scaffoldIndex = `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>hotssr app</title>
    <link rel="stylesheet" href="/src/style.css" />
  </head>
  <body>
    <div id="app"><!--main-app--></div>
    <script type="module" src="/src/main.js"></script>
  </body>
</html>
`

const scaffoldApp = `const escape = (s) =>
  String(s).replace(/[&<>"']/g, (c) => "&#" + c.charCodeAt(0) + ";");

export function App(url) {
  return (
    "<main>" +
    "<h1>Hello from hotssr</h1>" +
    "<p>Rendered on the server for <code>" + escape(url) + "</code>.</p>" +
    '<button id="counter">clicked 0 times</button>' +
    "</main>"
  );
}
`

const scaffoldEntryServer = `import { App } from "./app.js";

export function render(url) {
  return { html: App(url) };
}
`

const scaffoldMain = `const button = document.getElementById("counter");
let count = 0;

button?.addEventListener("click", () => {
  count++;
  button.textContent = "clicked " + count + " times";
});
`

const scaffoldStyle = `body {
  font-family: system-ui, sans-serif;
  margin: 2rem;
}
`

func runInit(cmd *cobra.Command, args []string) error {
	projectDir := "."
	if len(args) == 1 {
		projectDir = args[0]
	}

	configYAML, err := scaffoldConfig()
	if err != nil {
		return err
	}

	files := map[string][]byte{
		config.DefaultTemplate:                       []byte(scaffoldIndex),
		strings.TrimPrefix(config.DefaultEntry, "/"): []byte(scaffoldEntryServer),
		"src/app.js":                                 []byte(scaffoldApp),
		"src/main.js":                                []byte(scaffoldMain),
		"src/style.css":                              []byte(scaffoldStyle),
		configFileName:                               configYAML,
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	if !initForce {
		var existing []string
		for _, name := range names {
			if _, err := os.Stat(filepath.Join(projectDir, name)); err == nil {
				existing = append(existing, name)
			}
		}
		if len(existing) > 0 {
			return fmt.Errorf("refusing to overwrite %s (use --force)", strings.Join(existing, ", "))
		}
	}

	out := cmd.OutOrStdout()
	for _, name := range names {
		path := filepath.Join(projectDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", name, err)
		}
		if err := os.WriteFile(path, files[name], 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		fmt.Fprintf(out, "✓ Created %s\n", name)
	}

	fmt.Fprintf(out, "\nNext: cd %s && hotssr serve\n", projectDir)
	return nil
}

// scaffoldConfig renders the default configuration as YAML, durations in
// their string form.
func scaffoldConfig() ([]byte, error) {
	v := viper.New()
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return nil, err
	}

	doc := map[string]interface{}{
		"server": map[string]interface{}{
			"host":             cfg.Server.Host,
			"port":             cfg.Server.Port,
			"open":             cfg.Server.Open,
			"shutdown_timeout": cfg.Server.ShutdownTimeout.String(),
		},
		"app": map[string]interface{}{
			"root":        cfg.App.Root,
			"template":    cfg.App.Template,
			"placeholder": cfg.App.Placeholder,
			"entry":       cfg.App.Entry,
		},
		"bundler": map[string]interface{}{
			"target":         cfg.Bundler.Target,
			"sourcemap":      cfg.Bundler.Sourcemap,
			"define":         []string{},
			"render_timeout": cfg.Bundler.RenderTimeout.String(),
		},
		"development": map[string]interface{}{
			"hmr":      cfg.Development.HMR,
			"debounce": cfg.Development.Debounce.String(),
			"ignore":   cfg.Development.Ignore,
			"metrics":  cfg.Development.Metrics,
		},
		"log": map[string]interface{}{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
	}

	var buf bytes.Buffer
	buf.WriteString("# hotssr configuration\n")

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
