package bundler

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/evanw/esbuild/pkg/api"
)

const (
	kindClient = "client"
	kindSSR    = "ssr"

	// outDir only names output paths; nothing is written to disk.
	outDir = ".hotssr/out"

	// entryGlobal receives the server entry's exports.
	entryGlobal = "__ssr_entry__"

	// goja handles async functions natively, so nothing newer needs lowering.
	ssrTarget = api.ES2017
)

var assetLoaders = map[string]api.Loader{
	".svg":  api.LoaderDataURL,
	".png":  api.LoaderDataURL,
	".jpg":  api.LoaderDataURL,
	".jpeg": api.LoaderDataURL,
	".gif":  api.LoaderDataURL,
	".webp": api.LoaderDataURL,
	".txt":  api.LoaderText,
}

// resolve maps a root-relative URL path to a file under root.
func (s *DevServer) resolve(urlPath string) string {
	clean := path.Clean("/" + urlPath)
	return filepath.Join(s.root, filepath.FromSlash(clean))
}

func (s *DevServer) clientOptions(file string) api.BuildOptions {
	return api.BuildOptions{
		EntryPoints:   []string{file},
		AbsWorkingDir: s.root,
		Outdir:        filepath.Join(s.root, outDir),
		Bundle:        true,
		Write:         false,
		Format:        api.FormatESModule,
		Platform:      api.PlatformBrowser,
		Target:        s.target,
		Sourcemap:     s.sourcemap,
		Define:        s.defines,
		Loader:        assetLoaders,
		LogLevel:      api.LogLevelSilent,
	}
}

func (s *DevServer) ssrOptions(file string) api.BuildOptions {
	return api.BuildOptions{
		EntryPoints:   []string{file},
		AbsWorkingDir: s.root,
		Outdir:        filepath.Join(s.root, outDir),
		Bundle:        true,
		Write:         false,
		Format:        api.FormatIIFE,
		GlobalName:    entryGlobal,
		Platform:      api.PlatformNeutral,
		MainFields:    []string{"module", "main"},
		Target:        ssrTarget,
		Sourcemap:     s.sourcemap,
		Define:        s.defines,
		Loader:        assetLoaders,
		LogLevel:      api.LogLevelSilent,
	}
}

// build runs esbuild and returns the JavaScript output.
func (s *DevServer) build(ctx context.Context, kind, file string, opts api.BuildOptions) ([]byte, error) {
	start := time.Now()

	code, err := s.runBuild(ctx, file, opts)
	s.metrics.ObserveBuild(kind, start, err)
	if err != nil {
		return nil, err
	}

	s.logger.Debug(ctx, "Bundled module",
		"kind", kind,
		"file", s.relative(file),
		"size", humanize.Bytes(uint64(len(code))),
		"duration", time.Since(start).String(),
	)

	return code, nil
}

func (s *DevServer) runBuild(ctx context.Context, file string, opts api.BuildOptions) ([]byte, error) {
	info, err := os.Stat(file)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", s.relative(file))
	}

	result := api.Build(opts)

	for _, msg := range formatMessages(result.Warnings, api.WarningMessage) {
		s.logger.Warn(ctx, nil, "esbuild warning", "file", s.relative(file), "message", msg)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("esbuild: %s", strings.Join(formatMessages(result.Errors, api.ErrorMessage), "\n"))
	}

	for _, out := range result.OutputFiles {
		if filepath.Ext(out.Path) == ".js" {
			return out.Contents, nil
		}
	}

	return nil, fmt.Errorf("esbuild produced no JavaScript for %s", s.relative(file))
}

func formatMessages(msgs []api.Message, kind api.MessageKind) []string {
	if len(msgs) == 0 {
		return nil
	}

	formatted := api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: kind})
	for i, msg := range formatted {
		formatted[i] = strings.TrimSpace(msg)
	}
	return formatted
}

func (s *DevServer) relative(file string) string {
	rel, err := filepath.Rel(s.root, file)
	if err != nil {
		return file
	}
	return filepath.ToSlash(rel)
}
