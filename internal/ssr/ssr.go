// Package ssr implements the catch-all server-side-rendering handler.
//
// Each request runs the same five steps: read the HTML shell from disk,
// let the bundler transform it (this is where the HMR client is injected),
// load the render module, call its render function, and splice the markup
// into the shell. None of the intermediate results is cached here; the
// shell is read again on every request and caching of compiled modules is
// left to the Bundler.
package ssr

import (
	"context"
	"os"
	"strings"

	"github.com/conneroisu/hotssr/internal/errors"
)

// RenderResult is what a render function returns.
type RenderResult struct {
	HTML string `json:"html"`
}

// Module is a loaded server entry point.
type Module interface {
	// Render produces the application markup for the request URL.
	Render(ctx context.Context, url string) (RenderResult, error)
}

// ModuleFunc adapts a function to the Module interface.
type ModuleFunc func(ctx context.Context, url string) (RenderResult, error)

// Render calls f.
func (f ModuleFunc) Render(ctx context.Context, url string) (RenderResult, error) {
	return f(ctx, url)
}

// Bundler is the slice of the dev-time bundler the handler needs.
type Bundler interface {
	// TransformIndexHTML applies HTML transforms to the shell. url is the
	// request's original URL.
	TransformIndexHTML(ctx context.Context, url, html string) (string, error)
	// SSRLoadModule loads the server entry, compiling it if the source
	// changed since the last load.
	SSRLoadModule(ctx context.Context, entry string) (Module, error)
}

// TemplateSource provides the HTML shell.
type TemplateSource interface {
	Load(ctx context.Context) (string, error)
}

// TemplateFunc adapts a function to the TemplateSource interface.
type TemplateFunc func(ctx context.Context) (string, error)

// Load calls f.
func (f TemplateFunc) Load(ctx context.Context) (string, error) {
	return f(ctx)
}

// FileTemplate reads the shell at path on every Load, decoded as UTF-8.
func FileTemplate(path string) TemplateSource {
	return TemplateFunc(func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", errors.WrapPath(errors.KindIO, "read template", path, err)
		}
		// Invalid bytes become U+FFFD, as a UTF-8 text decode would.
		return strings.ToValidUTF8(string(data), "\uFFFD"), nil
	})
}
