package ssr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/conneroisu/hotssr/internal/errors"
	"github.com/conneroisu/hotssr/internal/logging"
	"github.com/conneroisu/hotssr/internal/metrics"
)

// ErrorBody is the only body ever sent for a failed render.
const ErrorBody = "Internal Server Error"

// Options configures a Handler.
type Options struct {
	Template    TemplateSource
	Bundler     Bundler
	Entry       string // module path passed to Bundler.SSRLoadModule
	Placeholder string
	// Module, when set, is rendered instead of loading Entry through the
	// bundler. The shell is still transformed by the bundler.
	Module  Module
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// Handler serves every route by rendering the application into the shell.
type Handler struct {
	template    TemplateSource
	bundler     Bundler
	entry       string
	placeholder string
	module      Module
	logger      logging.Logger
	metrics     *metrics.Metrics
}

// NewHandler validates opts and builds a Handler.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Template == nil {
		return nil, fmt.Errorf("ssr: template source is required")
	}
	if opts.Bundler == nil {
		return nil, fmt.Errorf("ssr: bundler is required")
	}
	if opts.Module == nil && opts.Entry == "" {
		return nil, fmt.Errorf("ssr: entry or module is required")
	}
	if opts.Placeholder == "" {
		return nil, fmt.Errorf("ssr: placeholder is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Handler{
		template:    opts.Template,
		bundler:     opts.Bundler,
		entry:       opts.Entry,
		placeholder: opts.Placeholder,
		module:      opts.Module,
		logger:      logger.WithComponent("ssr"),
		metrics:     opts.Metrics,
	}, nil
}

// Render runs the pipeline for url and returns the final document.
func (h *Handler) Render(ctx context.Context, url string) (string, error) {
	template, err := h.template.Load(ctx)
	if err != nil {
		return "", errors.Wrap(errors.KindTemplate, "load template", err)
	}

	template, err = h.bundler.TransformIndexHTML(ctx, url, template)
	if err != nil {
		return "", errors.Wrap(errors.KindTransform, "transform index html", err)
	}

	module := h.module
	if module == nil {
		module, err = h.bundler.SSRLoadModule(ctx, h.entry)
		if err != nil {
			return "", errors.WrapPath(errors.KindModule, "load module", h.entry, err)
		}
	}

	result, err := module.Render(ctx, url)
	if err != nil {
		return "", errors.Wrap(errors.KindRender, "render", err)
	}

	html, found := Splice(template, h.placeholder, result.HTML)
	if !found {
		h.logger.Debug(ctx, "Placeholder not found in template", "placeholder", h.placeholder, "url", url)
	}

	return html, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	url := originalURL(r)

	html, err := h.Render(r.Context(), url)
	h.metrics.ObserveRender(start, err)

	if err != nil {
		h.logger.Error(r.Context(), err, "SSR request failed",
			"stage", errors.KindOf(err),
			"method", r.Method,
			"url", url,
		)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, ErrorBody)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, html)
}

// Splice replaces the first occurrence of placeholder with markup. The
// markup is inserted literally. found is false when the template has no
// placeholder, in which case it is returned unchanged.
func Splice(template, placeholder, markup string) (html string, found bool) {
	i := strings.Index(template, placeholder)
	if i < 0 {
		return template, false
	}

	var b strings.Builder
	b.Grow(len(template) - len(placeholder) + len(markup))
	b.WriteString(template[:i])
	b.WriteString(markup)
	b.WriteString(template[i+len(placeholder):])

	return b.String(), true
}

// originalURL is the request target as the client sent it, query included.
func originalURL(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}
