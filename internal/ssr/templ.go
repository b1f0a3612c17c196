package ssr

import (
	"context"
	"strings"

	"github.com/a-h/templ"
)

// TemplComponent renders a templ component as the application markup, for
// projects whose server entry is Go rather than JavaScript.
func TemplComponent(component templ.Component) Module {
	return ModuleFunc(func(ctx context.Context, url string) (RenderResult, error) {
		var b strings.Builder
		if err := component.Render(ctx, &b); err != nil {
			return RenderResult{}, err
		}
		return RenderResult{HTML: b.String()}, nil
	})
}

// TemplRoutes picks the component for the request path, falling back to
// notFound (which may be nil for an empty body).
func TemplRoutes(routes map[string]templ.Component, notFound templ.Component) Module {
	return ModuleFunc(func(ctx context.Context, url string) (RenderResult, error) {
		path, _, _ := strings.Cut(url, "?")

		component, ok := routes[path]
		if !ok {
			if notFound == nil {
				return RenderResult{}, nil
			}
			component = notFound
		}

		return TemplComponent(component).Render(ctx, url)
	})
}
