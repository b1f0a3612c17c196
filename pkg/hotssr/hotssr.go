// Package hotssr embeds the SSR dev server in another Go program.
//
// The hotssr binary renders a JavaScript server entry. Programs that render
// with Go instead build a Server here and pass a Module, typically a templ
// component:
//
//	cfg, _ := hotssr.DefaultConfig(".")
//	srv, _ := hotssr.New(hotssr.Options{
//		Config: cfg,
//		Module: hotssr.TemplRoutes(map[string]templ.Component{"/": pages.Home()}, nil),
//	})
//	_ = hotssr.Run(ctx, srv)
//
// The shell, asset serving, HMR and metrics behave exactly as they do for
// the binary.
package hotssr

import (
	"context"
	"fmt"

	"github.com/a-h/templ"
	"github.com/spf13/viper"

	"github.com/conneroisu/hotssr/internal/bundler"
	"github.com/conneroisu/hotssr/internal/config"
	"github.com/conneroisu/hotssr/internal/logging"
	"github.com/conneroisu/hotssr/internal/server"
	"github.com/conneroisu/hotssr/internal/ssr"
)

type (
	// Config is the full server configuration.
	Config = config.Config
	// Options configures a Server. Module replaces the JavaScript entry
	// and HTMLTransforms run after the HMR client is injected.
	Options = server.Options
	// Server is the dev server.
	Server = server.Server
	// Module renders the application markup for a request URL.
	Module = ssr.Module
	// ModuleFunc adapts a function to Module.
	ModuleFunc = ssr.ModuleFunc
	// RenderResult is what a Module returns.
	RenderResult = ssr.RenderResult
	// HTMLTransform rewrites the shell before the markup is spliced in.
	HTMLTransform = bundler.HTMLTransform
	// Logger is the structured logger every component takes.
	Logger = logging.Logger
)

// New wires a server from opts.
func New(opts Options) (*Server, error) {
	return server.New(opts)
}

// DefaultConfig returns the validated defaults for a project rooted at
// root.
func DefaultConfig(root string) (*Config, error) {
	v := viper.New()
	v.Set("app.root", root)
	return config.LoadFrom(v)
}

// LoadConfig reads the configuration held by v (files, env, flags already
// bound by the caller) on top of the defaults.
func LoadConfig(v *viper.Viper) (*Config, error) {
	return config.LoadFrom(v)
}

// NewLogger creates a logger writing to stderr.
func NewLogger(level, format string) (Logger, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := logging.DefaultConfig()
	cfg.Level = lvl
	cfg.Format = format
	return logging.NewLogger(cfg), nil
}

// TemplComponent renders component for every URL.
func TemplComponent(component templ.Component) Module {
	return ssr.TemplComponent(component)
}

// TemplRoutes renders the component registered for the request path, or
// notFound.
func TemplRoutes(routes map[string]templ.Component, notFound templ.Component) Module {
	return ssr.TemplRoutes(routes, notFound)
}

// Run binds the listener, serves until ctx is done and shuts down.
func Run(ctx context.Context, srv *Server) error {
	if _, err := srv.Listen(); err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
