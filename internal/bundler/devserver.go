// Package bundler is the embedded dev-time bundler. It serves browser
// modules and static assets, transforms the HTML shell, compiles the server
// entry into a JavaScript program and executes it, and turns file changes
// into cache invalidations and HMR notifications.
//
// esbuild does the bundling and goja runs the server bundle, so the whole
// dev server is a single Go binary with no Node.js dependency.
package bundler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/hotssr/internal/hmr"
	"github.com/conneroisu/hotssr/internal/logging"
	"github.com/conneroisu/hotssr/internal/metrics"
	"github.com/conneroisu/hotssr/internal/ssr"
)

// Dev routes served by Middleware.
const (
	ClientPath = "/@dev/client"
	SocketPath = "/@dev/hmr"
)

// HTMLTransform rewrites the shell after the client script is injected.
type HTMLTransform func(ctx context.Context, url, html string) (string, error)

// Options configures a DevServer.
type Options struct {
	Root           string
	Target         string // esnext, es2015 ... es2022
	Sourcemap      bool
	Defines        map[string]string
	RenderTimeout  time.Duration
	Ignore         []string
	Debounce       time.Duration
	HMR            bool
	AllowedOrigins []string
	HTMLTransforms []HTMLTransform
	Logger         logging.Logger
	Metrics        *metrics.Metrics
}

// DevServer implements ssr.Bundler on top of esbuild and goja.
type DevServer struct {
	root          string
	target        api.Target
	sourcemap     api.SourceMap
	defines       map[string]string
	renderTimeout time.Duration
	ignore        []string
	debounce      time.Duration
	hmrEnabled    bool
	transforms    []HTMLTransform
	logger        logging.Logger
	metrics       *metrics.Metrics
	hub           *hmr.Hub

	group singleflight.Group

	cacheMutex sync.Mutex
	generation uint64
	modules    map[string]*program
	assets     map[string][]byte
}

var _ ssr.Bundler = (*DevServer)(nil)

// New creates a DevServer rooted at opts.Root.
func New(opts Options) (*DevServer, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}

	target, err := parseTarget(opts.Target)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.WithComponent("bundler")

	sourcemap := api.SourceMapNone
	if opts.Sourcemap {
		sourcemap = api.SourceMapInline
	}

	s := &DevServer{
		root:          root,
		target:        target,
		sourcemap:     sourcemap,
		defines:       opts.Defines,
		renderTimeout: opts.RenderTimeout,
		ignore:        opts.Ignore,
		debounce:      opts.Debounce,
		hmrEnabled:    opts.HMR,
		transforms:    opts.HTMLTransforms,
		logger:        logger,
		metrics:       opts.Metrics,
		modules:       make(map[string]*program),
		assets:        make(map[string][]byte),
	}

	if opts.HMR {
		s.hub = hmr.NewHub(hmr.HubOptions{
			AllowedOrigins:   opts.AllowedOrigins,
			Logger:           opts.Logger,
			OnClientsChanged: opts.Metrics.SetHMRClients,
		})
	}

	return s, nil
}

// Root returns the absolute project root.
func (s *DevServer) Root() string {
	return s.root
}

// Hub returns the HMR hub, or nil when HMR is disabled.
func (s *DevServer) Hub() *hmr.Hub {
	return s.hub
}

// Invalidate drops every compiled module and bundled asset.
func (s *DevServer) Invalidate() {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	s.generation++
	clear(s.modules)
	clear(s.assets)
}

// Close disconnects HMR clients. Watch stops on its own when its context
// is done.
func (s *DevServer) Close() error {
	if s.hub != nil {
		s.hub.Close()
	}
	return nil
}

func parseTarget(target string) (api.Target, error) {
	switch strings.ToLower(target) {
	case "", "es2020":
		return api.ES2020, nil
	case "esnext":
		return api.ESNext, nil
	case "es2015":
		return api.ES2015, nil
	case "es2016":
		return api.ES2016, nil
	case "es2017":
		return api.ES2017, nil
	case "es2018":
		return api.ES2018, nil
	case "es2019":
		return api.ES2019, nil
	case "es2021":
		return api.ES2021, nil
	case "es2022":
		return api.ES2022, nil
	default:
		return api.DefaultTarget, fmt.Errorf("unsupported target %q", target)
	}
}
