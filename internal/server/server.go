// Package server composes the dev server: the chi router, the dev asset
// middleware, the metrics endpoint and the catch-all SSR handler.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/hotssr/internal/bundler"
	"github.com/conneroisu/hotssr/internal/config"
	"github.com/conneroisu/hotssr/internal/logging"
	"github.com/conneroisu/hotssr/internal/metrics"
	"github.com/conneroisu/hotssr/internal/ssr"
	"github.com/conneroisu/hotssr/internal/validation"
)

// MetricsPath serves the Prometheus registry.
const MetricsPath = "/@dev/metrics"

// Options configures a Server.
type Options struct {
	Config *config.Config
	Logger logging.Logger
	// Module replaces the JavaScript server entry, e.g. ssr.TemplComponent.
	Module         ssr.Module
	HTMLTransforms []bundler.HTMLTransform
}

// Server is the SSR dev server.
type Server struct {
	config  *config.Config
	logger  logging.Logger
	metrics *metrics.Metrics
	dev     *bundler.DevServer
	ssr     *ssr.Handler
	handler http.Handler

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	listener     net.Listener
	shutdownOnce sync.Once
}

// New wires every component from the configuration.
func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("server: config is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	defines, err := config.ParseDefines(cfg.Bundler.Define)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Development.Metrics {
		m = metrics.New()
	}

	dev, err := bundler.New(bundler.Options{
		Root:           cfg.App.Root,
		Target:         cfg.Bundler.Target,
		Sourcemap:      cfg.Bundler.Sourcemap,
		Defines:        defines,
		RenderTimeout:  cfg.Bundler.RenderTimeout,
		Ignore:         cfg.Development.Ignore,
		Debounce:       cfg.Development.Debounce,
		HMR:            cfg.Development.HMR,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		HTMLTransforms: opts.HTMLTransforms,
		Logger:         logger,
		Metrics:        m,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bundler: %w", err)
	}

	handler, err := ssr.NewHandler(ssr.Options{
		Template:    ssr.FileTemplate(cfg.App.TemplatePath()),
		Bundler:     dev,
		Entry:       cfg.App.Entry,
		Placeholder: cfg.App.Placeholder,
		Module:      opts.Module,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:  cfg,
		logger:  logger.WithComponent("server"),
		metrics: m,
		dev:     dev,
		ssr:     handler,
	}
	s.handler = s.routes()

	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// Outermost first so metrics see the final status, recovered panics
	// included.
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)
	r.Use(s.dev.Middleware)

	if s.metrics != nil {
		r.Method(http.MethodGet, MetricsPath, s.metrics.Handler())
	}
	r.Handle("/*", s.ssr)

	return r
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SSR returns the catch-all handler.
func (s *Server) SSR() *ssr.Handler {
	return s.ssr
}

// DevServer returns the bundler.
func (s *Server) DevServer() *bundler.DevServer {
	return s.dev
}

// Listen binds the configured address. Start calls it when needed; calling
// it first lets the caller learn the bound port.
func (s *Server) Listen() (net.Addr, error) {
	s.serverMutex.Lock()
	defer s.serverMutex.Unlock()

	if s.listener != nil {
		return s.listener.Addr(), nil
	}

	ln, err := net.Listen("tcp", s.config.Server.Addr())
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", s.config.Server.Addr(), err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return ln.Addr(), nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the http URL of the bound address.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == nil {
		return "http://" + s.config.Server.Addr()
	}

	host := s.config.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(tcp.Port)))
	}
	return "http://" + addr.String()
}

// Start serves requests and watches the project until ctx is done or the
// server is shut down.
func (s *Server) Start(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		return err
	}

	s.serverMutex.RLock()
	srv, ln := s.httpServer, s.listener
	s.serverMutex.RUnlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.dev.Watch(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()

		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
		defer cancelShutdown()

		return s.Shutdown(shutdownCtx)
	})

	if s.config.Server.Open {
		go s.openBrowser(s.URL())
	}

	s.logger.Info(ctx, "Server started", "url", s.URL())
	return g.Wait()
}

// Shutdown disconnects HMR clients and stops the HTTP server. It is safe to
// call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		if err := s.dev.Close(); err != nil {
			s.logger.Warn(ctx, err, "Failed to close bundler")
		}

		s.serverMutex.RLock()
		srv := s.httpServer
		s.serverMutex.RUnlock()

		if srv != nil {
			shutdownErr = srv.Shutdown(ctx)
		}
	})

	return shutdownErr
}

func (s *Server) openBrowser(target string) {
	time.Sleep(100 * time.Millisecond) // Give server time to start

	if err := validation.ValidateURL(target); err != nil {
		s.logger.Warn(context.Background(), err, "Refusing to open invalid URL", "url", target)
		return
	}

	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", target).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", target).Start()
	case "darwin":
		err = exec.Command("open", target).Start()
	default:
		err = fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}

	if err != nil {
		s.logger.Warn(context.Background(), err, "Failed to open browser")
	}
}
