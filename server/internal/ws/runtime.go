package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/obsidianstack/wsserver/server/internal/api"
	"github.com/obsidianstack/wsserver/server/internal/auth"
	"github.com/obsidianstack/wsserver/server/internal/certs"
	"github.com/obsidianstack/wsserver/server/internal/metrics"
)

const (
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	readHeaderTimeout = 10 * time.Second
	apiPrefix         = "/api/v1/"
)

// Options configures a Runtime. The zero value serves the hub on "/" with
// metrics disabled and no authentication.
type Options struct {
	// Path is the WebSocket mount point (default "/").
	Path string

	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string

	// AuthMode, AuthHeader and AuthKey configure auth.APIKey for the hub and
	// the status API.
	AuthMode   string
	AuthHeader string
	AuthKey    string

	// Hub tuning. CompressionLevel and EnableTracing are ignored here; they
	// come from the Run* arguments.
	Hub HubOptions

	ShutdownTimeout time.Duration
	Logger          *slog.Logger

	// Ready, if set, is called with the bound listener address once the
	// server is accepting connections.
	Ready func(addr net.Addr)
}

// Runtime is the WebSocket server. It implements launch.Runtime.
type Runtime struct {
	opts    Options
	metrics *metrics.Metrics
	log     *slog.Logger
}

// New creates a Runtime.
func New(opts Options) *Runtime {
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runtime{opts: opts, metrics: metrics.New(), log: opts.Logger}
}

// RunPlain serves ws:// on endpoint until ctx is cancelled.
func (r *Runtime) RunPlain(ctx context.Context, endpoint string, enableTracing bool, compressionLevel int) error {
	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("listen %s: %w", endpoint, err)
	}
	return r.serve(ctx, ln, "ws", endpoint, enableTracing, compressionLevel, nil)
}

// RunSecure serves wss:// on endpoint until ctx is cancelled. The key pair is
// loaded before listening and reloaded when the files change.
func (r *Runtime) RunSecure(ctx context.Context, endpoint string, enableTracing bool, compressionLevel int, certFile, keyFile string) error {
	reloader, err := certs.Load(certFile, keyFile)
	if err != nil {
		return err
	}
	reloader.OnReload = r.metrics.CertReloaded
	reloader.Logger = r.log

	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("listen %s: %w", endpoint, err)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		if err := reloader.Watch(watchCtx); err != nil {
			r.log.Error("certificate watcher stopped", "err", err)
		}
	}()

	return r.serve(ctx, tls.NewListener(ln, reloader.TLSConfig()), "wss", endpoint, enableTracing, compressionLevel, reloader)
}

func (r *Runtime) serve(ctx context.Context, ln net.Listener, scheme, endpoint string, enableTracing bool, compressionLevel int, reloader *certs.Reloader) error {
	hubOpts := r.opts.Hub
	hubOpts.CompressionLevel = compressionLevel
	hubOpts.EnableTracing = enableTracing
	hub := NewHub(hubOpts, r.metrics, r.log)

	startedAt := time.Now()
	status := func() api.Status {
		s := api.Status{
			Scheme:           scheme,
			Endpoint:         endpoint,
			Path:             r.opts.Path,
			CompressionLevel: compressionLevel,
			Tracing:          enableTracing,
			Clients:          hub.Count(),
			StartedAt:        startedAt.UTC(),
			UptimeSeconds:    time.Since(startedAt).Seconds(),
		}
		if reloader != nil {
			info := reloader.Info()
			s.Cert = &info
		}
		return s
	}

	mux, err := r.routes(hub, status)
	if err != nil {
		ln.Close() //nolint:errcheck
		return err
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(r.log.Handler(), slog.LevelWarn),
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	r.log.Info("websocket server listening",
		"scheme", scheme,
		"addr", ln.Addr().String(),
		"path", r.opts.Path,
		"compression_level", compressionLevel,
		"tracing", enableTracing,
	)
	if r.opts.Ready != nil {
		r.opts.Ready(ln.Addr())
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", endpoint, err)
	case <-ctx.Done():
	}

	r.log.Info("websocket server shutting down")
	// Hijacked WebSocket connections are not tracked by Shutdown; the hub
	// closes them when hubCtx (derived from ctx) is done.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// routes builds the listener's mux. ServeMux panics on malformed or
// conflicting patterns; that is reported as an error instead.
func (r *Runtime) routes(hub *Hub, status api.StatusFunc) (mux *http.ServeMux, err error) {
	defer func() {
		if p := recover(); p != nil {
			mux, err = nil, fmt.Errorf("routes: %v", p)
		}
	}()

	requireKey := auth.APIKey(r.opts.AuthMode, r.opts.AuthHeader, r.opts.AuthKey)
	mux = http.NewServeMux()
	mux.Handle(r.opts.Path, requireKey(hub))
	mux.Handle(apiPrefix, requireKey(api.New(status)))
	if r.opts.MetricsPath != "" {
		mux.Handle(r.opts.MetricsPath, r.metrics.Handler())
	}
	return mux, nil
}
