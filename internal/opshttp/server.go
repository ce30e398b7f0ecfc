// Package opshttp serves the admin endpoints of a long-running
// materializer: /metrics, /-/healthy, /-/ready and optionally pprof.
package opshttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/log"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

// Router builds the admin routes.
func Router(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/-/healthy", probeHandler(opts.Health, "ok\n"))
	r.Get("/-/ready", probeHandler(opts.Readiness, "ready\n"))

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.EnablePprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// Start listens on opts.Addr and serves Router(opts) in the background.
// The returned stop drains the server and is safe to call more than once.
func Start(ctx context.Context, L log.Logger, opts Options) (stop func(context.Context) error, addr net.Addr, err error) {
	if opts.Addr == "" {
		return nil, nil, xerrors.New("opshttp: listen address is required")
	}

	// probes are hit every few seconds, not worth a span each
	h := otelhttp.NewHandler(Router(opts), "opshttp",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !strings.HasPrefix(r.URL.Path, "/-/")
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// pprof profile endpoints stream for up to 30s by default
		WriteTimeout:   35 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, nil, xerrors.Wrapf(err, "could not listen for admin port on addr=%v", opts.Addr)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		L.Info(ctx, "ops http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	stop = func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
			<-done
		})
		return retErr
	}
	return stop, ln.Addr(), nil
}
