// Package run starts the intercepting reverse proxy: the main listener
// forwarding the requests to the configured backend through the
// interception chain, and the support listener exposing the metrics and
// the health check.
package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zalando/intercept"
	"github.com/zalando/intercept/config"
	"github.com/zalando/intercept/logging"
	"github.com/zalando/intercept/metrics"
)

const backendFlushInterval = 20 * time.Millisecond

// Run the proxy configured by cfg. It serves until one of the listeners
// fails, or the process receives SIGTERM or an interrupt.
func Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	m := metrics.NewPrometheus(cfg.MetricsOptions())
	handler, err := newProxy(cfg, m)
	if err != nil {
		return err
	}

	servers := []*http.Server{{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeoutServer,
		IdleTimeout:       cfg.IdleTimeoutServer,
	}}

	if cfg.SupportListener != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.SupportListener,
			Handler:           newSupportHandler(m),
			ReadHeaderTimeout: cfg.ReadHeaderTimeoutServer,
		})
	}

	return serve(ctx, cfg.ShutdownTimeout, servers...)
}

func newProxy(cfg *config.Config, m *metrics.Prometheus) (http.Handler, error) {
	backend := cfg.BackendURL
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(backend)
			pr.SetXForwarded()
			if cfg.ProxyPreserveHost {
				pr.Out.Host = pr.In.Host
			}
		},
		FlushInterval: backendFlushInterval,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Errorf("Error while proxying %s %s to %s: %v", r.Method, r.URL.Path, backend.Host, err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	var handler http.Handler = rp
	chain, err := cfg.Handler(m)
	if err != nil {
		return nil, err
	}

	if chain != nil {
		handler = intercept.Wrap(chain, handler)
	}

	return logging.NewHandler(m.Instrument(handler)), nil
}

func newSupportHandler(m *metrics.Prometheus) http.Handler {
	mux := http.NewServeMux()
	m.RegisterHandler("/metrics", mux)
	mux.HandleFunc("/healthz", healthCheck)
	return mux
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		log.Errorf("Failed to write health check: %v", err)
	}
}

func serve(ctx context.Context, shutdownTimeout time.Duration, servers ...*http.Server) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error {
			log.Infof("Listening on %s", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to listen on %s: %w", s.Addr, err)
			}

			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down...")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, s := range servers {
			errs = append(errs, s.Shutdown(sctx))
		}

		return errors.Join(errs...)
	})

	return g.Wait()
}
