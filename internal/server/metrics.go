package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/devnode/devnode/internal/metrics"
)

// MetricsServer exposes a Prometheus /metrics endpoint.
type MetricsServer struct {
	addr string
	m    *metrics.Metrics
}

// NewMetrics returns a MetricsServer bound to addr.
func NewMetrics(addr string, m *metrics.Metrics) *MetricsServer {
	return &MetricsServer{addr: addr, m: m}
}

func (s *MetricsServer) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.m.Handler())
	srv := &http.Server{Addr: s.addr, Handler: mux}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	log.Info("metrics listening", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
