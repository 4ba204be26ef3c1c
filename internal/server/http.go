package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/devnode/devnode/internal/metrics"
	"github.com/devnode/devnode/internal/rpc"
)

const maxHTTPBody = 10 << 20 // 10 MiB

// HTTPServer serves plain request/response JSON-RPC. It never carries
// eth_subscribe notifications: Dispatch is always called with a nil
// pub/sub connection, so eth_subscribe itself returns an invalid-request
// error to HTTP callers.
type HTTPServer struct {
	addr    string
	d       *rpc.Dispatcher
	metrics *metrics.Metrics
}

// NewHTTP returns an HTTPServer bound to host:port.
func NewHTTP(host string, port int, d *rpc.Dispatcher, m *metrics.Metrics) *HTTPServer {
	return &HTTPServer{addr: fmt.Sprintf("%s:%d", host, port), d: d, metrics: m}
}

func (s *HTTPServer) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: http listen on %s: %w", s.addr, err)
	}
	log.Info("http-rpc listening", "addr", s.addr)

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

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxHTTPBody))
	if err != nil {
		http.Error(w, "request too large or unreadable", http.StatusBadRequest)
		return
	}
	resp := s.d.Dispatch(nil, body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}
