package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"

	"github.com/devnode/devnode/internal/pubsub"
	"github.com/devnode/devnode/internal/rpc"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Dev node: any origin may connect, matching a local tool's
	// permissive default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSServer serves JSON-RPC over WebSocket, the one transport (besides
// IPC) eth_subscribe works on.
type WSServer struct {
	addr string
	d    *rpc.Dispatcher
	subs *pubsub.Registry
}

// NewWS returns a WSServer bound to host:port.
func NewWS(host string, port int, d *rpc.Dispatcher, subs *pubsub.Registry) *WSServer {
	return &WSServer{addr: fmt.Sprintf("%s:%d", host, port), d: d, subs: subs}
}

func (s *WSServer) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	srv := &http.Server{Addr: s.addr, Handler: mux}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: ws listen on %s: %w", s.addr, err)
	}
	log.Info("ws-rpc listening", "addr", s.addr)

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

func (s *WSServer) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	var writeMu sync.Mutex
	conn := s.subs.NewConnection(func(payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return ws.WriteMessage(websocket.TextMessage, payload)
	})
	defer conn.Close()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		resp := s.d.Dispatch(conn, msg)
		writeMu.Lock()
		werr := ws.WriteMessage(websocket.TextMessage, resp)
		writeMu.Unlock()
		if werr != nil {
			return
		}
	}
}
