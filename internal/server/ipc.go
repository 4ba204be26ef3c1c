package server

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/devnode/devnode/internal/pubsub"
	"github.com/devnode/devnode/internal/rpc"
)

// IPCServer serves JSON-RPC over a Unix domain socket. Unlike HTTP and
// WebSocket, IPC is a raw byte stream: frames are extracted with
// rpc.FrameCodec exactly as the wire-framing codec was designed for.
type IPCServer struct {
	path string
	d    *rpc.Dispatcher
	subs *pubsub.Registry
}

// NewIPC returns an IPCServer bound to the given socket path.
func NewIPC(path string, d *rpc.Dispatcher, subs *pubsub.Registry) *IPCServer {
	return &IPCServer{path: path, d: d, subs: subs}
}

func (s *IPCServer) Serve(ctx context.Context) error {
	_ = os.Remove(s.path)
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	log.Info("ipc listening", "path", s.path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
		}
		go s.handleConn(conn)
	}
}

func (s *IPCServer) handleConn(raw net.Conn) {
	defer raw.Close()

	var writeMu sync.Mutex
	conn := s.subs.NewConnection(func(payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err := raw.Write(rpc.EncodeFrame(payload))
		return err
	})
	defer conn.Close()

	codec := rpc.NewFrameCodec()
	buf := make([]byte, 4096)
	for {
		n, err := raw.Read(buf)
		if n > 0 {
			codec.Feed(buf[:n])
			for {
				frame, ok, ferr := codec.Next()
				if ferr != nil {
					log.Debug("ipc: malformed frame", "error", ferr)
					return
				}
				if !ok {
					break
				}
				resp := s.d.Dispatch(conn, frame)
				writeMu.Lock()
				werr := func() error {
					_, e := raw.Write(rpc.EncodeFrame(resp))
					return e
				}()
				writeMu.Unlock()
				if werr != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}
