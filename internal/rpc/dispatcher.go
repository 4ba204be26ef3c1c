package rpc

import (
	"bytes"
	"encoding/json"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/devnode/devnode/internal/pubsub"
)

// HandlerFunc serves one JSON-RPC method. params is always the
// normalized positional slice (see paramsArray); a handler with no
// arguments simply ignores it.
type HandlerFunc func(rc *ReqContext, params []json.RawMessage) (interface{}, error)

// ReqContext carries per-request state a handler may need: a
// correlation id for error reporting and, on transports that support
// it, the pubsub connection eth_subscribe/eth_unsubscribe operate on.
type ReqContext struct {
	CorrelationID string
	Conn          *pubsub.Connection
}

// Dispatcher maps method names to handlers and turns one or more
// framed requests into framed responses.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

// NewDispatcher returns an empty dispatcher; callers register every
// method it should serve with Register.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Register binds method to h, overwriting any prior binding.
func (d *Dispatcher) Register(method string, h HandlerFunc) {
	d.handlers[method] = h
}

// Dispatch parses one frame (a single request object or a batch array)
// and returns the encoded response frame. A batch of all-notification
// requests would return an empty array; since this node always echoes
// every request's id, that case does not arise here.
func (d *Dispatcher) Dispatch(conn *pubsub.Connection, frame []byte) []byte {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var reqs []Request
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return encodeResponse(Response{JSONRPC: "2.0", Error: asRPCErr(ErrParseError(err.Error()))})
		}
		if len(reqs) == 0 {
			return encodeResponse(Response{JSONRPC: "2.0", Error: asRPCErr(ErrInvalidRequest("empty batch"))})
		}
		out := make([]Response, len(reqs))
		for i, req := range reqs {
			out[i] = d.handleOne(conn, req)
		}
		enc, _ := json.Marshal(out)
		return enc
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return encodeResponse(Response{JSONRPC: "2.0", Error: asRPCErr(ErrParseError(err.Error()))})
	}
	return encodeResponse(d.handleOne(conn, req))
}

func (d *Dispatcher) handleOne(conn *pubsub.Connection, req Request) (resp Response) {
	resp.JSONRPC = "2.0"
	resp.ID = req.ID

	corrID := uuid.New().String()
	defer func() {
		if r := recover(); r != nil {
			log.Error("rpc: handler panic", "method", req.Method, "correlationId", corrID, "panic", r)
			resp.Result = nil
			resp.Error = asRPCErr(ErrInternal(corrID))
		}
	}()

	if req.Method == "" {
		resp.Error = asRPCErr(ErrInvalidRequest("missing method"))
		return resp
	}
	h, ok := d.handlers[req.Method]
	if !ok {
		resp.Error = asRPCErr(ErrMethodNotFound(req.Method))
		return resp
	}
	params, err := paramsArray(req.Params)
	if err != nil {
		resp.Error = asRPCErr(ErrInvalidParams(err.Error()))
		return resp
	}

	rc := &ReqContext{CorrelationID: corrID, Conn: conn}
	result, err := h(rc, params)
	if err != nil {
		resp.Error = asRPCErrWithCorrelation(err, corrID)
		return resp
	}
	resp.Result = result
	return resp
}

// asRPCErr coerces any error into the wire shape, wrapping errors the
// handlers didn't construct via the Err* constructors as a bare internal
// error so a raw Go error string is never leaked to a client.
func asRPCErr(err error) *rpcError {
	return asRPCErrWithCorrelation(err, "")
}

// asRPCErrWithCorrelation is asRPCErr with a correlation id attached to
// any error it collapses to internal, so the client gets an id to
// report without the underlying Go error text.
func asRPCErrWithCorrelation(err error, corrID string) *rpcError {
	if err == nil {
		return nil
	}
	if re, ok := err.(*rpcError); ok {
		return re
	}
	log.Error("rpc: unmapped handler error", "correlationId", corrID, "error", err)
	return &rpcError{Code: codeInternalError, Message: "internal error", Data: map[string]string{"correlationId": corrID}}
}

func encodeResponse(resp Response) []byte {
	enc, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal error: response encoding failed"}}`)
	}
	return enc
}
