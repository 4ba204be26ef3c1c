package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDispatcher() *Dispatcher {
	d := NewDispatcher()
	d.Register("echo", func(rc *ReqContext, params []json.RawMessage) (interface{}, error) {
		if len(params) == 0 {
			return "ok", nil
		}
		var s string
		if err := json.Unmarshal(params[0], &s); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return s, nil
	})
	d.Register("boom", func(rc *ReqContext, params []json.RawMessage) (interface{}, error) {
		panic("handler exploded")
	})
	return d
}

func decodeResp(t *testing.T, raw []byte) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestDispatchUnknownMethodIsMethodNotFound(t *testing.T) {
	d := newTestDispatcher()
	raw := d.Dispatch(nil, []byte(`{"jsonrpc":"2.0","id":1,"method":"nope"}`))
	resp := decodeResp(t, raw)
	require.NotNil(t, resp.Error)
	require.EqualValues(t, codeMethodNotFound, resp.Error.Code)
}

func TestDispatchBadParamsIsInvalidParams(t *testing.T) {
	d := newTestDispatcher()
	raw := d.Dispatch(nil, []byte(`{"jsonrpc":"2.0","id":1,"method":"echo","params":[42]}`))
	resp := decodeResp(t, raw)
	require.NotNil(t, resp.Error)
	require.EqualValues(t, codeInvalidParams, resp.Error.Code)
}

func TestDispatchEmptyBatchIsInvalidRequest(t *testing.T) {
	d := newTestDispatcher()
	raw := d.Dispatch(nil, []byte(`[]`))
	resp := decodeResp(t, raw)
	require.NotNil(t, resp.Error)
	require.EqualValues(t, codeInvalidRequest, resp.Error.Code)
}

// TestDispatchPanicRecoversWithCorrelationID is property: a handler
// panic never crashes the server and always surfaces as -32603 with a
// correlation id a caller could cite when reporting the failure.
func TestDispatchPanicRecoversWithCorrelationID(t *testing.T) {
	d := newTestDispatcher()
	raw := d.Dispatch(nil, []byte(`{"jsonrpc":"2.0","id":7,"method":"boom"}`))
	resp := decodeResp(t, raw)
	require.NotNil(t, resp.Error)
	require.EqualValues(t, codeInternalError, resp.Error.Code)
	data, ok := resp.Error.Data.(map[string]interface{})
	require.True(t, ok)
	require.NotEmpty(t, data["correlationId"])
}

// TestDispatchBatchReturnsOneResponsePerRequestInOrder is the exactly-
// one-response-per-id guarantee applied across a batch.
func TestDispatchBatchReturnsOneResponsePerRequestInOrder(t *testing.T) {
	d := newTestDispatcher()
	raw := d.Dispatch(nil, []byte(`[
		{"jsonrpc":"2.0","id":1,"method":"echo","params":["a"]},
		{"jsonrpc":"2.0","id":2,"method":"nope"},
		{"jsonrpc":"2.0","id":3,"method":"echo","params":["c"]}
	]`))

	var resps []Response
	require.NoError(t, json.Unmarshal(raw, &resps))
	require.Len(t, resps, 3)

	require.EqualValues(t, 1, toFloat(t, resps[0].ID))
	require.Nil(t, resps[0].Error)
	require.Equal(t, "a", resps[0].Result)

	require.EqualValues(t, 2, toFloat(t, resps[1].ID))
	require.NotNil(t, resps[1].Error)
	require.EqualValues(t, codeMethodNotFound, resps[1].Error.Code)

	require.EqualValues(t, 3, toFloat(t, resps[2].ID))
	require.Nil(t, resps[2].Error)
	require.Equal(t, "c", resps[2].Result)
}

func TestDispatchSingleRequestEchoesID(t *testing.T) {
	d := newTestDispatcher()
	raw := d.Dispatch(nil, []byte(`{"jsonrpc":"2.0","id":"abc","method":"echo"}`))
	resp := decodeResp(t, raw)
	var id string
	require.NoError(t, json.Unmarshal(resp.ID, &id))
	require.Equal(t, "abc", id)
}

func toFloat(t *testing.T, raw json.RawMessage) float64 {
	t.Helper()
	var f float64
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}
