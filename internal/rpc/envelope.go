package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Request is the `{jsonrpc, id, method, params}` envelope as received
// from a transport. Params deserializes lazily, per-method, via
// paramsArray and the decode* helpers below.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the `{jsonrpc, id, result | error}` envelope sent back.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

// paramsArray normalizes `params` into a positional slice. Both
// `"params":[a,b,c]` and a bare single value (for variants accepting
// exactly one positional parameter) decode to the same shape: the latter
// becomes a one-element slice wrapping the raw value.
func paramsArray(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, nil
	}
	var probe interface{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("params is not valid JSON: %w", err)
	}
	return []json.RawMessage{raw}, nil
}

func paramAt(arr []json.RawMessage, i int) (json.RawMessage, bool) {
	if i < 0 || i >= len(arr) {
		return nil, false
	}
	return arr[i], true
}

func decodeAddress(raw json.RawMessage) (common.Address, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return common.Address{}, fmt.Errorf("expected address string: %w", err)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func decodeHash(raw json.RawMessage) (common.Hash, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return common.Hash{}, fmt.Errorf("expected hash string: %w", err)
	}
	return common.HexToHash(s), nil
}

func decodeBytes(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("expected hex-encoded bytes: %w", err)
	}
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex bytes: %w", err)
	}
	return b, nil
}

func decodeBool(raw json.RawMessage) (bool, error) {
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, fmt.Errorf("expected bool: %w", err)
	}
	return v, nil
}

// decodeU256 accepts either a hex-prefixed string or a decimal string.
func decodeU256(raw json.RawMessage) (*uint256.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n uint64
		if err2 := json.Unmarshal(raw, &n); err2 == nil {
			return uint256.NewInt(n), nil
		}
		return nil, fmt.Errorf("expected quantity string or number: %w", err)
	}
	v := new(uint256.Int)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if err := v.SetFromHex(s); err != nil {
			return nil, fmt.Errorf("invalid hex quantity %q: %w", s, err)
		}
		return v, nil
	}
	if err := v.SetFromDecimal(s); err != nil {
		return nil, fmt.Errorf("invalid decimal quantity %q: %w", s, err)
	}
	return v, nil
}

func decodeQuantity(raw json.RawMessage) (uint64, error) {
	v, err := decodeU256(raw)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// Index is a hex-encoded or decimal transaction/log position.
type Index uint64

func (i *Index) UnmarshalJSON(data []byte) error {
	var num uint64
	if err := json.Unmarshal(data, &num); err == nil {
		*i = Index(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("index must be a number or string: %w", err)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return fmt.Errorf("invalid hex index %q: %w", s, err)
		}
		*i = Index(v)
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid decimal index %q: %w", s, err)
	}
	*i = Index(v)
	return nil
}

func decodeIndex(raw json.RawMessage) (Index, error) {
	var idx Index
	if err := idx.UnmarshalJSON(raw); err != nil {
		return 0, err
	}
	return idx, nil
}

// BlockTag is either a named tag (latest/earliest/pending/safe/finalized)
// or a concrete block number.
type BlockTag struct {
	Tag    string
	Number uint64
	IsTag  bool
}

var namedTags = map[string]bool{
	"latest": true, "earliest": true, "pending": true, "safe": true, "finalized": true,
}

func decodeBlockTag(raw json.RawMessage) (BlockTag, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return BlockTag{}, fmt.Errorf("expected block tag or quantity string: %w", err)
	}
	if namedTags[s] {
		return BlockTag{Tag: s, IsTag: true}, nil
	}
	n, err := decodeQuantity(raw)
	if err != nil {
		return BlockTag{}, fmt.Errorf("invalid block tag %q: %w", s, err)
	}
	return BlockTag{Number: n}, nil
}

func decodeOptionalBlockTag(arr []json.RawMessage, i int, def string) (BlockTag, error) {
	raw, ok := paramAt(arr, i)
	if !ok {
		return BlockTag{Tag: def, IsTag: true}, nil
	}
	return decodeBlockTag(raw)
}

// EncodeQuantity renders u as a minimal hex-prefixed quantity: no leading
// zeros except the literal zero, which encodes as "0x0".
func EncodeQuantity(u uint64) string {
	if u == 0 {
		return "0x0"
	}
	return "0x" + strconv.FormatUint(u, 16)
}

// EncodeU256 renders a 256-bit value the same way.
func EncodeU256(v *uint256.Int) string {
	if v == nil || v.IsZero() {
		return "0x0"
	}
	return v.Hex()
}

// EncodeHash32 renders a fixed-width 32-byte hash/slot, full width.
func EncodeHash32(h common.Hash) string {
	return h.Hex()
}
