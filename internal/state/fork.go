package state

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/time/rate"
)

// Upstream is the capability a forked backend reads through: a live
// chain's eth_getBalance/eth_getCode/eth_getStorageAt/eth_getTransactionCount,
// as of a fixed block.
type Upstream interface {
	GetBalance(ctx context.Context, addr common.Address, block uint64) (*uint256.Int, error)
	GetCode(ctx context.Context, addr common.Address, block uint64) ([]byte, error)
	GetStorageAt(ctx context.Context, addr common.Address, slot common.Hash, block uint64) (*uint256.Int, error)
	GetNonce(ctx context.Context, addr common.Address, block uint64) (uint64, error)
}

// httpUpstream is the Upstream a fork-url node config actually talks
// to: a plain JSON-RPC POST, with golang.org/x/time/rate throttling
// calls to whatever budget the operator configured.
type httpUpstream struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPUpstream returns an Upstream backed by a live JSON-RPC
// endpoint, rate-limited to ratePerSecond requests per second.
func NewHTTPUpstream(url string, ratePerSecond float64) Upstream {
	return &httpUpstream{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1),
	}
}

type jsonrpcCall struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonrpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (u *httpUpstream) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if err := u.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := json.Marshal(jsonrpcCall{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fork: upstream request failed: %w", err)
	}
	defer resp.Body.Close()
	var out jsonrpcReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("fork: decode upstream reply: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("fork: upstream error: %s", out.Error.Message)
	}
	return out.Result, nil
}

func blockTag(block uint64) string {
	if block == 0 {
		return "latest"
	}
	return uint256.NewInt(block).Hex()
}

func (u *httpUpstream) GetBalance(ctx context.Context, addr common.Address, block uint64) (*uint256.Int, error) {
	raw, err := u.call(ctx, "eth_getBalance", addr.Hex(), blockTag(block))
	if err != nil {
		return nil, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	v := new(uint256.Int)
	if err := v.SetFromHex(s); err != nil {
		return nil, err
	}
	return v, nil
}

func (u *httpUpstream) GetCode(ctx context.Context, addr common.Address, block uint64) ([]byte, error) {
	raw, err := u.call(ctx, "eth_getCode", addr.Hex(), blockTag(block))
	if err != nil {
		return nil, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return common.FromHex(s), nil
}

func (u *httpUpstream) GetStorageAt(ctx context.Context, addr common.Address, slot common.Hash, block uint64) (*uint256.Int, error) {
	raw, err := u.call(ctx, "eth_getStorageAt", addr.Hex(), slot.Hex(), blockTag(block))
	if err != nil {
		return nil, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	v := new(uint256.Int)
	if err := v.SetFromHex(s); err != nil {
		return nil, err
	}
	return v, nil
}

func (u *httpUpstream) GetNonce(ctx context.Context, addr common.Address, block uint64) (uint64, error) {
	raw, err := u.call(ctx, "eth_getTransactionCount", addr.Hex(), blockTag(block))
	if err != nil {
		return 0, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	v := new(uint256.Int)
	if err := v.SetFromHex(s); err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

const (
	memCacheBytes = 64 << 20 // 64 MiB hot cache per read kind
)

// ForkedBackend decorates a Backend with a read-through cache over a
// pinned-block Upstream: a write to any address shadows it forever in
// the local layers (Basic and StorageAt check locally first; CodeByHash
// checks code fetched from the upstream before locally installed code),
// while an untouched address falls through to the upstream,
// cached in two tiers: an in-process fastcache for hot reads and an
// on-disk goleveldb for everything else, so a restarted node doesn't
// re-fetch its whole working set from the upstream.
type ForkedBackend struct {
	*Backend
	upstream Upstream
	atBlock  uint64
	hot      *fastcache.Cache
	disk     *leveldb.DB
	touched  map[common.Address]bool

	codeMu     sync.RWMutex
	remoteCode map[common.Hash][]byte
}

// NewForkedBackend wraps backend with upstream reads pinned at
// atBlock (0 means the upstream's latest). diskPath is where the
// on-disk cache tier lives; an empty path disables it (memory only).
func NewForkedBackend(backend *Backend, upstream Upstream, atBlock uint64, diskPath string) (*ForkedBackend, error) {
	fb := &ForkedBackend{
		Backend:    backend,
		upstream:   upstream,
		atBlock:    atBlock,
		hot:        fastcache.New(memCacheBytes),
		touched:    make(map[common.Address]bool),
		remoteCode: make(map[common.Hash][]byte),
	}
	if diskPath != "" {
		db, err := leveldb.OpenFile(diskPath, nil)
		if err != nil {
			return nil, fmt.Errorf("state: open fork cache at %s: %w", diskPath, err)
		}
		fb.disk = db
	}
	return fb, nil
}

func (fb *ForkedBackend) cacheKey(kind byte, addr common.Address, extra common.Hash) []byte {
	key := make([]byte, 1+len(addr)+len(extra))
	key[0] = kind
	copy(key[1:], addr.Bytes())
	copy(key[1+len(addr):], extra.Bytes())
	return key
}

func (fb *ForkedBackend) cachedOrFetch(key []byte, fetch func() ([]byte, error)) ([]byte, error) {
	if v, ok := fb.hot.HasGet(nil, key); ok {
		return v, nil
	}
	if fb.disk != nil {
		if v, err := fb.disk.Get(key, nil); err == nil {
			fb.hot.Set(key, v)
			return v, nil
		}
	}
	v, err := fetch()
	if err != nil {
		return nil, err
	}
	fb.hot.Set(key, v)
	if fb.disk != nil {
		_ = fb.disk.Put(key, v, nil)
	}
	return v, nil
}

// Basic overrides the base Backend: a locally touched account never
// consults the upstream again.
func (fb *ForkedBackend) Basic(addr common.Address) Account {
	local := fb.Backend.Basic(addr)
	if fb.touched[addr] {
		return local
	}
	raw, err := fb.cachedOrFetch(fb.cacheKey('b', addr, common.Hash{}), func() ([]byte, error) {
		bal, err := fb.upstream.GetBalance(context.Background(), addr, fb.atBlock)
		if err != nil {
			return nil, err
		}
		nonce, err := fb.upstream.GetNonce(context.Background(), addr, fb.atBlock)
		if err != nil {
			return nil, err
		}
		return encodeRemoteAccount(nonce, bal), nil
	})
	if err != nil {
		return local
	}
	nonce, bal := decodeRemoteAccount(raw)
	local.Nonce = nonce
	local.Balance = bal

	code, err := fb.cachedOrFetch(fb.cacheKey('c', addr, common.Hash{}), func() ([]byte, error) {
		return fb.upstream.GetCode(context.Background(), addr, fb.atBlock)
	})
	if err == nil && len(code) > 0 {
		hash := crypto.Keccak256Hash(code)
		fb.codeMu.Lock()
		fb.remoteCode[hash] = code
		fb.codeMu.Unlock()
		local.CodeHash = hash
		local.Code = code
	}
	return local
}

// CodeByHash overrides the base Backend, checking code fetched from
// the upstream before falling back to locally installed code.
func (fb *ForkedBackend) CodeByHash(hash common.Hash) []byte {
	fb.codeMu.RLock()
	code, ok := fb.remoteCode[hash]
	fb.codeMu.RUnlock()
	if ok {
		return code
	}
	return fb.Backend.CodeByHash(hash)
}

// SetCode marks addr as locally owned, as SetBalance does.
func (fb *ForkedBackend) SetCode(addr common.Address, code []byte) {
	fb.touched[addr] = true
	fb.Backend.SetCode(addr, code)
}

// SetBalance marks addr as locally owned before delegating, so future
// Basic calls never fall back to the upstream for it again.
func (fb *ForkedBackend) SetBalance(addr common.Address, balance *uint256.Int) {
	fb.touched[addr] = true
	fb.Backend.SetBalance(addr, balance)
}

// SetNonce marks addr as locally owned, as SetBalance does.
func (fb *ForkedBackend) SetNonce(addr common.Address, nonce uint64) {
	fb.touched[addr] = true
	fb.Backend.SetNonce(addr, nonce)
}

// StorageAt overrides the base Backend the same way Basic does, at
// slot granularity: a slot this node has written locally is never
// re-fetched.
func (fb *ForkedBackend) StorageAt(addr common.Address, slot common.Hash) *uint256.Int {
	written := fb.touched[addr]
	fb.Backend.mu.RLock()
	for _, layer := range fb.Backend.layers {
		if o, ok := layer[addr]; ok {
			if _, ok := o.storage[slot]; ok {
				written = true
			}
		}
	}
	fb.Backend.mu.RUnlock()
	if written {
		return fb.Backend.StorageAt(addr, slot)
	}
	raw, err := fb.cachedOrFetch(fb.cacheKey('s', addr, slot), func() ([]byte, error) {
		v, err := fb.upstream.GetStorageAt(context.Background(), addr, slot, fb.atBlock)
		if err != nil {
			return nil, err
		}
		return v.Bytes(), nil
	})
	if err != nil {
		return fb.Backend.StorageAt(addr, slot)
	}
	return new(uint256.Int).SetBytes(raw)
}

// Close releases the on-disk cache tier, if one was opened.
func (fb *ForkedBackend) Close() error {
	if fb.disk != nil {
		return fb.disk.Close()
	}
	return nil
}

func encodeRemoteAccount(nonce uint64, balance *uint256.Int) []byte {
	balBytes := balance.Bytes()
	out := make([]byte, 8+len(balBytes))
	for i := 0; i < 8; i++ {
		out[i] = byte(nonce >> (8 * (7 - i)))
	}
	copy(out[8:], balBytes)
	return out
}

func decodeRemoteAccount(raw []byte) (uint64, *uint256.Int) {
	if len(raw) < 8 {
		return 0, uint256.NewInt(0)
	}
	var nonce uint64
	for i := 0; i < 8; i++ {
		nonce = nonce<<8 | uint64(raw[i])
	}
	return nonce, new(uint256.Int).SetBytes(raw[8:])
}
