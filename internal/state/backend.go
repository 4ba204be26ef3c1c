package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
)

// ErrSnapshotGone is returned by Revert when the referenced snapshot has
// already been discarded by an earlier revert.
var ErrSnapshotGone = errors.New("state: snapshot gone")

const recentBlockHashes = 256

// ChangeSet is an executor-produced batch of account/storage writes,
// applied atomically by Commit.
type ChangeSet struct {
	Accounts map[common.Address]Account
	Storage  map[common.Address]map[common.Hash]*uint256.Int
}

// Database is the capability an EVM Executor consumes, and the contract
// the Backend and its forked-mode decorator both satisfy.
type Database interface {
	Basic(addr common.Address) Account
	CodeByHash(hash common.Hash) []byte
	StorageAt(addr common.Address, slot common.Hash) *uint256.Int
	BlockHash(number uint64) common.Hash

	InsertAccount(addr common.Address, acc Account)
	SetNonce(addr common.Address, nonce uint64)
	SetBalance(addr common.Address, balance *uint256.Int)
	SetCode(addr common.Address, code []byte)
	SetStorageAt(addr common.Address, slot common.Hash, val *uint256.Int)

	Snapshot() uint64
	Revert(id uint64) bool

	Commit(cs ChangeSet)

	StateRoot() (common.Hash, bool)

	NonceOf(addr common.Address) uint64
	RecordBlockHash(number uint64, hash common.Hash)
	DumpState() ([]byte, error)
	LoadState(data []byte) error
}

// Backend is the layered, snapshot-capable account/storage store. Layer 0
// is the base; writes always land on the top layer, reads walk top-down.
type Backend struct {
	mu sync.RWMutex

	layers      []map[common.Address]*accountOverlay
	codeStore   map[common.Hash][]byte
	snapshotIdx map[uint64]int // snapshot id -> index of the layer it guards
	nextSnap    uint64

	blockHashes *lru.Cache // uint64 -> common.Hash
	currentNum  uint64
}

// NewBackend returns a Backend with a single, empty base layer.
func NewBackend() *Backend {
	cache, _ := lru.New(recentBlockHashes)
	return &Backend{
		layers:      []map[common.Address]*accountOverlay{make(map[common.Address]*accountOverlay)},
		codeStore:   make(map[common.Hash][]byte),
		snapshotIdx: make(map[uint64]int),
		blockHashes: cache,
	}
}

func (b *Backend) topLocked() map[common.Address]*accountOverlay {
	return b.layers[len(b.layers)-1]
}

func (b *Backend) overlayFor(layer map[common.Address]*accountOverlay, addr common.Address) *accountOverlay {
	o, ok := layer[addr]
	if !ok {
		o = newAccountOverlay()
		layer[addr] = o
	}
	return o
}

// Basic never fails: an address touched by no layer is the zero account.
func (b *Backend) Basic(addr common.Address) Account {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.basicLocked(addr)
}

func (b *Backend) basicLocked(addr common.Address) Account {
	acc := NewEmptyAccount()
	acc.CodeHash = emptyCodeHash
	seenAny := false
	for _, layer := range b.layers {
		o, ok := layer[addr]
		if !ok {
			continue
		}
		seenAny = true
		if o.nonceSet {
			acc.Nonce = o.nonce
		}
		if o.balanceSet {
			acc.Balance = o.balance.Clone()
		}
		if o.codeSet {
			acc.CodeHash = o.codeHash
			acc.Code = append([]byte(nil), o.code...)
		}
	}
	if !seenAny {
		acc.Balance = uint256.NewInt(0)
	}
	return acc
}

// NonceOf satisfies txpool.NonceSource.
func (b *Backend) NonceOf(addr common.Address) uint64 {
	return b.Basic(addr).Nonce
}

func (b *Backend) CodeByHash(hash common.Hash) []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.codeStore[hash]
}

func (b *Backend) StorageAt(addr common.Address, slot common.Hash) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := len(b.layers) - 1; i >= 0; i-- {
		o, ok := b.layers[i][addr]
		if !ok {
			continue
		}
		if v, ok := o.storage[slot]; ok {
			return v.Clone()
		}
	}
	return uint256.NewInt(0)
}

func (b *Backend) BlockHash(number uint64) common.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.currentNum > recentBlockHashes && number+recentBlockHashes <= b.currentNum {
		return common.Hash{}
	}
	v, ok := b.blockHashes.Get(number)
	if !ok {
		return common.Hash{}
	}
	return v.(common.Hash)
}

// RecordBlockHash is called by the block builder after each commit so
// BlockHash can answer for the most recent 256 blocks.
func (b *Backend) RecordBlockHash(number uint64, hash common.Hash) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blockHashes.Add(number, hash)
	if number > b.currentNum {
		b.currentNum = number
	}
}

func (b *Backend) InsertAccount(addr common.Address, acc Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.overlayFor(b.topLocked(), addr)
	o.nonceSet = true
	o.nonce = acc.Nonce
	o.balanceSet = true
	if acc.Balance != nil {
		o.balance = acc.Balance.Clone()
	} else {
		o.balance = uint256.NewInt(0)
	}
	o.codeSet = true
	o.codeHash = acc.CodeHash
	o.code = append([]byte(nil), acc.Code...)
	if len(acc.Code) > 0 {
		b.codeStore[acc.CodeHash] = o.code
	}
}

func (b *Backend) SetNonce(addr common.Address, nonce uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.overlayFor(b.topLocked(), addr)
	o.nonceSet = true
	o.nonce = nonce
}

func (b *Backend) SetBalance(addr common.Address, balance *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.overlayFor(b.topLocked(), addr)
	o.balanceSet = true
	o.balance = balance.Clone()
}

func (b *Backend) SetCode(addr common.Address, code []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.overlayFor(b.topLocked(), addr)
	o.codeSet = true
	if len(code) == 0 {
		o.codeHash = emptyCodeHash
		o.code = nil
		return
	}
	o.codeHash = crypto.Keccak256Hash(code)
	o.code = append([]byte(nil), code...)
	b.codeStore[o.codeHash] = o.code
}

func (b *Backend) SetStorageAt(addr common.Address, slot common.Hash, val *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.overlayFor(b.topLocked(), addr)
	if val == nil || val.IsZero() {
		o.storage[slot] = uint256.NewInt(0)
		return
	}
	o.storage[slot] = val.Clone()
}

// Snapshot pushes a new layer and returns an id identifying the boundary
// beneath it. Snapshot ids form a monotonically increasing sequence.
func (b *Backend) Snapshot() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.layers = append(b.layers, make(map[common.Address]*accountOverlay))
	id := b.nextSnap
	b.nextSnap++
	b.snapshotIdx[id] = len(b.layers) - 1
	return id
}

// Revert truncates the stack back to the layer beneath the given
// snapshot, invalidating it and every snapshot taken after it.
func (b *Backend) Revert(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, ok := b.snapshotIdx[id]
	if !ok {
		return false
	}
	b.layers = b.layers[:idx]
	if len(b.layers) == 0 {
		b.layers = []map[common.Address]*accountOverlay{make(map[common.Address]*accountOverlay)}
	}
	for sid, sidx := range b.snapshotIdx {
		if sidx >= idx {
			delete(b.snapshotIdx, sid)
		}
	}
	return true
}

// Commit applies an executor-produced batch directly to the top layer,
// folding the writes in as a single new set of overlays.
func (b *Backend) Commit(cs ChangeSet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	top := b.topLocked()
	for addr, acc := range cs.Accounts {
		o := b.overlayFor(top, addr)
		o.nonceSet = true
		o.nonce = acc.Nonce
		o.balanceSet = true
		if acc.Balance != nil {
			o.balance = acc.Balance.Clone()
		} else {
			o.balance = uint256.NewInt(0)
		}
		if acc.CodeHash != (common.Hash{}) {
			o.codeSet = true
			o.codeHash = acc.CodeHash
			o.code = append([]byte(nil), acc.Code...)
			if len(acc.Code) > 0 {
				b.codeStore[acc.CodeHash] = o.code
			}
		}
	}
	for addr, slots := range cs.Storage {
		o := b.overlayFor(top, addr)
		for slot, val := range slots {
			o.storage[slot] = val.Clone()
		}
	}
}

// StateRoot is absent (false) for this in-memory backend: computing a
// real Merkle-Patricia root is out of this node's scope (spec §1); the
// hook exists so a forked-mode decorator can answer from upstream.
func (b *Backend) StateRoot() (common.Hash, bool) {
	return common.Hash{}, false
}

// --- dump / load -----------------------------------------------------

type dumpAccount struct {
	Nonce   uint64                 `json:"nonce"`
	Balance string                 `json:"balance"`
	Code    string                 `json:"code"`
	Storage map[string]string      `json:"storage"`
}

type dumpState struct {
	Accounts map[string]dumpAccount `json:"accounts"`
}

// DumpState serializes the base layer (layer 0) only.
func (b *Backend) DumpState() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	base := b.layers[0]
	out := dumpState{Accounts: make(map[string]dumpAccount, len(base))}
	for addr, o := range base {
		da := dumpAccount{
			Nonce:   o.nonce,
			Storage: make(map[string]string, len(o.storage)),
		}
		if o.balance != nil {
			da.Balance = hexutilBig(o.balance)
		} else {
			da.Balance = "0x0"
		}
		if len(o.code) > 0 {
			da.Code = "0x" + hex.EncodeToString(o.code)
		} else {
			da.Code = "0x"
		}
		for slot, val := range o.storage {
			da.Storage[slot.Hex()] = val.Hex()
		}
		out.Accounts[addr.Hex()] = da
	}
	return json.Marshal(out)
}

// LoadState restores the base state from a dump produced by DumpState,
// resetting the backend to a single empty layer on top of it (the
// snapshot stack is not preserved across a load).
func (b *Backend) LoadState(data []byte) error {
	var in dumpState
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("state: decode dump: %w", err)
	}
	base := make(map[common.Address]*accountOverlay, len(in.Accounts))
	for addrHex, da := range in.Accounts {
		addr := common.HexToAddress(addrHex)
		o := newAccountOverlay()
		o.nonceSet = true
		o.nonce = da.Nonce
		o.balanceSet = true
		bal, err := parseHexOrDecimalU256(da.Balance)
		if err != nil {
			return fmt.Errorf("state: bad balance for %s: %w", addrHex, err)
		}
		o.balance = bal
		if da.Code != "" && da.Code != "0x" {
			codeBytes, err := hex.DecodeString(trimHexPrefix(da.Code))
			if err != nil {
				return fmt.Errorf("state: bad code for %s: %w", addrHex, err)
			}
			o.codeSet = true
			o.codeHash = crypto.Keccak256Hash(codeBytes)
			o.code = codeBytes
			b.codeStore[o.codeHash] = codeBytes
		} else {
			o.codeSet = true
			o.codeHash = emptyCodeHash
		}
		for slotHex, valHex := range da.Storage {
			v, err := parseHexOrDecimalU256(valHex)
			if err != nil {
				return fmt.Errorf("state: bad storage value: %w", err)
			}
			o.storage[common.HexToHash(slotHex)] = v
		}
		base[addr] = o
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.layers = []map[common.Address]*accountOverlay{base, make(map[common.Address]*accountOverlay)}
	b.snapshotIdx = make(map[uint64]int)
	b.nextSnap = 0
	return nil
}

func hexutilBig(v *uint256.Int) string {
	if v.IsZero() {
		return "0x0"
	}
	return "0x" + v.Hex()[2:]
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func parseHexOrDecimalU256(s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	v := new(uint256.Int)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		if err := v.SetFromHex(s); err != nil {
			return nil, err
		}
		return v, nil
	}
	if err := v.SetFromDecimal(s); err != nil {
		return nil, err
	}
	return v, nil
}
