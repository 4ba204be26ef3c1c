package rpc

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/devnode/devnode/internal/builder"
	"github.com/devnode/devnode/internal/metrics"
	"github.com/devnode/devnode/internal/miner"
	"github.com/devnode/devnode/internal/pubsub"
	"github.com/devnode/devnode/internal/signer"
	"github.com/devnode/devnode/internal/state"
	"github.com/devnode/devnode/internal/txpool"
)

// Services bundles every component the RPC handlers operate on. It is
// the one piece of wiring both handlers_eth.go and handlers_anvil.go
// share, and the thing node.Node constructs once at startup.
type Services struct {
	ChainID  *uint256.Int
	Backend  state.Database
	Pool     *txpool.Pool
	Builder  *builder.Builder
	Miner    *miner.Miner
	Signer   signer.Signer
	Subs     *pubsub.Registry
	Executor builder.Executor
	Metrics  *metrics.Metrics

	mu           sync.Mutex
	autoMine     bool
	impersonated map[common.Address]bool
}

// NewServices wires the given components into a Services ready for
// RegisterEthHandlers / RegisterAnvilHandlers.
func NewServices(chainID *uint256.Int, backend state.Database, pool *txpool.Pool, b *builder.Builder, m *miner.Miner, sg signer.Signer, subs *pubsub.Registry, executor builder.Executor) *Services {
	return &Services{
		ChainID:      chainID,
		Backend:      backend,
		Pool:         pool,
		Builder:      b,
		Miner:        m,
		Signer:       sg,
		Subs:         subs,
		Executor:     executor,
		autoMine:     true,
		impersonated: make(map[common.Address]bool),
	}
}

// AutoMine reports whether the node is in automine mode (an
// InstantMode miner), as opposed to interval mining.
func (s *Services) AutoMine() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoMine
}

func (s *Services) setAutoMine(v bool) {
	s.mu.Lock()
	s.autoMine = v
	s.mu.Unlock()
}

// IsImpersonated reports whether addr may send transactions without a
// registered signer (anvil_impersonateAccount).
func (s *Services) IsImpersonated(addr common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.impersonated[addr]
}

func (s *Services) setImpersonated(addr common.Address, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v {
		s.impersonated[addr] = true
	} else {
		delete(s.impersonated, addr)
	}
}

// pendingNonce returns the nonce eth_sendTransaction and
// eth_getTransactionCount(..., "pending") should use: the backend's
// on-chain nonce advanced past every ready tx already admitted for
// sender (nonce-gapped pending txs are not counted), so a burst of sends from one account queues up correctly
// instead of every one claiming the same nonce.
func (s *Services) pendingNonce(addr common.Address) uint64 {
	next := s.Backend.NonceOf(addr)
	for _, pt := range s.Pool.Ready() {
		if pt.Sender == addr && pt.Nonce >= next {
			next = pt.Nonce + 1
		}
	}
	return next
}

// findTx looks a transaction up by hash across every committed block,
// and reports whether it is still only pending in the pool.
func (s *Services) findTx(hash common.Hash) (ptx *txpool.PoolTransaction, blk *builder.Block, index int, pending bool) {
	head := s.Builder.Head()
	for n := int64(head.Number); n >= 0; n-- {
		b := s.Builder.ByNumber(uint64(n))
		if b == nil {
			continue
		}
		for i, t := range b.Transactions {
			if t.Hash == hash {
				return t, b, i, false
			}
		}
	}
	for _, t := range s.Pool.Ready() {
		if t.Hash == hash {
			return t, nil, 0, true
		}
	}
	return nil, nil, 0, false
}

// resolveBlock resolves a tag/number into a committed block, or nil if
// unknown. "pending" resolves to the current head, since this node
// never holds a distinct pending block beyond the mined chain.
func (s *Services) resolveBlock(tag BlockTag) *builder.Block {
	if !tag.IsTag {
		return s.Builder.ByNumber(tag.Number)
	}
	switch tag.Tag {
	case "earliest":
		return s.Builder.ByNumber(0)
	case "latest", "pending", "safe", "finalized":
		return s.Builder.Head()
	default:
		return nil
	}
}

// builderOpts is the subset of evm_mine's optional argument object this
// node understands.
type builderOpts struct {
	timestamp *uint64
}

// mineOne builds exactly one block from the pool's current ready set,
// as evm_mine and anvil_mine both do. allowEmpty is always true here:
// an explicit mine request always produces a block, even an empty one.
func (s *Services) mineOne(opts builderOpts) (*builder.Block, error) {
	job := miner.Job{Txs: s.Pool.Ready(), AllowEmpty: true}
	bopts := builder.BuildOptions{Timestamp: opts.timestamp}
	return s.Builder.Build(job, bopts)
}

func accessListFromTx(tx *types.Transaction) types.AccessList {
	if tx.Type() == types.LegacyTxType {
		return nil
	}
	return tx.AccessList()
}
