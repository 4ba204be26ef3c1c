// Package builder assembles committed blocks from a miner job: it
// drives the Executor over each transaction, collects receipts, updates
// the state backend, and publishes the resulting head.
package builder

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	bloomfilter "github.com/holiman/bloomfilter/v2"
	"github.com/holiman/uint256"

	"github.com/devnode/devnode/internal/miner"
	"github.com/devnode/devnode/internal/state"
	"github.com/devnode/devnode/internal/txpool"
)

const feeHistoryCap = 1024

// Builder owns block history and drives the state backend from
// mined jobs.
type Builder struct {
	backend  state.Database
	executor Executor
	pool     *txpool.Pool

	mu         sync.RWMutex
	blocks     []*Block
	byHash     map[common.Hash]*Block
	byNumber   map[uint64]*Block
	bloomIndex map[uint64]*bloomfilter.Filter

	gasLimit uint64
	coinbase common.Address

	headFeed event.Feed // emits *Block
}

// New returns a Builder seeded with a genesis block at number 0.
func New(backend state.Database, pool *txpool.Pool, executor Executor, gasLimit uint64, coinbase common.Address, genesisTimestamp uint64) *Builder {
	b := &Builder{
		backend:    backend,
		executor:   executor,
		pool:       pool,
		byHash:     make(map[common.Hash]*Block),
		byNumber:   make(map[uint64]*Block),
		bloomIndex: make(map[uint64]*bloomfilter.Filter),
		gasLimit:   gasLimit,
		coinbase:   coinbase,
	}
	genesis := &Block{
		Number:    0,
		Timestamp: genesisTimestamp,
		GasLimit:  gasLimit,
		Coinbase:  coinbase,
	}
	genesis.Hash = b.computeBlockHash(genesis)
	b.recordBlock(genesis)
	backend.RecordBlockHash(0, genesis.Hash)
	return b
}

// SubscribeHeads registers ch to receive every committed block.
func (b *Builder) SubscribeHeads(ch chan<- *Block) event.Subscription {
	return b.headFeed.Subscribe(ch)
}

// Head returns the most recently committed block.
func (b *Builder) Head() *Block {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.blocks[len(b.blocks)-1]
}

// ByNumber returns a committed block, or nil if unknown.
func (b *Builder) ByNumber(n uint64) *Block {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byNumber[n]
}

// ByHash returns a committed block, or nil if unknown.
func (b *Builder) ByHash(h common.Hash) *Block {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byHash[h]
}

// Build executes job.Txs in order against a fresh overlay of the
// backend. A transaction that reverts still gets a receipt and does not
// abort the batch; an executor infrastructure error rolls the whole
// batch back to the pre-batch snapshot and is returned to the caller.
// On success, the transactions are marked consumed in the pool and the
// new head is published. A nil, nil result means "nothing to build"
// (an empty interval tick that isn't allowed to produce an empty block).
func (b *Builder) Build(job miner.Job, opts BuildOptions) (*Block, error) {
	if len(job.Txs) == 0 && !job.AllowEmpty {
		return nil, nil
	}

	snap := b.backend.Snapshot()

	parent := b.Head()
	blk := &Block{
		Number:     parent.Number + 1,
		ParentHash: parent.Hash,
		Timestamp:  pickTimestamp(opts, parent.Timestamp),
		GasLimit:   pickGasLimit(opts, b.gasLimit),
		Coinbase:   pickCoinbase(opts, b.coinbase),
		BaseFee:    opts.BaseFee,
	}

	ctx := BlockContext{
		Number:    blk.Number,
		Timestamp: blk.Timestamp,
		Coinbase:  blk.Coinbase,
		GasLimit:  blk.GasLimit,
		BaseFee:   blk.BaseFee,
	}

	var cumulative uint64
	receipts := make([]*Receipt, 0, len(job.Txs))
	for i, ptx := range job.Txs {
		res, err := b.executor.Execute(b.backend, ctx, ptx.Tx, ptx.Sender)
		if err != nil {
			b.backend.Revert(snap)
			log.Error("block build aborted", "number", blk.Number, "tx", ptx.Hash, "error", err)
			return nil, fmt.Errorf("builder: execute tx %s: %w", ptx.Hash, err)
		}
		cumulative += res.GasUsed
		status := uint64(1)
		if res.Reverted {
			status = 0
		}
		receipts = append(receipts, &Receipt{
			TxHash:           ptx.Hash,
			TransactionIndex: i,
			BlockNumber:      blk.Number,
			Status:           status,
			GasUsed:          res.GasUsed,
			CumulativeGas:    cumulative,
			ContractAddress:  res.ContractAddress,
			Logs:             res.Logs,
		})
	}

	blk.GasUsed = cumulative
	blk.Transactions = job.Txs
	blk.Receipts = receipts
	blk.TxRoot = rootOfTxs(job.Txs)
	blk.ReceiptsRoot = rootOfReceipts(receipts)
	blk.StateRoot = common.Hash{} // no real MPT root; see spec.md §1 scope note
	blk.Hash = b.computeBlockHash(blk)

	for _, rc := range receipts {
		rc.BlockHash = blk.Hash
	}

	b.backend.RecordBlockHash(blk.Number, blk.Hash)
	b.recordBlock(blk)
	b.indexBloom(blk)
	b.pool.Consume(job.Txs)

	b.headFeed.Send(blk)
	log.Info("sealed block", "number", blk.Number, "hash", blk.Hash, "txs", len(job.Txs))
	return blk, nil
}

func (b *Builder) recordBlock(blk *Block) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocks = append(b.blocks, blk)
	b.byHash[blk.Hash] = blk
	b.byNumber[blk.Number] = blk
}

func (b *Builder) indexBloom(blk *Block) {
	var nLogs int
	for _, r := range blk.Receipts {
		nLogs += len(r.Logs)
	}
	if nLogs == 0 {
		return
	}
	filter, err := bloomfilter.New(uint64(nLogs*8+8), 4)
	if err != nil {
		return
	}
	for _, r := range blk.Receipts {
		for _, lg := range r.Logs {
			h := fnv.New64a()
			h.Write(lg.Address.Bytes())
			filter.Add(h)
		}
	}
	b.mu.Lock()
	b.bloomIndex[blk.Number] = filter
	b.mu.Unlock()
}

// MayContainLog is a pure pre-filter: a false negative never happens, a
// false positive just costs an authoritative scan; callers always
// confirm against the real receipt logs afterwards.
func (b *Builder) MayContainLog(blockNumber uint64, addr common.Address) bool {
	b.mu.RLock()
	filter, ok := b.bloomIndex[blockNumber]
	b.mu.RUnlock()
	if !ok {
		return true
	}
	h := fnv.New64a()
	h.Write(addr.Bytes())
	return filter.Contains(h)
}

func (b *Builder) computeBlockHash(blk *Block) common.Hash {
	enc, _ := rlp.EncodeToBytes([]interface{}{
		blk.Number, blk.ParentHash, blk.Timestamp, blk.GasUsed, blk.GasLimit,
		blk.Coinbase, blk.TxRoot, blk.ReceiptsRoot,
	})
	return crypto.Keccak256Hash(enc)
}

func rootOfTxs(txs []*txpool.PoolTransaction) common.Hash {
	if len(txs) == 0 {
		return common.Hash{}
	}
	hashes := make([]common.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash
	}
	enc, _ := rlp.EncodeToBytes(hashes)
	return crypto.Keccak256Hash(enc)
}

func rootOfReceipts(receipts []*Receipt) common.Hash {
	if len(receipts) == 0 {
		return common.Hash{}
	}
	hashes := make([]common.Hash, len(receipts))
	for i, r := range receipts {
		hashes[i] = r.TxHash
	}
	enc, _ := rlp.EncodeToBytes(hashes)
	return crypto.Keccak256Hash(enc)
}

func pickTimestamp(opts BuildOptions, parentTs uint64) uint64 {
	if opts.Timestamp != nil {
		return *opts.Timestamp
	}
	now := uint64(time.Now().Unix())
	if now <= parentTs {
		return parentTs + 1
	}
	return now
}

func pickGasLimit(opts BuildOptions, def uint64) uint64 {
	if opts.GasLimit != 0 {
		return opts.GasLimit
	}
	return def
}

func pickCoinbase(opts BuildOptions, def common.Address) common.Address {
	if opts.Coinbase != (common.Address{}) {
		return opts.Coinbase
	}
	return def
}

// FeeHistory returns up to count entries ending at newest, the
// reward-at-percentile computed from each block's transaction gas
// prices (an approximation: this node has no base-fee-aware priority
// fee accounting, only flat gas prices per tx).
func (b *Builder) FeeHistory(count uint64, newest uint64, percentiles []float64) (baseFees []*uint256.Int, gasUsedRatio []float64, rewards [][]*uint256.Int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if count == 0 {
		return nil, nil, nil
	}
	if count > feeHistoryCap {
		count = feeHistoryCap
	}
	if newest > uint64(len(b.blocks)-1) {
		newest = uint64(len(b.blocks) - 1)
	}
	var start uint64
	if newest+1 > count {
		start = newest + 1 - count
	}
	for n := start; n <= newest; n++ {
		blk := b.byNumber[n]
		if blk == nil {
			continue
		}
		if blk.BaseFee != nil {
			baseFees = append(baseFees, blk.BaseFee.Clone())
		} else {
			baseFees = append(baseFees, uint256.NewInt(0))
		}
		if blk.GasLimit > 0 {
			gasUsedRatio = append(gasUsedRatio, float64(blk.GasUsed)/float64(blk.GasLimit))
		} else {
			gasUsedRatio = append(gasUsedRatio, 0)
		}
		rewards = append(rewards, rewardsAtPercentiles(blk, percentiles))
	}
	return baseFees, gasUsedRatio, rewards
}

func rewardsAtPercentiles(blk *Block, percentiles []float64) []*uint256.Int {
	if len(percentiles) == 0 {
		return nil
	}
	prices := make([]*uint256.Int, len(blk.Transactions))
	for i, t := range blk.Transactions {
		v, _ := uint256.FromBig(t.GasPrice)
		prices[i] = v
	}
	sort.Slice(prices, func(a, c int) bool { return prices[a].Lt(prices[c]) })
	out := make([]*uint256.Int, len(percentiles))
	for i := range percentiles {
		if len(prices) == 0 {
			out[i] = uint256.NewInt(0)
			continue
		}
		idx := int(percentiles[i] / 100 * float64(len(prices)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(prices) {
			idx = len(prices) - 1
		}
		out[i] = prices[idx]
	}
	return out
}
