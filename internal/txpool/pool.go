// Package txpool implements the transaction pool: admission, the
// pending/ready split, and the readiness broadcast the miner and
// pub/sub layer react to.
package txpool

import (
	"errors"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

// Errors returned by Add, mapped by the RPC layer onto JSON-RPC codes.
var (
	ErrNonceTooLow      = errors.New("txpool: nonce too low")
	ErrAlreadyKnown     = errors.New("txpool: already known")
	ErrInvalidSignature = errors.New("txpool: invalid signature")
)

// PoolTransaction is an admitted transaction together with the metadata
// the pool needs for ordering and the miner needs for execution.
type PoolTransaction struct {
	Tx       *types.Transaction
	Sender   common.Address
	Nonce    uint64
	GasPrice *big.Int
	Hash     common.Hash
	seq      uint64 // admission order, used to break price ties
}

// NonceSource answers a sender's current on-chain nonce; satisfied by
// the state backend.
type NonceSource interface {
	NonceOf(addr common.Address) uint64
}

type senderBucket struct {
	mu      sync.Mutex
	pending map[uint64]*PoolTransaction
	ready   map[uint64]*PoolTransaction
}

func newSenderBucket() *senderBucket {
	return &senderBucket{
		pending: make(map[uint64]*PoolTransaction),
		ready:   make(map[uint64]*PoolTransaction),
	}
}

// Pool holds admitted transactions, split into pending (nonce-gapped)
// and ready (nonce-contiguous with the sender's current nonce) sets.
type Pool struct {
	nonces NonceSource

	bucketsMu sync.RWMutex
	buckets   map[common.Address]*senderBucket

	seenMu sync.RWMutex
	seen   map[common.Hash]bool

	seqMu   sync.Mutex
	nextSeq uint64

	readyFeed event.Feed // emits common.Hash of each newly-ready tx
}

// New returns an empty pool reading current nonces from nonces.
func New(nonces NonceSource) *Pool {
	return &Pool{
		nonces:  nonces,
		buckets: make(map[common.Address]*senderBucket),
		seen:    make(map[common.Hash]bool),
	}
}

// SubscribeReady registers ch to receive the hash of every transaction
// that becomes ready, either on direct admission or on promotion.
func (p *Pool) SubscribeReady(ch chan<- common.Hash) event.Subscription {
	return p.readyFeed.Subscribe(ch)
}

func (p *Pool) bucketFor(addr common.Address) *senderBucket {
	p.bucketsMu.Lock()
	defer p.bucketsMu.Unlock()
	b, ok := p.buckets[addr]
	if !ok {
		b = newSenderBucket()
		p.buckets[addr] = b
	}
	return b
}

func (p *Pool) nextSequence() uint64 {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()
	s := p.nextSeq
	p.nextSeq++
	return s
}

// Add admits tx into the pool following the spec's ordering algorithm:
// nonce below the sender's current nonce is rejected, a nonce equal to
// the current nonce lands directly in ready (promoting any now-bridged
// pending transactions), everything else waits in pending. Duplicate
// hashes are a no-op AlreadyKnown.
func (p *Pool) Add(tx *types.Transaction, sender common.Address) (*PoolTransaction, error) {
	hash := tx.Hash()

	p.seenMu.Lock()
	if p.seen[hash] {
		p.seenMu.Unlock()
		return nil, ErrAlreadyKnown
	}
	p.seen[hash] = true
	p.seenMu.Unlock()

	pt := &PoolTransaction{
		Tx:       tx,
		Sender:   sender,
		Nonce:    tx.Nonce(),
		GasPrice: tx.GasPrice(),
		Hash:     hash,
		seq:      p.nextSequence(),
	}

	current := p.nonces.NonceOf(sender)
	if pt.Nonce < current {
		p.seenMu.Lock()
		delete(p.seen, hash)
		p.seenMu.Unlock()
		return nil, ErrNonceTooLow
	}

	bucket := p.bucketFor(sender)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	if pt.Nonce == current {
		bucket.ready[pt.Nonce] = pt
		p.readyFeed.Send(hash)
		log.Debug("tx ready", "hash", hash, "sender", sender, "nonce", pt.Nonce)
		p.promoteLocked(bucket, current)
		return pt, nil
	}

	bucket.pending[pt.Nonce] = pt
	log.Debug("tx pending", "hash", hash, "sender", sender, "nonce", pt.Nonce, "current", current)
	p.promoteLocked(bucket, current)
	return pt, nil
}

// promoteLocked walks the ready frontier forward from current, moving
// any pending tx whose nonce bridges a newly-contiguous range into
// ready. It promotes straight from pending into ready even when ready
// doesn't yet hold current itself (the case right after Consume drops
// the just-mined nonce and the chain's current nonce advances past it).
// Caller must hold bucket.mu.
func (p *Pool) promoteLocked(bucket *senderBucket, current uint64) {
	next := current
	for {
		if _, ok := bucket.ready[next]; ok {
			next++
			continue
		}
		pend, ok := bucket.pending[next]
		if !ok {
			return
		}
		delete(bucket.pending, next)
		bucket.ready[next] = pend
		p.readyFeed.Send(pend.Hash)
		next++
	}
}

// Ready returns the pool's current ready set, ordered per sender nonce
// ascending, senders ordered by descending effective gas price of their
// next ready tx with admission order breaking ties.
func (p *Pool) Ready() []*PoolTransaction {
	p.bucketsMu.RLock()
	addrs := make([]common.Address, 0, len(p.buckets))
	bs := make([]*senderBucket, 0, len(p.buckets))
	for addr, b := range p.buckets {
		addrs = append(addrs, addr)
		bs = append(bs, b)
	}
	p.bucketsMu.RUnlock()

	type run struct {
		txs     []*PoolTransaction
		price   *big.Int
		headSeq uint64
	}
	runs := make([]run, 0, len(bs))
	for _, b := range bs {
		b.mu.Lock()
		if len(b.ready) == 0 {
			b.mu.Unlock()
			continue
		}
		nonces := make([]uint64, 0, len(b.ready))
		for n := range b.ready {
			nonces = append(nonces, n)
		}
		sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
		txs := make([]*PoolTransaction, 0, len(nonces))
		for _, n := range nonces {
			txs = append(txs, b.ready[n])
		}
		b.mu.Unlock()
		runs = append(runs, run{txs: txs, price: txs[0].GasPrice, headSeq: txs[0].seq})
	}

	sort.Slice(runs, func(i, j int) bool {
		c := runs[i].price.Cmp(runs[j].price)
		if c != 0 {
			return c > 0
		}
		return runs[i].headSeq < runs[j].headSeq
	})

	out := make([]*PoolTransaction, 0)
	for _, r := range runs {
		out = append(out, r.txs...)
	}
	return out
}

// Consume removes the given transactions from the ready set once the
// block builder has committed the block containing them, then
// re-checks each affected sender's pending set against its new on-chain
// nonce: a tx that was waiting on the just-mined nonce is promoted to
// ready immediately rather than sitting in pending until its sender's
// next admission. It never runs speculatively: the block builder only
// calls it after a successful commit.
func (p *Pool) Consume(txs []*PoolTransaction) {
	affected := make(map[common.Address]*senderBucket)
	for _, tx := range txs {
		bucket := p.bucketFor(tx.Sender)
		bucket.mu.Lock()
		delete(bucket.ready, tx.Nonce)
		bucket.mu.Unlock()
		affected[tx.Sender] = bucket
	}
	for sender, bucket := range affected {
		current := p.nonces.NonceOf(sender)
		bucket.mu.Lock()
		p.promoteLocked(bucket, current)
		bucket.mu.Unlock()
	}
}

// Drop evicts a transaction from the pool entirely (e.g. on snapshot
// revert invalidating pending state), without marking it consumed.
func (p *Pool) Drop(tx *PoolTransaction) {
	bucket := p.bucketFor(tx.Sender)
	bucket.mu.Lock()
	delete(bucket.ready, tx.Nonce)
	delete(bucket.pending, tx.Nonce)
	bucket.mu.Unlock()

	p.seenMu.Lock()
	delete(p.seen, tx.Hash)
	p.seenMu.Unlock()
}

// Pending reports the pool's pending (nonce-gapped) count for sender.
func (p *Pool) Pending(sender common.Address) int {
	bucket := p.bucketFor(sender)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	return len(bucket.pending)
}
