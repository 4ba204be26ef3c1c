// Package miner implements the cooperative poller that turns the
// transaction pool's ready set into block-ready batches, under either
// an instant or a fixed-interval mining policy.
package miner

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	mapset "github.com/deckarep/golang-set"

	"github.com/devnode/devnode/internal/txpool"
)

// Mode is the tagged union of mining policies. Swapping the active mode
// is atomic and visible to the very next poll.
type Mode interface {
	isMode()
}

// InstantMode drains up to Max ready transactions as soon as any
// notification has arrived since the last drain. Max <= 0 means
// unbounded (drain the whole ready set).
type InstantMode struct {
	Max int
}

func (InstantMode) isMode() {}

// IntervalMode yields the entire ready set on every tick of D,
// including when empty; AllowEmpty tells the block builder whether an
// empty tick should actually produce a block (the source's reference
// miner drains unconditionally on every tick — see SPEC_FULL.md's open
// question on this; this node makes it configurable instead).
type IntervalMode struct {
	D          time.Duration
	AllowEmpty bool
}

func (IntervalMode) isMode() {}

// Job is one candidate batch for the block builder.
type Job struct {
	Txs        []*txpool.PoolTransaction
	AllowEmpty bool
}

const basePollInterval = 25 * time.Millisecond

// Miner is cancel-safe: it only ever reads the pool's ready list. No
// transaction is marked consumed until the block builder commits, so
// aborting a poll or the whole miner task at any point leaves pool state
// unchanged.
type Miner struct {
	pool *txpool.Pool

	modeVal atomic.Value // Mode

	mu           sync.Mutex
	notified     mapset.Set // common.Hash of ready txs not yet drained
	lastInterval time.Time

	notifyCh chan common.Hash
	sub      event.Subscription
	stopCh   chan struct{}
}

// New returns a Miner in InstantMode with Max=1, matching the common
// "mine one block per transaction" dev-node default.
func New(pool *txpool.Pool) *Miner {
	m := &Miner{
		pool:         pool,
		notified:     mapset.NewSet(),
		notifyCh:     make(chan common.Hash, 4096),
		stopCh:       make(chan struct{}),
		lastInterval: time.Now(),
	}
	m.modeVal.Store(Mode(InstantMode{Max: 1}))
	m.sub = pool.SubscribeReady(m.notifyCh)
	return m
}

// SetMode atomically replaces the active mining policy.
func (m *Miner) SetMode(mode Mode) {
	m.modeVal.Store(mode)
}

// CurrentMode returns the active mining policy.
func (m *Miner) CurrentMode() Mode {
	return m.modeVal.Load().(Mode)
}

// Start launches the background goroutine that accumulates readiness
// notifications; it does not itself drive block production — call Poll
// (directly, or via Run) from an outer scheduler for that.
func (m *Miner) Start() {
	go m.drainNotifications()
}

// Stop releases the pool subscription and background goroutine.
func (m *Miner) Stop() {
	close(m.stopCh)
	m.sub.Unsubscribe()
}

func (m *Miner) drainNotifications() {
	for {
		select {
		case h := <-m.notifyCh:
			m.mu.Lock()
			m.notified.Add(h)
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}

// Poll performs one policy check and reports whether a build should be
// attempted. It never mutates the pool; the caller (the block builder)
// marks transactions consumed only once its commit succeeds.
func (m *Miner) Poll() (Job, bool) {
	switch mode := m.CurrentMode().(type) {
	case InstantMode:
		m.mu.Lock()
		empty := m.notified.Cardinality() == 0
		m.mu.Unlock()
		if empty {
			return Job{}, false
		}
		ready := m.pool.Ready()
		due := make([]*txpool.PoolTransaction, 0, len(ready))
		m.mu.Lock()
		for _, tx := range ready {
			if m.notified.Contains(tx.Hash) {
				due = append(due, tx)
			}
		}
		m.mu.Unlock()
		if len(due) == 0 {
			return Job{}, false
		}
		max := mode.Max
		if max <= 0 || max > len(due) {
			max = len(due)
		}
		batch := due[:max]
		m.mu.Lock()
		for _, tx := range batch {
			m.notified.Remove(tx.Hash)
		}
		m.mu.Unlock()
		return Job{Txs: batch}, true

	case IntervalMode:
		m.mu.Lock()
		due := time.Since(m.lastInterval) >= mode.D
		if due {
			m.lastInterval = time.Now()
		}
		m.mu.Unlock()
		if !due {
			return Job{}, false
		}
		return Job{Txs: m.pool.Ready(), AllowEmpty: mode.AllowEmpty}, true

	default:
		return Job{}, false
	}
}

// Run drives Poll on a fixed cadence until stop is closed, invoking
// onJob for every triggered job. Run itself never touches pool state
// beyond what Poll already does, so closing stop at any point is safe.
func (m *Miner) Run(stop <-chan struct{}, onJob func(Job)) {
	ticker := time.NewTicker(basePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if job, ok := m.Poll(); ok {
				onJob(job)
			}
		}
	}
}
