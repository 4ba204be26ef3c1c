package miner

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/devnode/devnode/internal/txpool"
)

type zeroNonceSource struct{}

func (zeroNonceSource) NonceOf(common.Address) uint64 { return 0 }

func addTx(t *testing.T, p *txpool.Pool, sender common.Address, nonce uint64) {
	t.Helper()
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(1),
		Gas:      21000,
		Value:    big.NewInt(0),
	})
	_, err := p.Add(tx, sender)
	require.NoError(t, err)
}

// TestInstantModeBatchSizesS6 is scenario S6: with max_transactions=2,
// five ready transactions from five distinct senders must drain across
// three polls in batches of sizes {2,2,1}.
func TestInstantModeBatchSizesS6(t *testing.T) {
	pool := txpool.New(zeroNonceSource{})
	m := New(pool)
	m.Start()
	defer m.Stop()
	m.SetMode(InstantMode{Max: 2})

	for i := 0; i < 5; i++ {
		sender := common.BigToAddress(big.NewInt(int64(i + 1)))
		addTx(t, pool, sender, 0)
	}

	// Give the notification-drain goroutine a moment to catch up.
	time.Sleep(20 * time.Millisecond)

	var sizes []int
	for attempts := 0; attempts < 10 && len(sizes) < 3; attempts++ {
		job, ok := m.Poll()
		if ok {
			sizes = append(sizes, len(job.Txs))
			continue
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.Equal(t, []int{2, 2, 1}, sizes)
}

func TestInstantModePollEmptyWhenNothingReady(t *testing.T) {
	pool := txpool.New(zeroNonceSource{})
	m := New(pool)
	m.Start()
	defer m.Stop()

	_, ok := m.Poll()
	require.False(t, ok)
}

func TestIntervalModeTicksOnSchedule(t *testing.T) {
	pool := txpool.New(zeroNonceSource{})
	m := New(pool)
	m.Start()
	defer m.Stop()
	m.SetMode(IntervalMode{D: 10 * time.Millisecond, AllowEmpty: true})

	_, ok := m.Poll()
	require.False(t, ok, "not due yet")

	time.Sleep(15 * time.Millisecond)
	job, ok := m.Poll()
	require.True(t, ok)
	require.Empty(t, job.Txs)
	require.True(t, job.AllowEmpty)
}

// TestModeSwapIsAtomicAndVisibleImmediately confirms SetMode's effect
// is visible to the very next CurrentMode read, which is what Poll
// consults, per spec.md §4.F.
func TestModeSwapIsAtomicAndVisibleImmediately(t *testing.T) {
	pool := txpool.New(zeroNonceSource{})
	m := New(pool)
	m.Start()
	defer m.Stop()

	require.IsType(t, InstantMode{}, m.CurrentMode())
	m.SetMode(IntervalMode{D: time.Hour, AllowEmpty: false})
	require.IsType(t, IntervalMode{}, m.CurrentMode())
}

// TestCancelSafetyPollNeverMutatesPool confirms that Poll alone, with
// no commit, leaves the pool's ready set untouched — the miner only
// marks transactions consumed once the block builder commits.
func TestCancelSafetyPollNeverMutatesPool(t *testing.T) {
	pool := txpool.New(zeroNonceSource{})
	m := New(pool)
	m.Start()
	defer m.Stop()
	m.SetMode(InstantMode{Max: 0})

	sender := common.BigToAddress(big.NewInt(1))
	addTx(t, pool, sender, 0)
	time.Sleep(10 * time.Millisecond)

	job, ok := m.Poll()
	require.True(t, ok)
	require.Len(t, job.Txs, 1)

	// The pool is untouched: the transaction is still in the ready set.
	require.Len(t, pool.Ready(), 1)
}
