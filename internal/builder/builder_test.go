package builder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/devnode/devnode/internal/miner"
	"github.com/devnode/devnode/internal/state"
	"github.com/devnode/devnode/internal/txpool"
)

func newTestBuilder(t *testing.T) (*Builder, *state.Backend, *txpool.Pool) {
	t.Helper()
	backend := state.NewBackend()
	pool := txpool.New(backend)
	b := New(backend, pool, NewSimExecutor(), 30_000_000, common.Address{}, 0)
	return b, backend, pool
}

func TestGenesisBlockSeeded(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	head := b.Head()
	require.EqualValues(t, 0, head.Number)
	require.Equal(t, b.ByNumber(0), head)
}

// TestBuildCommitsExactlyOnceS7AtMostOnceMining is property 7: a
// transaction accepted by the pool must end up in exactly one
// committed block.
func TestBuildCommitsExactlyOnceS7AtMostOnceMining(t *testing.T) {
	b, backend, pool := newTestBuilder(t)
	sender := common.HexToAddress("0x1111111111111111111111111111111111aaaa")
	backend.SetBalance(sender, uint256.NewInt(1_000_000_000_000_000_000))

	tx := types.NewTx(&types.LegacyTx{Nonce: 0, GasPrice: big.NewInt(1), Gas: 21000, Value: big.NewInt(0)})
	pt, err := pool.Add(tx, sender)
	require.NoError(t, err)

	blk, err := b.Build(miner.Job{Txs: []*txpool.PoolTransaction{pt}}, BuildOptions{})
	require.NoError(t, err)
	require.NotNil(t, blk)
	require.Len(t, blk.Transactions, 1)
	require.EqualValues(t, 1, blk.Number)

	// Consumed: the pool no longer carries it as ready.
	require.Empty(t, pool.Ready())

	// A second build attempt with an empty batch must not re-include it.
	blk2, err := b.Build(miner.Job{}, BuildOptions{})
	require.NoError(t, err)
	require.Nil(t, blk2)
}

func TestBuildEmptyJobWithoutAllowEmptyIsNoOp(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	blk, err := b.Build(miner.Job{}, BuildOptions{})
	require.NoError(t, err)
	require.Nil(t, blk)
	require.EqualValues(t, 0, b.Head().Number)
}

func TestBuildEmptyJobWithAllowEmptyAdvances(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	blk, err := b.Build(miner.Job{AllowEmpty: true}, BuildOptions{})
	require.NoError(t, err)
	require.NotNil(t, blk)
	require.EqualValues(t, 1, blk.Number)
	require.Empty(t, blk.Transactions)
}

func TestRevertedTxStillGetsReceiptAndDoesNotAbortBlock(t *testing.T) {
	b, _, pool := newTestBuilder(t)
	// Sender has zero balance: simExecutor charges gas, flags reverted,
	// but the block still commits.
	sender := common.HexToAddress("0x2222222222222222222222222222222222bbbb")
	tx := types.NewTx(&types.LegacyTx{Nonce: 0, GasPrice: big.NewInt(1), Gas: 21000, Value: big.NewInt(1000)})
	pt, err := pool.Add(tx, sender)
	require.NoError(t, err)

	blk, err := b.Build(miner.Job{Txs: []*txpool.PoolTransaction{pt}}, BuildOptions{})
	require.NoError(t, err)
	require.NotNil(t, blk)
	require.Len(t, blk.Receipts, 1)
	require.EqualValues(t, 0, blk.Receipts[0].Status)
}

func TestFeeHistoryReturnsRequestedWindow(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	for i := 0; i < 3; i++ {
		_, err := b.Build(miner.Job{AllowEmpty: true}, BuildOptions{})
		require.NoError(t, err)
	}
	baseFees, ratios, _ := b.FeeHistory(2, b.Head().Number, nil)
	require.Len(t, baseFees, 2)
	require.Len(t, ratios, 2)
}
