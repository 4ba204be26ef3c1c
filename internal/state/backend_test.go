package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestBasicOnFreshStateIsZeroAccount(t *testing.T) {
	b := NewBackend()
	addr := common.HexToAddress("0x295a70b2de5e3953354a6a8344e616ed314d7251")
	acc := b.Basic(addr)
	require.Zero(t, acc.Nonce)
	require.True(t, acc.Balance.IsZero())
	require.Equal(t, emptyCodeHash, acc.CodeHash)
}

// TestStorageAtFreshStateS2 is scenario S2: a storage slot on a fresh
// state reads back as the 32-byte zero value.
func TestStorageAtFreshStateS2(t *testing.T) {
	b := NewBackend()
	addr := common.HexToAddress("0x295a70b2de5e3953354a6a8344e616ed314d7251")
	v := b.StorageAt(addr, common.Hash{})
	require.True(t, v.IsZero())
}

// TestSnapshotRevertS3 is scenario S3: snapshot, mutate, revert must
// restore the pre-mutation balance exactly.
func TestSnapshotRevertS3(t *testing.T) {
	b := NewBackend()
	addr := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	snap := b.Snapshot()
	b.SetBalance(addr, uint256.NewInt(1000))
	require.EqualValues(t, 1000, b.Basic(addr).Balance.Uint64())

	ok := b.Revert(snap)
	require.True(t, ok)
	require.True(t, b.Basic(addr).Balance.IsZero())
}

// TestSnapshotRevertInvalidatesLaterSnapshots is property 5 extended:
// reverting to snapshot s must invalidate every snapshot taken at or
// after s, while snapshots below s remain valid.
func TestSnapshotRevertInvalidatesLaterSnapshots(t *testing.T) {
	b := NewBackend()
	addr := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	outer := b.Snapshot()
	b.SetBalance(addr, uint256.NewInt(1))
	inner := b.Snapshot()
	b.SetBalance(addr, uint256.NewInt(2))

	require.True(t, b.Revert(outer))
	require.True(t, b.Basic(addr).Balance.IsZero())

	// inner was created after outer and must now be gone.
	require.False(t, b.Revert(inner))
}

func TestRevertUnknownSnapshotFails(t *testing.T) {
	b := NewBackend()
	require.False(t, b.Revert(9999))
}

// TestDumpLoadRoundTrip is property 6: load(dump()) must be the
// identity on observable base-layer state.
func TestDumpLoadRoundTrip(t *testing.T) {
	b := NewBackend()
	addr := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	slot := common.HexToHash("0x01")

	b.SetBalance(addr, uint256.NewInt(500))
	b.SetNonce(addr, 7)
	b.SetCode(addr, []byte{0x60, 0x00})
	b.SetStorageAt(addr, slot, uint256.NewInt(42))

	dump, err := b.DumpState()
	require.NoError(t, err)

	b2 := NewBackend()
	require.NoError(t, b2.LoadState(dump))

	acc := b2.Basic(addr)
	require.EqualValues(t, 7, acc.Nonce)
	require.EqualValues(t, 500, acc.Balance.Uint64())
	require.Equal(t, []byte{0x60, 0x00}, acc.Code)
	require.EqualValues(t, 42, b2.StorageAt(addr, slot).Uint64())
}

func TestLoadStateResetsSnapshotStack(t *testing.T) {
	b := NewBackend()
	addr := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
	b.SetBalance(addr, uint256.NewInt(10))
	snap := b.Snapshot()
	b.SetBalance(addr, uint256.NewInt(20))

	dump, err := b.DumpState()
	require.NoError(t, err)
	require.NoError(t, b.LoadState(dump))

	// The snapshot taken before load must no longer be valid.
	require.False(t, b.Revert(snap))
}

func TestCommitAppliesChangeSet(t *testing.T) {
	b := NewBackend()
	addr := common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	slot := common.HexToHash("0x02")

	b.Commit(ChangeSet{
		Accounts: map[common.Address]Account{
			addr: {Nonce: 3, Balance: uint256.NewInt(77)},
		},
		Storage: map[common.Address]map[common.Hash]*uint256.Int{
			addr: {slot: uint256.NewInt(9)},
		},
	})

	acc := b.Basic(addr)
	require.EqualValues(t, 3, acc.Nonce)
	require.EqualValues(t, 77, acc.Balance.Uint64())
	require.EqualValues(t, 9, b.StorageAt(addr, slot).Uint64())
}

func TestBlockHashRecentWindow(t *testing.T) {
	b := NewBackend()
	h := common.HexToHash("0xbeef")
	b.RecordBlockHash(1, h)
	require.Equal(t, h, b.BlockHash(1))
	require.Equal(t, common.Hash{}, b.BlockHash(2))
}
