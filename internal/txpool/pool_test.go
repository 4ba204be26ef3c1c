package txpool

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type zeroNonceSource struct{}

func (zeroNonceSource) NonceOf(common.Address) uint64 { return 0 }

func legacyTx(nonce uint64, gasPrice int64) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(gasPrice),
		Gas:      21000,
		Value:    big.NewInt(0),
	})
}

// TestPoolReadyOrderingS1 is scenario S1: inserting nonces {2,0,1} for a
// sender whose on-chain nonce is 0 must yield the ready set in strict
// ascending nonce order.
func TestPoolReadyOrderingS1(t *testing.T) {
	p := New(zeroNonceSource{})
	sender := common.HexToAddress("0xaaaa000000000000000000000000000000aaaa")

	_, err := p.Add(legacyTx(2, 1), sender)
	require.NoError(t, err)
	_, err = p.Add(legacyTx(0, 1), sender)
	require.NoError(t, err)
	_, err = p.Add(legacyTx(1, 1), sender)
	require.NoError(t, err)

	ready := p.Ready()
	require.Len(t, ready, 3)
	require.EqualValues(t, 0, ready[0].Nonce)
	require.EqualValues(t, 1, ready[1].Nonce)
	require.EqualValues(t, 2, ready[2].Nonce)
}

// TestPoolDuplicateHashAlreadyKnownS5 is scenario S5: resubmitting the
// identical raw transaction must be rejected and must never appear
// twice in the ready set.
func TestPoolDuplicateHashAlreadyKnownS5(t *testing.T) {
	p := New(zeroNonceSource{})
	sender := common.HexToAddress("0xbbbb000000000000000000000000000000bbbb")
	tx := legacyTx(0, 1)

	_, err := p.Add(tx, sender)
	require.NoError(t, err)

	_, err = p.Add(tx, sender)
	require.ErrorIs(t, err, ErrAlreadyKnown)

	require.Len(t, p.Ready(), 1)
}

func TestPoolNonceTooLowRejected(t *testing.T) {
	p := New(nonceAt(5))
	sender := common.HexToAddress("0xcccc000000000000000000000000000000cccc")

	_, err := p.Add(legacyTx(4, 1), sender)
	require.ErrorIs(t, err, ErrNonceTooLow)
	require.Empty(t, p.Ready())
}

func TestPoolNonceGapStaysPending(t *testing.T) {
	p := New(zeroNonceSource{})
	sender := common.HexToAddress("0xdddd000000000000000000000000000000dddd")

	_, err := p.Add(legacyTx(1, 1), sender)
	require.NoError(t, err)

	require.Empty(t, p.Ready())
	require.Equal(t, 1, p.Pending(sender))
}

// TestPoolReadyOrderingAcrossSendersByGasPrice is property 4 extended
// across senders: within the ready set, runs are ordered by descending
// effective gas price, each sender's own run staying nonce-ascending.
func TestPoolReadyOrderingAcrossSendersByGasPrice(t *testing.T) {
	p := New(zeroNonceSource{})
	cheap := common.HexToAddress("0x1111111111111111111111111111111111aaaa")
	pricey := common.HexToAddress("0x2222222222222222222222222222222222bbbb")

	_, err := p.Add(legacyTx(0, 1), cheap)
	require.NoError(t, err)
	_, err = p.Add(legacyTx(0, 100), pricey)
	require.NoError(t, err)
	_, err = p.Add(legacyTx(1, 100), pricey)
	require.NoError(t, err)

	ready := p.Ready()
	require.Len(t, ready, 3)
	require.Equal(t, pricey, ready[0].Sender)
	require.Equal(t, pricey, ready[1].Sender)
	require.Equal(t, cheap, ready[2].Sender)
	require.EqualValues(t, 0, ready[0].Nonce)
	require.EqualValues(t, 1, ready[1].Nonce)
}

func TestPoolConsumeRemovesFromReady(t *testing.T) {
	p := New(zeroNonceSource{})
	sender := common.HexToAddress("0xeeee000000000000000000000000000000eeee")

	pt, err := p.Add(legacyTx(0, 1), sender)
	require.NoError(t, err)
	require.Len(t, p.Ready(), 1)

	p.Consume([]*PoolTransaction{pt})
	require.Empty(t, p.Ready())
}

// TestPoolReadyNotificationBroadcast confirms Add emits the newly
// ready transaction's hash on the readiness feed the miner subscribes
// to.
func TestPoolReadyNotificationBroadcast(t *testing.T) {
	p := New(zeroNonceSource{})
	sender := common.HexToAddress("0xffff000000000000000000000000000000ffff")

	ch := make(chan common.Hash, 4)
	sub := p.SubscribeReady(ch)
	defer sub.Unsubscribe()

	tx := legacyTx(0, 1)
	pt, err := p.Add(tx, sender)
	require.NoError(t, err)

	select {
	case h := <-ch:
		require.Equal(t, pt.Hash, h)
	default:
		t.Fatal("expected a readiness notification")
	}
}

type fixedNonceSource uint64

func (f fixedNonceSource) NonceOf(common.Address) uint64 { return uint64(f) }

func nonceAt(n uint64) NonceSource { return fixedNonceSource(n) }
