package signer

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestNewDevSignerDerivesDistinctAccounts(t *testing.T) {
	sg, err := NewDevSigner(DefaultMnemonic, 3)
	require.NoError(t, err)
	accs := sg.Accounts()
	require.Len(t, accs, 3)
	require.NotEqual(t, accs[0], accs[1])
	require.NotEqual(t, accs[1], accs[2])
}

func TestNewDevSignerRejectsInvalidMnemonic(t *testing.T) {
	_, err := NewDevSigner("not a valid mnemonic at all", 1)
	require.Error(t, err)
}

func TestSignLegacyProducesRecoverableSender(t *testing.T) {
	sg, err := NewDevSigner(DefaultMnemonic, 1)
	require.NoError(t, err)
	addr := sg.Accounts()[0]

	req := TxRequest{
		Kind:     KindLegacy,
		ChainID:  uint256.NewInt(31337),
		Nonce:    0,
		GasPrice: uint256.NewInt(1_000_000_000),
		Gas:      21000,
		To:       &common.Address{},
		Value:    uint256.NewInt(0),
	}
	tx, err := sg.Sign(req, addr)
	require.NoError(t, err)

	recovered, err := types.Sender(types.NewEIP155Signer(req.ChainID.ToBig()), tx)
	require.NoError(t, err)
	require.Equal(t, addr, recovered)
}

func TestSignDynamicFeeProducesRecoverableSender(t *testing.T) {
	sg, err := NewDevSigner(DefaultMnemonic, 1)
	require.NoError(t, err)
	addr := sg.Accounts()[0]

	req := TxRequest{
		Kind:      KindDynamicFee,
		ChainID:   uint256.NewInt(31337),
		Nonce:     0,
		GasTipCap: uint256.NewInt(1),
		GasFeeCap: uint256.NewInt(2_000_000_000),
		Gas:       21000,
		To:        &common.Address{},
		Value:     uint256.NewInt(0),
	}
	tx, err := sg.Sign(req, addr)
	require.NoError(t, err)

	recovered, err := types.Sender(types.NewLondonSigner(req.ChainID.ToBig()), tx)
	require.NoError(t, err)
	require.Equal(t, addr, recovered)
}

func TestSignUnknownAddressIsNoSignerAvailable(t *testing.T) {
	sg, err := NewDevSigner(DefaultMnemonic, 1)
	require.NoError(t, err)

	_, err = sg.Sign(TxRequest{Kind: KindLegacy, ChainID: uint256.NewInt(1)}, common.HexToAddress("0xdeadbeef"))
	require.ErrorIs(t, err, ErrNoSignerAvailable)
}
