// Package signer implements the dev-key wallet registry: a fixed set of
// deterministically derived accounts that can sign legacy, EIP-2930 and
// EIP-1559 transaction requests on behalf of eth_sendTransaction.
package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/tyler-smith/go-bip39"
)

// ErrNoSignerAvailable is returned when the requested address has no
// matching wallet in the registry.
var ErrNoSignerAvailable = errors.New("signer: no signer available for address")

// DefaultMnemonic is the well-known development mnemonic new nodes boot
// with absent an explicit one; every account derived from it is meant to
// hold throwaway funds only.
const DefaultMnemonic = "test test test test test test test test test test test junk"

// TxRequest is the typed, signer-agnostic shape of an unsigned
// transaction request, covering legacy, EIP-2930 and EIP-1559 shapes.
type TxRequest struct {
	Kind       Kind
	ChainID    *uint256.Int
	Nonce      uint64
	GasPrice   *uint256.Int // legacy / access-list
	GasTipCap  *uint256.Int // dynamic-fee
	GasFeeCap  *uint256.Int // dynamic-fee
	Gas        uint64
	To         *common.Address
	Value      *uint256.Int
	Data       []byte
	AccessList types.AccessList
}

// Kind discriminates the transaction request shape.
type Kind uint8

const (
	KindLegacy Kind = iota
	KindAccessList
	KindDynamicFee
)

// Signer is the capability the RPC layer consults to sign a transaction
// request on behalf of an unlocked dev account.
type Signer interface {
	Accounts() []common.Address
	Sign(req TxRequest, addr common.Address) (*types.Transaction, error)
}

// DevSigner holds dev-key wallets derived from a mnemonic. It is
// immutable after construction, so reads (Accounts, Sign) take no lock.
type DevSigner struct {
	order    []common.Address
	accounts map[common.Address]*ecdsa.PrivateKey
}

// NewDevSigner derives n accounts from mnemonic using a fixed,
// keccak256-based derivation: account i's private key is
// keccak256(seed || i || salt), with i and salt as 4-byte big-endian
// integers and salt starting at 0. crypto.ToECDSA rejects a digest that
// is not a valid secp256k1 scalar (astronomically unlikely); the next
// salt is then tried, up to 16 salts in all.
func NewDevSigner(mnemonic string, n int) (*DevSigner, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("signer: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	s := &DevSigner{accounts: make(map[common.Address]*ecdsa.PrivateKey, n)}
	for i := 0; i < n; i++ {
		key, err := deriveKey(seed, uint32(i))
		if err != nil {
			return nil, fmt.Errorf("signer: derive account %d: %w", i, err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		s.accounts[addr] = key
		s.order = append(s.order, addr)
		log.Info("derived dev account", "index", i, "address", addr)
	}
	return s, nil
}

func deriveKey(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	for salt := uint32(0); salt < 16; salt++ {
		buf := make([]byte, len(seed)+8)
		copy(buf, seed)
		buf[len(seed)] = byte(index >> 24)
		buf[len(seed)+1] = byte(index >> 16)
		buf[len(seed)+2] = byte(index >> 8)
		buf[len(seed)+3] = byte(index)
		buf[len(seed)+4] = byte(salt >> 24)
		buf[len(seed)+5] = byte(salt >> 16)
		buf[len(seed)+6] = byte(salt >> 8)
		buf[len(seed)+7] = byte(salt)
		digest := crypto.Keccak256(buf)
		key, err := crypto.ToECDSA(digest)
		if err == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("could not derive a valid key for index %d", index)
}

// Accounts returns every address this registry can sign for.
func (s *DevSigner) Accounts() []common.Address {
	out := make([]common.Address, len(s.order))
	copy(out, s.order)
	return out
}

// PrivateKeyHex exposes an account's raw key for the startup banner; real
// deployments would never do this, but a dev node prints its keys by
// design.
func (s *DevSigner) PrivateKeyHex(addr common.Address) (string, bool) {
	key, ok := s.accounts[addr]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("0x%x", crypto.FromECDSA(key)), true
}

// Sign produces a fully signed transaction from an unsigned request,
// choosing the signature scheme (legacy v=27/28-or-chain-id-embedded,
// or the split r/s/odd_y_parity form) to match the request kind.
func (s *DevSigner) Sign(req TxRequest, addr common.Address) (*types.Transaction, error) {
	key, ok := s.accounts[addr]
	if !ok {
		return nil, ErrNoSignerAvailable
	}

	chainID := req.ChainID.ToBig()
	var unsigned *types.Transaction
	switch req.Kind {
	case KindLegacy:
		unsigned = types.NewTx(&types.LegacyTx{
			Nonce:    req.Nonce,
			GasPrice: req.GasPrice.ToBig(),
			Gas:      req.Gas,
			To:       req.To,
			Value:    req.Value.ToBig(),
			Data:     req.Data,
		})
		signed, err := types.SignTx(unsigned, types.NewEIP155Signer(chainID), key)
		return signed, err
	case KindAccessList:
		unsigned = types.NewTx(&types.AccessListTx{
			ChainID:    chainID,
			Nonce:      req.Nonce,
			GasPrice:   req.GasPrice.ToBig(),
			Gas:        req.Gas,
			To:         req.To,
			Value:      req.Value.ToBig(),
			Data:       req.Data,
			AccessList: req.AccessList,
		})
		signed, err := types.SignTx(unsigned, types.NewLondonSigner(chainID), key)
		return signed, err
	case KindDynamicFee:
		unsigned = types.NewTx(&types.DynamicFeeTx{
			ChainID:    chainID,
			Nonce:      req.Nonce,
			GasTipCap:  req.GasTipCap.ToBig(),
			GasFeeCap:  req.GasFeeCap.ToBig(),
			Gas:        req.Gas,
			To:         req.To,
			Value:      req.Value.ToBig(),
			Data:       req.Data,
			AccessList: req.AccessList,
		})
		signed, err := types.SignTx(unsigned, types.NewLondonSigner(chainID), key)
		return signed, err
	default:
		return nil, fmt.Errorf("signer: unknown tx request kind %d", req.Kind)
	}
}
