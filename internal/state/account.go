// Package state implements the node's layered account/storage backend:
// a stack of copy-on-write overlays sitting underneath an EVM-shaped
// Database view, with snapshot/revert and dump/load support.
package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// emptyCodeHash is the hash of the empty byte string, the CodeHash an
// account carries while it has no code.
var emptyCodeHash = crypto.Keccak256Hash(nil)

// Account is the flattened, observable view of an address: the
// projection of every layer that touches it, collapsed to one record.
type Account struct {
	Nonce    uint64
	Balance  *uint256.Int
	CodeHash common.Hash
	Code     []byte
}

// NewEmptyAccount returns the zero account: nonce 0, balance 0, empty code.
func NewEmptyAccount() Account {
	return Account{
		Nonce:    0,
		Balance:  uint256.NewInt(0),
		CodeHash: emptyCodeHash,
	}
}

func (a Account) clone() Account {
	out := a
	if a.Balance != nil {
		out.Balance = a.Balance.Clone()
	} else {
		out.Balance = uint256.NewInt(0)
	}
	if a.Code != nil {
		out.Code = append([]byte(nil), a.Code...)
	}
	return out
}

// accountOverlay records only the fields a layer actually touched for a
// given address; untouched fields fall through to the layer below.
type accountOverlay struct {
	nonceSet   bool
	nonce      uint64
	balanceSet bool
	balance    *uint256.Int
	codeSet    bool
	code       []byte
	codeHash   common.Hash
	storage    map[common.Hash]*uint256.Int
}

func newAccountOverlay() *accountOverlay {
	return &accountOverlay{storage: make(map[common.Hash]*uint256.Int)}
}

func (o *accountOverlay) clone() *accountOverlay {
	n := &accountOverlay{
		nonceSet:   o.nonceSet,
		nonce:      o.nonce,
		balanceSet: o.balanceSet,
		codeSet:    o.codeSet,
		codeHash:   o.codeHash,
		storage:    make(map[common.Hash]*uint256.Int, len(o.storage)),
	}
	if o.balance != nil {
		n.balance = o.balance.Clone()
	}
	if o.code != nil {
		n.code = append([]byte(nil), o.code...)
	}
	for k, v := range o.storage {
		n.storage[k] = v.Clone()
	}
	return n
}
