package builder

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/devnode/devnode/internal/state"
)

// ErrExecutionAborted signals an infrastructure-level failure (as
// opposed to a transaction revert): the caller must roll the whole
// batch back to the pre-batch snapshot.
var ErrExecutionAborted = errors.New("builder: execution aborted")

// BlockContext is the read-only environment a transaction executes
// against.
type BlockContext struct {
	Number    uint64
	Timestamp uint64
	Coinbase  common.Address
	GasLimit  uint64
	BaseFee   *uint256.Int
}

// ExecResult is one transaction's execution outcome.
type ExecResult struct {
	GasUsed         uint64
	Reverted        bool
	ContractAddress *common.Address
	Logs            []*types.Log
}

// Executor is the EVM capability this node's block builder drives; the
// interpreter itself is out of scope (spec.md §1) — Execute is the only
// seam a real bytecode VM would plug into.
type Executor interface {
	Execute(db state.Database, ctx BlockContext, tx *types.Transaction, sender common.Address) (ExecResult, error)
}

const intrinsicGas = 21000

// simExecutor is a deterministic stand-in: it performs the value
// transfer and a flat intrinsic-gas charge, enough to exercise pool
// ordering, block building, receipts and subscriptions end-to-end
// without a bytecode interpreter.
type simExecutor struct{}

// NewSimExecutor returns the stand-in Executor used when no bytecode
// interpreter is wired in.
func NewSimExecutor() Executor {
	return simExecutor{}
}

func (simExecutor) Execute(db state.Database, ctx BlockContext, tx *types.Transaction, sender common.Address) (ExecResult, error) {
	senderAcc := db.Basic(sender)
	gasPrice, overflow := uint256.FromBig(tx.GasPrice())
	if overflow {
		return ExecResult{}, ErrExecutionAborted
	}
	gasCost := new(uint256.Int).Mul(gasPrice, uint256.NewInt(intrinsicGas))

	value, overflow := uint256.FromBig(tx.Value())
	if overflow {
		return ExecResult{}, ErrExecutionAborted
	}
	total := new(uint256.Int).Add(gasCost, value)

	db.SetNonce(sender, senderAcc.Nonce+1)

	if senderAcc.Balance.Cmp(total) < 0 {
		// Charge gas regardless (mirrors real fee semantics: gas is
		// spent even on revert); value is never moved.
		if senderAcc.Balance.Cmp(gasCost) >= 0 {
			db.SetBalance(sender, new(uint256.Int).Sub(senderAcc.Balance, gasCost))
		} else {
			db.SetBalance(sender, uint256.NewInt(0))
		}
		return ExecResult{GasUsed: intrinsicGas, Reverted: true}, nil
	}

	db.SetBalance(sender, new(uint256.Int).Sub(senderAcc.Balance, total))

	if to := tx.To(); to != nil {
		recipient := db.Basic(*to)
		db.SetBalance(*to, new(uint256.Int).Add(recipient.Balance, value))
		if len(tx.Data()) > 0 {
			db.SetCode(*to, tx.Data())
		}
		return ExecResult{GasUsed: intrinsicGas}, nil
	}

	// Contract creation: deterministically "deploy" the call data as
	// code at a CREATE-style address, charging the same flat gas.
	contractAddr := crypto.CreateAddress(sender, senderAcc.Nonce)
	if len(tx.Data()) > 0 {
		db.SetCode(contractAddr, tx.Data())
	}
	return ExecResult{GasUsed: intrinsicGas, ContractAddress: &contractAddr}, nil
}
