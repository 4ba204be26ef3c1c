package builder

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/devnode/devnode/internal/txpool"
)

// Receipt is the per-transaction execution record. A reverted tx still
// gets a receipt (Status 0); it never aborts the containing block.
type Receipt struct {
	TxHash           common.Hash
	TransactionIndex int
	BlockNumber      uint64
	BlockHash        common.Hash
	Status           uint64
	GasUsed          uint64
	CumulativeGas    uint64
	ContractAddress  *common.Address
	Logs             []*types.Log
}

// Block is one committed block: header fields plus its transactions and
// their receipts.
type Block struct {
	Number       uint64
	ParentHash   common.Hash
	Hash         common.Hash
	Timestamp    uint64
	BaseFee      *uint256.Int // nil pre-London
	GasUsed      uint64
	GasLimit     uint64
	Coinbase     common.Address
	StateRoot    common.Hash
	TxRoot       common.Hash
	ReceiptsRoot common.Hash
	Transactions []*txpool.PoolTransaction
	Receipts     []*Receipt
}

// BuildOptions carries the caller-supplied knobs for evm_mine-style
// explicit block construction.
type BuildOptions struct {
	Timestamp *uint64
	Coinbase  common.Address
	GasLimit  uint64
	BaseFee   *uint256.Int
}
