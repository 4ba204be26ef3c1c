package rpc

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/devnode/devnode/internal/builder"
	"github.com/devnode/devnode/internal/state"
	"github.com/devnode/devnode/internal/txpool"
)

func encodeAccount(acc state.Account) map[string]interface{} {
	return map[string]interface{}{
		"nonce":   EncodeQuantity(acc.Nonce),
		"balance": EncodeU256(acc.Balance),
	}
}

func encodeLog(lg *types.Log) map[string]interface{} {
	topics := make([]string, len(lg.Topics))
	for i, t := range lg.Topics {
		topics[i] = t.Hex()
	}
	return map[string]interface{}{
		"address":          lg.Address.Hex(),
		"topics":           topics,
		"data":             "0x" + common.Bytes2Hex(lg.Data),
		"blockNumber":      EncodeQuantity(lg.BlockNumber),
		"transactionHash":  lg.TxHash.Hex(),
		"transactionIndex": EncodeQuantity(uint64(lg.TxIndex)),
		"blockHash":        lg.BlockHash.Hex(),
		"logIndex":         EncodeQuantity(uint64(lg.Index)),
		"removed":          lg.Removed,
	}
}

func encodeTx(pt *txpool.PoolTransaction, blk *builder.Block, index int) map[string]interface{} {
	tx := pt.Tx
	out := map[string]interface{}{
		"hash":     pt.Hash.Hex(),
		"nonce":    EncodeQuantity(pt.Nonce),
		"from":     pt.Sender.Hex(),
		"value":    "0x" + tx.Value().Text(16),
		"gas":      EncodeQuantity(tx.Gas()),
		"gasPrice": "0x" + tx.GasPrice().Text(16),
		"input":    "0x" + common.Bytes2Hex(tx.Data()),
		"type":     EncodeQuantity(uint64(tx.Type())),
	}
	if tx.To() != nil {
		out["to"] = tx.To().Hex()
	} else {
		out["to"] = nil
	}
	v, r, s := tx.RawSignatureValues()
	if v != nil {
		out["v"] = "0x" + v.Text(16)
	}
	if r != nil {
		out["r"] = "0x" + r.Text(16)
	}
	if s != nil {
		out["s"] = "0x" + s.Text(16)
	}
	if blk != nil {
		out["blockHash"] = blk.Hash.Hex()
		out["blockNumber"] = EncodeQuantity(blk.Number)
		out["transactionIndex"] = EncodeQuantity(uint64(index))
	} else {
		out["blockHash"] = nil
		out["blockNumber"] = nil
		out["transactionIndex"] = nil
	}
	return out
}

func encodeReceipt(rc *builder.Receipt) map[string]interface{} {
	logs := make([]map[string]interface{}, len(rc.Logs))
	for i, lg := range rc.Logs {
		logs[i] = encodeLog(lg)
	}
	out := map[string]interface{}{
		"transactionHash":   rc.TxHash.Hex(),
		"transactionIndex":  EncodeQuantity(uint64(rc.TransactionIndex)),
		"blockHash":         rc.BlockHash.Hex(),
		"blockNumber":       EncodeQuantity(rc.BlockNumber),
		"cumulativeGasUsed": EncodeQuantity(rc.CumulativeGas),
		"gasUsed":           EncodeQuantity(rc.GasUsed),
		"status":            EncodeQuantity(rc.Status),
		"logs":              logs,
		"logsBloom":         "0x" + common.Bytes2Hex(make([]byte, 256)),
	}
	if rc.ContractAddress != nil {
		out["contractAddress"] = rc.ContractAddress.Hex()
	} else {
		out["contractAddress"] = nil
	}
	return out
}

func encodeBlock(blk *builder.Block, fullTx bool) map[string]interface{} {
	txs := make([]interface{}, len(blk.Transactions))
	for i, t := range blk.Transactions {
		if fullTx {
			txs[i] = encodeTx(t, blk, i)
		} else {
			txs[i] = t.Hash.Hex()
		}
	}
	out := map[string]interface{}{
		"number":           EncodeQuantity(blk.Number),
		"hash":             blk.Hash.Hex(),
		"parentHash":       blk.ParentHash.Hex(),
		"timestamp":        EncodeQuantity(blk.Timestamp),
		"gasUsed":          EncodeQuantity(blk.GasUsed),
		"gasLimit":         EncodeQuantity(blk.GasLimit),
		"miner":            blk.Coinbase.Hex(),
		"stateRoot":        blk.StateRoot.Hex(),
		"transactionsRoot": blk.TxRoot.Hex(),
		"receiptsRoot":     blk.ReceiptsRoot.Hex(),
		"transactions":     txs,
		"uncles":           []string{},
		"size":             EncodeQuantity(0),
		"extraData":        "0x",
		"logsBloom":        "0x" + common.Bytes2Hex(make([]byte, 256)),
	}
	if blk.BaseFee != nil {
		out["baseFeePerGas"] = EncodeU256(blk.BaseFee)
	}
	return out
}
