package rpc

import (
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	mapset "github.com/deckarep/golang-set"

	"github.com/devnode/devnode/internal/builder"
	"github.com/devnode/devnode/internal/pubsub"
	"github.com/devnode/devnode/internal/signer"
	"github.com/devnode/devnode/internal/txpool"
)

// defaultGasPrice is what eth_gasPrice and an omitted gasPrice field
// fall back to; this node has no fee market, just a flat suggestion.
var defaultGasPrice = uint256.NewInt(1_000_000_000) // 1 gwei

const defaultGasLimit = 30_000_000

// RegisterEthHandlers binds every eth_ method this node serves.
func RegisterEthHandlers(d *Dispatcher, svc *Services) {
	d.Register("eth_chainId", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		return EncodeU256(svc.ChainID), nil
	})
	d.Register("net_version", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		return svc.ChainID.ToBig().String(), nil
	})
	d.Register("eth_blockNumber", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		return EncodeQuantity(svc.Builder.Head().Number), nil
	})
	d.Register("eth_gasPrice", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		return EncodeU256(defaultGasPrice), nil
	})
	d.Register("eth_accounts", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		accs := svc.Signer.Accounts()
		out := make([]string, len(accs))
		for i, a := range accs {
			out[i] = a.Hex()
		}
		return out, nil
	})

	d.Register("eth_getBalance", handleGetBalance(svc))
	d.Register("eth_getTransactionCount", handleGetTransactionCount(svc))
	d.Register("eth_getCode", handleGetCode(svc))
	d.Register("eth_getStorageAt", handleGetStorageAt(svc))

	d.Register("eth_getBlockByNumber", handleGetBlockByNumber(svc))
	d.Register("eth_getBlockByHash", handleGetBlockByHash(svc))
	d.Register("eth_getBlockTransactionCountByNumber", handleBlockTxCountByNumber(svc))
	d.Register("eth_getBlockTransactionCountByHash", handleBlockTxCountByHash(svc))
	d.Register("eth_getUncleCountByBlockNumber", handleZeroUncles(svc, true))
	d.Register("eth_getUncleCountByBlockHash", handleZeroUncles(svc, false))

	d.Register("eth_getTransactionByHash", handleGetTxByHash(svc))
	d.Register("eth_getTransactionByBlockNumberAndIndex", handleTxByBlockAndIndex(svc, true))
	d.Register("eth_getTransactionByBlockHashAndIndex", handleTxByBlockAndIndex(svc, false))
	d.Register("eth_getTransactionReceipt", handleGetTransactionReceipt(svc))

	d.Register("eth_sendTransaction", handleSendTransaction(svc))
	d.Register("eth_sendRawTransaction", handleSendRawTransaction(svc))
	d.Register("eth_call", handleCall(svc))
	d.Register("eth_estimateGas", handleEstimateGas(svc))

	d.Register("eth_getLogs", handleGetLogs(svc))
	d.Register("eth_feeHistory", handleFeeHistory(svc))

	d.Register("eth_subscribe", handleSubscribe(svc))
	d.Register("eth_unsubscribe", handleUnsubscribe(svc))

	// Proof-of-work artifacts from the wire protocol this node never
	// actually mines with; kept so clients that probe for them
	// (miner status checkers) get a well-formed answer instead of
	// "method not found".
	d.Register("eth_getWork", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		return []string{EncodeHash32(common.Hash{}), EncodeHash32(common.Hash{}), EncodeHash32(common.Hash{})}, nil
	})
	d.Register("eth_submitWork", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		return false, nil
	})
	d.Register("eth_submitHashrate", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		return true, nil
	})
	d.Register("eth_mining", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		return svc.AutoMine(), nil
	})
	d.Register("eth_hashrate", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		return EncodeQuantity(0), nil
	})
}

func handleGetBalance(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing address")
		}
		addr, err := decodeAddress(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return EncodeU256(svc.Backend.Basic(addr).Balance), nil
	}
}

func handleGetTransactionCount(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing address")
		}
		addr, err := decodeAddress(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		tag, err := decodeOptionalBlockTag(p, 1, "latest")
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		if tag.IsTag && tag.Tag == "pending" {
			return EncodeQuantity(svc.pendingNonce(addr)), nil
		}
		return EncodeQuantity(svc.Backend.Basic(addr).Nonce), nil
	}
}

func handleGetCode(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing address")
		}
		addr, err := decodeAddress(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		code := svc.Backend.Basic(addr).Code
		return "0x" + common.Bytes2Hex(code), nil
	}
}

func handleGetStorageAt(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		addrRaw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing address")
		}
		addr, err := decodeAddress(addrRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		slotRaw, ok := paramAt(p, 1)
		if !ok {
			return nil, ErrInvalidParams("missing slot")
		}
		slot, err := decodeHash(slotRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return EncodeHash32(common.BigToHash(svc.Backend.StorageAt(addr, slot).ToBig())), nil
	}
}

func handleGetBlockByNumber(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		tagRaw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing block number")
		}
		tag, err := decodeBlockTag(tagRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		fullTx, _ := decodeBool(mustParam(p, 1))
		blk := svc.resolveBlock(tag)
		if blk == nil {
			return nil, nil
		}
		return encodeBlock(blk, fullTx), nil
	}
}

func handleGetBlockByHash(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing block hash")
		}
		h, err := decodeHash(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		fullTx, _ := decodeBool(mustParam(p, 1))
		blk := svc.Builder.ByHash(h)
		if blk == nil {
			return nil, nil
		}
		return encodeBlock(blk, fullTx), nil
	}
}

func handleBlockTxCountByNumber(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		tagRaw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing block number")
		}
		tag, err := decodeBlockTag(tagRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		blk := svc.resolveBlock(tag)
		if blk == nil {
			return nil, nil
		}
		return EncodeQuantity(uint64(len(blk.Transactions))), nil
	}
}

func handleBlockTxCountByHash(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing block hash")
		}
		h, err := decodeHash(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		blk := svc.Builder.ByHash(h)
		if blk == nil {
			return nil, nil
		}
		return EncodeQuantity(uint64(len(blk.Transactions))), nil
	}
}

// handleZeroUncles answers the uncle-count methods: this node never
// forks, so every block has zero uncles.
func handleZeroUncles(svc *Services, byNumber bool) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		return EncodeQuantity(0), nil
	}
}

func handleGetTxByHash(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing transaction hash")
		}
		h, err := decodeHash(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		ptx, blk, idx, _ := svc.findTx(h)
		if ptx == nil {
			return nil, nil
		}
		return encodeTx(ptx, blk, idx), nil
	}
}

func handleTxByBlockAndIndex(svc *Services, byNumber bool) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		var blk *builder.Block
		if byNumber {
			tagRaw, ok := paramAt(p, 0)
			if !ok {
				return nil, ErrInvalidParams("missing block number")
			}
			tag, err := decodeBlockTag(tagRaw)
			if err != nil {
				return nil, ErrInvalidParams(err.Error())
			}
			blk = svc.resolveBlock(tag)
		} else {
			hRaw, ok := paramAt(p, 0)
			if !ok {
				return nil, ErrInvalidParams("missing block hash")
			}
			h, err := decodeHash(hRaw)
			if err != nil {
				return nil, ErrInvalidParams(err.Error())
			}
			blk = svc.Builder.ByHash(h)
		}
		if blk == nil {
			return nil, nil
		}
		idxRaw, ok := paramAt(p, 1)
		if !ok {
			return nil, ErrInvalidParams("missing index")
		}
		idx, err := decodeIndex(idxRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		if int(idx) >= len(blk.Transactions) {
			return nil, nil
		}
		return encodeTx(blk.Transactions[idx], blk, int(idx)), nil
	}
}

func handleGetTransactionReceipt(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing transaction hash")
		}
		h, err := decodeHash(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		_, blk, idx, pending := svc.findTx(h)
		if blk == nil || pending {
			return nil, nil
		}
		return encodeReceipt(blk.Receipts[idx]), nil
	}
}

// callArgs is the eth_call / eth_sendTransaction / eth_estimateGas
// transaction-like object.
type callArgs struct {
	From     *common.Address
	To       *common.Address
	Gas      uint64
	GasPrice *uint256.Int
	Value    *uint256.Int
	Data     []byte
	Nonce    *uint64
}

func decodeCallArgs(raw json.RawMessage) (callArgs, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return callArgs{}, errors.New("expected a transaction object")
	}
	var out callArgs
	if v, ok := obj["from"]; ok {
		a, err := decodeAddress(v)
		if err != nil {
			return callArgs{}, err
		}
		out.From = &a
	}
	if v, ok := obj["to"]; ok && string(v) != "null" {
		a, err := decodeAddress(v)
		if err != nil {
			return callArgs{}, err
		}
		out.To = &a
	}
	if v, ok := obj["gas"]; ok {
		g, err := decodeQuantity(v)
		if err != nil {
			return callArgs{}, err
		}
		out.Gas = g
	} else {
		out.Gas = defaultGasLimit
	}
	if v, ok := obj["gasPrice"]; ok {
		g, err := decodeU256(v)
		if err != nil {
			return callArgs{}, err
		}
		out.GasPrice = g
	} else {
		out.GasPrice = defaultGasPrice.Clone()
	}
	if v, ok := obj["value"]; ok {
		val, err := decodeU256(v)
		if err != nil {
			return callArgs{}, err
		}
		out.Value = val
	} else {
		out.Value = uint256.NewInt(0)
	}
	for _, key := range []string{"data", "input"} {
		if v, ok := obj[key]; ok {
			b, err := decodeBytes(v)
			if err != nil {
				return callArgs{}, err
			}
			out.Data = b
		}
	}
	if v, ok := obj["nonce"]; ok {
		n, err := decodeQuantity(v)
		if err != nil {
			return callArgs{}, err
		}
		out.Nonce = &n
	}
	return out, nil
}

func handleSendTransaction(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing transaction object")
		}
		args, err := decodeCallArgs(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		if args.From == nil {
			return nil, ErrInvalidParams("missing from address")
		}
		from := *args.From

		nonce := svc.pendingNonce(from)
		if args.Nonce != nil {
			nonce = *args.Nonce
		}

		req := signer.TxRequest{
			Kind:     signer.KindLegacy,
			ChainID:  svc.ChainID,
			Nonce:    nonce,
			GasPrice: args.GasPrice,
			Gas:      args.Gas,
			To:       args.To,
			Value:    args.Value,
			Data:     args.Data,
		}

		var tx *types.Transaction
		if svc.IsImpersonated(from) {
			tx = types.NewTx(&types.LegacyTx{
				Nonce:    req.Nonce,
				GasPrice: req.GasPrice.ToBig(),
				Gas:      req.Gas,
				To:       req.To,
				Value:    req.Value.ToBig(),
				Data:     req.Data,
			})
		} else {
			tx, err = svc.Signer.Sign(req, from)
			if err != nil {
				if errors.Is(err, signer.ErrNoSignerAvailable) {
					return nil, ErrNoSignerAvailable()
				}
				return nil, ErrInvalidParams(err.Error())
			}
		}

		return admitTx(svc, tx, from)
	}
}

func handleSendRawTransaction(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing raw transaction")
		}
		data, err := decodeBytes(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(data); err != nil {
			return nil, ErrInvalidParams("malformed transaction: " + err.Error())
		}
		sender, err := types.Sender(types.LatestSignerForChainID(svc.ChainID.ToBig()), tx)
		if err != nil {
			return nil, ErrInvalidSignature()
		}
		return admitTx(svc, tx, sender)
	}
}

func admitTx(svc *Services, tx *types.Transaction, sender common.Address) (interface{}, error) {
	pt, err := svc.Pool.Add(tx, sender)
	if err != nil {
		if svc.Metrics != nil {
			svc.Metrics.TxRejected.WithLabelValues(err.Error()).Inc()
		}
		switch {
		case errors.Is(err, txpool.ErrAlreadyKnown):
			return nil, ErrAlreadyKnown()
		case errors.Is(err, txpool.ErrNonceTooLow):
			return nil, ErrNonceTooLow(sender.Hex(), tx.Nonce(), svc.Backend.NonceOf(sender))
		default:
			return nil, ErrInvalidParams(err.Error())
		}
	}
	if svc.Metrics != nil {
		svc.Metrics.TxAdmitted.Inc()
	}
	svc.Subs.PublishPendingTx(pt.Hash)
	log.Debug("admitted transaction", "hash", pt.Hash, "sender", sender)
	return pt.Hash.Hex(), nil
}

// handleCall and handleEstimateGas both run the transaction once
// against a throwaway snapshot of the current state, then roll it
// back unconditionally: neither ever leaves a trace in committed
// state or the transaction pool.
func handleCall(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing transaction object")
		}
		args, err := decodeCallArgs(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		res, execErr := simulate(svc, args)
		if execErr != nil {
			return nil, ErrInternal(rc.CorrelationID)
		}
		if res.Reverted {
			return nil, ErrExecutionReverted(nil)
		}
		return "0x", nil
	}
}

func handleEstimateGas(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing transaction object")
		}
		args, err := decodeCallArgs(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		res, execErr := simulate(svc, args)
		if execErr != nil {
			return nil, ErrInternal(rc.CorrelationID)
		}
		if res.Reverted {
			return nil, ErrExecutionReverted(nil)
		}
		return EncodeQuantity(res.GasUsed), nil
	}
}

func simulate(svc *Services, args callArgs) (builder.ExecResult, error) {
	from := common.Address{}
	if args.From != nil {
		from = *args.From
	}
	nonce := svc.Backend.NonceOf(from)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: args.GasPrice.ToBig(),
		Gas:      args.Gas,
		To:       args.To,
		Value:    args.Value.ToBig(),
		Data:     args.Data,
	})
	head := svc.Builder.Head()
	ctx := builder.BlockContext{
		Number:    head.Number + 1,
		Timestamp: head.Timestamp,
		Coinbase:  head.Coinbase,
		GasLimit:  head.GasLimit,
	}
	snap := svc.Backend.Snapshot()
	defer svc.Backend.Revert(snap)
	return svc.Executor.Execute(svc.Backend, ctx, tx, from)
}

func handleGetLogs(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		var filterObj map[string]json.RawMessage
		if raw, ok := paramAt(p, 0); ok {
			if err := json.Unmarshal(raw, &filterObj); err != nil {
				return nil, ErrInvalidParams("expected a filter object")
			}
		}
		from := svc.Builder.ByNumber(0)
		to := svc.Builder.Head()
		if raw, ok := filterObj["fromBlock"]; ok {
			tag, err := decodeBlockTag(raw)
			if err == nil {
				if blk := svc.resolveBlock(tag); blk != nil {
					from = blk
				}
			}
		}
		if raw, ok := filterObj["toBlock"]; ok {
			tag, err := decodeBlockTag(raw)
			if err == nil {
				if blk := svc.resolveBlock(tag); blk != nil {
					to = blk
				}
			}
		}
		var addrFilter map[common.Address]bool
		if raw, ok := filterObj["address"]; ok {
			addrFilter = make(map[common.Address]bool)
			var single string
			if json.Unmarshal(raw, &single) == nil {
				addrFilter[common.HexToAddress(single)] = true
			} else {
				var many []string
				if json.Unmarshal(raw, &many) == nil {
					for _, a := range many {
						addrFilter[common.HexToAddress(a)] = true
					}
				}
			}
		}

		var out []map[string]interface{}
		for n := from.Number; n <= to.Number; n++ {
			blk := svc.Builder.ByNumber(n)
			if blk == nil {
				continue
			}
			for _, rcpt := range blk.Receipts {
				for _, lg := range rcpt.Logs {
					if addrFilter != nil && !addrFilter[lg.Address] {
						continue
					}
					out = append(out, encodeLog(lg))
				}
			}
		}
		if out == nil {
			out = []map[string]interface{}{}
		}
		return out, nil
	}
}

func handleFeeHistory(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		countRaw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing block count")
		}
		count, err := decodeQuantity(countRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		tagRaw, ok := paramAt(p, 1)
		if !ok {
			return nil, ErrInvalidParams("missing newest block")
		}
		tag, err := decodeBlockTag(tagRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		newestBlk := svc.resolveBlock(tag)
		if newestBlk == nil {
			return nil, ErrUnknownBlock(tag.Tag)
		}
		var percentiles []float64
		if raw, ok := paramAt(p, 2); ok {
			_ = json.Unmarshal(raw, &percentiles)
		}

		baseFees, ratios, rewards := svc.Builder.FeeHistory(count, newestBlk.Number, percentiles)
		baseFeesHex := make([]string, len(baseFees))
		for i, b := range baseFees {
			baseFeesHex[i] = EncodeU256(b)
		}
		rewardsHex := make([][]string, len(rewards))
		for i, row := range rewards {
			rewardsHex[i] = make([]string, len(row))
			for j, v := range row {
				rewardsHex[i][j] = EncodeU256(v)
			}
		}
		var oldest uint64
		if newestBlk.Number+1 > count {
			oldest = newestBlk.Number + 1 - count
		}
		return map[string]interface{}{
			"oldestBlock":   EncodeQuantity(oldest),
			"baseFeePerGas": baseFeesHex,
			"gasUsedRatio":  ratios,
			"reward":        rewardsHex,
		}, nil
	}
}

func handleSubscribe(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		if rc.Conn == nil {
			return nil, ErrInvalidRequest("eth_subscribe requires a streaming transport")
		}
		kindRaw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing subscription kind")
		}
		var kindStr string
		if err := json.Unmarshal(kindRaw, &kindStr); err != nil {
			return nil, ErrInvalidParams("expected subscription kind string")
		}

		var sub *pubsub.Subscription
		switch kindStr {
		case "newHeads":
			sub = rc.Conn.Subscribe(pubsub.KindNewHeads, nil)
		case "newPendingTransactions":
			sub = rc.Conn.Subscribe(pubsub.KindNewPendingTransactions, nil)
		case "logs":
			filter, ferr := decodeLogFilter(mustParam(p, 1))
			if ferr != nil {
				return nil, ErrInvalidParams(ferr.Error())
			}
			sub = rc.Conn.Subscribe(pubsub.KindLogs, filter)
		default:
			return nil, ErrInvalidParams("unknown subscription kind: " + kindStr)
		}
		return sub.ID.String(), nil
	}
}

func handleUnsubscribe(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		if rc.Conn == nil {
			return nil, ErrInvalidRequest("eth_unsubscribe requires a streaming transport")
		}
		idRaw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing subscription id")
		}
		var idStr string
		if err := json.Unmarshal(idRaw, &idStr); err != nil {
			return nil, ErrInvalidParams("expected subscription id string")
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return false, nil
		}
		return rc.Conn.Unsubscribe(id), nil
	}
}

func mustParam(p []json.RawMessage, i int) json.RawMessage {
	raw, ok := paramAt(p, i)
	if !ok {
		return json.RawMessage("null")
	}
	return raw
}

// decodeLogFilter parses the second eth_subscribe argument for the
// "logs" kind: the same {address, topics, fromBlock, toBlock} object
// eth_getLogs accepts. raw may be the JSON literal null, meaning no
// filter (match everything).
func decodeLogFilter(raw json.RawMessage) (*pubsub.Filter, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var obj struct {
		Address   json.RawMessage   `json:"address"`
		Topics    []json.RawMessage `json:"topics"`
		FromBlock *string           `json:"fromBlock"`
		ToBlock   *string           `json:"toBlock"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errors.New("expected a filter object")
	}

	f := &pubsub.Filter{}
	if len(obj.Address) > 0 && string(obj.Address) != "null" {
		set := mapset.NewSet()
		var single string
		if json.Unmarshal(obj.Address, &single) == nil {
			set.Add(common.HexToAddress(single))
		} else {
			var many []string
			if err := json.Unmarshal(obj.Address, &many); err != nil {
				return nil, errors.New("invalid address filter")
			}
			for _, a := range many {
				set.Add(common.HexToAddress(a))
			}
		}
		f.Addresses = set
	}
	for _, topicRaw := range obj.Topics {
		if len(topicRaw) == 0 || string(topicRaw) == "null" {
			f.Topics = append(f.Topics, nil)
			continue
		}
		set := mapset.NewSet()
		var single string
		if json.Unmarshal(topicRaw, &single) == nil {
			set.Add(common.HexToHash(single))
		} else {
			var many []string
			if err := json.Unmarshal(topicRaw, &many); err != nil {
				return nil, errors.New("invalid topic filter")
			}
			for _, t := range many {
				set.Add(common.HexToHash(t))
			}
		}
		f.Topics = append(f.Topics, set)
	}
	if obj.FromBlock != nil {
		tag, err := decodeBlockTag(json.RawMessage(`"` + *obj.FromBlock + `"`))
		if err == nil && !tag.IsTag {
			f.FromBlock = &tag.Number
		}
	}
	if obj.ToBlock != nil {
		tag, err := decodeBlockTag(json.RawMessage(`"` + *obj.ToBlock + `"`))
		if err == nil && !tag.IsTag {
			f.ToBlock = &tag.Number
		}
	}
	return f, nil
}
