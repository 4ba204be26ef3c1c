package rpc

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/devnode/devnode/internal/builder"
	"github.com/devnode/devnode/internal/miner"
	"github.com/devnode/devnode/internal/pubsub"
)

// foreverInterval is the IntervalMode duration evm_setAutomine(false)
// installs: long enough that the cooperative poller effectively never
// fires on its own, leaving evm_mine as the only way to seal a block.
const foreverInterval = 24 * 365 * time.Hour

// RegisterAnvilHandlers binds the anvil_/evm_ development-only methods.
func RegisterAnvilHandlers(d *Dispatcher, svc *Services) {
	d.Register("evm_mine", handleEvmMine(svc))
	d.Register("anvil_mine", handleEvmMine(svc))

	d.Register("evm_snapshot", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		return EncodeQuantity(svc.Backend.Snapshot()), nil
	})
	d.Register("evm_revert", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing snapshot id")
		}
		id, err := decodeQuantity(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		if !svc.Backend.Revert(id) {
			return nil, ErrSnapshotGone()
		}
		return true, nil
	})

	d.Register("evm_setAutomine", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing enabled flag")
		}
		on, err := decodeBool(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		if on {
			svc.Miner.SetMode(miner.InstantMode{Max: 1})
		} else {
			svc.Miner.SetMode(miner.IntervalMode{D: foreverInterval, AllowEmpty: false})
		}
		svc.setAutoMine(on)
		return nil, nil
	})
	d.Register("evm_setIntervalMining", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing interval seconds")
		}
		secs, err := decodeQuantity(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		if secs == 0 {
			svc.Miner.SetMode(miner.InstantMode{Max: 1})
			svc.setAutoMine(true)
			return nil, nil
		}
		svc.Miner.SetMode(miner.IntervalMode{D: time.Duration(secs) * time.Second, AllowEmpty: true})
		svc.setAutoMine(false)
		return nil, nil
	})

	d.Register("anvil_setBalance", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		addrRaw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing address")
		}
		addr, err := decodeAddress(addrRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		valRaw, ok := paramAt(p, 1)
		if !ok {
			return nil, ErrInvalidParams("missing balance")
		}
		val, err := decodeU256(valRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		svc.Backend.SetBalance(addr, val)
		return true, nil
	})
	d.Register("anvil_setNonce", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		addrRaw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing address")
		}
		addr, err := decodeAddress(addrRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		nonceRaw, ok := paramAt(p, 1)
		if !ok {
			return nil, ErrInvalidParams("missing nonce")
		}
		nonce, err := decodeQuantity(nonceRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		svc.Backend.SetNonce(addr, nonce)
		return true, nil
	})
	d.Register("anvil_setCode", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		addrRaw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing address")
		}
		addr, err := decodeAddress(addrRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		codeRaw, ok := paramAt(p, 1)
		if !ok {
			return nil, ErrInvalidParams("missing code")
		}
		code, err := decodeBytes(codeRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		svc.Backend.SetCode(addr, code)
		return true, nil
	})
	d.Register("anvil_setStorageAt", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
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
		valRaw, ok := paramAt(p, 2)
		if !ok {
			return nil, ErrInvalidParams("missing value")
		}
		val, err := decodeU256(valRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		svc.Backend.SetStorageAt(addr, slot, val)
		return true, nil
	})

	d.Register("anvil_impersonateAccount", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		addrRaw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing address")
		}
		addr, err := decodeAddress(addrRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		svc.setImpersonated(addr, true)
		return nil, nil
	})
	d.Register("anvil_stopImpersonatingAccount", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		addrRaw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing address")
		}
		addr, err := decodeAddress(addrRaw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		svc.setImpersonated(addr, false)
		return nil, nil
	})

	d.Register("anvil_dumpState", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		data, err := svc.Backend.DumpState()
		if err != nil {
			return nil, ErrInternal(rc.CorrelationID)
		}
		return "0x" + hex.EncodeToString(data), nil
	})
	d.Register("anvil_loadState", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		raw, ok := paramAt(p, 0)
		if !ok {
			return nil, ErrInvalidParams("missing state dump")
		}
		data, err := decodeBytes(raw)
		if err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		if err := svc.Backend.LoadState(data); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return true, nil
	})

	d.Register("anvil_nodeInfo", func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		head := svc.Builder.Head()
		return map[string]interface{}{
			"currentBlockNumber": EncodeQuantity(head.Number),
			"currentBlockHash":   head.Hash.Hex(),
			"hardFork":           "london",
			"chainId":            EncodeU256(svc.ChainID),
			"automine":           svc.AutoMine(),
		}, nil
	})
}

func handleEvmMine(svc *Services) HandlerFunc {
	return func(rc *ReqContext, p []json.RawMessage) (interface{}, error) {
		var opts builderOpts
		if raw, ok := paramAt(p, 0); ok && string(raw) != "null" {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(raw, &obj); err == nil {
				if tsRaw, ok := obj["timestamp"]; ok {
					ts, err := decodeQuantity(tsRaw)
					if err == nil {
						opts.timestamp = &ts
					}
				}
			}
		}
		blk, err := svc.mineOne(opts)
		if err != nil {
			return nil, ErrInternal(rc.CorrelationID)
		}
		if blk != nil {
			svc.Subs.PublishHead(encodeBlock(blk, false))
			if events := logEventsForBlock(blk); len(events) > 0 {
				svc.Subs.PublishLogs(events)
			}
		}
		return "0x0", nil
	}
}

// logEventsForBlock converts a committed block's receipt logs into the
// shape the pub/sub registry broadcasts to "logs" subscribers, the same
// translation the automatic miner loop applies to every mined block.
func logEventsForBlock(blk *builder.Block) []pubsub.LogEvent {
	var out []pubsub.LogEvent
	for _, rcpt := range blk.Receipts {
		for idx, lg := range rcpt.Logs {
			out = append(out, pubsub.LogEvent{
				Address:     lg.Address,
				Topics:      lg.Topics,
				Data:        lg.Data,
				BlockNumber: blk.Number,
				BlockHash:   blk.Hash,
				TxHash:      rcpt.TxHash,
				Index:       uint(idx),
			})
		}
	}
	return out
}
