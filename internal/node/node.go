// Package node wires every component into a runnable dev node: state
// backend, transaction pool, miner, block builder, signer, pub/sub
// registry and the three RPC transports, then supervises their
// goroutines as one errgroup.Group so a single failure tears the whole
// node down cleanly.
package node

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/devnode/devnode/internal/builder"
	"github.com/devnode/devnode/internal/config"
	"github.com/devnode/devnode/internal/metrics"
	"github.com/devnode/devnode/internal/miner"
	"github.com/devnode/devnode/internal/pubsub"
	"github.com/devnode/devnode/internal/rpc"
	"github.com/devnode/devnode/internal/server"
	"github.com/devnode/devnode/internal/signer"
	"github.com/devnode/devnode/internal/state"
	"github.com/devnode/devnode/internal/txpool"
)

// Node owns every long-lived component and the servers exposing them.
type Node struct {
	cfg *config.Config

	Backend state.Database
	Pool    *txpool.Pool
	Builder *builder.Builder
	Miner   *miner.Miner
	Signer  *signer.DevSigner
	Subs    *pubsub.Registry
	Metrics *metrics.Metrics

	dispatcher *rpc.Dispatcher
	servers    []server.Server
	baseFee    *uint256.Int
}

// New constructs a fully wired Node from cfg. It mines no blocks and
// opens no listeners until Run is called.
func New(cfg *config.Config) (*Node, error) {
	mnemonic := cfg.Mnemonic
	if mnemonic == "" {
		mnemonic = signer.DefaultMnemonic
	}
	sg, err := signer.NewDevSigner(mnemonic, cfg.Accounts)
	if err != nil {
		return nil, fmt.Errorf("node: create signer: %w", err)
	}

	var backend state.Database
	base := state.NewBackend()
	if cfg.ForkURL != "" {
		upstream := state.NewHTTPUpstream(cfg.ForkURL, cfg.ForkRateLimit)
		forked, err := state.NewForkedBackend(base, upstream, cfg.ForkBlock, "")
		if err != nil {
			return nil, fmt.Errorf("node: fork %s: %w", cfg.ForkURL, err)
		}
		log.Info("forking", "url", cfg.ForkURL, "block", cfg.ForkBlock)
		backend = forked
	} else {
		backend = base
	}
	for _, addr := range sg.Accounts() {
		seedDevAccount(backend, addr)
	}

	pool := txpool.New(backend)
	m := miner.New(pool)

	chainID := uint256.NewInt(cfg.ChainID)
	baseFee := uint256.NewInt(cfg.BaseFee)
	executor := builder.NewSimExecutor()
	bld := builder.New(backend, pool, executor, cfg.GasLimit, sg.Accounts()[0], 0)

	if cfg.BlockTime > 0 {
		m.SetMode(miner.IntervalMode{D: cfg.BlockTime, AllowEmpty: true})
	}

	subs := pubsub.NewRegistry()
	mtr := metrics.New()

	svc := rpc.NewServices(chainID, backend, pool, bld, m, sg, subs, executor)
	svc.Metrics = mtr

	d := rpc.NewDispatcher()
	rpc.RegisterEthHandlers(d, svc)
	rpc.RegisterAnvilHandlers(d, svc)

	n := &Node{
		cfg:        cfg,
		Backend:    backend,
		Pool:       pool,
		Builder:    bld,
		Miner:      m,
		Signer:     sg,
		Subs:       subs,
		Metrics:    mtr,
		dispatcher: d,
		baseFee:    baseFee,
	}

	n.servers = append(n.servers, server.NewHTTP(cfg.HTTPHost, cfg.HTTPPort, d, mtr))
	n.servers = append(n.servers, server.NewWS(cfg.WSHost, cfg.WSPort, d, subs))
	if cfg.IPCPath != "" {
		n.servers = append(n.servers, server.NewIPC(cfg.IPCPath, d, subs))
	}
	if cfg.MetricsEnabled {
		n.servers = append(n.servers, server.NewMetrics(cfg.MetricsAddr, mtr))
	}

	return n, nil
}

// seedDevAccount funds a freshly derived dev account with a generous
// starting balance, mirroring every "anvil"-style dev node's default
// of handing out obviously-fake test ether.
func seedDevAccount(backend state.Database, addr common.Address) {
	const etherWei = "10000000000000000000000" // 10000 ETH
	bal := new(uint256.Int)
	_ = bal.SetFromDecimal(etherWei)
	backend.SetBalance(addr, bal)
}

// Run starts the miner loop, a head watcher that updates block metrics
// and logs each new head, and every configured transport, and blocks until ctx is cancelled or a
// component fails. The first failure cancels every other task.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n.Miner.Start()
		defer n.Miner.Stop()
		n.Miner.Run(ctx.Done(), n.onMinerJob)
		return nil
	})

	g.Go(func() error {
		heads := make(chan *builder.Block, 16)
		sub := n.Builder.SubscribeHeads(heads)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return nil
			case blk := <-heads:
				n.Metrics.BlocksMined.Inc()
				n.Metrics.BlockGasUsed.Observe(float64(blk.GasUsed))
				log.Info("new head", "number", blk.Number, "hash", blk.Hash, "txs", len(blk.Transactions))
			}
		}
	})

	for _, srv := range n.servers {
		srv := srv
		g.Go(func() error {
			return srv.Serve(ctx)
		})
	}

	return g.Wait()
}

// onMinerJob is the Miner.Run callback: it hands the job to the block
// builder and publishes the resulting head to every pub/sub subscriber.
func (n *Node) onMinerJob(job miner.Job) {
	blk, err := n.Builder.Build(job, builder.BuildOptions{BaseFee: n.baseFee})
	if err != nil {
		log.Error("block build failed", "error", err)
		return
	}
	if blk == nil {
		return
	}
	n.Subs.PublishHead(encodeHeadForSubs(blk))
	if events := logEventsForSubs(blk); len(events) > 0 {
		n.Subs.PublishLogs(events)
	}
}

func logEventsForSubs(blk *builder.Block) []pubsub.LogEvent {
	var out []pubsub.LogEvent
	for _, rc := range blk.Receipts {
		for idx, lg := range rc.Logs {
			out = append(out, pubsub.LogEvent{
				Address:     lg.Address,
				Topics:      lg.Topics,
				Data:        lg.Data,
				BlockNumber: blk.Number,
				BlockHash:   blk.Hash,
				TxHash:      rc.TxHash,
				Index:       uint(idx),
			})
		}
	}
	return out
}

func encodeHeadForSubs(blk *builder.Block) map[string]interface{} {
	return map[string]interface{}{
		"number":     rpc.EncodeQuantity(blk.Number),
		"hash":       blk.Hash.Hex(),
		"parentHash": blk.ParentHash.Hex(),
		"timestamp":  rpc.EncodeQuantity(blk.Timestamp),
		"gasUsed":    rpc.EncodeQuantity(blk.GasUsed),
		"gasLimit":   rpc.EncodeQuantity(blk.GasLimit),
		"miner":      blk.Coinbase.Hex(),
	}
}
