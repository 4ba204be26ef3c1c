// Command devnode runs a local Ethereum development node: an
// in-memory chain with instant or interval mining, a full JSON-RPC
// surface over HTTP/WebSocket/IPC, and a fixed set of pre-funded dev
// accounts printed on startup.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/devnode/devnode/internal/config"
	"github.com/devnode/devnode/internal/node"
)

func main() {
	app := cli.NewApp()
	app.Name = "devnode"
	app.Usage = "run a local Ethereum development node"
	app.Flags = cliFlags()
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Crit("devnode exited with error", "error", err)
	}
}

// cliFlags mirrors config.RegisterFlags' pflag definitions as
// urfave/cli.v1 flags, the CLI layer a user actually interacts with;
// run() re-threads the parsed values through a pflag.FlagSet so
// config.Load's viper/cast plumbing stays the single source of truth
// for defaults and env var overrides.
func cliFlags() []cli.Flag {
	// Every numeric/duration flag is taken as a StringFlag and handed
	// to pflag's Set as text: pflag already knows how to parse each
	// one for its real type, so there is no need to duplicate that
	// parsing here.
	return []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "path to a YAML/JSON config file"},
		cli.StringFlag{Name: "http-host", Value: "127.0.0.1"},
		cli.StringFlag{Name: "http-port", Value: "8545"},
		cli.StringFlag{Name: "ws-host", Value: "127.0.0.1"},
		cli.StringFlag{Name: "ws-port", Value: "8546"},
		cli.StringFlag{Name: "ipc-path", Usage: "filesystem path for the IPC socket"},
		cli.StringFlag{Name: "chain-id", Value: "31337"},
		cli.StringFlag{Name: "accounts", Value: "10"},
		cli.StringFlag{Name: "mnemonic"},
		cli.StringFlag{Name: "block-time", Value: "0s"},
		cli.StringFlag{Name: "gas-limit", Value: "30000000"},
		cli.StringFlag{Name: "base-fee", Value: "1000000000"},
		cli.StringFlag{Name: "fork-url"},
		cli.StringFlag{Name: "fork-block", Value: "0"},
		cli.StringFlag{Name: "fork-rate-limit", Value: "10"},
		cli.BoolFlag{Name: "metrics"},
		cli.StringFlag{Name: "metrics-addr", Value: "127.0.0.1:9545"},
		cli.StringFlag{Name: "log-level", Value: "info"},
	}
}

func run(c *cli.Context) error {
	fs := pflag.NewFlagSet("devnode", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	fs.String("config", "", "path to a YAML/JSON config file")
	for _, flag := range cliFlags() {
		name := flagName(flag)
		if name == "" || !c.IsSet(name) {
			continue
		}
		value := c.String(name)
		if _, ok := flag.(cli.BoolFlag); ok {
			value = fmt.Sprintf("%t", c.Bool(name))
		}
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("devnode: flag %s: %w", name, err)
		}
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}

	setupLogging(cfg.LogLevel)

	n, err := node.New(cfg)
	if err != nil {
		return err
	}

	printBanner(n, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return n.Run(ctx)
}

func flagName(f cli.Flag) string {
	switch v := f.(type) {
	case cli.StringFlag:
		return v.Name
	case cli.BoolFlag:
		return v.Name
	default:
		return ""
	}
}

func setupLogging(level string) {
	lvl, err := log.LvlFromString(level)
	if err != nil {
		lvl = log.LvlInfo
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormat(true))))
}

func printBanner(n *node.Node, cfg *config.Config) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Println(bold("devnode"))
	fmt.Printf("chain id: %d\n", cfg.ChainID)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Address", "Private Key"})
	for i, addr := range n.Signer.Accounts() {
		key, _ := n.Signer.PrivateKeyHex(addr)
		table.Append([]string{fmt.Sprintf("%d", i), addr.Hex(), key})
	}
	table.Render()

	fmt.Printf("\nHTTP-RPC: http://%s:%d\n", cfg.HTTPHost, cfg.HTTPPort)
	fmt.Printf("WS-RPC:   ws://%s:%d\n", cfg.WSHost, cfg.WSPort)
	if cfg.IPCPath != "" {
		fmt.Printf("IPC:      %s\n", cfg.IPCPath)
	}
}
