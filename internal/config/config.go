// Package config layers the node's runtime configuration: flag
// defaults, an optional config file, and environment overrides, all
// merged through viper and read out with cast so every caller gets a
// concretely typed value instead of repeating type assertions.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the node's fully resolved runtime configuration.
type Config struct {
	HTTPHost string
	HTTPPort int
	WSHost   string
	WSPort   int
	IPCPath  string

	ChainID    uint64
	Accounts   int
	Mnemonic   string
	BlockTime  time.Duration // 0 means instant/automine
	GasLimit   uint64
	BaseFee    uint64

	ForkURL       string
	ForkBlock     uint64
	ForkRateLimit float64 // requests per second to the upstream
	ForkCacheDir  string  // on-disk read-through cache; empty disables the disk tier

	MetricsEnabled bool
	MetricsAddr    string

	LogLevel string
}

// RegisterFlags binds every config knob onto fs, the way the teacher's
// command wires its own flags: flag names double as the viper keys,
// via v.BindPFlags in Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http-host", "127.0.0.1", "HTTP-RPC server listening interface")
	fs.Int("http-port", 8545, "HTTP-RPC server listening port")
	fs.String("ws-host", "127.0.0.1", "WebSocket-RPC server listening interface")
	fs.Int("ws-port", 8546, "WebSocket-RPC server listening port")
	fs.String("ipc-path", "", "filesystem path for the IPC socket (disabled when empty)")

	fs.Uint64("chain-id", 31337, "chain id reported by eth_chainId")
	fs.Int("accounts", 10, "number of dev accounts to derive from the mnemonic")
	fs.String("mnemonic", "", "BIP-39 mnemonic to derive dev accounts from (a fixed well-known default if unset)")
	fs.Duration("block-time", 0, "fixed interval between mined blocks (0 enables automine)")
	fs.Uint64("gas-limit", 30_000_000, "per-block gas limit")
	fs.Uint64("base-fee", 1_000_000_000, "base fee set on every mined block, in wei")

	fs.String("fork-url", "", "JSON-RPC endpoint of a live chain to fork from")
	fs.Uint64("fork-block", 0, "block number to fork at (0 means the upstream's latest)")
	fs.Float64("fork-rate-limit", 10, "maximum requests per second sent to the fork upstream")

	fs.Bool("metrics", false, "expose a Prometheus /metrics endpoint")
	fs.String("metrics-addr", "127.0.0.1:9545", "listening address for the metrics endpoint")

	fs.String("log-level", "info", "log verbosity: crit, error, warn, info, debug, trace")
}

// Load merges bound flags, a config file (if one is set via --config)
// and DEVNODE_-prefixed environment variables, and casts every field
// into a Config.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("devnode")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile, _ := fs.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	get := func(key string) interface{} { return v.Get(key) }

	cfg := &Config{
		HTTPHost:       cast.ToString(get("http-host")),
		HTTPPort:       cast.ToInt(get("http-port")),
		WSHost:         cast.ToString(get("ws-host")),
		WSPort:         cast.ToInt(get("ws-port")),
		IPCPath:        cast.ToString(get("ipc-path")),
		ChainID:        cast.ToUint64(get("chain-id")),
		Accounts:       cast.ToInt(get("accounts")),
		Mnemonic:       cast.ToString(get("mnemonic")),
		BlockTime:      cast.ToDuration(get("block-time")),
		GasLimit:       cast.ToUint64(get("gas-limit")),
		BaseFee:        cast.ToUint64(get("base-fee")),
		ForkURL:        cast.ToString(get("fork-url")),
		ForkBlock:      cast.ToUint64(get("fork-block")),
		ForkRateLimit:  cast.ToFloat64(get("fork-rate-limit")),
		MetricsEnabled: cast.ToBool(get("metrics")),
		MetricsAddr:    cast.ToString(get("metrics-addr")),
		LogLevel:       cast.ToString(get("log-level")),
	}
	if cfg.Accounts <= 0 {
		cfg.Accounts = 1
	}
	return cfg, nil
}
