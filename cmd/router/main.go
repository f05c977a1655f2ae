package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "router",
		Short:        "V3 pool discovery and swap routing",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Scan the factory for live pools",
		RunE:  runDiscover,
	}

	discoverCmd.Flags().String("rpc", "", "chain RPC URL")
	discoverCmd.Flags().String("factory", "", "V3 factory address")
	discoverCmd.Flags().String("multicall", "", "Multicall3 address (empty disables batching)")
	discoverCmd.Flags().String("tokenlist", "", "token list JSON path")
	discoverCmd.Flags().StringSlice("tokens", nil, "token symbols to scan (comma-separated, empty means all)")
	discoverCmd.Flags().Int("chunk-size", 100, "probes per aggregated call")
	discoverCmd.Flags().Int("max-tokens", 120, "token cap before pairing")
	discoverCmd.Flags().Int("max-pairs", 4000, "pair cap per scan")
	discoverCmd.Flags().String("out", "", "output JSON path (empty means stdout)")
	discoverCmd.Flags().String("ndjson-out", "", "optional NDJSON append path")
	discoverCmd.Flags().String("pg-dsn", "", "optional Postgres DSN")
	discoverCmd.Flags().String("redis-addr", "", "optional redis address for scan caching")
	discoverCmd.Flags().String("redis-password", "", "redis password")
	discoverCmd.Flags().Int("redis-db", 0, "redis database")
	discoverCmd.Flags().Duration("cache-ttl", 5*time.Minute, "cached scan TTL")
	discoverCmd.Flags().Int("max-retries", 5, "maximum RPC dial retries")
	discoverCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	discoverCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(discoverCmd)

	streamCmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream pool discovery as NDJSON",
		RunE:  runStream,
	}

	streamCmd.Flags().String("rpc", "", "chain RPC URL")
	streamCmd.Flags().String("factory", "", "V3 factory address")
	streamCmd.Flags().String("multicall", "", "Multicall3 address (empty disables batching)")
	streamCmd.Flags().String("tokenlist", "", "token list JSON path")
	streamCmd.Flags().StringSlice("tokens", nil, "token symbols to scan (comma-separated, empty means all)")
	streamCmd.Flags().Int("chunk-size", 100, "probes per aggregated call")
	streamCmd.Flags().Int("max-tokens", 120, "token cap before pairing")
	streamCmd.Flags().Int("max-pairs", 4000, "pair cap per scan")
	streamCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	streamCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	streamCmd.Flags().Int("max-retries", 5, "maximum RPC dial retries")
	streamCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	streamCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(streamCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Select a route and quote a swap",
		RunE:  runQuote,
	}

	quoteCmd.Flags().String("rpc", "", "chain RPC URL")
	quoteCmd.Flags().String("factory", "", "V3 factory address")
	quoteCmd.Flags().String("multicall", "", "Multicall3 address (empty disables batching)")
	quoteCmd.Flags().String("quoter", "", "QuoterV2 address")
	quoteCmd.Flags().String("tokenlist", "", "token list JSON path")
	quoteCmd.Flags().String("token-in", "", "input token (symbol or address)")
	quoteCmd.Flags().String("token-out", "", "output token (symbol or address)")
	quoteCmd.Flags().String("amount", "", "human-readable input amount")
	quoteCmd.Flags().Int("slippage-bps", 50, "slippage tolerance in basis points")
	quoteCmd.Flags().String("intermediary", "WETH", "two-hop intermediary (symbol or address)")
	quoteCmd.Flags().Int("max-retries", 5, "maximum RPC dial retries")
	quoteCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	quoteCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(quoteCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// parseAddress validates an optional hex address flag. Empty input maps to
// the zero address; required flags are checked before this runs.
func parseAddress(name, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s address: %s", name, value)
	}
	return common.HexToAddress(value), nil
}
