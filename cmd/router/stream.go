package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapScope/internal/chain"
	"swapScope/internal/config"
	"swapScope/internal/discovery"
	"swapScope/internal/model"
	"swapScope/internal/registry"
)

func runStream(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadStream(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if cfg.Factory == "" {
		return fmt.Errorf("factory address is required")
	}
	if cfg.TokenList == "" {
		return fmt.Errorf("token list path is required")
	}

	factory, err := parseAddress("factory", cfg.Factory)
	if err != nil {
		return err
	}
	multicall, err := parseAddress("multicall", cfg.Multicall)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.DialWithRetry(ctx, cfg.RPCURL, cfg.MaxRetries, cfg.RetryBackoff)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}

	reg, err := registry.Load(cfg.TokenList, chainID.Uint64())
	if err != nil {
		return err
	}
	tokens, err := reg.Select(cfg.Tokens)
	if err != nil {
		return err
	}
	if len(tokens) < 2 {
		return fmt.Errorf("token list yields %d tokens on chain %d, need at least 2", len(tokens), chainID.Uint64())
	}

	svc, err := discovery.NewService(discovery.Config{
		Caller:    chainClient,
		Factory:   factory,
		Multicall: multicall,
		ChainID:   chainID.Uint64(),
		ChunkSize: cfg.ChunkSize,
		Limits: discovery.Limits{
			MaxTokens: cfg.MaxTokens,
			MaxPairs:  cfg.MaxPairs,
		},
		Checkpoint: discovery.NewCheckpointStore(cfg.Checkpoint, cfg.CheckpointEnabled),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.Info("stream start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", chainID.Uint64()),
		zap.String("factory", factory.Hex()),
		zap.Int("tokens", len(tokens)),
		zap.Int("chunk_size", cfg.ChunkSize),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	sink := newNDJSONSink(os.Stdout)

	start := time.Now()
	emitted, err := svc.Stream(ctx, tokens, sink)
	if err != nil {
		return err
	}

	// Trailing summary line closes out the stream for consumers.
	if err := sink.WriteSummary(model.ScanSummary{PoolsEmitted: emitted}); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	logger.Info("stream complete",
		zap.Int("pools", emitted),
		zap.Duration("took", time.Since(start)),
	)

	return nil
}

// ndjsonSink writes discovery output as one JSON object per line. Logs go
// to stderr, so stdout stays parseable end to end.
type ndjsonSink struct {
	enc *json.Encoder
}

func newNDJSONSink(w io.Writer) *ndjsonSink {
	return &ndjsonSink{enc: json.NewEncoder(w)}
}

func (s *ndjsonSink) WritePool(state model.PoolState) error {
	return s.enc.Encode(state)
}

func (s *ndjsonSink) WriteError(msg string) error {
	return s.enc.Encode(model.StreamError{Error: msg})
}

func (s *ndjsonSink) WriteSummary(summary model.ScanSummary) error {
	return s.enc.Encode(summary)
}
