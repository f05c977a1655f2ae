package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapScope/internal/cache"
	"swapScope/internal/chain"
	"swapScope/internal/config"
	"swapScope/internal/discovery"
	"swapScope/internal/model"
	"swapScope/internal/registry"
	"swapScope/internal/storage"
	"swapScope/internal/storage/postgres"
)

func runDiscover(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
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

	cacheStore, closeCache := openCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	defer closeCache()

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
		Cache:    cacheStore,
		CacheTTL: cfg.CacheTTL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	logger.Info("discover start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", chainID.Uint64()),
		zap.String("factory", factory.Hex()),
		zap.Int("tokens", len(tokens)),
		zap.Int("chunk_size", cfg.ChunkSize),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	start := time.Now()
	states, err := svc.Discover(ctx, tokens)
	if err != nil {
		return err
	}

	if err := writePoolsJSON(cfg.Out, states); err != nil {
		return err
	}

	if cfg.NDJSONOut != "" {
		if err := storage.NewJsonlStorage(cfg.NDJSONOut).PutPoolBatch(states); err != nil {
			return fmt.Errorf("append ndjson: %w", err)
		}
	}

	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()

		if err := pg.UpsertPoolStates(ctx, chainID.Uint64(), states); err != nil {
			return fmt.Errorf("upsert pools: %w", err)
		}
		name := fmt.Sprintf("discovery:%d", chainID.Uint64())
		if err := pg.SaveScanState(ctx, name, uint64(time.Now().Unix())); err != nil {
			return fmt.Errorf("save scan state: %w", err)
		}
	}

	logger.Info("discover complete",
		zap.Int("pools", len(states)),
		zap.Duration("took", time.Since(start)),
	)

	return nil
}

// openCache connects the optional redis snapshot store. A dead backend only
// disables caching, it never fails the command.
func openCache(ctx context.Context, addr, password string, db int, logger *zap.Logger) (cache.Store, func()) {
	if addr == "" {
		return nil, func() {}
	}

	redisStore := cache.NewRedis(addr, password, db)
	if err := redisStore.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, caching disabled",
			zap.String("addr", addr), zap.Error(err))
		redisStore.Close()
		return nil, func() {}
	}
	return redisStore, func() { redisStore.Close() }
}

func writePoolsJSON(path string, states []model.PoolState) error {
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pools: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pools: %w", err)
	}
	return nil
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
