package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapScope/internal/chain"
	"swapScope/internal/config"
	"swapScope/internal/model"
	"swapScope/internal/registry"
	"swapScope/internal/routing"
)

// quoteResult is the single JSON object the quote command prints. Route is
// null while the input amount is not yet a positive number.
type quoteResult struct {
	Route        *model.Route `json:"route"`
	AmountOut    string       `json:"amount_out"`
	MinAmountOut string       `json:"min_amount_out"`
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
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
	if cfg.Quoter == "" {
		return fmt.Errorf("quoter address is required")
	}
	if cfg.TokenList == "" {
		return fmt.Errorf("token list path is required")
	}
	if cfg.TokenIn == "" {
		return fmt.Errorf("token-in is required")
	}
	if cfg.TokenOut == "" {
		return fmt.Errorf("token-out is required")
	}

	factory, err := parseAddress("factory", cfg.Factory)
	if err != nil {
		return err
	}
	multicall, err := parseAddress("multicall", cfg.Multicall)
	if err != nil {
		return err
	}
	quoterAddr, err := parseAddress("quoter", cfg.Quoter)
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

	tokenIn, err := reg.ResolveRef(ctx, chainClient, cfg.TokenIn, logger)
	if err != nil {
		return err
	}
	tokenOut, err := reg.ResolveRef(ctx, chainClient, cfg.TokenOut, logger)
	if err != nil {
		return err
	}

	// An unresolvable intermediary only narrows routing to direct pools.
	var mid model.Token
	var midAddr common.Address
	if cfg.Intermediary != "" {
		mid, err = reg.ResolveRef(ctx, chainClient, cfg.Intermediary, logger)
		if err != nil {
			logger.Warn("intermediary unavailable, direct routes only",
				zap.String("intermediary", cfg.Intermediary), zap.Error(err))
		} else {
			midAddr = mid.Addr()
		}
	}

	selector, err := routing.NewSelector(chainClient, factory, multicall, logger)
	if err != nil {
		return err
	}

	logger.Info("quote start",
		zap.Uint64("chain_id", chainID.Uint64()),
		zap.String("token_in", tokenIn.Address),
		zap.String("token_out", tokenOut.Address),
		zap.String("amount", cfg.Amount),
		zap.Int("slippage_bps", cfg.SlippageBps),
	)

	route, err := selector.SelectRoute(ctx, tokenIn.Addr(), tokenOut.Addr(), midAddr)
	if err != nil {
		return err
	}

	routeTokens := []model.Token{tokenIn, tokenOut}
	if route.Hops() == 2 {
		routeTokens = []model.Token{tokenIn, mid, tokenOut}
	}

	quoter, err := routing.NewQuoter(chainClient, quoterAddr, logger)
	if err != nil {
		return err
	}

	quote, err := quoter.QuoteRoute(ctx, route, routeTokens, cfg.Amount, cfg.SlippageBps)
	if errors.Is(err, routing.ErrAmountNotReady) {
		return printQuote(quoteResult{AmountOut: "0", MinAmountOut: "0"})
	}
	if err != nil {
		return err
	}

	return printQuote(quoteResult{
		Route:        &quote.Route,
		AmountOut:    quote.AmountOut.String(),
		MinAmountOut: quote.MinAmountOut.String(),
	})
}

func printQuote(result quoteResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}
	data = append(data, '\n')
	_, err = os.Stdout.Write(data)
	return err
}
