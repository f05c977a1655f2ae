package routing

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"swapScope/internal/dex"
	"swapScope/internal/model"
)

// Quoter prices routes through the protocol's quoting contract.
type Quoter struct {
	caller ethereum.ContractCaller
	quoter common.Address
	logger *zap.Logger
}

// NewQuoter builds a quoter bound to one quoting contract.
func NewQuoter(caller ethereum.ContractCaller, quoter common.Address, logger *zap.Logger) (*Quoter, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is required")
	}
	if quoter == (common.Address{}) {
		return nil, fmt.Errorf("quoter address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Quoter{caller: caller, quoter: quoter, logger: logger}, nil
}

// QuoteRoute prices amountIn (human units of the route's first token)
// through every hop and applies the slippage tolerance to the final output.
// tokens carries the metadata for each route token, in route order; the
// intermediate token's decimals drive the raw/human re-scale between hops.
// ErrAmountNotReady is returned until amountIn parses to a positive value.
func (q *Quoter) QuoteRoute(ctx context.Context, route model.Route, tokens []model.Token, amountIn string, slippageBps int) (model.Quote, error) {
	if err := route.Validate(); err != nil {
		return model.Quote{}, fmt.Errorf("%w: %v", ErrInvalidRoute, err)
	}
	if route.Tokens[0] == route.Tokens[len(route.Tokens)-1] {
		return model.Quote{}, fmt.Errorf("%w: tokenIn equals tokenOut", ErrInvalidRoute)
	}
	if len(tokens) != len(route.Tokens) {
		return model.Quote{}, fmt.Errorf("%w: %d tokens for a %d-token route", ErrInvalidRoute, len(tokens), len(route.Tokens))
	}
	for i, token := range tokens {
		if token.Addr() != route.Tokens[i] {
			return model.Quote{}, fmt.Errorf("%w: token %d is %s, route says %s", ErrInvalidRoute, i, token.Addr().Hex(), route.Tokens[i].Hex())
		}
	}

	raw, ok := ScaleAmount(amountIn, tokens[0].Decimals)
	if !ok {
		return model.Quote{}, ErrAmountNotReady
	}

	for hop := 0; hop < route.Hops(); hop++ {
		out, err := q.quoteHop(ctx, route.Tokens[hop], route.Tokens[hop+1], raw, route.Fees[hop])
		if err != nil {
			return model.Quote{}, err
		}
		q.logger.Debug("hop quoted",
			zap.Int("hop", hop),
			zap.String("token_in", tokens[hop].Symbol),
			zap.String("token_out", tokens[hop+1].Symbol),
			zap.String("amount_in", raw.String()),
			zap.String("amount_out", out.String()))

		if hop+1 < route.Hops() {
			// The next hop's input passes through the intermediate token's
			// human units; decimal arithmetic keeps the round trip exact.
			human := HumanAmount(out, tokens[hop+1].Decimals)
			raw = human.Shift(int32(tokens[hop+1].Decimals)).BigInt()
		} else {
			raw = out
		}
	}

	return model.Quote{
		Route:        route,
		AmountOut:    raw,
		MinAmountOut: MinAmountOut(raw, slippageBps),
	}, nil
}

// quoteHop prices a single hop. The quoting contract reverts when the
// hop's pool does not exist or cannot absorb the amount, which surfaces as
// ErrPoolNotFound.
func (q *Quoter) quoteHop(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, fee model.FeeTier) (*big.Int, error) {
	data, err := dex.PackQuoteExactInputSingle(tokenIn, tokenOut, amountIn, fee)
	if err != nil {
		return nil, fmt.Errorf("pack quote: %w", err)
	}

	ret, err := q.caller.CallContract(ctx, ethereum.CallMsg{To: &q.quoter, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s -> %s fee %d: %v", ErrPoolNotFound, tokenIn.Hex(), tokenOut.Hex(), fee, err)
	}
	out, ok := dex.UnpackQuoteAmountOut(ret)
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s fee %d: malformed quoter response", ErrPoolNotFound, tokenIn.Hex(), tokenOut.Hex(), fee)
	}
	return out, nil
}
