// Package routing picks a swap path for a token pair and prices it. Route
// selection is direct-first: any existing direct pool wins over a two-hop
// path, even a deeper one; within each candidate set the fee tier with the
// most liquidity wins and earlier tiers take ties.
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
	"swapScope/internal/probe"
)

// Selector compares on-chain liquidity across the fee tier set to choose a
// route.
type Selector struct {
	engine  *probe.Engine
	factory common.Address
	logger  *zap.Logger
}

// NewSelector builds a route selector. A zero multicall address keeps all
// probes unbatched.
func NewSelector(caller ethereum.ContractCaller, factory, multicall common.Address, logger *zap.Logger) (*Selector, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is required")
	}
	if factory == (common.Address{}) {
		return nil, fmt.Errorf("factory address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		engine:  probe.NewEngine(caller, multicall, 0, logger),
		factory: factory,
		logger:  logger,
	}, nil
}

// feeCandidate is one fee tier's pool with its comparable liquidity score.
type feeCandidate struct {
	fee       model.FeeTier
	liquidity *big.Int
}

// SelectRoute returns the best route from tokenIn to tokenOut: the deepest
// direct pool when any exists, otherwise the two-hop path through the
// intermediary with the largest bottleneck liquidity. ErrNoRouteFound when
// neither candidate produces a usable pool.
func (s *Selector) SelectRoute(ctx context.Context, tokenIn, tokenOut, intermediary common.Address) (model.Route, error) {
	if tokenIn == tokenOut {
		return model.Route{}, fmt.Errorf("%w: tokenIn equals tokenOut", ErrInvalidRoute)
	}

	direct, err := s.bestDirect(ctx, tokenIn, tokenOut)
	if err != nil {
		return model.Route{}, err
	}
	if direct != nil {
		s.logger.Debug("direct route selected",
			zap.Uint32("fee", uint32(direct.fee)),
			zap.String("liquidity", direct.liquidity.String()))
		return model.Route{
			Tokens: []common.Address{tokenIn, tokenOut},
			Fees:   []model.FeeTier{direct.fee},
		}, nil
	}

	if intermediary == (common.Address{}) || intermediary == tokenIn || intermediary == tokenOut {
		return model.Route{}, ErrNoRouteFound
	}

	via, err := s.bestViaIntermediary(ctx, tokenIn, tokenOut, intermediary)
	if err != nil {
		return model.Route{}, err
	}
	if via == nil {
		return model.Route{}, ErrNoRouteFound
	}
	s.logger.Debug("two-hop route selected",
		zap.String("intermediary", intermediary.Hex()),
		zap.Uint32("fee", uint32(via.fee)),
		zap.String("bottleneck", via.liquidity.String()))
	return model.Route{
		Tokens: []common.Address{tokenIn, intermediary, tokenOut},
		Fees:   []model.FeeTier{via.fee, via.fee},
	}, nil
}

// bestDirect probes the pair across every fee tier and returns the existing
// pool with the most liquidity, or nil when none exists.
func (s *Selector) bestDirect(ctx context.Context, tokenIn, tokenOut common.Address) (*feeCandidate, error) {
	pools, err := s.poolsByFee(ctx, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	if len(pools) == 0 {
		return nil, nil
	}

	existing := make([]model.FeeTier, 0, len(pools))
	addrs := make([]common.Address, 0, len(pools))
	for _, fee := range model.FeeTiers() {
		if addr, ok := pools[fee]; ok {
			existing = append(existing, fee)
			addrs = append(addrs, addr)
		}
	}

	liquidities, err := s.liquidityOf(ctx, addrs)
	if err != nil {
		return nil, err
	}

	var best *feeCandidate
	for i, fee := range existing {
		if best == nil || liquidities[i].Cmp(best.liquidity) > 0 {
			best = &feeCandidate{fee: fee, liquidity: liquidities[i]}
		}
	}
	return best, nil
}

// bestViaIntermediary scores each fee tier whose two hop pools both exist by
// the smaller of the two liquidities and returns the best, or nil when no
// tier carries both hops.
func (s *Selector) bestViaIntermediary(ctx context.Context, tokenIn, tokenOut, intermediary common.Address) (*feeCandidate, error) {
	first, err := s.poolsByFee(ctx, tokenIn, intermediary)
	if err != nil {
		return nil, err
	}
	second, err := s.poolsByFee(ctx, intermediary, tokenOut)
	if err != nil {
		return nil, err
	}

	type hopPair struct {
		fee model.FeeTier
		in  common.Address
		out common.Address
	}
	pairs := make([]hopPair, 0, len(first))
	for _, fee := range model.FeeTiers() {
		a, okA := first[fee]
		b, okB := second[fee]
		if okA && okB {
			pairs = append(pairs, hopPair{fee: fee, in: a, out: b})
		}
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	addrs := make([]common.Address, 0, len(pairs)*2)
	for _, pair := range pairs {
		addrs = append(addrs, pair.in, pair.out)
	}
	liquidities, err := s.liquidityOf(ctx, addrs)
	if err != nil {
		return nil, err
	}

	var best *feeCandidate
	for i, pair := range pairs {
		bottleneck := liquidities[2*i]
		if liquidities[2*i+1].Cmp(bottleneck) < 0 {
			bottleneck = liquidities[2*i+1]
		}
		if best == nil || bottleneck.Cmp(best.liquidity) > 0 {
			best = &feeCandidate{fee: pair.fee, liquidity: bottleneck}
		}
	}
	return best, nil
}

// poolsByFee probes pool existence for the canonicalized pair across every
// fee tier. Failed probes and zero addresses are simply absent from the
// result.
func (s *Selector) poolsByFee(ctx context.Context, a, b common.Address) (map[model.FeeTier]common.Address, error) {
	fees := model.FeeTiers()
	calls := make([]probe.Call, len(fees))
	for i, fee := range fees {
		key, err := model.NewPoolKey(a, b, fee)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRoute, err)
		}
		data, err := dex.PackGetPool(key.Token0, key.Token1, key.Fee)
		if err != nil {
			return nil, fmt.Errorf("pack getPool: %w", err)
		}
		calls[i] = probe.Call{To: s.factory, Data: data}
	}

	results, err := s.engine.Probe(ctx, calls)
	if err != nil {
		return nil, err
	}

	pools := make(map[model.FeeTier]common.Address, len(fees))
	for i, res := range results {
		if !res.Ok {
			continue
		}
		addr, ok := dex.UnpackPoolAddress(res.Data)
		if !ok {
			continue
		}
		pools[fees[i]] = addr
	}
	return pools, nil
}

// liquidityOf reads each pool's in-range liquidity. A failed read scores
// zero so an existing pool still competes instead of vanishing.
func (s *Selector) liquidityOf(ctx context.Context, pools []common.Address) ([]*big.Int, error) {
	data, err := dex.PackLiquidity()
	if err != nil {
		return nil, fmt.Errorf("pack liquidity: %w", err)
	}
	calls := make([]probe.Call, len(pools))
	for i, pool := range pools {
		calls[i] = probe.Call{To: pool, Data: data}
	}

	results, err := s.engine.Probe(ctx, calls)
	if err != nil {
		return nil, err
	}

	out := make([]*big.Int, len(pools))
	for i, res := range results {
		if res.Ok {
			if liquidity, ok := dex.UnpackLiquidity(res.Data); ok {
				out[i] = liquidity
				continue
			}
		}
		out[i] = new(big.Int)
	}
	return out, nil
}
