// Package discovery turns a token list into the set of live pools and their
// current state. One scan costs up to pairs x fee tiers factory reads plus
// three state reads per discovered pool, so everything runs through the
// batched probe engine.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"swapScope/internal/cache"
	"swapScope/internal/dex"
	"swapScope/internal/model"
	"swapScope/internal/probe"
	"swapScope/internal/tickmath"
)

// DefaultCacheTTL bounds how long a cached scan is served before a fresh
// probe runs.
const DefaultCacheTTL = 5 * time.Minute

// Sink receives streaming discovery output. WriteError reports a
// recoverable per-pool failure; the scan keeps going afterwards.
type Sink interface {
	WritePool(state model.PoolState) error
	WriteError(msg string) error
}

// Config carries the discovery service dependencies and tunables.
type Config struct {
	Caller     ethereum.ContractCaller
	Factory    common.Address
	Multicall  common.Address // zero disables aggregated batches
	ChainID    uint64
	ChunkSize  int
	Limits     Limits
	Cache      cache.Store      // nil disables caching
	CacheTTL   time.Duration    // zero means DefaultCacheTTL
	Checkpoint *CheckpointStore // nil disables streaming resume
	Logger     *zap.Logger
}

// Service orchestrates the enumerator and the probe engine into pool scans.
type Service struct {
	caller     ethereum.ContractCaller
	engine     *probe.Engine
	factory    common.Address
	chainID    uint64
	chunkSize  int
	limits     Limits
	cache      cache.Store
	cacheTTL   time.Duration
	checkpoint *CheckpointStore
	logger     *zap.Logger
}

// NewService builds a discovery service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Caller == nil {
		return nil, fmt.Errorf("contract caller is required")
	}
	if cfg.Factory == (common.Address{}) {
		return nil, fmt.Errorf("factory address is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := cfg.Cache
	if store == nil {
		store = cache.Nop{}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &Service{
		caller:     cfg.Caller,
		engine:     probe.NewEngine(cfg.Caller, cfg.Multicall, cfg.ChunkSize, logger),
		factory:    cfg.Factory,
		chainID:    cfg.ChainID,
		chunkSize:  cfg.ChunkSize,
		limits:     cfg.Limits.withDefaults(),
		cache:      store,
		cacheTTL:   ttl,
		checkpoint: cfg.Checkpoint,
		logger:     logger,
	}, nil
}

// poolHit pairs an enumerated key with the pool address the factory
// reported for it.
type poolHit struct {
	key     model.PoolKey
	address common.Address
}

// Discover runs a buffered scan: one existence pass over the whole
// universe, then one state pass for everything found. Per-call failures
// shrink the result, they never fail the scan.
func (s *Service) Discover(ctx context.Context, tokens []model.Token) ([]model.PoolState, error) {
	if states, ok := s.cachedPools(ctx); ok {
		s.logger.Info("serving pools from cache", zap.Int("pools", len(states)))
		return states, nil
	}

	decimals := decimalsByAddress(tokens)
	keys := Universe(tokens, s.limits)
	s.logger.Info("existence scan",
		zap.Int("tokens", len(tokens)), zap.Int("probes", len(keys)))

	engine := s.engine
	hits, err := s.probeExistence(ctx, keys, engine)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		engine = s.fallbackEngine()
		hits, err = s.probeExistence(ctx, s.fallbackUniverse(tokens), engine)
		if err != nil {
			return nil, err
		}
	}

	states, skipped, err := s.probeStates(ctx, hits, decimals, engine)
	if err != nil {
		return nil, err
	}
	for _, msg := range skipped {
		s.logger.Warn(msg)
	}

	s.storePools(ctx, states)
	s.logger.Info("scan complete",
		zap.Int("pools", len(states)), zap.Int("skipped", len(skipped)))
	return states, nil
}

// Stream probes the universe chunk by chunk, emitting each discovered
// pool's state as soon as its chunk resolves, and returns the number of
// pools written to the sink. A configured checkpoint lets an interrupted
// scan resume mid-universe as long as the universe is unchanged.
func (s *Service) Stream(ctx context.Context, tokens []model.Token, sink Sink) (int, error) {
	if sink == nil {
		return 0, fmt.Errorf("sink is required")
	}

	decimals := decimalsByAddress(tokens)
	keys := Universe(tokens, s.limits)
	fingerprint := s.fingerprint(keys)

	offset := 0
	if s.checkpoint != nil {
		cp, ok, err := s.checkpoint.Load()
		if err != nil {
			return 0, err
		}
		if ok && cp.Fingerprint == fingerprint && cp.NextOffset > 0 && cp.NextOffset <= len(keys) {
			offset = cp.NextOffset
			s.logger.Info("resuming scan from checkpoint",
				zap.Int("offset", offset), zap.Int("probes", len(keys)))
		}
	}

	resumed := offset > 0
	emitted := 0
	anyHit := false
	chunk := s.engine.ChunkSize()

	for start := offset; start < len(keys); start += chunk {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}

		n, hit, err := s.streamChunk(ctx, keys[start:end], decimals, sink, s.engine)
		emitted += n
		anyHit = anyHit || hit
		if err != nil {
			return emitted, err
		}

		if s.checkpoint != nil {
			if err := s.checkpoint.Save(fingerprint, end); err != nil {
				s.logger.Warn("checkpoint save failed", zap.Error(err))
			}
		}
	}

	// A resumed scan cannot tell whether the pre-crash chunks had hits, so
	// only a complete empty first pass triggers the rescan.
	if !anyHit && !resumed {
		n, err := s.streamFallback(ctx, tokens, decimals, sink)
		emitted += n
		if err != nil {
			return emitted, err
		}
	}

	if s.checkpoint != nil {
		if err := s.checkpoint.Clear(); err != nil {
			s.logger.Warn("checkpoint clear failed", zap.Error(err))
		}
	}
	return emitted, nil
}

// streamChunk probes existence then state for one slice of the universe and
// writes every assembled pool to the sink.
func (s *Service) streamChunk(ctx context.Context, keys []model.PoolKey, decimals map[common.Address]uint8, sink Sink, engine *probe.Engine) (int, bool, error) {
	hits, err := s.probeExistence(ctx, keys, engine)
	if err != nil {
		return 0, false, err
	}
	anyHit := len(hits) > 0

	states, skipped, err := s.probeStates(ctx, hits, decimals, engine)
	if err != nil {
		return 0, anyHit, err
	}
	for _, msg := range skipped {
		s.logger.Warn(msg)
		if err := sink.WriteError(msg); err != nil {
			return 0, anyHit, fmt.Errorf("write stream error: %w", err)
		}
	}

	emitted := 0
	for _, state := range states {
		if err := sink.WritePool(state); err != nil {
			return emitted, anyHit, fmt.Errorf("write pool: %w", err)
		}
		emitted++
	}
	return emitted, anyHit, nil
}

// streamFallback is the reduced rescan after an empty first pass, emitted
// through the same sink.
func (s *Service) streamFallback(ctx context.Context, tokens []model.Token, decimals map[common.Address]uint8, sink Sink) (int, error) {
	keys := s.fallbackUniverse(tokens)
	s.logger.Warn("first pass found no pools, rescanning without batching",
		zap.Int("probes", len(keys)))

	engine := s.fallbackEngine()
	chunk := engine.ChunkSize()
	emitted := 0
	for start := 0; start < len(keys); start += chunk {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}
		n, _, err := s.streamChunk(ctx, keys[start:end], decimals, sink, engine)
		emitted += n
		if err != nil {
			return emitted, err
		}
	}
	return emitted, nil
}

// probeExistence asks the factory for each key's pool address. Only keys
// that answered with a non-zero address come back.
func (s *Service) probeExistence(ctx context.Context, keys []model.PoolKey, engine *probe.Engine) ([]poolHit, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	calls := make([]probe.Call, len(keys))
	for i, key := range keys {
		data, err := dex.PackGetPool(key.Token0, key.Token1, key.Fee)
		if err != nil {
			return nil, fmt.Errorf("pack getPool: %w", err)
		}
		calls[i] = probe.Call{To: s.factory, Data: data}
	}

	results, err := engine.Probe(ctx, calls)
	if err != nil {
		return nil, err
	}

	hits := make([]poolHit, 0, len(keys)/8+1)
	for i, res := range results {
		if !res.Ok {
			continue
		}
		addr, ok := dex.UnpackPoolAddress(res.Data)
		if !ok {
			continue
		}
		hits = append(hits, poolHit{key: keys[i], address: addr})
	}
	return hits, nil
}

// probeStates reads slot0, liquidity and tickSpacing for each discovered
// pool and assembles the states. Pools whose state reads fail are skipped
// and reported, never fatal.
func (s *Service) probeStates(ctx context.Context, hits []poolHit, decimals map[common.Address]uint8, engine *probe.Engine) ([]model.PoolState, []string, error) {
	if len(hits) == 0 {
		return nil, nil, nil
	}

	slot0Data, err := dex.PackSlot0()
	if err != nil {
		return nil, nil, fmt.Errorf("pack slot0: %w", err)
	}
	liquidityData, err := dex.PackLiquidity()
	if err != nil {
		return nil, nil, fmt.Errorf("pack liquidity: %w", err)
	}
	spacingData, err := dex.PackTickSpacing()
	if err != nil {
		return nil, nil, fmt.Errorf("pack tickSpacing: %w", err)
	}

	calls := make([]probe.Call, 0, len(hits)*3)
	for _, hit := range hits {
		calls = append(calls,
			probe.Call{To: hit.address, Data: slot0Data},
			probe.Call{To: hit.address, Data: liquidityData},
			probe.Call{To: hit.address, Data: spacingData},
		)
	}

	results, err := engine.Probe(ctx, calls)
	if err != nil {
		return nil, nil, err
	}

	states := make([]model.PoolState, 0, len(hits))
	var skipped []string
	for i, hit := range hits {
		slotRes, liqRes, spacingRes := results[3*i], results[3*i+1], results[3*i+2]
		if !slotRes.Ok || !liqRes.Ok || !spacingRes.Ok {
			skipped = append(skipped, fmt.Sprintf("pool %s: state probe failed", hit.address.Hex()))
			continue
		}
		slot, ok := dex.UnpackSlot0(slotRes.Data)
		if !ok {
			skipped = append(skipped, fmt.Sprintf("pool %s: slot0 malformed", hit.address.Hex()))
			continue
		}
		liquidity, ok := dex.UnpackLiquidity(liqRes.Data)
		if !ok {
			skipped = append(skipped, fmt.Sprintf("pool %s: liquidity malformed", hit.address.Hex()))
			continue
		}
		spacing, ok := dex.UnpackTickSpacing(spacingRes.Data)
		if !ok {
			skipped = append(skipped, fmt.Sprintf("pool %s: tickSpacing malformed", hit.address.Hex()))
			continue
		}

		state := model.PoolState{
			PoolAddress:  hit.address,
			Token0:       hit.key.Token0,
			Token1:       hit.key.Token1,
			Fee:          hit.key.Fee,
			TickSpacing:  spacing,
			Liquidity:    liquidity,
			SqrtPriceX96: slot.SqrtPriceX96,
			Tick:         slot.Tick,
			Initialized:  slot.SqrtPriceX96.Sign() > 0,
		}
		s.logPool(state, decimals)
		states = append(states, state)
	}
	return states, skipped, nil
}

func (s *Service) logPool(state model.PoolState, decimals map[common.Address]uint8) {
	fields := []zap.Field{
		zap.String("pool", state.PoolAddress.Hex()),
		zap.Uint32("fee", uint32(state.Fee)),
		zap.String("liquidity", state.Liquidity.String()),
		zap.Int32("tick", state.Tick),
	}
	dec0, ok0 := decimals[state.Token0]
	dec1, ok1 := decimals[state.Token1]
	if ok0 && ok1 && state.Initialized {
		fields = append(fields, zap.Float64("price", tickmath.PriceFromSqrtX96(state.SqrtPriceX96, dec0, dec1)))
	}
	s.logger.Debug("pool discovered", fields...)
}

// fallbackEngine issues independent calls only, no batching.
func (s *Service) fallbackEngine() *probe.Engine {
	return probe.NewEngine(s.caller, common.Address{}, s.chunkSize, s.logger)
}

// fallbackUniverse is the reduced universe for the rescan: a smaller pair
// cap and fee tiers in rough popularity order.
func (s *Service) fallbackUniverse(tokens []model.Token) []model.PoolKey {
	limits := s.limits
	if limits.MaxPairs > fallbackMaxPairs {
		limits.MaxPairs = fallbackMaxPairs
	}
	return universeWithFees(tokens, limits, model.FallbackFeeTiers())
}

// fingerprint identifies one exact probe universe.
func (s *Service) fingerprint(keys []model.PoolKey) string {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], s.chainID)
	h.Write(buf[:])
	h.Write(s.factory.Bytes())
	for _, key := range keys {
		h.Write(key.Token0.Bytes())
		h.Write(key.Token1.Bytes())
		binary.BigEndian.PutUint32(buf[:4], uint32(key.Fee))
		h.Write(buf[:4])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Service) cacheKey() string {
	return fmt.Sprintf("pools:%d", s.chainID)
}

func (s *Service) cachedPools(ctx context.Context) ([]model.PoolState, bool) {
	data, err := s.cache.Get(ctx, s.cacheKey())
	if err != nil {
		s.logger.Warn("cache read failed", zap.Error(err))
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}
	var states []model.PoolState
	if err := json.Unmarshal(data, &states); err != nil {
		s.logger.Warn("cache payload unreadable", zap.Error(err))
		return nil, false
	}
	return states, true
}

func (s *Service) storePools(ctx context.Context, states []model.PoolState) {
	if len(states) == 0 {
		return
	}
	data, err := json.Marshal(states)
	if err != nil {
		s.logger.Warn("cache encode failed", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, s.cacheKey(), data, s.cacheTTL); err != nil {
		s.logger.Warn("cache write failed", zap.Error(err))
	}
}

func decimalsByAddress(tokens []model.Token) map[common.Address]uint8 {
	out := make(map[common.Address]uint8, len(tokens))
	for _, token := range tokens {
		out[token.Addr()] = token.Decimals
	}
	return out
}
