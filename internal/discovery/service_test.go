package discovery

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"swapScope/internal/cache"
	"swapScope/internal/dex"
	"swapScope/internal/model"
)

var (
	errNoContract = errors.New("execution reverted")

	factoryAddr   = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	multicallAddr = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

	wethAddr = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdcAddr = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	daiAddr  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

	pool1Addr = common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")
	pool2Addr = common.HexToAddress("0xC2e9F25Be6257c210d7Adf0D4Cd6E3E881ba25f8")
	pool3Addr = common.HexToAddress("0x5777d92f208679DB4b9778590Fa3CAB3aC9e2168")
)

func testTokens() []model.Token {
	return []model.Token{
		{Address: wethAddr.Hex(), ChainID: 1, Decimals: 18, Symbol: "WETH"},
		{Address: usdcAddr.Hex(), ChainID: 1, Decimals: 6, Symbol: "USDC"},
		{Address: daiAddr.Hex(), ChainID: 1, Decimals: 18, Symbol: "DAI"},
	}
}

// fakeChain answers contract calls from a canned table keyed by target and
// calldata. getPool calls against the factory answer with the zero address
// when no pool was registered; any other unknown call reverts. Calls against
// the multicall address are decoded and served subcall by subcall.
type fakeChain struct {
	mu    sync.Mutex
	calls int

	factory   common.Address
	multicall common.Address
	failFirst int // the first n calls fail wholesale
	responses map[string][]byte
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		factory:   factoryAddr,
		multicall: multicallAddr,
		responses: map[string][]byte{},
	}
}

func chainCallKey(to common.Address, data []byte) string {
	return to.Hex() + ":" + hex.EncodeToString(data)
}

func (f *fakeChain) register(to common.Address, data, ret []byte) {
	f.responses[chainCallKey(to, data)] = ret
}

func (f *fakeChain) lookup(to common.Address, data []byte) ([]byte, bool) {
	if payload, ok := f.responses[chainCallKey(to, data)]; ok {
		return payload, true
	}
	if to == f.factory {
		return make([]byte, 32), true
	}
	return nil, false
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	failing := f.calls <= f.failFirst
	f.mu.Unlock()

	if failing || msg.To == nil {
		return nil, errNoContract
	}
	if f.multicall != (common.Address{}) && *msg.To == f.multicall {
		return f.serveAggregate(msg.Data)
	}
	payload, ok := f.lookup(*msg.To, msg.Data)
	if !ok {
		return nil, errNoContract
	}
	return payload, nil
}

func (f *fakeChain) serveAggregate(data []byte) ([]byte, error) {
	mcABI, err := dex.Multicall3ABI()
	if err != nil {
		return nil, err
	}
	values, err := mcABI.Methods["aggregate3"].Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	subcalls := *abi.ConvertType(values[0], new([]dex.Call3)).(*[]dex.Call3)

	results := make([]dex.Multicall3Result, len(subcalls))
	for i, sub := range subcalls {
		payload, ok := f.lookup(sub.Target, sub.CallData)
		if !ok {
			results[i] = dex.Multicall3Result{Success: false, ReturnData: []byte{}}
			continue
		}
		results[i] = dex.Multicall3Result{Success: true, ReturnData: payload}
	}
	return mcABI.Methods["aggregate3"].Outputs.Pack(results)
}

func (f *fakeChain) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type poolFixture struct {
	pool         common.Address
	tokenA       common.Address
	tokenB       common.Address
	fee          model.FeeTier
	sqrtPriceX96 *big.Int
	tick         int32
	liquidity    *big.Int
	tickSpacing  int32
	stateBroken  bool // factory knows the pool but its state reads revert
}

func (f *fakeChain) addPool(t *testing.T, fx poolFixture) {
	t.Helper()

	key, err := model.NewPoolKey(fx.tokenA, fx.tokenB, fx.fee)
	if err != nil {
		t.Fatalf("pool key: %v", err)
	}
	getPoolData, err := dex.PackGetPool(key.Token0, key.Token1, key.Fee)
	if err != nil {
		t.Fatalf("pack getPool: %v", err)
	}
	f.register(f.factory, getPoolData, common.LeftPadBytes(fx.pool.Bytes(), 32))
	if fx.stateBroken {
		return
	}

	poolABI, err := dex.V3PoolABI()
	if err != nil {
		t.Fatalf("pool abi: %v", err)
	}
	pack := func(method string, values ...interface{}) []byte {
		out, err := poolABI.Methods[method].Outputs.Pack(values...)
		if err != nil {
			t.Fatalf("pack %s outputs: %v", method, err)
		}
		return out
	}

	slot0Data, err := dex.PackSlot0()
	if err != nil {
		t.Fatalf("pack slot0: %v", err)
	}
	f.register(fx.pool, slot0Data, pack("slot0",
		fx.sqrtPriceX96, big.NewInt(int64(fx.tick)),
		uint16(0), uint16(0), uint16(0), uint8(0), true))

	liquidityData, err := dex.PackLiquidity()
	if err != nil {
		t.Fatalf("pack liquidity: %v", err)
	}
	f.register(fx.pool, liquidityData, pack("liquidity", fx.liquidity))

	spacingData, err := dex.PackTickSpacing()
	if err != nil {
		t.Fatalf("pack tickSpacing: %v", err)
	}
	f.register(fx.pool, spacingData, pack("tickSpacing", big.NewInt(int64(fx.tickSpacing))))
}

func wethUsdcPool() poolFixture {
	sqrtPrice, _ := new(big.Int).SetString("1461446703485210103287273052203988822378723970341", 10)
	return poolFixture{
		pool:         pool1Addr,
		tokenA:       wethAddr,
		tokenB:       usdcAddr,
		fee:          model.FeeLow,
		sqrtPriceX96: sqrtPrice,
		tick:         -138163,
		liquidity:    big.NewInt(22_402_462_192),
		tickSpacing:  10,
	}
}

func wethDaiPool() poolFixture {
	return poolFixture{
		pool:         pool2Addr,
		tokenA:       wethAddr,
		tokenB:       daiAddr,
		fee:          model.FeeMedium,
		sqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96),
		tick:         0,
		liquidity:    big.NewInt(777_000_111),
		tickSpacing:  60,
	}
}

func newTestService(t *testing.T, backend *fakeChain, mutate ...func(*Config)) *Service {
	t.Helper()
	cfg := Config{
		Caller:    backend,
		Factory:   factoryAddr,
		Multicall: multicallAddr,
		ChainID:   1,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

type memorySink struct {
	pools  []model.PoolState
	errs   []string
	failAt int // WritePool fails on the nth write (1-based), 0 never
	writes int
}

func (m *memorySink) WritePool(state model.PoolState) error {
	m.writes++
	if m.failAt > 0 && m.writes >= m.failAt {
		return errors.New("sink full")
	}
	m.pools = append(m.pools, state)
	return nil
}

func (m *memorySink) WriteError(msg string) error {
	m.errs = append(m.errs, msg)
	return nil
}

func assertPoolState(t *testing.T, got model.PoolState, fx poolFixture) {
	t.Helper()
	if got.PoolAddress != fx.pool {
		t.Fatalf("pool address %s, want %s", got.PoolAddress.Hex(), fx.pool.Hex())
	}
	token0, token1, err := model.SortTokens(fx.tokenA, fx.tokenB)
	if err != nil {
		t.Fatalf("sort tokens: %v", err)
	}
	if got.Token0 != token0 || got.Token1 != token1 {
		t.Fatalf("pair (%s, %s) not canonical", got.Token0.Hex(), got.Token1.Hex())
	}
	if got.Fee != fx.fee {
		t.Fatalf("fee %d, want %d", got.Fee, fx.fee)
	}
	if got.TickSpacing != fx.tickSpacing {
		t.Fatalf("tick spacing %d, want %d", got.TickSpacing, fx.tickSpacing)
	}
	if got.Liquidity.Cmp(fx.liquidity) != 0 {
		t.Fatalf("liquidity %s, want %s", got.Liquidity, fx.liquidity)
	}
	if got.SqrtPriceX96.Cmp(fx.sqrtPriceX96) != 0 {
		t.Fatalf("sqrt price %s, want %s", got.SqrtPriceX96, fx.sqrtPriceX96)
	}
	if got.Tick != fx.tick {
		t.Fatalf("tick %d, want %d", got.Tick, fx.tick)
	}
	if wantInit := fx.sqrtPriceX96.Sign() > 0; got.Initialized != wantInit {
		t.Fatalf("initialized %v, want %v", got.Initialized, wantInit)
	}
}

func TestDiscoverFindsPools(t *testing.T) {
	backend := newFakeChain()
	p1, p2 := wethUsdcPool(), wethDaiPool()
	backend.addPool(t, p1)
	backend.addPool(t, p2)

	svc := newTestService(t, backend)
	states, err := svc.Discover(context.Background(), testTokens())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	if len(states) != 2 {
		t.Fatalf("pool count %d, want 2", len(states))
	}
	// Universe order puts the WETH/USDC pair before WETH/DAI.
	assertPoolState(t, states[0], p1)
	assertPoolState(t, states[1], p2)

	// One aggregated existence batch plus one aggregated state batch.
	if got := backend.callCount(); got != 2 {
		t.Fatalf("backend saw %d calls, want 2", got)
	}
}

func TestDiscoverReturnsUninitializedPools(t *testing.T) {
	backend := newFakeChain()
	empty := poolFixture{
		pool:         pool3Addr,
		tokenA:       usdcAddr,
		tokenB:       daiAddr,
		fee:          model.FeeLowest,
		sqrtPriceX96: big.NewInt(0),
		tick:         0,
		liquidity:    big.NewInt(0),
		tickSpacing:  1,
	}
	backend.addPool(t, empty)

	states, err := newTestService(t, backend).Discover(context.Background(), testTokens())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("pool count %d, want 1", len(states))
	}
	if states[0].Initialized {
		t.Fatalf("a zero sqrt price must mark the pool uninitialized")
	}
}

func TestDiscoverSkipsPoolWithBrokenState(t *testing.T) {
	backend := newFakeChain()
	p1 := wethUsdcPool()
	backend.addPool(t, p1)
	backend.addPool(t, poolFixture{
		pool:        pool2Addr,
		tokenA:      wethAddr,
		tokenB:      daiAddr,
		fee:         model.FeeMedium,
		stateBroken: true,
	})

	states, err := newTestService(t, backend).Discover(context.Background(), testTokens())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("pool count %d, want only the healthy pool", len(states))
	}
	assertPoolState(t, states[0], p1)
}

func TestDiscoverFallbackRescanOnEmptyFirstPass(t *testing.T) {
	backend := newFakeChain()
	backend.factory = common.Address{} // every factory call reverts

	states, err := newTestService(t, backend).Discover(context.Background(), testTokens())
	if err != nil {
		t.Fatalf("an empty chain must not fail the scan: %v", err)
	}
	if len(states) != 0 {
		t.Fatalf("pool count %d, want 0", len(states))
	}

	// First pass: one aggregate, full degrade, 12 singles. Rescan: 12
	// unbatched probes over the reordered universe.
	if got := backend.callCount(); got != 25 {
		t.Fatalf("backend saw %d calls, want 25", got)
	}
}

func TestDiscoverFallbackFindsPools(t *testing.T) {
	backend := newFakeChain()
	p1, p2 := wethUsdcPool(), wethDaiPool()
	backend.addPool(t, p1)
	backend.addPool(t, p2)
	// The whole first pass fails at the transport: the aggregate call and
	// the 12 per-call retries. The rescan then runs against a healthy chain.
	backend.failFirst = 13

	states, err := newTestService(t, backend).Discover(context.Background(), testTokens())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("pool count %d, want 2 from the rescan", len(states))
	}
	assertPoolState(t, states[0], p1)
	assertPoolState(t, states[1], p2)

	// 13 failures, then 12 unbatched existence probes and 6 unbatched
	// state reads.
	if got := backend.callCount(); got != 31 {
		t.Fatalf("backend saw %d calls, want 31", got)
	}
}

func TestDiscoverServesFromCache(t *testing.T) {
	p1 := wethUsdcPool()
	token0, token1, _ := model.SortTokens(p1.tokenA, p1.tokenB)
	cached := []model.PoolState{{
		PoolAddress:  p1.pool,
		Token0:       token0,
		Token1:       token1,
		Fee:          p1.fee,
		TickSpacing:  p1.tickSpacing,
		Liquidity:    p1.liquidity,
		SqrtPriceX96: p1.sqrtPriceX96,
		Tick:         p1.tick,
		Initialized:  true,
	}}
	data, err := json.Marshal(cached)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	mem := cache.NewMemory()
	if err := mem.Set(context.Background(), "pools:1", data, time.Minute); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	backend := newFakeChain()
	svc := newTestService(t, backend, func(cfg *Config) { cfg.Cache = mem })

	states, err := svc.Discover(context.Background(), testTokens())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !reflect.DeepEqual(states, cached) {
		t.Fatalf("cache round-trip mismatch:\n got %+v\nwant %+v", states, cached)
	}
	if got := backend.callCount(); got != 0 {
		t.Fatalf("cache hit still reached the chain: %d calls", got)
	}
}

func TestDiscoverWritesCache(t *testing.T) {
	backend := newFakeChain()
	backend.addPool(t, wethUsdcPool())

	mem := cache.NewMemory()
	svc := newTestService(t, backend, func(cfg *Config) { cfg.Cache = mem })

	first, err := svc.Discover(context.Background(), testTokens())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	chainCalls := backend.callCount()

	second, err := svc.Discover(context.Background(), testTokens())
	if err != nil {
		t.Fatalf("second discover: %v", err)
	}
	if backend.callCount() != chainCalls {
		t.Fatalf("second scan reached the chain despite the cache")
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("cached scan differs from the original")
	}
}

// failStore errors on every operation; scans must treat that as a miss.
type failStore struct{}

func (failStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("cache down")
}

func (failStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func TestDiscoverSurvivesCacheFailure(t *testing.T) {
	backend := newFakeChain()
	p1 := wethUsdcPool()
	backend.addPool(t, p1)

	svc := newTestService(t, backend, func(cfg *Config) { cfg.Cache = failStore{} })
	states, err := svc.Discover(context.Background(), testTokens())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("pool count %d, want 1", len(states))
	}
	assertPoolState(t, states[0], p1)
}

func TestDiscoverContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newTestService(t, newFakeChain()).Discover(ctx, testTokens()); err == nil {
		t.Fatalf("expected a context error")
	}
}

func TestStreamEmitsPoolsAndErrors(t *testing.T) {
	backend := newFakeChain()
	p1 := wethUsdcPool()
	backend.addPool(t, p1)
	backend.addPool(t, poolFixture{
		pool:        pool2Addr,
		tokenA:      wethAddr,
		tokenB:      daiAddr,
		fee:         model.FeeMedium,
		stateBroken: true,
	})

	sink := &memorySink{}
	n, err := newTestService(t, backend).Stream(context.Background(), testTokens(), sink)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	if n != 1 || len(sink.pools) != 1 {
		t.Fatalf("emitted %d pools (reported %d), want 1", len(sink.pools), n)
	}
	assertPoolState(t, sink.pools[0], p1)
	if len(sink.errs) != 1 || !strings.Contains(sink.errs[0], pool2Addr.Hex()) {
		t.Fatalf("error lines %q, want one naming the broken pool", sink.errs)
	}
}

func TestStreamChunksUniverse(t *testing.T) {
	backend := newFakeChain()
	backend.addPool(t, wethUsdcPool())
	backend.addPool(t, wethDaiPool())

	svc := newTestService(t, backend, func(cfg *Config) { cfg.ChunkSize = 4 })
	sink := &memorySink{}
	n, err := svc.Stream(context.Background(), testTokens(), sink)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if n != 2 {
		t.Fatalf("emitted %d, want 2", n)
	}

	// Three existence chunks of four keys each, plus a state batch for the
	// two chunks that hit a pool.
	if got := backend.callCount(); got != 5 {
		t.Fatalf("backend saw %d calls, want 5", got)
	}
}

func TestStreamResumesFromCheckpoint(t *testing.T) {
	backend := newFakeChain()
	p1, p2 := wethUsdcPool(), wethDaiPool()
	backend.addPool(t, p1)
	backend.addPool(t, p2)

	path := filepath.Join(t.TempDir(), "scan.json")
	newSvc := func() *Service {
		return newTestService(t, backend, func(cfg *Config) {
			cfg.ChunkSize = 4
			cfg.Checkpoint = NewCheckpointStore(path, true)
		})
	}

	// First run: the sink fails while writing the second pool, which lives
	// in the second chunk. Only the first chunk's offset is on disk.
	svc := newSvc()
	failing := &memorySink{failAt: 2}
	n, err := svc.Stream(context.Background(), testTokens(), failing)
	if err == nil {
		t.Fatalf("expected the sink failure to surface")
	}
	if n != 1 || len(failing.pools) != 1 {
		t.Fatalf("emitted %d pools before failing, want 1", len(failing.pools))
	}

	cp, ok, err := NewCheckpointStore(path, true).Load()
	if err != nil || !ok {
		t.Fatalf("checkpoint after failure: ok=%v err=%v", ok, err)
	}
	if cp.NextOffset != 4 {
		t.Fatalf("checkpoint offset %d, want 4", cp.NextOffset)
	}

	// Second run resumes past the first chunk: the first pool is not
	// re-emitted and the checkpoint is cleared on completion.
	resumed := &memorySink{}
	n, err = newSvc().Stream(context.Background(), testTokens(), resumed)
	if err != nil {
		t.Fatalf("resumed stream: %v", err)
	}
	if n != 1 || len(resumed.pools) != 1 {
		t.Fatalf("resumed run emitted %d pools, want 1", len(resumed.pools))
	}
	assertPoolState(t, resumed.pools[0], p2)

	if _, ok, _ := NewCheckpointStore(path, true).Load(); ok {
		t.Fatalf("checkpoint survived a completed scan")
	}
}

func TestStreamResumedRunSkipsFallback(t *testing.T) {
	backend := newFakeChain() // no pools anywhere
	path := filepath.Join(t.TempDir(), "scan.json")

	svc := newTestService(t, backend, func(cfg *Config) {
		cfg.ChunkSize = 4
		cfg.Checkpoint = NewCheckpointStore(path, true)
	})

	keys := Universe(testTokens(), Limits{})
	if err := NewCheckpointStore(path, true).Save(svc.fingerprint(keys), 8); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	sink := &memorySink{}
	n, err := svc.Stream(context.Background(), testTokens(), sink)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if n != 0 {
		t.Fatalf("emitted %d, want 0", n)
	}
	// Only the final chunk is probed; a resumed run must not launch the
	// empty-first-pass rescan.
	if got := backend.callCount(); got != 1 {
		t.Fatalf("backend saw %d calls, want 1", got)
	}
}

func TestStreamIgnoresStaleCheckpoint(t *testing.T) {
	backend := newFakeChain()
	backend.addPool(t, wethUsdcPool())
	path := filepath.Join(t.TempDir(), "scan.json")

	if err := NewCheckpointStore(path, true).Save("different universe", 8); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	svc := newTestService(t, backend, func(cfg *Config) {
		cfg.ChunkSize = 4
		cfg.Checkpoint = NewCheckpointStore(path, true)
	})
	sink := &memorySink{}
	n, err := svc.Stream(context.Background(), testTokens(), sink)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	// A fingerprint mismatch restarts from the top, so the pool in the
	// first chunk is found.
	if n != 1 {
		t.Fatalf("emitted %d, want 1", n)
	}
}

func TestStreamRequiresSink(t *testing.T) {
	if _, err := newTestService(t, newFakeChain()).Stream(context.Background(), testTokens(), nil); err == nil {
		t.Fatalf("expected an error for a nil sink")
	}
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(Config{Factory: factoryAddr}); err == nil {
		t.Fatalf("expected an error without a caller")
	}
	if _, err := NewService(Config{Caller: newFakeChain()}); err == nil {
		t.Fatalf("expected an error without a factory")
	}
}
