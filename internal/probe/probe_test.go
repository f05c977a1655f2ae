package probe

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"swapScope/internal/dex"
)

var (
	errBackendDown = errors.New("backend down")

	multicallAddr = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")
	targetAddr    = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
)

// fakeBackend answers contract calls from a canned table keyed by calldata.
// Calls against the multicall address are decoded and served subcall by
// subcall so both probe paths see the same world.
type fakeBackend struct {
	mu    sync.Mutex
	calls int

	multicall     common.Address
	aggregateDown bool
	responses     map[string][]byte
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if msg.To != nil && f.multicall != (common.Address{}) && *msg.To == f.multicall {
		return f.serveAggregate(msg.Data)
	}

	payload, ok := f.responses[hex.EncodeToString(msg.Data)]
	if !ok {
		return nil, errBackendDown
	}
	return payload, nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) serveAggregate(data []byte) ([]byte, error) {
	if f.aggregateDown {
		return nil, errBackendDown
	}
	subcalls, err := unpackAggregateInput(data)
	if err != nil {
		return nil, err
	}
	results := make([]dex.Multicall3Result, len(subcalls))
	for i, sub := range subcalls {
		payload, ok := f.responses[hex.EncodeToString(sub.CallData)]
		if !ok {
			results[i] = dex.Multicall3Result{Success: false, ReturnData: []byte{}}
			continue
		}
		results[i] = dex.Multicall3Result{Success: true, ReturnData: payload}
	}
	return packAggregateOutput(results)
}

func unpackAggregateInput(data []byte) ([]dex.Call3, error) {
	mcABI, err := dex.Multicall3ABI()
	if err != nil {
		return nil, err
	}
	values, err := mcABI.Methods["aggregate3"].Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(values[0], new([]dex.Call3)).(*[]dex.Call3), nil
}

func packAggregateOutput(results []dex.Multicall3Result) ([]byte, error) {
	mcABI, err := dex.Multicall3ABI()
	if err != nil {
		return nil, err
	}
	return mcABI.Methods["aggregate3"].Outputs.Pack(results)
}

func callData(i int) []byte {
	return []byte{0xaa, byte(i)}
}

func payload(i int) []byte {
	out := make([]byte, 32)
	out[31] = byte(i)
	return out
}

func makeCalls(n int) []Call {
	calls := make([]Call, n)
	for i := range calls {
		calls[i] = Call{To: targetAddr, Data: callData(i)}
	}
	return calls
}

func TestProbeAggregatedBatch(t *testing.T) {
	backend := &fakeBackend{multicall: multicallAddr, responses: map[string][]byte{}}
	calls := makeCalls(7)
	for i := range calls {
		backend.responses[hex.EncodeToString(callData(i))] = payload(i)
	}

	engine := NewEngine(backend, multicallAddr, 100, nil)
	results, err := engine.Probe(context.Background(), calls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != len(calls) {
		t.Fatalf("result length %d, want %d", len(results), len(calls))
	}
	for i, res := range results {
		if !res.Ok {
			t.Fatalf("call %d: expected success, got %v", i, res.Err)
		}
		if !bytes.Equal(res.Data, payload(i)) {
			t.Fatalf("call %d: payload mismatch", i)
		}
	}
	if got := backend.callCount(); got != 1 {
		t.Fatalf("backend saw %d calls, want 1 aggregated call", got)
	}
}

func TestProbeFallbackMatchesPerCallEngine(t *testing.T) {
	responses := map[string][]byte{}
	for i := 0; i < 10; i++ {
		if i%3 == 0 {
			continue // every third call has no backing pool and fails
		}
		responses[hex.EncodeToString(callData(i))] = payload(i)
	}
	calls := makeCalls(10)

	degraded := &fakeBackend{multicall: multicallAddr, aggregateDown: true, responses: responses}
	plain := &fakeBackend{responses: responses}

	viaFallback, err := NewEngine(degraded, multicallAddr, 100, nil).Probe(context.Background(), calls)
	if err != nil {
		t.Fatalf("fallback probe: %v", err)
	}
	perCall, err := NewEngine(plain, common.Address{}, 100, nil).Probe(context.Background(), calls)
	if err != nil {
		t.Fatalf("per-call probe: %v", err)
	}

	if len(viaFallback) != len(perCall) {
		t.Fatalf("length mismatch: %d != %d", len(viaFallback), len(perCall))
	}
	for i := range viaFallback {
		if viaFallback[i].Ok != perCall[i].Ok {
			t.Fatalf("call %d: success mismatch", i)
		}
		if !bytes.Equal(viaFallback[i].Data, perCall[i].Data) {
			t.Fatalf("call %d: payload mismatch", i)
		}
	}
}

func TestProbeLowSuccessRatioDegrades(t *testing.T) {
	// One usable subcall out of forty sits below the 5% floor, so the batch
	// must be discarded and every call re-issued independently.
	backend := &fakeBackend{multicall: multicallAddr, responses: map[string][]byte{
		hex.EncodeToString(callData(0)): payload(0),
	}}
	calls := makeCalls(40)

	results, err := NewEngine(backend, multicallAddr, 100, nil).Probe(context.Background(), calls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	okCount := 0
	for i, res := range results {
		if res.Ok {
			okCount++
			continue
		}
		if !errors.Is(res.Err, errBackendDown) {
			t.Fatalf("call %d: expected the per-call error after degrade, got %v", i, res.Err)
		}
	}
	if okCount != 1 {
		t.Fatalf("ok count %d, want 1", okCount)
	}
	if got := backend.callCount(); got != 41 {
		t.Fatalf("backend saw %d calls, want 1 aggregate + 40 singles", got)
	}
}

func TestProbeKeepsBatchAtSuccessFloor(t *testing.T) {
	// Two usable subcalls out of forty is exactly 5%, which is not below
	// the floor: the batch result stands and no fallback is issued.
	backend := &fakeBackend{multicall: multicallAddr, responses: map[string][]byte{
		hex.EncodeToString(callData(3)): payload(3),
		hex.EncodeToString(callData(7)): payload(7),
	}}
	calls := makeCalls(40)

	results, err := NewEngine(backend, multicallAddr, 100, nil).Probe(context.Background(), calls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	okCount := 0
	for i, res := range results {
		if res.Ok {
			okCount++
			continue
		}
		if !errors.Is(res.Err, errSubcallReverted) {
			t.Fatalf("call %d: expected the batch revert marker, got %v", i, res.Err)
		}
	}
	if okCount != 2 {
		t.Fatalf("ok count %d, want 2", okCount)
	}
	if got := backend.callCount(); got != 1 {
		t.Fatalf("backend saw %d calls, want the single aggregate", got)
	}
}

func TestProbeMixedFailuresPreserveOrder(t *testing.T) {
	backend := &fakeBackend{responses: map[string][]byte{}}
	calls := makeCalls(6)
	for i := 0; i < 6; i += 2 {
		backend.responses[hex.EncodeToString(callData(i))] = payload(i)
	}

	results, err := NewEngine(backend, common.Address{}, 100, nil).Probe(context.Background(), calls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("result length %d, want 6", len(results))
	}
	for i, res := range results {
		wantOk := i%2 == 0
		if res.Ok != wantOk {
			t.Fatalf("call %d: ok=%v, want %v", i, res.Ok, wantOk)
		}
		if wantOk && !bytes.Equal(res.Data, payload(i)) {
			t.Fatalf("call %d: payload out of order", i)
		}
	}
}

func TestProbeChunksSequentially(t *testing.T) {
	backend := &fakeBackend{multicall: multicallAddr, responses: map[string][]byte{}}
	calls := makeCalls(25)
	for i := range calls {
		backend.responses[hex.EncodeToString(callData(i))] = payload(i)
	}

	engine := NewEngine(backend, multicallAddr, 10, nil)
	results, err := engine.Probe(context.Background(), calls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 25 {
		t.Fatalf("result length %d, want 25", len(results))
	}
	for i, res := range results {
		if !res.Ok || !bytes.Equal(res.Data, payload(i)) {
			t.Fatalf("call %d: bad result %+v", i, res)
		}
	}
	if got := backend.callCount(); got != 3 {
		t.Fatalf("backend saw %d calls, want 3 aggregated chunks", got)
	}
}

func TestProbeContextCancelled(t *testing.T) {
	backend := &fakeBackend{responses: map[string][]byte{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewEngine(backend, common.Address{}, 10, nil).Probe(ctx, makeCalls(5)); err == nil {
		t.Fatalf("expected a context error")
	}
}

func TestProbeEmptyInput(t *testing.T) {
	backend := &fakeBackend{}
	results, err := NewEngine(backend, common.Address{}, 10, nil).Probe(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestNewEngineDefaults(t *testing.T) {
	engine := NewEngine(&fakeBackend{}, common.Address{}, 0, nil)
	if engine.ChunkSize() != DefaultChunkSize {
		t.Fatalf("chunk size %d, want %d", engine.ChunkSize(), DefaultChunkSize)
	}
}
