// Package probe fans read-only contract calls out in fixed-size chunks and
// reports every call's outcome inline. A failing call is data, not an error:
// callers always get one result per call, in call order.
package probe

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"swapScope/internal/dex"
)

// DefaultChunkSize is the number of calls grouped into one batch. Public
// RPC endpoints tolerate batches between roughly 50 and 200 subcalls.
const DefaultChunkSize = 100

// successRatioFloor is the minimum fraction of usable subcall results an
// aggregated batch must produce before it is trusted. Below the floor the
// whole chunk is re-issued call by call.
const successRatioFloor = 0.05

var errSubcallReverted = errors.New("batched subcall reverted")

// Call is one logical contract read.
type Call struct {
	To   common.Address
	Data []byte
}

// Result is the outcome of one call.
type Result struct {
	Ok   bool
	Data []byte
	Err  error
}

// Engine executes call batches against a chain backend. With a non-zero
// multicall address each chunk first goes out as a single aggregate3 call;
// an unusable batch degrades to independent concurrent reads.
type Engine struct {
	caller    ethereum.ContractCaller
	multicall common.Address
	chunkSize int
	logger    *zap.Logger
}

// NewEngine creates a probe engine. Passing the zero address as multicall
// disables aggregation so every call is issued independently.
func NewEngine(caller ethereum.ContractCaller, multicall common.Address, chunkSize int, logger *zap.Logger) *Engine {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		caller:    caller,
		multicall: multicall,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// ChunkSize returns the batch size the engine was configured with.
func (e *Engine) ChunkSize() int {
	return e.chunkSize
}

// Probe executes all calls and returns one result per call in call order.
// Chunks run sequentially to keep concurrent connections bounded. The only
// returned error is context cancellation; everything else is inline data.
func (e *Engine) Probe(ctx context.Context, calls []Call) ([]Result, error) {
	results := make([]Result, 0, len(calls))
	for start := 0; start < len(calls); start += e.chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + e.chunkSize
		if end > len(calls) {
			end = len(calls)
		}
		results = append(results, e.probeChunk(ctx, calls[start:end])...)
	}
	return results, nil
}

func (e *Engine) probeChunk(ctx context.Context, chunk []Call) []Result {
	if e.multicall != (common.Address{}) {
		if results, ok := e.tryAggregate(ctx, chunk); ok {
			return results
		}
	}
	return e.probeEach(ctx, chunk)
}

// tryAggregate runs the chunk as one aggregate3 call. ok=false means the
// aggregated attempt is unusable and the chunk must be re-issued call by
// call.
func (e *Engine) tryAggregate(ctx context.Context, chunk []Call) ([]Result, bool) {
	subcalls := make([]dex.Call3, len(chunk))
	for i, call := range chunk {
		subcalls[i] = dex.Call3{Target: call.To, AllowFailure: true, CallData: call.Data}
	}

	data, err := dex.PackAggregate3(subcalls)
	if err != nil {
		e.logger.Warn("aggregate batch pack failed", zap.Error(err))
		return nil, false
	}

	msg := ethereum.CallMsg{To: &e.multicall, Data: data}
	resp, err := e.caller.CallContract(ctx, msg, nil)
	if err != nil {
		e.logger.Warn("aggregate batch call failed, degrading to single calls",
			zap.Int("calls", len(chunk)), zap.Error(err))
		return nil, false
	}

	decoded, err := dex.UnpackAggregate3(resp)
	if err != nil || len(decoded) != len(chunk) {
		e.logger.Warn("aggregate batch response unusable, degrading to single calls",
			zap.Int("calls", len(chunk)), zap.Error(err))
		return nil, false
	}

	results := make([]Result, len(chunk))
	succeeded := 0
	for i, entry := range decoded {
		if entry.Success && len(entry.ReturnData) > 0 {
			results[i] = Result{Ok: true, Data: entry.ReturnData}
			succeeded++
		} else {
			results[i] = Result{Err: errSubcallReverted}
		}
	}

	if float64(succeeded) < successRatioFloor*float64(len(chunk)) {
		e.logger.Warn("aggregate batch below success floor, degrading to single calls",
			zap.Int("succeeded", succeeded), zap.Int("calls", len(chunk)))
		return nil, false
	}
	return results, true
}

// probeEach issues every call in the chunk concurrently and waits for all
// outcomes. A failing call never cancels or corrupts its siblings.
func (e *Engine) probeEach(ctx context.Context, chunk []Call) []Result {
	results := make([]Result, len(chunk))
	var wg sync.WaitGroup
	for i := range chunk {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			call := chunk[i]
			msg := ethereum.CallMsg{To: &call.To, Data: call.Data}
			data, err := e.caller.CallContract(ctx, msg, nil)
			if err != nil {
				results[i] = Result{Err: err}
				return
			}
			results[i] = Result{Ok: true, Data: data}
		}(i)
	}
	wg.Wait()
	return results
}
