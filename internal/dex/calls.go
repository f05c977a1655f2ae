package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"swapScope/internal/model"
)

// Call3 is one aggregate3 subcall. AllowFailure keeps a reverting subcall
// from failing the whole batch.
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Multicall3Result mirrors the per-subcall aggregate3 return tuple.
type Multicall3Result struct {
	Success    bool
	ReturnData []byte
}

// Slot0 carries the price fields of a pool's slot0. The rest of the tuple
// is oracle bookkeeping this engine never reads.
type Slot0 struct {
	SqrtPriceX96 *big.Int
	Tick         int32
}

// QuoteExactInputSingleParams mirrors the QuoterV2 tuple argument. Field
// names line up with the ABI component names for reflection-based packing.
type QuoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// PackGetPool encodes factory getPool(tokenA, tokenB, fee).
func PackGetPool(tokenA, tokenB common.Address, fee model.FeeTier) ([]byte, error) {
	factoryABI, err := V3FactoryABI()
	if err != nil {
		return nil, err
	}
	return factoryABI.Pack("getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(fee)))
}

// UnpackPoolAddress decodes a getPool return value. The factory answers the
// zero address for pairs without a pool, so both that and any malformed
// payload read as "no pool", never as an error.
func UnpackPoolAddress(data []byte) (common.Address, bool) {
	factoryABI, err := V3FactoryABI()
	if err != nil {
		return common.Address{}, false
	}
	values, err := factoryABI.Unpack("getPool", data)
	if err != nil || len(values) == 0 {
		return common.Address{}, false
	}
	addr, err := asAddress(values[0])
	if err != nil || addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}

// PackSlot0 encodes a pool slot0() call.
func PackSlot0() ([]byte, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, err
	}
	return poolABI.Pack("slot0")
}

// UnpackSlot0 decodes a slot0 response into its price fields.
func UnpackSlot0(data []byte) (Slot0, bool) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return Slot0{}, false
	}
	values, err := poolABI.Unpack("slot0", data)
	if err != nil || len(values) < 2 {
		return Slot0{}, false
	}
	sqrtPrice, err := asBigInt(values[0])
	if err != nil {
		return Slot0{}, false
	}
	tickBig, err := asBigInt(values[1])
	if err != nil {
		return Slot0{}, false
	}
	tick, err := int24FromBig(tickBig)
	if err != nil {
		return Slot0{}, false
	}
	return Slot0{SqrtPriceX96: sqrtPrice, Tick: tick}, true
}

// PackLiquidity encodes a pool liquidity() call.
func PackLiquidity() ([]byte, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, err
	}
	return poolABI.Pack("liquidity")
}

// UnpackLiquidity decodes a liquidity response.
func UnpackLiquidity(data []byte) (*big.Int, bool) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, false
	}
	values, err := poolABI.Unpack("liquidity", data)
	if err != nil || len(values) == 0 {
		return nil, false
	}
	liquidity, err := asBigInt(values[0])
	if err != nil {
		return nil, false
	}
	return liquidity, true
}

// PackTickSpacing encodes a pool tickSpacing() call.
func PackTickSpacing() ([]byte, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, err
	}
	return poolABI.Pack("tickSpacing")
}

// UnpackTickSpacing decodes a tickSpacing response.
func UnpackTickSpacing(data []byte) (int32, bool) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return 0, false
	}
	values, err := poolABI.Unpack("tickSpacing", data)
	if err != nil || len(values) == 0 {
		return 0, false
	}
	spacingBig, err := asBigInt(values[0])
	if err != nil {
		return 0, false
	}
	spacing, err := int24FromBig(spacingBig)
	if err != nil {
		return 0, false
	}
	return spacing, true
}

// PackQuoteExactInputSingle encodes a QuoterV2 single-hop quote with no
// price limit.
func PackQuoteExactInputSingle(tokenIn, tokenOut common.Address, amountIn *big.Int, fee model.FeeTier) ([]byte, error) {
	quoterABI, err := QuoterV2ABI()
	if err != nil {
		return nil, err
	}
	params := QuoteExactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               new(big.Int).SetUint64(uint64(fee)),
		SqrtPriceLimitX96: big.NewInt(0),
	}
	return quoterABI.Pack("quoteExactInputSingle", params)
}

// UnpackQuoteAmountOut decodes the amountOut field of a QuoterV2 response.
func UnpackQuoteAmountOut(data []byte) (*big.Int, bool) {
	quoterABI, err := QuoterV2ABI()
	if err != nil {
		return nil, false
	}
	values, err := quoterABI.Unpack("quoteExactInputSingle", data)
	if err != nil || len(values) == 0 {
		return nil, false
	}
	amountOut, err := asBigInt(values[0])
	if err != nil {
		return nil, false
	}
	return amountOut, true
}

// PackAggregate3 encodes a Multicall3 aggregate3 batch.
func PackAggregate3(calls []Call3) ([]byte, error) {
	mcABI, err := Multicall3ABI()
	if err != nil {
		return nil, err
	}
	return mcABI.Pack("aggregate3", calls)
}

// UnpackAggregate3 decodes the aggregate3 return array. Unlike the single
// call decoders this returns an error: a malformed batch response means the
// whole aggregated attempt is unusable and the caller falls back.
func UnpackAggregate3(data []byte) ([]Multicall3Result, error) {
	mcABI, err := Multicall3ABI()
	if err != nil {
		return nil, err
	}
	values, err := mcABI.Unpack("aggregate3", data)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregate3: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack aggregate3: empty return")
	}
	return *abi.ConvertType(values[0], new([]Multicall3Result)).(*[]Multicall3Result), nil
}
