// Package tickmath converts between tick indices, sqrt-price fixed point
// values and human-readable prices. All functions are pure and deterministic.
package tickmath

import (
	"errors"
	"math"
	"math/big"
)

// Protocol-wide tick bounds. Prices outside 1.0001^±887272 cannot be
// represented by the pool contracts.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

// ErrInvalidRange reports a non-positive tick spacing or an inverted or
// out-of-domain band request.
var ErrInvalidRange = errors.New("invalid tick range")

// Direction selects which way AlignTick rounds a tick that is not already
// a multiple of the spacing.
type Direction int

const (
	Down Direction = iota
	Up
)

var logBase = math.Log(1.0001)

// PriceFromSqrtX96 converts a pool's sqrtPriceX96 into a human-readable
// token1-per-token0 price. The square of a uint160 needs up to 320 bits, so
// the numerator is kept in big.Int and the decimal adjustment is folded into
// the integer quotient before the single float conversion. A nil or
// non-positive input yields NaN, which callers treat as an uninitialized
// pool, not a failure.
func PriceFromSqrtX96(sqrtPriceX96 *big.Int, decimals0, decimals1 uint8) float64 {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return math.NaN()
	}
	num := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	den := new(big.Int).Lsh(big.NewInt(1), 192)
	if decimals0 >= decimals1 {
		num.Mul(num, pow10(decimals0-decimals1))
	} else {
		den.Mul(den, pow10(decimals1-decimals0))
	}
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(num), new(big.Float).SetInt(den)).Float64()
	return out
}

// PriceFromTick returns 1.0001^tick scaled by 10^(decimals0-decimals1).
func PriceFromTick(tick int32, decimals0, decimals1 uint8) float64 {
	return math.Pow(1.0001, float64(tick)) * decimalFactor(decimals0, decimals1)
}

// TickFromPrice inverts PriceFromTick, returning the raw fractional tick.
// Non-positive prices produce a non-finite result.
func TickFromPrice(price float64, decimals0, decimals1 uint8) float64 {
	return math.Log(price/decimalFactor(decimals0, decimals1)) / logBase
}

// AlignTick rounds rawTick to a multiple of spacing in the given direction
// using exact integer arithmetic, then clamps the result to
// [MinTick, MaxTick]. The clamp runs after alignment. Callers targeting the
// full protocol range must align the lower bound Up and the upper bound
// Down: flooring both ends would push the lower bound below MinTick.
func AlignTick(rawTick, spacing int32, dir Direction) (int32, error) {
	if spacing <= 0 {
		return 0, ErrInvalidRange
	}
	t, s := int64(rawTick), int64(spacing)
	q := t / s
	switch dir {
	case Down:
		if t%s != 0 && t < 0 {
			q--
		}
	case Up:
		if t%s != 0 && t > 0 {
			q++
		}
	default:
		return 0, ErrInvalidRange
	}
	aligned := q * s
	if aligned < int64(MinTick) {
		aligned = int64(MinTick)
	}
	if aligned > int64(MaxTick) {
		aligned = int64(MaxTick)
	}
	return int32(aligned), nil
}

// FullRangeTicks returns the widest bounds usable with the given spacing,
// both multiples of spacing and both inside [MinTick, MaxTick].
func FullRangeTicks(spacing int32) (lower, upper int32, err error) {
	lower, err = AlignTick(MinTick, spacing, Up)
	if err != nil {
		return 0, 0, err
	}
	upper, err = AlignTick(MaxTick, spacing, Down)
	if err != nil {
		return 0, 0, err
	}
	return lower, upper, nil
}

// BandTicks turns a symmetric percent band around currentTick into aligned
// tick bounds. The lower bound aligns Down and the upper bound Up, so an
// approximate band is always widened outward to valid ticks, never narrowed.
// pct must sit strictly inside (0, 100).
func BandTicks(currentTick, spacing int32, pct float64) (lower, upper int32, err error) {
	if spacing <= 0 || math.IsNaN(pct) || pct <= 0 || pct >= 100 {
		return 0, 0, ErrInvalidRange
	}
	down := math.Log(1-pct/100) / logBase
	up := math.Log(1+pct/100) / logBase
	lowerRaw := int64(math.Floor(float64(currentTick) + down))
	upperRaw := int64(math.Ceil(float64(currentTick) + up))
	lower, err = AlignTick(clampTick(lowerRaw), spacing, Down)
	if err != nil {
		return 0, 0, err
	}
	upper, err = AlignTick(clampTick(upperRaw), spacing, Up)
	if err != nil {
		return 0, 0, err
	}
	return lower, upper, nil
}

func decimalFactor(decimals0, decimals1 uint8) float64 {
	return math.Pow(10, float64(decimals0)-float64(decimals1))
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func clampTick(t int64) int32 {
	if t < int64(MinTick) {
		return MinTick
	}
	if t > int64(MaxTick) {
		return MaxTick
	}
	return int32(t)
}
