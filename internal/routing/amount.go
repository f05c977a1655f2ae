package routing

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxSlippageBps caps the slippage tolerance at 50%.
const MaxSlippageBps = 5000

// ScaleAmount converts a human-readable decimal amount into the token's raw
// integer units, truncating anything below one raw unit. ok is false when
// the input does not parse or does not scale to a positive value.
func ScaleAmount(amount string, decimals uint8) (*big.Int, bool) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, false
	}
	human, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, false
	}
	if human.Sign() <= 0 {
		return nil, false
	}
	raw := human.Shift(int32(decimals)).Floor()
	if raw.Sign() <= 0 {
		return nil, false
	}
	return raw.BigInt(), true
}

// HumanAmount renders a raw integer amount in the token's human units.
func HumanAmount(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// MinAmountOut applies the slippage tolerance: amountOut minus
// floor(amountOut * bps / 10000). The tolerance clamps to
// [0, MaxSlippageBps] before use, so the result never goes negative and a
// zero tolerance returns amountOut unchanged.
func MinAmountOut(amountOut *big.Int, slippageBps int) *big.Int {
	if amountOut == nil {
		return new(big.Int)
	}
	if slippageBps < 0 {
		slippageBps = 0
	}
	if slippageBps > MaxSlippageBps {
		slippageBps = MaxSlippageBps
	}
	cut := new(big.Int).Mul(amountOut, big.NewInt(int64(slippageBps)))
	cut.Quo(cut, big.NewInt(10_000))
	return new(big.Int).Sub(amountOut, cut)
}
