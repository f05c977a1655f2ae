package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FeeTier is a pool fee expressed in hundredths of a basis point.
type FeeTier uint32

const (
	FeeLowest FeeTier = 100
	FeeLow    FeeTier = 500
	FeeMedium FeeTier = 3000
	FeeHigh   FeeTier = 10000
)

// FeeTiers returns the protocol's fee tier set in canonical enumeration
// order. The set is closed; it is never extended at runtime.
func FeeTiers() []FeeTier {
	return []FeeTier{FeeLowest, FeeLow, FeeMedium, FeeHigh}
}

// FallbackFeeTiers returns the fee tiers ordered by rough prior popularity,
// used when a reduced fallback scan re-probes the universe.
func FallbackFeeTiers() []FeeTier {
	return []FeeTier{FeeMedium, FeeLow, FeeHigh, FeeLowest}
}

// SortTokens returns the pair in canonical pool order: byte-wise ascending
// comparison of the 20-byte addresses. Identical addresses are an input
// error, never a silent no-op.
func SortTokens(a, b common.Address) (common.Address, common.Address, error) {
	switch bytes.Compare(a.Bytes(), b.Bytes()) {
	case -1:
		return a, b, nil
	case 1:
		return b, a, nil
	default:
		return common.Address{}, common.Address{}, fmt.Errorf("identical token addresses: %s", a.Hex())
	}
}

// PoolKey identifies a pool by its canonical token pair and fee tier.
// Token0 < Token1 strictly; construct through NewPoolKey.
type PoolKey struct {
	Token0 common.Address `json:"token0"`
	Token1 common.Address `json:"token1"`
	Fee    FeeTier        `json:"fee"`
}

// NewPoolKey canonicalizes the pair and builds the key. The result is
// independent of argument order: NewPoolKey(a, b, f) == NewPoolKey(b, a, f).
func NewPoolKey(a, b common.Address, fee FeeTier) (PoolKey, error) {
	token0, token1, err := SortTokens(a, b)
	if err != nil {
		return PoolKey{}, err
	}
	return PoolKey{Token0: token0, Token1: token1, Fee: fee}, nil
}

// PoolState is a snapshot of one pool taken during a discovery pass.
// Snapshots are constructed fresh on every scan and never mutated; a
// re-scan replaces the previous result set wholesale.
type PoolState struct {
	PoolAddress  common.Address
	Token0       common.Address
	Token1       common.Address
	Fee          FeeTier
	TickSpacing  int32
	Liquidity    *big.Int
	SqrtPriceX96 *big.Int
	Tick         int32
	Initialized  bool
}

// poolStateWire is the JSON shape: big integers as decimal strings so
// consumers never round them through float64.
type poolStateWire struct {
	PoolAddress  string `json:"pool_address"`
	Token0       string `json:"token0"`
	Token1       string `json:"token1"`
	Fee          uint32 `json:"fee"`
	TickSpacing  int32  `json:"tick_spacing"`
	Liquidity    string `json:"liquidity"`
	SqrtPriceX96 string `json:"sqrt_price_x96"`
	Tick         int32  `json:"tick"`
	Initialized  bool   `json:"initialized"`
}

// MarshalJSON encodes the snapshot with stable field names and
// string-encoded big integers.
func (s PoolState) MarshalJSON() ([]byte, error) {
	return json.Marshal(poolStateWire{
		PoolAddress:  s.PoolAddress.Hex(),
		Token0:       s.Token0.Hex(),
		Token1:       s.Token1.Hex(),
		Fee:          uint32(s.Fee),
		TickSpacing:  s.TickSpacing,
		Liquidity:    bigString(s.Liquidity),
		SqrtPriceX96: bigString(s.SqrtPriceX96),
		Tick:         s.Tick,
		Initialized:  s.Initialized,
	})
}

// UnmarshalJSON decodes a snapshot produced by MarshalJSON.
func (s *PoolState) UnmarshalJSON(data []byte) error {
	var w poolStateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	liquidity, err := bigFromString(w.Liquidity)
	if err != nil {
		return fmt.Errorf("liquidity: %w", err)
	}
	sqrtPrice, err := bigFromString(w.SqrtPriceX96)
	if err != nil {
		return fmt.Errorf("sqrt_price_x96: %w", err)
	}
	if !common.IsHexAddress(w.PoolAddress) {
		return fmt.Errorf("invalid pool address: %s", w.PoolAddress)
	}
	*s = PoolState{
		PoolAddress:  common.HexToAddress(w.PoolAddress),
		Token0:       common.HexToAddress(w.Token0),
		Token1:       common.HexToAddress(w.Token1),
		Fee:          FeeTier(w.Fee),
		TickSpacing:  w.TickSpacing,
		Liquidity:    liquidity,
		SqrtPriceX96: sqrtPrice,
		Tick:         w.Tick,
		Initialized:  w.Initialized,
	}
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func bigFromString(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", s)
	}
	return v, nil
}
