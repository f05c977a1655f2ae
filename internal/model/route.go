package model

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxHops bounds route length; only direct and single-intermediary routes
// are supported.
const MaxHops = 2

// Route is an ordered token path with one fee tier per hop.
type Route struct {
	Tokens []common.Address
	Fees   []FeeTier
}

// Validate checks the route invariants: at least two tokens, one fee per
// hop, adjacent tokens distinct, and no more than MaxHops hops.
func (r Route) Validate() error {
	if len(r.Tokens) < 2 {
		return fmt.Errorf("route needs at least two tokens, got %d", len(r.Tokens))
	}
	if len(r.Fees) != len(r.Tokens)-1 {
		return fmt.Errorf("route needs %d fees, got %d", len(r.Tokens)-1, len(r.Fees))
	}
	if len(r.Fees) > MaxHops {
		return fmt.Errorf("route exceeds %d hops: %d", MaxHops, len(r.Fees))
	}
	for i := 1; i < len(r.Tokens); i++ {
		if r.Tokens[i] == r.Tokens[i-1] {
			return fmt.Errorf("adjacent route tokens are identical: %s", r.Tokens[i].Hex())
		}
	}
	return nil
}

// Hops returns the number of pool hops in the route.
func (r Route) Hops() int {
	return len(r.Fees)
}

type routeWire struct {
	Tokens []string `json:"tokens"`
	Fees   []uint32 `json:"fees"`
}

// MarshalJSON encodes the route with hex token addresses.
func (r Route) MarshalJSON() ([]byte, error) {
	w := routeWire{
		Tokens: make([]string, 0, len(r.Tokens)),
		Fees:   make([]uint32, 0, len(r.Fees)),
	}
	for _, t := range r.Tokens {
		w.Tokens = append(w.Tokens, t.Hex())
	}
	for _, f := range r.Fees {
		w.Fees = append(w.Fees, uint32(f))
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a route produced by MarshalJSON.
func (r *Route) UnmarshalJSON(data []byte) error {
	var w routeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Route{
		Tokens: make([]common.Address, 0, len(w.Tokens)),
		Fees:   make([]FeeTier, 0, len(w.Fees)),
	}
	for _, t := range w.Tokens {
		if !common.IsHexAddress(t) {
			return fmt.Errorf("invalid route token: %s", t)
		}
		out.Tokens = append(out.Tokens, common.HexToAddress(t))
	}
	for _, f := range w.Fees {
		out.Fees = append(out.Fees, FeeTier(f))
	}
	*r = out
	return nil
}

// Quote is the result of pricing a route: the estimated output and the
// slippage-bounded minimum acceptable output. MinAmountOut <= AmountOut
// always.
type Quote struct {
	Route        Route
	AmountOut    *big.Int
	MinAmountOut *big.Int
}

type quoteWire struct {
	Route        Route  `json:"route"`
	AmountOut    string `json:"amount_out"`
	MinAmountOut string `json:"min_amount_out"`
}

// MarshalJSON encodes the quote with string-encoded amounts.
func (q Quote) MarshalJSON() ([]byte, error) {
	return json.Marshal(quoteWire{
		Route:        q.Route,
		AmountOut:    bigString(q.AmountOut),
		MinAmountOut: bigString(q.MinAmountOut),
	})
}

// UnmarshalJSON decodes a quote produced by MarshalJSON.
func (q *Quote) UnmarshalJSON(data []byte) error {
	var w quoteWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	amountOut, err := bigFromString(w.AmountOut)
	if err != nil {
		return fmt.Errorf("amount_out: %w", err)
	}
	minOut, err := bigFromString(w.MinAmountOut)
	if err != nil {
		return fmt.Errorf("min_amount_out: %w", err)
	}
	*q = Quote{Route: w.Route, AmountOut: amountOut, MinAmountOut: minOut}
	return nil
}

// ScanSummary is the trailing record of a streaming discovery scan.
type ScanSummary struct {
	PoolsEmitted int `json:"pools_emitted"`
}

// StreamError is a typed error line emitted mid-stream; it never terminates
// output that was already flushed.
type StreamError struct {
	Error string `json:"error"`
}
