package discovery

import (
	"swapScope/internal/model"
)

// Enumeration caps. A full scan costs pairs x fee tiers RPC reads, so both
// the token count and the pair count are bounded independently.
const (
	DefaultMaxTokens = 120
	DefaultMaxPairs  = 4000

	// fallbackMaxPairs caps the reduced rescan that runs after a first
	// pass finds nothing.
	fallbackMaxPairs = 200
)

// Limits bounds the enumeration. Zero values fall back to the defaults.
type Limits struct {
	MaxTokens int
	MaxPairs  int
}

func (l Limits) withDefaults() Limits {
	if l.MaxTokens <= 0 {
		l.MaxTokens = DefaultMaxTokens
	}
	if l.MaxPairs <= 0 {
		l.MaxPairs = DefaultMaxPairs
	}
	return l
}

// Universe enumerates every (pair, fee) probe target for the token set: all
// unordered token pairs in input order crossed with the closed fee tier
// set. The token list is truncated to MaxTokens before pairing and the pair
// count is capped at MaxPairs, so enumeration order and content are fully
// reproducible for a given input.
func Universe(tokens []model.Token, limits Limits) []model.PoolKey {
	return universeWithFees(tokens, limits, model.FeeTiers())
}

func universeWithFees(tokens []model.Token, limits Limits, fees []model.FeeTier) []model.PoolKey {
	limits = limits.withDefaults()
	if len(tokens) > limits.MaxTokens {
		tokens = tokens[:limits.MaxTokens]
	}

	pairCount := len(tokens) * (len(tokens) - 1) / 2
	if pairCount > limits.MaxPairs {
		pairCount = limits.MaxPairs
	}

	keys := make([]model.PoolKey, 0, pairCount*len(fees))
	pairs := 0
	for i := 0; i < len(tokens); i++ {
		for j := i + 1; j < len(tokens); j++ {
			if pairs >= limits.MaxPairs {
				return keys
			}
			a, b := tokens[i].Addr(), tokens[j].Addr()
			for _, fee := range fees {
				key, err := model.NewPoolKey(a, b, fee)
				if err != nil {
					// a list carrying the same address twice cannot
					// form a pool with itself
					continue
				}
				keys = append(keys, key)
			}
			pairs++
		}
	}
	return keys
}
