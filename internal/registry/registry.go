// Package registry holds the static token list the discovery and routing
// layers work from. A registry is built once at startup and never mutated.
package registry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"swapScope/internal/dex"
	"swapScope/internal/model"
)

// TokenRegistry resolves tokens by address or symbol for one chain.
type TokenRegistry struct {
	chainID   uint64
	tokens    []model.Token
	byAddress map[common.Address]int
	bySymbol  map[string]int
}

// Load reads a token list file and keeps the entries for chainID.
func Load(path string, chainID uint64) (*TokenRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token list: %w", err)
	}
	reg, err := Parse(raw, chainID)
	if err != nil {
		return nil, fmt.Errorf("parse token list %s: %w", path, err)
	}
	return reg, nil
}

// Parse builds a registry from token list JSON. Both the standard
// {"tokens": [...]} wrapper and a bare array are accepted. Entries for
// other chains are skipped; duplicate addresses on the target chain are
// rejected. Token order follows the list, so lookups and enumeration stay
// reproducible across runs.
func Parse(raw []byte, chainID uint64) (*TokenRegistry, error) {
	doc := gjson.ParseBytes(raw)
	list := doc
	if doc.IsObject() {
		list = doc.Get("tokens")
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("expected a token array or a tokens wrapper")
	}

	reg := &TokenRegistry{
		chainID:   chainID,
		byAddress: make(map[common.Address]int),
		bySymbol:  make(map[string]int),
	}

	var parseErr error
	list.ForEach(func(_, entry gjson.Result) bool {
		if entry.Get("chainId").Uint() != chainID {
			return true
		}
		addrText := entry.Get("address").String()
		if !common.IsHexAddress(addrText) {
			parseErr = fmt.Errorf("bad token address %q", addrText)
			return false
		}
		decimals := entry.Get("decimals").Uint()
		if decimals > 255 {
			parseErr = fmt.Errorf("token %s: decimals %d out of range", addrText, decimals)
			return false
		}

		addr := common.HexToAddress(addrText)
		if _, dup := reg.byAddress[addr]; dup {
			parseErr = fmt.Errorf("duplicate token address %s", addr.Hex())
			return false
		}

		token := model.Token{
			Address:  addr.Hex(),
			ChainID:  chainID,
			Decimals: uint8(decimals),
			Symbol:   entry.Get("symbol").String(),
			Name:     entry.Get("name").String(),
			LogoURI:  entry.Get("logoURI").String(),
		}
		reg.byAddress[addr] = len(reg.tokens)
		if symbol := strings.ToUpper(token.Symbol); symbol != "" {
			if _, taken := reg.bySymbol[symbol]; !taken {
				reg.bySymbol[symbol] = len(reg.tokens)
			}
		}
		reg.tokens = append(reg.tokens, token)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return reg, nil
}

// ChainID returns the chain the registry was filtered for.
func (r *TokenRegistry) ChainID() uint64 {
	return r.chainID
}

// Len returns the number of tokens in the registry.
func (r *TokenRegistry) Len() int {
	return len(r.tokens)
}

// Tokens returns the tokens in list order.
func (r *TokenRegistry) Tokens() []model.Token {
	out := make([]model.Token, len(r.tokens))
	copy(out, r.tokens)
	return out
}

// ByAddress looks a token up by address.
func (r *TokenRegistry) ByAddress(addr common.Address) (model.Token, bool) {
	idx, ok := r.byAddress[addr]
	if !ok {
		return model.Token{}, false
	}
	return r.tokens[idx], true
}

// BySymbol looks a token up by case-insensitive symbol. When a list carries
// the same symbol twice the first entry wins.
func (r *TokenRegistry) BySymbol(symbol string) (model.Token, bool) {
	idx, ok := r.bySymbol[strings.ToUpper(symbol)]
	if !ok {
		return model.Token{}, false
	}
	return r.tokens[idx], true
}

// Select returns the tokens for the given symbols in registry order. An
// unknown symbol is an error so a typo cannot silently shrink a scan.
func (r *TokenRegistry) Select(symbols []string) ([]model.Token, error) {
	if len(symbols) == 0 {
		return r.Tokens(), nil
	}
	want := make(map[int]bool, len(symbols))
	for _, symbol := range symbols {
		idx, ok := r.bySymbol[strings.ToUpper(symbol)]
		if !ok {
			return nil, fmt.Errorf("unknown token symbol %q", symbol)
		}
		want[idx] = true
	}
	out := make([]model.Token, 0, len(want))
	for idx, token := range r.tokens {
		if want[idx] {
			out = append(out, token)
		}
	}
	return out, nil
}

// Resolve returns the token for addr, falling back to on-chain ERC20
// metadata when the list does not carry it. Resolved tokens are returned to
// the caller, not added to the registry.
func (r *TokenRegistry) Resolve(ctx context.Context, caller ethereum.ContractCaller, addr common.Address, logger *zap.Logger) (model.Token, error) {
	if token, ok := r.ByAddress(addr); ok {
		return token, nil
	}
	token, err := dex.TokenMetadata(ctx, caller, addr, logger)
	if err != nil {
		return model.Token{}, fmt.Errorf("resolve token %s: %w", addr.Hex(), err)
	}
	token.ChainID = r.chainID
	return token, nil
}

// ResolveRef resolves a user-supplied token reference, either a known
// symbol or a hex address.
func (r *TokenRegistry) ResolveRef(ctx context.Context, caller ethereum.ContractCaller, ref string, logger *zap.Logger) (model.Token, error) {
	if common.IsHexAddress(ref) {
		return r.Resolve(ctx, caller, common.HexToAddress(ref), logger)
	}
	if token, ok := r.BySymbol(ref); ok {
		return token, nil
	}
	return model.Token{}, fmt.Errorf("unknown token %q", ref)
}
