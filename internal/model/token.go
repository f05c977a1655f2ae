package model

import "github.com/ethereum/go-ethereum/common"

// Token is one entry of the external token registry. Immutable once loaded;
// registries key tokens by lower-cased hex address. Field names follow the
// standard token-list schema.
type Token struct {
	Address  string `json:"address"`
	ChainID  uint64 `json:"chainId"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	LogoURI  string `json:"logoURI,omitempty"`
}

// Addr returns the parsed 20-byte address.
func (t Token) Addr() common.Address {
	return common.HexToAddress(t.Address)
}
