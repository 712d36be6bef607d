// Package tokens loads the token registry and converts between human amounts and
// base units.
package tokens

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var ErrUnknownToken = errors.New("unknown token")

// Token is one registry entry.
type Token struct {
	Symbol     string         `yaml:"symbol" json:"symbol"`
	Name       string         `yaml:"name" json:"name"`
	Address    common.Address `yaml:"-" json:"address"`
	RawAddress string         `yaml:"address" json:"-"`
	Decimals   int32          `yaml:"decimals" json:"decimals"`
	PriceUSD   string         `yaml:"price_usd" json:"price_usd"`
	Volatility float64        `yaml:"volatility" json:"volatility"` // per-tick random walk step as a fraction of price
	Faucet     string         `yaml:"faucet" json:"faucet"`         // human amount minted per faucet call, empty disables
	Liquidity  string         `yaml:"liquidity" json:"-"`           // human amount seeded into the venue
}

// IsNative reports whether the token is the chain's native asset.
func (t Token) IsNative() bool { return t.Address == (common.Address{}) }

// File is the top-level YAML structure.
type File struct {
	Tokens []Token `yaml:"tokens"`
}

// Registry indexes tokens by symbol and address.
type Registry struct {
	tokens    []Token
	bySymbol  map[string]int
	byAddress map[common.Address]int
}

// Load reads a registry from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse builds a registry from YAML bytes.
func Parse(data []byte) (*Registry, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse token registry: %w", err)
	}
	return New(file.Tokens)
}

// New validates and indexes tokens.
func New(list []Token) (*Registry, error) {
	r := &Registry{
		bySymbol:  make(map[string]int, len(list)),
		byAddress: make(map[common.Address]int, len(list)),
	}
	for _, t := range list {
		t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
		if t.Symbol == "" {
			return nil, errors.New("token symbol required")
		}
		if t.RawAddress != "" {
			if !common.IsHexAddress(t.RawAddress) {
				return nil, fmt.Errorf("token %s: invalid address %q", t.Symbol, t.RawAddress)
			}
			t.Address = common.HexToAddress(t.RawAddress)
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			return nil, fmt.Errorf("token %s: decimals %d out of range", t.Symbol, t.Decimals)
		}
		if t.PriceUSD != "" {
			if _, err := decimal.NewFromString(t.PriceUSD); err != nil {
				return nil, fmt.Errorf("token %s: price_usd: %w", t.Symbol, err)
			}
		}
		if _, dup := r.bySymbol[t.Symbol]; dup {
			return nil, fmt.Errorf("duplicate token symbol %s", t.Symbol)
		}
		if _, dup := r.byAddress[t.Address]; dup {
			return nil, fmt.Errorf("duplicate token address %s", t.Address.Hex())
		}
		r.bySymbol[t.Symbol] = len(r.tokens)
		r.byAddress[t.Address] = len(r.tokens)
		r.tokens = append(r.tokens, t)
	}
	return r, nil
}

// All returns the tokens sorted by symbol.
func (r *Registry) All() []Token {
	out := make([]Token, len(r.tokens))
	copy(out, r.tokens)
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (r *Registry) BySymbol(symbol string) (Token, bool) {
	i, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, false
	}
	return r.tokens[i], true
}

func (r *Registry) ByAddress(addr common.Address) (Token, bool) {
	i, ok := r.byAddress[addr]
	if !ok {
		return Token{}, false
	}
	return r.tokens[i], true
}

// Resolve accepts a symbol or a hex address.
func (r *Registry) Resolve(ref string) (Token, error) {
	if common.IsHexAddress(ref) {
		if t, ok := r.ByAddress(common.HexToAddress(ref)); ok {
			return t, nil
		}
	} else if t, ok := r.BySymbol(ref); ok {
		return t, nil
	}
	return Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, ref)
}

// Decimals returns the registered decimals for addr, or 18 for unknown tokens.
func (r *Registry) Decimals(addr common.Address) int32 {
	if t, ok := r.ByAddress(addr); ok {
		return t.Decimals
	}
	return 18
}
