package tokens

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
tokens:
  - symbol: eth
    address: "0x0000000000000000000000000000000000000000"
    decimals: 18
    price_usd: "3000"
  - symbol: USDC
    address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
    decimals: 6
    price_usd: "1"
    faucet: "100"
`

func TestParseRegistry(t *testing.T) {
	r, err := Parse([]byte(sample))
	require.NoError(t, err)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "ETH", all[0].Symbol)
	assert.True(t, all[0].IsNative())

	usdc, err := r.Resolve("usdc")
	require.NoError(t, err)
	assert.Equal(t, int32(6), usdc.Decimals)

	byAddr, err := r.Resolve("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	require.NoError(t, err)
	assert.Equal(t, "USDC", byAddr.Symbol)

	_, err = r.Resolve("DOGE")
	require.ErrorIs(t, err, ErrUnknownToken)

	assert.Equal(t, int32(18), r.Decimals(common.HexToAddress("0x1234")))
}

func TestRegistryRejects(t *testing.T) {
	cases := map[string]string{
		"dup symbol":  "tokens:\n  - {symbol: A, address: '0x0000000000000000000000000000000000000001'}\n  - {symbol: a, address: '0x0000000000000000000000000000000000000002'}\n",
		"dup address": "tokens:\n  - {symbol: A}\n  - {symbol: B}\n",
		"bad address": "tokens:\n  - {symbol: A, address: 'nope'}\n",
		"bad price":   "tokens:\n  - {symbol: A, price_usd: 'x'}\n",
		"no symbol":   "tokens:\n  - {decimals: 6}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestAmounts(t *testing.T) {
	v, err := ParseAmount("12.5", 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(12_500_000), v.Uint64())

	v, err = ParseAmount("wei:42", 18)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v.Uint64())

	_, err = ParseAmount("0.0000001", 6)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParseAmount("-1", 6)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParseAmount("", 6)
	require.ErrorIs(t, err, ErrInvalidAmount)

	assert.Equal(t, "12.5", FormatAmount(uint256.NewInt(12_500_000), 6))
	assert.True(t, FromBaseUnits(nil, 6).IsZero())

	big, err := ToBaseUnits(decimal.RequireFromString("1000"), 18)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", big.Dec())
}

func TestParseAmountBounds(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1e3", want: "1000000000000000000000"},
		{in: "0e99999999", want: "0"},
		{in: "100e-2", want: "1000000000000000000"},
		{in: "1e59", want: "100000000000000000000000000000000000000000000000000000000000000000000000000000"},
		{in: "1e60", wantErr: true},
		{in: "1e50000000", wantErr: true},
		{in: "1e400000000", wantErr: true},
		{in: "1e-19", wantErr: true},
		{in: "1e-400000000", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			start := time.Now()
			v, err := ParseAmount(tt.in, 18)
			assert.Less(t, time.Since(start), time.Second)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Dec())
		})
	}
}
