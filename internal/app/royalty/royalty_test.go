package royalty

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFloorsSharesAndPaysRemainderToSeller(t *testing.T) {
	entries := []Entry{
		{Address: "owner", RatePPM: 25_000},  // 2.5%
		{Address: "artist", RatePPM: 10_000}, // 1.0%
	}

	payments := Split(100, entries, "seller")
	require.Len(t, payments, 3)

	assert.Equal(t, Payment{Address: "owner", Amount: 2}, payments[0])
	assert.Equal(t, Payment{Address: "artist", Amount: 1}, payments[1])
	assert.Equal(t, Payment{Address: "seller", Amount: 97}, payments[2])
}

func TestSplitOmitsZeroShares(t *testing.T) {
	entries := []Entry{
		{Address: "owner", RatePPM: 1}, // floors to zero on small prices
	}

	payments := Split(100, entries, "seller")
	require.Len(t, payments, 1)
	assert.Equal(t, Payment{Address: "seller", Amount: 100}, payments[0])
}

func TestSplitConservesPrice(t *testing.T) {
	cases := []struct {
		name    string
		price   uint64
		entries []Entry
	}{
		{"single entry", 999, []Entry{{Address: "a", RatePPM: 333_333}}},
		{"many entries", 1_000_003, []Entry{
			{Address: "a", RatePPM: 123_456},
			{Address: "b", RatePPM: 1},
			{Address: "c", RatePPM: 500_000},
		}},
		{"full rate to one entry", 77, []Entry{{Address: "a", RatePPM: Denominator}}},
		{"max price", math.MaxUint64, []Entry{
			{Address: "a", RatePPM: 250_000},
			{Address: "b", RatePPM: 750_000},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var total uint64
			for _, p := range Split(tc.price, tc.entries, "seller") {
				assert.NotZero(t, p.Amount)
				total += p.Amount
			}
			assert.Equal(t, tc.price, total)
		})
	}
}

func TestSplitZeroPrice(t *testing.T) {
	payments := Split(0, []Entry{{Address: "a", RatePPM: 100_000}}, "seller")
	assert.Empty(t, payments)
}

func TestValidateTable(t *testing.T) {
	base := []Entry{
		{Address: "owner", RatePPM: 20_000},
		{Address: "artist", RatePPM: 30_000},
	}

	assert.NoError(t, ValidateTable(base, "owner", 50_000))

	assert.ErrorIs(t, ValidateTable(nil, "owner", 50_000), ErrEmptyTable)
	assert.ErrorIs(t, ValidateTable(base, "someone-else", 50_000), ErrFirstEntryOwner)
	assert.ErrorIs(t, ValidateTable(base, "owner", 49_999), ErrRateCeiling)
	assert.ErrorIs(t, ValidateTable(base, "owner", Denominator+1), ErrCeilingOutOfRange)

	missing := []Entry{{Address: "owner", RatePPM: 10}, {Address: "", RatePPM: 10}}
	assert.ErrorIs(t, ValidateTable(missing, "owner", 50_000), ErrEmptyBeneficiary)
}
