package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRescale(t *testing.T) {
	t.Run("up to 18 decimals", func(t *testing.T) {
		got := ToToken(10_000_000, 18)
		want, _ := new(big.Int).SetString("10000000000000000000", 10)
		assert.Equal(t, 0, got.Cmp(want))
	})

	t.Run("same decimals", func(t *testing.T) {
		assert.Equal(t, int64(1234), ToToken(1234, 6).Int64())
	})

	t.Run("down truncates", func(t *testing.T) {
		v, _ := new(big.Int).SetString("1999999999999", 10)
		micro, err := FromToken(v, 18)
		require.NoError(t, err)
		assert.Equal(t, int64(1), micro)
	})

	t.Run("negative rejected", func(t *testing.T) {
		_, err := FromToken(big.NewInt(-1), 6)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("overflow rejected", func(t *testing.T) {
		v, _ := new(big.Int).SetString("99999999999999999999999999999999", 10)
		_, err := FromToken(v, 6)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestFormat(t *testing.T) {
	tests := []struct {
		micro int64
		want  string
	}{
		{10_000_000, "10"},
		{100, "0.0001"},
		{1_500_000, "1.5"},
		{0, "0"},
		{123_456_789, "123.456789"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, Format(tc.micro))
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("valid values", func(t *testing.T) {
		tests := map[string]int64{
			"10":       10_000_000,
			"0.0001":   100,
			"1.5":      1_500_000,
			".25":      250_000,
			"0.000001": 1,
		}
		for in, want := range tests {
			got, err := Parse(in)
			require.NoError(t, err, in)
			assert.Equal(t, want, got, in)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		for _, in := range []string{"", "abc", "1.", "0.0000001", "-1", "1.-5"} {
			_, err := Parse(in)
			assert.ErrorIs(t, err, ErrInvalidAmount, in)
		}
	})

	t.Run("round trips with Format", func(t *testing.T) {
		v, err := Parse(Format(42_000_100))
		require.NoError(t, err)
		assert.Equal(t, int64(42_000_100), v)
	})
}
