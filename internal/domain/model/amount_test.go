package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSmallestUnit(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     string
		wantErr  bool
	}{
		{name: "whole amount", amount: "100", decimals: 9, want: "100000000000"},
		{name: "fractional amount", amount: "100.5", decimals: 9, want: "100500000000"},
		{name: "full precision", amount: "0.000000001", decimals: 9, want: "1"},
		{name: "zero decimals", amount: "42", decimals: 0, want: "42"},
		{name: "six decimals usdc style", amount: "12.34", decimals: 6, want: "12340000"},
		{name: "too many fractional digits", amount: "1.0000000001", decimals: 9, wantErr: true},
		{name: "zero amount", amount: "0", decimals: 9, wantErr: true},
		{name: "negative amount", amount: "-5", decimals: 9, wantErr: true},
		{name: "not a number", amount: "abc", decimals: 9, wantErr: true},
		{name: "empty", amount: "", decimals: 9, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToSmallestUnit(tt.amount, tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToSmallestUnitIdempotentUnderReparse(t *testing.T) {
	scaled, err := ToSmallestUnit("100.5", 9)
	require.NoError(t, err)
	require.Equal(t, "100500000000", scaled)

	human, err := FromSmallestUnit(scaled, 9)
	require.NoError(t, err)
	assert.Equal(t, "100.5", human)

	again, err := ToSmallestUnit(human, 9)
	require.NoError(t, err)
	assert.Equal(t, scaled, again)
}

func TestSumAmounts(t *testing.T) {
	total, err := SumAmounts([]string{"100500000000", "1", "250000000"})
	require.NoError(t, err)
	assert.Equal(t, "100750000001", total)

	_, err = SumAmounts([]string{"1", "nope"})
	assert.Error(t, err)
}
