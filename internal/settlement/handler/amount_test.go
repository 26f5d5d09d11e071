package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAmountDisplay(t *testing.T) {
	tests := []struct {
		decimals int32
		in       uint64
		want     string
	}{
		{6, 1_111_111, "1.111111"},
		{6, 999_999, "0.999999"},
		{6, 0, "0.000000"},
		{0, 42, "42"},
		{6, ^uint64(0), "18446744073709.551615"},
		{9, 1, "0.000000001"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, amountFormat{decimals: tt.decimals}.display(tt.in))
	}
}
