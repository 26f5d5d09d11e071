package handler

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const defaultAmountDecimals = 6

type amountFormat struct {
	decimals int32
}

// display renders base units as a fixed-point decimal string.
func (f amountFormat) display(v uint64) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(v), -f.decimals)
	return d.StringFixed(f.decimals)
}
