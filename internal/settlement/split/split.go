// Package split validates distribution plans and converts basis-point shares
// into exact token amounts.
//
// Both functions are pure: no stored state, no clock, no I/O. The escrow
// service, the dispute service and the quote endpoint all call them.
package split

import (
	"math/bits"

	"splitvault/pkg/domain"
	dErrors "splitvault/pkg/domain-errors"
)

const (
	// BPSDenominator is 100% in basis points.
	BPSDenominator = 10_000
	// MaxRecipients bounds the length of a plan.
	MaxRecipients = 8
)

// Split is one recipient's fractional entitlement, in basis points.
type Split struct {
	Recipient domain.Identity `json:"recipient"`
	Share     int             `json:"share"`
}

var (
	ErrEmpty                 = dErrors.New(dErrors.CodeValidation, "splits must not be empty")
	ErrTooManyRecipients     = dErrors.New(dErrors.CodeValidation, "splits exceed maximum recipient count")
	ErrShareOutOfRange       = dErrors.New(dErrors.CodeValidation, "split share must be between 0 and 10000")
	ErrDuplicateRecipient    = dErrors.New(dErrors.CodeValidation, "split recipients must be distinct")
	ErrSharesDoNotSumToWhole = dErrors.New(dErrors.CodeValidation, "split shares must sum to 10000")
	ErrZeroRecipient         = dErrors.New(dErrors.CodeValidation, "split recipient must not be the zero identity")

	ErrOverflow = dErrors.New(dErrors.CodeArithmetic, "split amount computation overflowed or total is zero")
)

// Validate checks a plan for structural correctness. Rules are checked in a
// fixed order and the first failure is returned.
func Validate(splits []Split) error {
	if len(splits) == 0 {
		return ErrEmpty
	}
	if len(splits) > MaxRecipients {
		return ErrTooManyRecipients
	}
	for _, s := range splits {
		if s.Share < 0 || s.Share > BPSDenominator {
			return ErrShareOutOfRange
		}
	}
	seen := make(map[domain.Identity]struct{}, len(splits))
	for _, s := range splits {
		if _, dup := seen[s.Recipient]; dup {
			return ErrDuplicateRecipient
		}
		seen[s.Recipient] = struct{}{}
	}
	sum := 0
	for _, s := range splits {
		sum += s.Share
	}
	if sum != BPSDenominator {
		return ErrSharesDoNotSumToWhole
	}
	for _, s := range splits {
		if s.Recipient.IsZero() {
			return ErrZeroRecipient
		}
	}
	return nil
}

// Compute converts a validated plan into per-recipient amounts in plan order.
//
// Every entry but the last receives floor(total*share/10000). The last entry
// receives total minus everything already allocated, so the amounts always
// sum to total and the last recipient absorbs all rounding dust.
func Compute(total uint64, splits []Split) ([]uint64, error) {
	if total == 0 || len(splits) == 0 {
		return nil, ErrOverflow
	}
	amounts := make([]uint64, len(splits))
	var allocated uint64
	last := len(splits) - 1
	for i, s := range splits[:last] {
		if s.Share < 0 {
			return nil, ErrOverflow
		}
		amount, err := mulDiv(total, uint64(s.Share), BPSDenominator)
		if err != nil {
			return nil, err
		}
		next, carry := bits.Add64(allocated, amount, 0)
		if carry != 0 || next > total {
			return nil, ErrOverflow
		}
		allocated = next
		amounts[i] = amount
	}
	amounts[last] = total - allocated

	var sum uint64
	for _, a := range amounts {
		var carry uint64
		sum, carry = bits.Add64(sum, a, 0)
		if carry != 0 {
			return nil, ErrOverflow
		}
	}
	if sum != total {
		return nil, ErrOverflow
	}
	return amounts, nil
}

// mulDiv returns floor(a*b/d) with a 128-bit intermediate product.
func mulDiv(a, b, d uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}
