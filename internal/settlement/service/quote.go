package service

import (
	"splitvault/internal/settlement/models"
	"splitvault/internal/settlement/split"
)

// Quote validates plan and computes what each recipient would receive from
// total, without touching any record.
func Quote(total uint64, plan []split.Split) ([]uint64, error) {
	if err := split.Validate(plan); err != nil {
		return nil, models.InvalidSplits(err)
	}
	return split.Compute(total, plan)
}
