package ledger

import "splitvault/internal/settlement/ports"

// ErrBalanceOverflow is returned when a credit would exceed the uint64 range.
var ErrBalanceOverflow = ports.ErrBalanceOverflow
