// Package models holds the platform configuration singleton.
package models

import (
	"time"

	"splitvault/pkg/domain"
	dErrors "splitvault/pkg/domain-errors"
)

// LockKey serializes every configuration mutation.
const LockKey = "platform_config"

var (
	ErrNotInitialized     = dErrors.New(dErrors.CodeInvalidState, "platform is not initialized")
	ErrAlreadyInitialized = dErrors.New(dErrors.CodeConflict, "platform is already initialized")
	ErrNotAdmin           = dErrors.New(dErrors.CodeForbidden, "caller is not the platform admin")
	ErrNotPendingAdmin    = dErrors.New(dErrors.CodeForbidden, "caller is not the pending admin")
	ErrNoPendingAdmin     = dErrors.New(dErrors.CodeInvalidState, "no admin transfer is pending")
	ErrZeroTreasury       = dErrors.New(dErrors.CodeValidation, "treasury must not be the zero identity")
	ErrZeroAdmin          = dErrors.New(dErrors.CodeValidation, "admin must not be the zero identity")
	ErrMissingCaller      = dErrors.New(dErrors.CodeUnauthorized, "caller identity is required")
)

// PlatformConfig is the process-wide singleton consulted for pause and
// admin checks.
//
// Invariants:
//   - Admin and Treasury are never zero
//   - PendingAdmin, when set, is non-zero; only it can accept the transfer
type PlatformConfig struct {
	Admin        domain.Identity  `json:"admin"`
	Treasury     domain.Identity  `json:"treasury"`
	Paused       bool             `json:"paused"`
	PendingAdmin *domain.Identity `json:"pending_admin,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// New creates the configuration with caller as the first admin.
func New(caller, treasury domain.Identity, now time.Time) (*PlatformConfig, error) {
	if caller.IsZero() {
		return nil, ErrMissingCaller
	}
	if treasury.IsZero() {
		return nil, ErrZeroTreasury
	}
	return &PlatformConfig{Admin: caller, Treasury: treasury, UpdatedAt: now}, nil
}

// IsAdmin reports whether id is the current admin.
func (c *PlatformConfig) IsAdmin(id domain.Identity) bool {
	return !id.IsZero() && id == c.Admin
}

func (c *PlatformConfig) CanAdminister(caller domain.Identity) error {
	if caller.IsZero() {
		return ErrMissingCaller
	}
	if caller != c.Admin {
		return ErrNotAdmin
	}
	return nil
}

// ApplyUpdate sets the provided fields; nil leaves a field unchanged.
func (c *PlatformConfig) ApplyUpdate(treasury *domain.Identity, paused *bool, now time.Time) error {
	if treasury != nil {
		if treasury.IsZero() {
			return ErrZeroTreasury
		}
		c.Treasury = *treasury
	}
	if paused != nil {
		c.Paused = *paused
	}
	c.UpdatedAt = now
	return nil
}

// ApplyPropose replaces any earlier pending transfer.
func (c *PlatformConfig) ApplyPropose(newAdmin domain.Identity, now time.Time) error {
	if newAdmin.IsZero() {
		return ErrZeroAdmin
	}
	c.PendingAdmin = &newAdmin
	c.UpdatedAt = now
	return nil
}

func (c *PlatformConfig) CanAccept(caller domain.Identity) error {
	if caller.IsZero() {
		return ErrMissingCaller
	}
	if c.PendingAdmin == nil {
		return ErrNoPendingAdmin
	}
	if caller != *c.PendingAdmin {
		return ErrNotPendingAdmin
	}
	return nil
}

func (c *PlatformConfig) ApplyAccept(now time.Time) {
	c.Admin = *c.PendingAdmin
	c.PendingAdmin = nil
	c.UpdatedAt = now
}

// ApplyCancelTransfer reports whether a pending transfer was cleared.
func (c *PlatformConfig) ApplyCancelTransfer(now time.Time) bool {
	if c.PendingAdmin == nil {
		return false
	}
	c.PendingAdmin = nil
	c.UpdatedAt = now
	return true
}

// Clone returns a deep copy so stores never share a pointer with callers.
func (c *PlatformConfig) Clone() *PlatformConfig {
	out := *c
	if c.PendingAdmin != nil {
		p := *c.PendingAdmin
		out.PendingAdmin = &p
	}
	return &out
}
