package domain

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"

	dErrors "splitvault/pkg/domain-errors"
)

// IdentitySize is the byte length of every Identity.
const IdentitySize = 32

// Identity is an opaque 32-byte account key: a payer, recipient, admin,
// custody account, or record address. The zero value is never a valid party.
type Identity [IdentitySize]byte

// Seed prefixes keep derived address spaces disjoint.
const (
	SeedEscrow  = "escrow"
	SeedPool    = "pool_escrow"
	SeedCustody = "vault"
	SeedDeposit = "deposit"
)

// ParseIdentity parses a 64-character hex string. A 0x prefix is accepted.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return id, dErrors.New(dErrors.CodeInvalidInput, "identity is required")
	}
	if len(s) != hex.EncodedLen(IdentitySize) {
		return id, dErrors.New(dErrors.CodeInvalidInput, "identity must be 64 hex characters")
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return Identity{}, dErrors.New(dErrors.CodeInvalidInput, "identity must be hex encoded")
	}
	return id, nil
}

// MustIdentity parses s and panics on failure. Intended for tests and fixtures.
func MustIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (i Identity) String() string {
	return hex.EncodeToString(i[:])
}

// Short renders the first eight hex characters for log lines.
func (i Identity) Short() string {
	return i.String()[:8]
}

func (i Identity) IsZero() bool {
	return i == Identity{}
}

func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Identity) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// DeriveIdentity maps seed components to an Identity with BLAKE2b-256.
// Each component is length-prefixed so ("ab","c") and ("a","bc") differ.
func DeriveIdentity(parts ...[]byte) Identity {
	h, _ := blake2b.New256(nil)
	var lenBuf [4]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(p)))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write(p)
	}
	var out Identity
	copy(out[:], h.Sum(nil))
	return out
}

// EscrowAddress derives the record address for the payer's escrow id.
func EscrowAddress(payer Identity, id uint64) Identity {
	return DeriveIdentity([]byte(SeedEscrow), payer[:], le64(id))
}

// PoolAddress derives the record address for the payer's pool id.
func PoolAddress(payer Identity, id uint64) Identity {
	return DeriveIdentity([]byte(SeedPool), payer[:], le64(id))
}

// CustodyAccount derives the ledger account holding a record's funds.
func CustodyAccount(record Identity) Identity {
	return DeriveIdentity([]byte(SeedCustody), record[:])
}

// DepositAccount derives the ledger account holding a record's storage deposit.
func DepositAccount(record Identity) Identity {
	return DeriveIdentity([]byte(SeedDeposit), record[:])
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}
