package models

import (
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	id "dattas/pkg/domain"
	dErrors "dattas/pkg/domain-errors"
)

// Name is an opaque byte string. It is never interpreted as text.
type Name []byte

// Clone copies n so callers cannot alias stored bytes.
func (n Name) Clone() Name {
	if n == nil {
		return nil
	}
	out := make(Name, len(n))
	copy(out, n)
	return out
}

func (n Name) Hex() string {
	return hex.EncodeToString(n)
}

// Text returns n as a string when it is valid UTF-8.
func (n Name) Text() (string, bool) {
	if !utf8.Valid(n) {
		return "", false
	}
	return string(n), true
}

// NameRecord is what the registry stores per named account.
type NameRecord struct {
	Name    Name
	Deposit id.Balance
}

// Params are fixed for the lifetime of a registry.
type Params struct {
	MinLength      int
	MaxLength      int
	ReservationFee id.Balance
}

func (p Params) Validate() error {
	if p.MinLength < 0 {
		return fmt.Errorf("min length must not be negative, got %d", p.MinLength)
	}
	if p.MaxLength < p.MinLength {
		return fmt.Errorf("max length %d must be at least min length %d", p.MaxLength, p.MinLength)
	}
	return nil
}

// CheckSigned enforces both length bounds. The upper bound is checked first.
func (p Params) CheckSigned(name Name) error {
	if err := p.CheckForced(name); err != nil {
		return err
	}
	if len(name) < p.MinLength {
		return dErrors.New(dErrors.CodeTooShort, fmt.Sprintf("name must be at least %d bytes", p.MinLength))
	}
	return nil
}

// CheckForced enforces only the upper bound.
func (p Params) CheckForced(name Name) error {
	if len(name) > p.MaxLength {
		return dErrors.New(dErrors.CodeTooLong, fmt.Sprintf("name must be at most %d bytes", p.MaxLength))
	}
	return nil
}

// DepositCheck compares a record's deposit with the account's reserved
// balance.
type DepositCheck struct {
	Account    id.AccountID
	Named      bool
	Recorded   id.Balance
	Reserved   id.Balance
	Consistent bool
}
