package domain

import (
	"github.com/google/uuid"

	dErrors "dattas/pkg/domain-errors"
)

// AccountID identifies a ledger account. It is the key of the name registry
// and the subject of every origin token.
type AccountID uuid.UUID

// ParseAccountID validates an external account identifier. Empty, malformed
// and nil UUIDs are rejected with CodeInvalidInput.
func ParseAccountID(s string) (AccountID, error) {
	if s == "" {
		return AccountID{}, dErrors.New(dErrors.CodeInvalidInput, "account id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return AccountID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid account id")
	}
	if parsed == uuid.Nil {
		return AccountID{}, dErrors.New(dErrors.CodeInvalidInput, "account id must not be nil")
	}
	return AccountID(parsed), nil
}

// NewAccountID returns a fresh random account identifier.
func NewAccountID() AccountID {
	return AccountID(uuid.New())
}

func (a AccountID) String() string {
	return uuid.UUID(a).String()
}

func (a AccountID) IsNil() bool {
	return uuid.UUID(a) == uuid.Nil
}

// MarshalText lets AccountID serialize as its canonical string in JSON and
// as a map key.
func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AccountID) UnmarshalText(b []byte) error {
	parsed, err := ParseAccountID(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
