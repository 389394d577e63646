// Package ledger implements the reservation ledger that bonds name deposits.
// Every account has a free and a reserved balance; reserving moves funds from
// free to reserved, unreserving moves them back, and slashing removes them
// from reserved entirely and hands them to an ImbalanceHandler.
package ledger

import (
	"context"
	"fmt"

	id "dattas/pkg/domain"
	dErrors "dattas/pkg/domain-errors"
)

// Account is a snapshot of one account's balances.
type Account struct {
	ID       id.AccountID `json:"account"`
	Free     id.Balance   `json:"free"`
	Reserved id.Balance   `json:"reserved"`
}

// Imbalance is slashed value that left an account and must be absorbed
// somewhere else.
type Imbalance struct {
	From   id.AccountID
	Amount id.Balance
}

// ImbalanceHandler absorbs slashed funds.
type ImbalanceHandler interface {
	OnUnbalanced(ctx context.Context, imbalance Imbalance) error
}

// ErrInsufficientFunds builds the funds error Reserve reports when the free
// balance cannot cover the amount.
func ErrInsufficientFunds(free, want id.Balance) error {
	return dErrors.New(dErrors.CodeInsufficientFunds,
		fmt.Sprintf("free balance %d cannot cover reservation of %d", free, want))
}
