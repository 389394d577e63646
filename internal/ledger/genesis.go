package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	id "dattas/pkg/domain"
)

// Allocation is a starting balance credited at boot.
type Allocation struct {
	Account id.AccountID
	Amount  id.Balance
}

// ParseGenesis reads "uuid=amount,uuid=amount". Empty input yields no
// allocations.
func ParseGenesis(raw string) ([]Allocation, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []Allocation
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		accountRaw, amountRaw, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("genesis entry %q: expected account=amount", entry)
		}
		account, err := id.ParseAccountID(strings.TrimSpace(accountRaw))
		if err != nil {
			return nil, fmt.Errorf("genesis entry %q: %w", entry, err)
		}
		amount, err := strconv.ParseUint(strings.TrimSpace(amountRaw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("genesis entry %q: invalid amount: %w", entry, err)
		}
		out = append(out, Allocation{Account: account, Amount: id.Balance(amount)})
	}
	return out, nil
}

// Endow credits every allocation.
func Endow(ctx context.Context, ledger Depositor, allocations []Allocation) error {
	for _, a := range allocations {
		if err := ledger.Deposit(ctx, a.Account, a.Amount); err != nil {
			return fmt.Errorf("endow %s: %w", a.Account, err)
		}
	}
	return nil
}
