package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	id "dattas/pkg/domain"
)

// SinkBurn is the SLASH_SINK value that destroys slashed funds.
const SinkBurn = "burn"

// Depositor credits free balance.
type Depositor interface {
	Deposit(ctx context.Context, account id.AccountID, amount id.Balance) error
}

// Burn drops slashed funds; the ledger already removed them from the
// slashed account.
type Burn struct {
	logger *slog.Logger
}

func NewBurn(logger *slog.Logger) *Burn {
	return &Burn{logger: logger}
}

func (b *Burn) OnUnbalanced(ctx context.Context, imbalance Imbalance) error {
	if b.logger != nil && !imbalance.Amount.IsZero() {
		b.logger.InfoContext(ctx, "slashed deposit burned",
			"account", imbalance.From.String(),
			"amount", uint64(imbalance.Amount),
		)
	}
	return nil
}

// Treasury credits slashed funds to a fixed account.
type Treasury struct {
	ledger  Depositor
	account id.AccountID
}

func NewTreasury(ledger Depositor, account id.AccountID) *Treasury {
	return &Treasury{ledger: ledger, account: account}
}

func (t *Treasury) Account() id.AccountID {
	return t.account
}

func (t *Treasury) OnUnbalanced(ctx context.Context, imbalance Imbalance) error {
	if imbalance.Amount.IsZero() {
		return nil
	}
	if err := t.ledger.Deposit(ctx, t.account, imbalance.Amount); err != nil {
		return fmt.Errorf("credit treasury: %w", err)
	}
	return nil
}

// NewSlashSink parses a SLASH_SINK value: "burn" (or empty) or a treasury
// account id.
func NewSlashSink(value string, ledger Depositor, logger *slog.Logger) (ImbalanceHandler, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, SinkBurn) {
		return NewBurn(logger), nil
	}
	account, err := id.ParseAccountID(value)
	if err != nil {
		return nil, fmt.Errorf("slash sink %q: %w", value, err)
	}
	return NewTreasury(ledger, account), nil
}
