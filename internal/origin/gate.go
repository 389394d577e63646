package origin

import (
	"context"

	id "dattas/pkg/domain"
	dErrors "dattas/pkg/domain-errors"
)

// Directory reports whether an account is known. The ledger serves as one.
type Directory interface {
	Exists(ctx context.Context, account id.AccountID) (bool, error)
}

// Gate authorizes origins and resolves target descriptors.
type Gate struct {
	directory    Directory
	forceAccount id.AccountID
	hasForce     bool
}

type GateOption func(*Gate)

// WithForceAccount lets one signed account act with the privileged origin
// alongside root.
func WithForceAccount(account id.AccountID) GateOption {
	return func(g *Gate) {
		if !account.IsNil() {
			g.forceAccount = account
			g.hasForce = true
		}
	}
}

// NewGate builds a gate. A nil directory accepts every well-formed target.
func NewGate(directory Directory, opts ...GateOption) *Gate {
	g := &Gate{directory: directory}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// ResolveSigned returns the signing account.
func (g *Gate) ResolveSigned(o Origin) (id.AccountID, error) {
	account, ok := o.Account()
	if !ok {
		return id.AccountID{}, dErrors.New(dErrors.CodeUnauthorized, "operation requires a signed origin")
	}
	return account, nil
}

// ResolvePrivileged succeeds for root and for the configured force account.
func (g *Gate) ResolvePrivileged(o Origin) error {
	if o.Kind() == KindRoot {
		return nil
	}
	if account, ok := o.Account(); ok && g.hasForce && account == g.forceAccount {
		return nil
	}
	return dErrors.New(dErrors.CodeForbidden, "operation requires the privileged origin")
}

// ResolveTarget turns a descriptor into a known account.
func (g *Gate) ResolveTarget(ctx context.Context, descriptor string) (id.AccountID, error) {
	account, err := id.ParseAccountID(descriptor)
	if err != nil {
		return id.AccountID{}, dErrors.New(dErrors.CodeBadTarget, "target does not name an account")
	}
	if g.directory == nil {
		return account, nil
	}
	known, err := g.directory.Exists(ctx, account)
	if err != nil {
		return id.AccountID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve target")
	}
	if !known {
		return id.AccountID{}, dErrors.New(dErrors.CodeBadTarget, "target account is unknown")
	}
	return account, nil
}
