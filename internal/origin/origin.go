// Package origin describes who is invoking a registry operation and decides
// what they may do.
package origin

import (
	"context"

	id "dattas/pkg/domain"
)

// Kind tags the variant an Origin holds.
type Kind uint8

const (
	KindNone Kind = iota
	KindSigned
	KindRoot
)

func (k Kind) String() string {
	switch k {
	case KindSigned:
		return "signed"
	case KindRoot:
		return "root"
	default:
		return "none"
	}
}

// Origin is the caller of an operation: nobody, an account that signed the
// request, or the root authority.
type Origin struct {
	kind    Kind
	account id.AccountID
}

func None() Origin { return Origin{kind: KindNone} }

func Signed(account id.AccountID) Origin {
	return Origin{kind: KindSigned, account: account}
}

func Root() Origin { return Origin{kind: KindRoot} }

func (o Origin) Kind() Kind { return o.kind }

// Account returns the signer; ok is false unless the origin is Signed.
func (o Origin) Account() (account id.AccountID, ok bool) {
	if o.kind != KindSigned {
		return id.AccountID{}, false
	}
	return o.account, true
}

func (o Origin) String() string {
	if o.kind == KindSigned {
		return "signed:" + o.account.String()
	}
	return o.kind.String()
}

type ctxKey struct{}

// WithOrigin stores the resolved origin for downstream handlers.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, ctxKey{}, o)
}

// FromContext returns the origin stored in ctx, or None.
func FromContext(ctx context.Context) Origin {
	if o, ok := ctx.Value(ctxKey{}).(Origin); ok {
		return o
	}
	return None()
}
