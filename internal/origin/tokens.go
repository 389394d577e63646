package origin

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "dattas/pkg/domain"
	dErrors "dattas/pkg/domain-errors"
)

// Claims are carried by tokens that sign requests for an account.
type Claims struct {
	Account string `json:"account"`
	jwt.RegisteredClaims
}

// Tokens issues and validates HS256 signing tokens.
type Tokens struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

func NewTokens(signingKey, issuer, audience string) *Tokens {
	return &Tokens{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
}

func (t *Tokens) Issue(account id.AccountID, expiresIn time.Duration) (string, error) {
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Account: account.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    t.issuer,
			Audience:  []string{t.audience},
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(t.signingKey)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Validate returns the account a token signs for.
func (t *Tokens) Validate(tokenString string) (id.AccountID, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(t.now)}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	if t.audience != "" {
		opts = append(opts, jwt.WithAudience(t.audience))
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return t.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.AccountID{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return id.AccountID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return id.AccountID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	account, err := id.ParseAccountID(claims.Account)
	if err != nil {
		return id.AccountID{}, dErrors.New(dErrors.CodeUnauthorized, "token names no account")
	}
	return account, nil
}
