// Package auth verifies caller credentials. A credential is an HS256 JWT
// signed with the shared secret; its subject identifies the user.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

// DefaultAudience is the audience every accepted credential must carry.
const DefaultAudience = "authenticated"

type Principal struct {
	Subject string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// CredentialFromRequest reads the bearer header, falling back to the
// ?token= query parameter browsers use for signaling requests.
func CredentialFromRequest(r *http.Request) string {
	if token, ok := ParseBearer(r); ok {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// Gate verifies credentials. It has no side effects beyond logging.
type Gate struct {
	secret   []byte
	audience string
	logger   *slog.Logger
	now      func() time.Time
	onReject func(core.AuthReason)
}

type Option func(*Gate)

// WithAudience overrides DefaultAudience.
func WithAudience(aud string) Option {
	return func(g *Gate) { g.audience = aud }
}

// WithLogger sets the logger rejection reasons are written to.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithRejectHook observes every rejection reason.
func WithRejectHook(fn func(core.AuthReason)) Option {
	return func(g *Gate) { g.onReject = fn }
}

func NewGate(secret string, opts ...Option) *Gate {
	g := &Gate{
		secret:   []byte(secret),
		audience: DefaultAudience,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Verify checks signature, audience and expiry. Failures are *core.AuthError;
// the reason is logged and must not be echoed to the caller.
func (g *Gate) Verify(credential string) (types.Claims, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return types.Claims{}, g.reject(core.AuthMissing, nil)
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(credential, claims,
		func(*jwt.Token) (any, error) { return g.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(g.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return types.Claims{}, g.reject(classify(err), err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return types.Claims{}, g.reject(core.AuthMalformed, errors.New("subject claim is empty"))
	}

	out := types.Claims{Subject: claims.Subject, Audience: []string(claims.Audience)}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func classify(err error) core.AuthReason {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return core.AuthSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return core.AuthExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return core.AuthAudience
	default:
		return core.AuthMalformed
	}
}

func (g *Gate) reject(reason core.AuthReason, cause error) error {
	attrs := []any{"reason", string(reason)}
	if cause != nil {
		attrs = append(attrs, "error", cause.Error())
	}
	g.logger.Warn("credential rejected", attrs...)
	if g.onReject != nil {
		g.onReject(reason)
	}
	return &core.AuthError{Reason: reason, Err: cause}
}

// Issue mints a credential for subject. It backs the development token
// command and tests; production credentials come from the identity provider.
func (g *Gate) Issue(subject string, ttl time.Duration) (string, error) {
	now := g.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{g.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return tok.SignedString(g.secret)
}
