// Package negotiate acquires a live transport for a caller and hands it to
// the session orchestrator. Two strategies exist: managed rooms and direct
// peer connections. A deployment uses one of them.
package negotiate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/gateway/live/session"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

// Verifier checks a caller credential.
type Verifier interface {
	Verify(credential string) (types.Claims, error)
}

// Users fetches the caller's profile.
type Users interface {
	FetchUser(ctx context.Context, subject string) (types.UserContext, error)
}

// Orchestrator creates sessions around acquired transports.
type Orchestrator interface {
	Create(ctx context.Context, req session.Request) (*session.Session, error)
}

// deps is what both strategies share.
type deps struct {
	verifier Verifier
	users    Users
	orch     Orchestrator
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

// admit authenticates the credential, applies per-subject limits and loads
// the user. The returned permit must be released when the session ends or
// setup fails.
func (d *deps) admit(ctx context.Context, credential string) (types.Claims, *types.UserContext, *ratelimit.Permit, error) {
	claims, err := d.verifier.Verify(credential)
	if err != nil {
		return types.Claims{}, nil, nil, err
	}
	now := d.now()
	if dec := d.limiter.AcquireRequest(claims.Subject, now); !dec.Allowed {
		return claims, nil, nil, core.NewRateLimitError("too many session requests", dec.RetryAfter)
	}
	dec := d.limiter.AcquireSession(claims.Subject, now)
	if !dec.Allowed {
		return claims, nil, nil, core.NewRateLimitError("too many concurrent sessions", dec.RetryAfter)
	}

	user, err := d.loadUser(ctx, claims.Subject)
	if err != nil {
		dec.Permit.Release()
		return claims, nil, nil, err
	}
	return claims, user, dec.Permit, nil
}

// loadUser returns nil for a subject without a profile; the session then
// runs unpersonalized and without memory.
func (d *deps) loadUser(ctx context.Context, subject string) (*types.UserContext, error) {
	if d.users == nil {
		return nil, nil
	}
	u, err := d.users.FetchUser(ctx, subject)
	if errors.Is(err, core.ErrUserNotFound) {
		d.logger.Warn("no profile for subject, running unpersonalized", "subject", subject)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	return &u, nil
}
