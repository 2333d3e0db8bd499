// Package store persists user profiles and their conversational memory.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// Store is the user store collaborator.
type Store interface {
	// FetchUser returns core.ErrUserNotFound when the subject has no profile.
	FetchUser(ctx context.Context, subject string) (types.UserContext, error)
	// PersistMemory replaces the subject's memory text.
	PersistMemory(ctx context.Context, subject, memory string) error
	// SaveUser creates or replaces a profile.
	SaveUser(ctx context.Context, user types.UserContext) error
	Close() error
}

// Open selects a backend by DSN scheme:
//
//	postgres://, postgresql://  pgx pool
//	badger:///path/to/dir       on-disk badger
//	memory://                   in-memory badger
func Open(ctx context.Context, dsn string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	case dsn == "memory://" || dsn == "":
		return OpenBadger(BadgerOptions{InMemory: true, Logger: logger})
	case strings.HasPrefix(dsn, "badger://"):
		dir := strings.TrimPrefix(dsn, "badger://")
		if dir == "" {
			return nil, fmt.Errorf("store: badger dsn requires a directory")
		}
		return OpenBadger(BadgerOptions{Dir: dir, Logger: logger})
	default:
		return nil, fmt.Errorf("store: unsupported dsn scheme in %q", redactDSN(dsn))
	}
}

func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i+3] + "..."
	}
	return "..."
}
