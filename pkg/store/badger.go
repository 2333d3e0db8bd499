package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

// BadgerOptions configures the embedded store.
type BadgerOptions struct {
	// Dir is required unless InMemory is set.
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

// Badger is an embedded Store. Profiles are msgpack records keyed by
// "user/<subject>".
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger-backed store.
func OpenBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger: logger.With("component", "badger")})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func userKey(subject string) []byte { return []byte("user/" + subject) }

func (b *Badger) FetchUser(_ context.Context, subject string) (types.UserContext, error) {
	var user types.UserContext
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(subject))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &user)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.UserContext{}, core.ErrUserNotFound
	}
	if err != nil {
		return types.UserContext{}, fmt.Errorf("store: fetch user: %w", err)
	}
	return user, nil
}

func (b *Badger) PersistMemory(_ context.Context, subject, memory string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		var user types.UserContext
		item, err := txn.Get(userKey(subject))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &user) }); err != nil {
			return err
		}
		user.Memory = memory
		data, err := msgpack.Marshal(&user)
		if err != nil {
			return err
		}
		return txn.Set(userKey(subject), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return core.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("store: persist memory: %w", err)
	}
	return nil
}

func (b *Badger) SaveUser(_ context.Context, user types.UserContext) error {
	if user.Subject == "" {
		return errors.New("store: user subject is required")
	}
	data, err := msgpack.Marshal(&user)
	if err != nil {
		return fmt.Errorf("store: encode user: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(user.Subject), data)
	})
}

func (b *Badger) Close() error { return b.db.Close() }

// badgerLogger routes badger's printf logging into slog. Info chatter is
// demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
