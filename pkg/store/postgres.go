package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres stores profiles in the users table.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates a pool. Connections are established lazily.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Migrate applies the embedded schema migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("store: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) FetchUser(ctx context.Context, subject string) (types.UserContext, error) {
	var (
		user   types.UserContext
		gender *string
		prefs  *string
		memory *string
	)
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, gender, preferences, context, created_at FROM users WHERE id = $1`,
		subject,
	).Scan(&user.Subject, &user.Name, &gender, &prefs, &memory, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.UserContext{}, core.ErrUserNotFound
	}
	if err != nil {
		return types.UserContext{}, fmt.Errorf("store: fetch user: %w", err)
	}
	if gender != nil {
		user.Gender = types.Gender(*gender)
	}
	if prefs != nil {
		user.Preferences = *prefs
	}
	if memory != nil {
		user.Memory = *memory
	}
	return user, nil
}

func (p *Postgres) PersistMemory(ctx context.Context, subject, memory string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET context = $2, updated_at = now() WHERE id = $1`, subject, memory)
	if err != nil {
		return fmt.Errorf("store: persist memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrUserNotFound
	}
	return nil
}

func (p *Postgres) SaveUser(ctx context.Context, user types.UserContext) error {
	if user.Subject == "" {
		return errors.New("store: user subject is required")
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO users (id, name, gender, preferences, context)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''))
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	gender = EXCLUDED.gender,
	preferences = EXCLUDED.preferences,
	context = EXCLUDED.context,
	updated_at = now()`,
		user.Subject, user.Name, string(user.Gender), user.Preferences, user.Memory,
	)
	if err != nil {
		return fmt.Errorf("store: save user: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
