package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/gateway/auth"
	"github.com/vango-go/vai-voice/pkg/store"
)

func storeDSN(flag string) string {
	if flag != "" {
		return flag
	}
	if v := strings.TrimSpace(os.Getenv("VAI_VOICE_STORE_DSN")); v != "" {
		return v
	}
	return "memory://"
}

func newMigrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the user store schema to Postgres",
		Long: `Apply the embedded schema migrations to a Postgres user store.

The DSN defaults to VAI_VOICE_STORE_DSN. Badger stores need no migrations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn = storeDSN(dsn)
			if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
				return errors.New("migrate: a postgres:// dsn is required")
			}
			pg, err := store.OpenPostgres(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres DSN (default $VAI_VOICE_STORE_DSN)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		subject  string
		audience string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a caller credential for local testing",
		Long: `Mint an HS256 caller credential signed with JWT_SECRET_KEY.

Example:
  vai-voice token --subject user-123 --ttl 2h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET_KEY")
			if secret == "" {
				return errors.New("JWT_SECRET_KEY must be set")
			}
			if ttl <= 0 {
				return errors.New("--ttl must be > 0")
			}
			if audience == "" {
				audience = auth.DefaultAudience
				if v := strings.TrimSpace(os.Getenv("VAI_VOICE_JWT_AUDIENCE")); v != "" {
					audience = v
				}
			}
			tok, err := auth.NewGate(secret, auth.WithAudience(audience)).Issue(subject, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "caller subject (required)")
	cmd.Flags().StringVar(&audience, "audience", "", "token audience (default $VAI_VOICE_JWT_AUDIENCE or authenticated)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage caller profiles in the user store",
	}

	var (
		dsn         string
		name        string
		preferences string
		memoryText  string
	)
	put := &cobra.Command{
		Use:   "put <subject>",
		Short: "Create or replace a caller profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			st, err := store.Open(cmd.Context(), storeDSN(dsn), logger)
			if err != nil {
				return err
			}
			defer st.Close()

			u := types.UserContext{
				Subject:     args[0],
				Name:        name,
				Preferences: preferences,
				Memory:      memoryText,
				CreatedAt:   time.Now().UTC(),
			}
			if err := st.SaveUser(cmd.Context(), u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", u.Subject)
			return nil
		},
	}
	put.Flags().StringVar(&dsn, "dsn", "", "store DSN (default $VAI_VOICE_STORE_DSN)")
	put.Flags().StringVar(&name, "name", "", "display name")
	put.Flags().StringVar(&preferences, "preferences", "", "free-form preferences")
	put.Flags().StringVar(&memoryText, "memory", "", "initial memory text")

	var getDSN string
	get := &cobra.Command{
		Use:   "get <subject>",
		Short: "Print a caller profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			st, err := store.Open(cmd.Context(), storeDSN(getDSN), logger)
			if err != nil {
				return err
			}
			defer st.Close()

			u, err := st.FetchUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "subject:     %s\n", u.Subject)
			fmt.Fprintf(out, "name:        %s\n", u.Name)
			fmt.Fprintf(out, "preferences: %s\n", u.Preferences)
			fmt.Fprintf(out, "memory:      %s\n", u.Memory)
			return nil
		},
	}
	get.Flags().StringVar(&getDSN, "dsn", "", "store DSN (default $VAI_VOICE_STORE_DSN)")

	cmd.AddCommand(put, get)
	return cmd
}
