package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostenv/internal/config"
	"github.com/xkilldash9x/hostenv/internal/profile"
	"github.com/xkilldash9x/hostenv/internal/store"
)

// flagBindings maps command flags to the config keys they override.
var flagBindings = map[string]string{
	"base":         "profiles.base",
	"browser":      "profiles.browser",
	"site":         "profiles.sites",
	"profiles-dir": "profiles.dir",
	"bundle":       "profiles.bundles",
	"url":          "session.url",
	"timeout":      "session.timeout",
}

// addProfileFlags exposes the layer selection on cmd.
func addProfileFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("base", "", "base profile name")
	flags.String("browser", "", "browser profile name")
	flags.StringSlice("site", nil, "site profile names, applied in order")
	flags.String("profiles-dir", "", "read profiles from this directory instead of the embedded set")
}

// bindFlags binds the flags of the executing command into v. viper keeps a
// single flag per key, so sibling commands must not bind their own copies
// up front.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagBindings {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

// openStore returns the profile store the configuration selects: PostgreSQL,
// SQLite, a directory, or the embedded defaults. The returned func releases it.
func openStore(ctx context.Context, cfg config.ProfilesConfig, logger *zap.Logger) (profile.Store, func(), error) {
	switch {
	case cfg.PostgresURL != "":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		return s, pool.Close, nil

	case cfg.SQLitePath != "":
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("Failed to close profile database", zap.Error(err))
			}
		}, nil

	case cfg.Dir != "":
		if _, err := os.Stat(cfg.Dir); err != nil {
			return nil, nil, fmt.Errorf("profiles directory: %w", err)
		}
		return profile.NewFSStore(os.DirFS(cfg.Dir)), func() {}, nil

	default:
		return profile.NewFSStore(profile.Defaults()), func() {}, nil
	}
}
