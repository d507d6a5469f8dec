package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostenv/internal/config"
	"github.com/xkilldash9x/hostenv/internal/observability"
	"github.com/xkilldash9x/hostenv/internal/profile"
	"github.com/xkilldash9x/hostenv/internal/store"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [dir]",
		Short: "Copy profile documents into the configured database",
		Long: `Reads every document under <dir>/{base,browsers,sites,bundles} (the embedded
defaults when no directory is given) and upserts it into the PostgreSQL or
SQLite store selected by the configuration.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()

			src := profile.Defaults()
			if len(args) == 1 {
				src = os.DirFS(args[0])
			}
			docs, err := store.Collect(src)
			if err != nil {
				return err
			}

			dst := cfg.Profiles
			dst.Dir = ""
			s, closeStore, err := openStore(ctx, dst, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			switch db := s.(type) {
			case *store.Store:
				if err := db.Migrate(ctx); err != nil {
					return err
				}
				err = db.Import(ctx, docs)
			case *store.SQLiteStore:
				err = db.Import(ctx, docs)
			default:
				return errors.New("import needs profiles.postgres_url or profiles.sqlite_path")
			}
			if err != nil {
				return err
			}
			logger.Info("Profiles imported", zap.Int("documents", len(docs)))
			return nil
		},
	}
}
