package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostenv/internal/config"
	"github.com/xkilldash9x/hostenv/internal/envbuild"
	"github.com/xkilldash9x/hostenv/internal/observability"
)

func newBuildCmd() *cobra.Command {
	var out string

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Merge the configured profile layers and export the result",
		Long: `Loads the base, browser and site layers, merges them and writes the merged
class table together with the final fingerprint as JSON. The output can be
used as a base layer of its own.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()

			s, closeStore, err := openStore(ctx, cfg.Profiles, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			b, err := envbuild.Preset(ctx, s, logger, cfg.Profiles.Base, cfg.Profiles.Browser, cfg.Profiles.Sites...)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := b.Export(w); err != nil {
				return err
			}
			if out != "" {
				logger.Info("Merged configuration written", zap.String("path", out))
			}
			return nil
		},
	}

	buildCmd.Flags().StringVarP(&out, "out", "o", "", "write the merged configuration to this file instead of stdout")
	addProfileFlags(buildCmd)
	return buildCmd
}
