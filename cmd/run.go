package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostenv/internal/browser"
	"github.com/xkilldash9x/hostenv/internal/config"
	"github.com/xkilldash9x/hostenv/internal/observability"
)

func newRunCmd() *cobra.Command {
	var htmlFile string

	runCmd := &cobra.Command{
		Use:   "run <script.js>",
		Short: "Run a script against the emulated browser environment",
		Long: `Builds the configured environment, loads an optional HTML document, installs
the host objects behind the interception layer and runs the script. The
script's completion value is printed as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()

			script, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}
			opts := browser.OptionsFromConfig(cfg)
			if htmlFile != "" {
				doc, err := os.ReadFile(htmlFile)
				if err != nil {
					return fmt.Errorf("failed to read document: %w", err)
				}
				opts.HTML = string(doc)
			}

			s, closeStore, err := openStore(ctx, cfg.Profiles, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			manager := browser.NewManager(s, logger)
			defer func() {
				if err := manager.Shutdown(ctx); err != nil {
					logger.Warn("Browser manager shutdown failed", zap.Error(err))
				}
			}()

			page, err := manager.NewPage(ctx, opts)
			if err != nil {
				return err
			}
			result, err := page.ExecuteScript(ctx, string(script))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
			return nil
		},
	}

	runCmd.Flags().StringVar(&htmlFile, "html", "", "HTML document to load before running the script")
	runCmd.Flags().String("url", "", "document URL")
	runCmd.Flags().StringSlice("bundle", nil, "implementation bundles to load")
	runCmd.Flags().Duration("timeout", 0, "script timeout")
	addProfileFlags(runCmd)
	return runCmd
}
