package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostenv/internal/config"
	"github.com/xkilldash9x/hostenv/internal/observability"
)

// Version is set at build time.
var Version = "dev"

// newRootCmd builds the command tree. Each call gets its own viper instance
// so the tree can be executed repeatedly in tests.
func newRootCmd() *cobra.Command {
	var cfgFile string
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "hostenv",
		Short:         "hostenv emulates browser host objects for scripts running in goja.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}

			cfg, err := config.New(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "hostenv"})
				return err
			}
			config.Set(cfg)

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting hostenv", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newImportCmd())
	return rootCmd
}

// Execute runs the CLI with ctx, which main cancels on interrupt.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// initializeConfig reads the config file and HOSTENV_ environment variables.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("HOSTENV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("profiles.postgres_url", "HOSTENV_PROFILES_POSTGRES_URL", "HOSTENV_DATABASE_URL")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and the environment still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
