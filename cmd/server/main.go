package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"webhook_queue/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "webhook-queue",
		Short:         "Webhook delivery queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("dsn", "", "Database DSN or SQLite file path (overrides DB_DSN)")
	rootCmd.PersistentFlags().String("driver", "", "Database driver: postgres|sqlite (overrides DB_DRIVER)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API, leader election, delivery and cron loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
	serveCmd.Flags().String("port", "", "HTTP port (overrides HTTP_PORT)")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), cfg)
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies flags set on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Load()

	if v, _ := cmd.Flags().GetString("dsn"); v != "" {
		cfg.DBDSN = v
	}
	if v, _ := cmd.Flags().GetString("driver"); v != "" {
		cfg.DBDriver = v
	}
	if cmd.Flags().Lookup("port") != nil {
		if v, _ := cmd.Flags().GetString("port"); v != "" {
			cfg.HTTPPort = v
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
