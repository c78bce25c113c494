package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kasuganosora/playeraccounts/account"
	"github.com/kasuganosora/playeraccounts/config"
	dbadapter "github.com/kasuganosora/playeraccounts/db"
	"github.com/kasuganosora/playeraccounts/logging"
	"github.com/kasuganosora/playeraccounts/model"
	"github.com/kasuganosora/playeraccounts/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "none"
)

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "playeraccounts",
		Short:        "Player account service",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config/config.yaml", "path to the YAML config file")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the REST and WebSocket server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database tables and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate(cmd.Context(), cfgPath)
			},
		},
		genpassCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "playeraccounts %s (commit: %s)\n", version, commit)
			},
		},
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func migrate(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(cfg.Server.Debug, cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	if err := account.NewService(store.NewGormGateway(db), logger).Initialize(ctx); err != nil {
		return err
	}
	logger.Info("migration complete", zap.String("mode", cfg.Database.Mode))
	return nil
}

func genpassCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "genpass",
		Short: "Print random passwords with their stored SHA-256 hashes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for i := 0; i < count; i++ {
				pw, err := account.GenerateRandomPassword()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", pw, account.HashPassword(pw))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of passwords to generate")
	return cmd
}
