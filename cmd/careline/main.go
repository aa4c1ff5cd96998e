package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carelinehq/careline/internal/config"
	"github.com/carelinehq/careline/internal/db"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "careline",
		Short: "Conversational command pipeline for family support services",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook service",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return db.Migrate(cfg.Postgres)
		},
	}

	root.AddCommand(serveCmd, migrateCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
