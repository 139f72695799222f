package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arborlabs/arbor/config"
	srv "github.com/arborlabs/arbor/internal/server"
)

func main() {
	var root = &cobra.Command{Use: "arbor"}

	root.AddCommand(serveCMD(), migrateCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return srv.Run(cfg)
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file directory (default is .)")
	return serve
}

func migrateCMD() *cobra.Command {
	var migDir string
	var migDirDefault = "file://migrations"
	var direction string
	var steps int
	var cfgPath string

	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			dsn := cfg.Storage.Postgres.DSN()
			if dsn == "" {
				return fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
			}
			if migDir == "" {
				migDir = migDirDefault
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", migDirDefault, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file directory (default is .)")
	return migrate
}
