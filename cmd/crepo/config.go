package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"crepo/internal/app"
	"crepo/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults, err := app.GetDefaults()
			if err != nil {
				return fmt.Errorf("failed to get defaults: %w", err)
			}
			cfg := config.NewConfig(defaults.BaseDir)

			engine, _ := cmd.Flags().GetString("engine")
			switch engine {
			case "sqlite":
			case "postgres":
				if err := postgresFromFlags(cmd, cfg); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown engine %q: want sqlite or postgres", engine)
			}

			if err := config.Init(defaults.ConfigPath, cfg); err != nil {
				return fmt.Errorf("failed to initialize config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration initialized at %s\n", defaults.ConfigPath)
			fmt.Fprintf(out, "Engine:   %s\n", cfg.Database.Type)
			fmt.Fprintf(out, "Base Dir: %s\n", cfg.BaseDir)
			return nil
		},
	}
	initCmd.Flags().String("engine", "sqlite", "Database engine: sqlite or postgres")
	initCmd.Flags().String("host", "localhost", "PostgreSQL host")
	initCmd.Flags().Int("port", config.DefaultPostgresPort, "PostgreSQL port")
	initCmd.Flags().String("db-name", "crdb", "PostgreSQL database name")
	initCmd.Flags().String("user", "", "PostgreSQL user")
	initCmd.Flags().Bool("multiuser", false, "Read PostgreSQL settings from CREPO_PG_* at run time")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "View configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Database.Password != "" {
				shown.Database.Password = "********"
			}
			if shown.Backup.Archive.S3SecretAccessKey != "" {
				shown.Backup.Archive.S3SecretAccessKey = "********"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# Configuration from %s\n\n", path)
			m := &config.Manager{}
			return m.Write(out, &shown)
		},
	}

	cmd.AddCommand(initCmd, listCmd)
	return cmd
}

func postgresFromFlags(cmd *cobra.Command, cfg *config.Config) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	name, _ := cmd.Flags().GetString("db-name")
	user, _ := cmd.Flags().GetString("user")
	multi, _ := cmd.Flags().GetBool("multiuser")

	cfg.Database = config.DatabaseConfig{
		Type:           "postgres",
		Host:           host,
		Port:           port,
		Name:           name,
		User:           user,
		BulkThreshold:  cfg.Database.BulkThreshold,
		AcquireTimeout: cfg.Database.AcquireTimeout,
	}
	if multi {
		cfg.Database.SettingsSource = "multiuser"
		return nil
	}
	if user == "" {
		return fmt.Errorf("--user is required for postgres")
	}
	if v := os.Getenv(config.EnvPGPassword); v != "" {
		cfg.Database.Password = v
		return nil
	}
	pw, err := readSecret(cmd.InOrStdin(), "PostgreSQL password for "+user+"@"+host+":"+strconv.Itoa(port)+": ")
	if err != nil {
		return err
	}
	cfg.Database.Password = pw
	return nil
}
