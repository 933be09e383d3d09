// Command goszakup-etl loads the Kazakh public procurement registry
// into PostgreSQL: reference data, participants, plans, the
// announcement chain down to contracts, acts and treasury payments.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/qazdata/goszakup-etl/internal/version"
	"github.com/qazdata/goszakup-etl/pkg/config"
	"github.com/qazdata/goszakup-etl/pkg/logger"
)

func main() {
	// Load .env if present; a missing file is fine.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "goszakup-etl",
		Short: "ETL for the goszakup.gov.kz public procurement registry",
		Long: `goszakup-etl pulls the public procurement registry of Kazakhstan
(ows.goszakup.gov.kz) into PostgreSQL: reference tables, participants,
plans, announcements, applications, lots, contracts, acts and treasury
payments, in dependency order.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Path to YAML configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("goszakup-etl %s\n", version.Version)
			fmt.Printf("Commit: %s\n", version.Commit)
			fmt.Printf("Built: %s\n", version.Date)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newRunCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newEntitiesCmd())
	root.AddCommand(newCheckCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig builds the effective configuration: defaults, then the
// YAML file when one is given, then environment overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.New()

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := config.Load(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initLogger brings up the global logger from the configuration.
func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Format,
		Development: cfg.Logging.Development,
	})
}
