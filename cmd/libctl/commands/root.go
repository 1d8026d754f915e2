// Package commands implements the libctl operator CLI.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/internal/config"
	"github.com/tbourn/go-circulation-backend/internal/repo"
	"github.com/tbourn/go-circulation-backend/internal/sysutil"
)

var (
	// Global flags
	envFile    string
	dbDriver   string
	dbPath     string
	dbDSN      string
	operator   string
	verbose    bool
	jsonOutput bool

	// Opened in PersistentPreRunE, closed in PersistentPostRunE.
	db *gorm.DB
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "libctl",
	Short: "libctl - operator tool for the library circulation core",
	Long: `libctl talks straight to the circulation database. It is meant for operators
and cron jobs on the same network as the database, not for desk staff.

Features:
  - Schema migration and demo data
  - Catalog ingestion (titles, copies) and reader registration
  - Maintenance jobs (reservation expiry, monthly credit recovery)
  - Overdue, damage and summary reports as tables or JSON

Database settings come from the same environment variables as the server
(DB_DRIVER, DB_PATH, DB_DSN), optionally loaded from --env-file, and can be
overridden with flags.`,
	SilenceUsage:       true,
	PersistentPreRunE:  openDB,
	PersistentPostRunE: closeDB,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "db-driver", "", "Database driver: sqlite|postgres|mysql (overrides DB_DRIVER)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "SQLite file (overrides DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db-dsn", "", "Postgres/MySQL DSN (overrides DB_DSN)")
	rootCmd.PersistentFlags().StringVar(&operator, "operator", "libctl", "Operator id recorded in audit logs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

// dbConfig resolves the database settings: environment first, flags on top.
func dbConfig() (config.DBConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return config.DBConfig{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil && dbDriver == "" && dbPath == "" && dbDSN == "" {
		return config.DBConfig{}, err
	}
	out := cfg.DB
	if dbDriver != "" {
		out.Driver = strings.ToLower(dbDriver)
	}
	if dbPath != "" {
		out.Path = dbPath
		if dbDriver == "" {
			out.Driver = "sqlite"
		}
	}
	if dbDSN != "" {
		out.DSN = dbDSN
	}
	if out.Driver == "" {
		out.Driver = "sqlite"
	}
	return out, nil
}

func openDB(cmd *cobra.Command, _ []string) error {
	level := "warn"
	if verbose {
		level = "debug"
	}
	sysutil.SetupLogger(sysutil.LoggerOptions{Level: level, Pretty: true, Out: cmd.ErrOrStderr()})

	cfg, err := dbConfig()
	if err != nil {
		return err
	}
	db, err = repo.Open(cfg)
	return err
}

func closeDB(*cobra.Command, []string) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	db = nil
	return sqlDB.Close()
}
