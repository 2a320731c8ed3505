package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/BellwoodLabs/DrillLine/internal/api"
	"github.com/BellwoodLabs/DrillLine/internal/dialog"
	"github.com/BellwoodLabs/DrillLine/internal/progress"
	"github.com/BellwoodLabs/DrillLine/internal/registration"
	"github.com/BellwoodLabs/DrillLine/internal/sms"
	"github.com/BellwoodLabs/DrillLine/internal/store"
	"github.com/BellwoodLabs/DrillLine/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for DrillLine state data
	DefaultStateDir = "/var/lib/drillline"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "drillline.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	repo, err := buildDialogStore(flags)
	if err != nil {
		slog.Error("Failed to initialize dialog store", "error", err)
		os.Exit(1)
	}

	validator, err := registration.NewHTTPValidator()
	if err != nil {
		slog.Error("Failed to initialize registration validator", "error", err)
		os.Exit(1)
	}

	dispatcher, err := buildDispatcher(flags)
	if err != nil {
		slog.Error("Failed to initialize SMS dispatcher", "error", err)
		os.Exit(1)
	}

	progressRepo, err := buildProgressRepository(flags)
	if err != nil {
		slog.Error("Failed to initialize progress projection", "error", err)
		os.Exit(1)
	}

	engine := dialog.NewEngine(repo)
	server := api.NewServer(engine, repo, validator, dispatcher, progressRepo, buildAPIOptions(flags)...)

	slog.Info("Bootstrapping DrillLine with configured modules",
		"dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr,
		"sms_enabled", dispatcher != nil, "progress_enabled", progressRepo != nil)
	if err := server.Run(); err != nil {
		slog.Error("DrillLine failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("DrillLine exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	ProgressURL string
	StateDir    string
	APIAddr     string
	SMSEnabled  bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	progressDSN *string
	apiAddr     *string
	smsEnabled  *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ProgressURL: os.Getenv("PROGRESS_DATABASE_URL"),
		StateDir:    os.Getenv("DRILLLINE_STATE_DIR"),
		APIAddr:     os.Getenv("API_ADDR"),
		SMSEnabled:  util.ParseBoolEnv("SMS_ENABLED", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No DRILLLINE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"PROGRESS_DATABASE_URL_SET", config.ProgressURL != "",
		"DRILLLINE_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"SMS_ENABLED", config.SMSEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for DrillLine data (overrides $DRILLLINE_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN for the dialog store (overrides $DATABASE_URL)"),
		progressDSN: flag.String("progress-dsn", config.ProgressURL, "Postgres DSN for the drill-progress projection (overrides $PROGRESS_DATABASE_URL)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		smsEnabled:  flag.Bool("sms", config.SMSEnabled, "enable outbound SMS via Twilio (overrides $SMS_ENABLED)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"progressDSN_set", *flags.progressDSN != "",
		"apiAddr", *flags.apiAddr,
		"sms", *flags.smsEnabled)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !isPostgresDSN(*flags.dbDSN) {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

func isPostgresDSN(dsn string) bool {
	return strings.Contains(dsn, "postgres://") || strings.Contains(dsn, "host=")
}

// buildDialogStore selects the store backend from the DSN shape.
func buildDialogStore(flags Flags) (store.DialogRepository, error) {
	if isPostgresDSN(*flags.dbDSN) {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildDispatcher wires the Twilio sender, if SMS is enabled.
func buildDispatcher(flags Flags) (*sms.Dispatcher, error) {
	if !*flags.smsEnabled {
		slog.Debug("SMS disabled, no dispatcher configured")
		return nil, nil
	}
	client, err := sms.NewClient()
	if err != nil {
		return nil, err
	}
	return sms.NewDispatcher(client), nil
}

// buildProgressRepository wires the drill-progress projection, if configured.
func buildProgressRepository(flags Flags) (*progress.Repository, error) {
	if *flags.progressDSN == "" {
		slog.Debug("No progress DSN provided, projection disabled")
		return nil, nil
	}
	return progress.NewRepository(progress.WithDSN(*flags.progressDSN))
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
