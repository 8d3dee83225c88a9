package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aschepis/backscratcher/streamchat/config"
	llmanthropic "github.com/aschepis/backscratcher/streamchat/llm/anthropic"
	"github.com/aschepis/backscratcher/streamchat/logger"
	"github.com/aschepis/backscratcher/streamchat/migrations"
	"github.com/aschepis/backscratcher/streamchat/usage"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds what every command needs: configuration and a logger.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	db     *sql.DB
}

// newApp loads .env files and configuration and initializes logging from the
// persistent flags.
func newApp(cmd *cobra.Command) (*app, error) {
	config.LoadEnvFiles()

	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logFile, _ := cmd.Flags().GetString("logfile")
	pretty, _ := cmd.Flags().GetBool("pretty")
	if logFile == "" {
		logFile = cfg.LogFile
	}
	if logFile != "" && pretty {
		return nil, fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	log, err := logger.InitWithOptions(logFile, pretty)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.Debug().Str("config", configPath).Str("model", cfg.Model).Msg("Configuration loaded")

	return &app{cfg: cfg, logger: log}, nil
}

// provider creates the Anthropic provider.
func (a *app) provider() (*llmanthropic.Provider, error) {
	p, err := config.NewAnthropicProvider(a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create anthropic provider: %w", err)
	}
	return p, nil
}

// usageStore opens the database, migrates it and registers the default costs.
func (a *app) usageStore(ctx context.Context) (*usage.Store, error) {
	a.logger.Debug().Str("path", a.cfg.Database).Msg("Opening usage database")
	db, err := sql.Open("sqlite3", a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := migrations.RunMigrations(db, a.logger); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	a.db = db

	store := usage.NewStore(db, a.logger)
	if err := store.RegisterDefaults(ctx, a.cfg.Usage.Component); err != nil {
		return nil, fmt.Errorf("failed to register default costs: %w", err)
	}
	return store, nil
}

// Close releases the database, if one was opened.
func (a *app) Close() {
	if a.db != nil {
		a.db.Close() //nolint:errcheck // No remedy for db close errors
	}
}
