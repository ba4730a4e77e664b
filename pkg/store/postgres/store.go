// Package postgres persists fetch runs, duty records and per-epoch outcomes
// in PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Use pgx via database/sql
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DefaultNetwork is used when Config.Network is empty.
const DefaultNetwork = "mainnet"

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL      string
	MaxConns int
	MinConns int

	// Network scopes every row the store reads and writes, so one database
	// can hold several chains.
	Network string
}

// Store is the PostgreSQL duty store.
type Store struct {
	db      *sqlx.DB
	network string
	logger  zerolog.Logger
}

// Open connects to PostgreSQL and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set pool configuration
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}

	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}

	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	network := cfg.Network
	if network == "" {
		network = DefaultNetwork
	}

	s := &Store{
		db:      db,
		network: network,
		logger:  log.With().Str("component", "postgres-store").Str("network", network).Logger(),
	}

	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// Migrate applies the embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger: s.logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	// Goose needs the *sql.DB which sqlx.DB wraps
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}
	return nil
}

// Name implements gaps.Source.
func (s *Store) Name() string {
	return "postgres/" + s.network
}

// Network returns the network the store is scoped to.
func (s *Store) Network() string {
	return s.network
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// gooseLogger routes goose output to zerolog.
type gooseLogger struct {
	logger zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Fatal().Msgf(format, v...)
}
