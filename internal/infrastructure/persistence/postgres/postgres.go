// Package postgres implements the persistence interfaces on PostgreSQL
// via sqlx. Every call carries its own timeout so a slow database stalls
// one evaluation, not the pipeline.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/pulsearb/pulsearb/internal/infrastructure/persistence"
)

// Config holds the connection pool settings.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// Connect opens and pings the database.
func Connect(config Config) (*sqlx.DB, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// NewRepository wires every store onto one connection pool.
func NewRepository(db *sqlx.DB, timeout time.Duration) *persistence.Repository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &persistence.Repository{
		Signals:   &signalRepo{db: db, timeout: timeout},
		Scores:    &scoreRepo{db: db, timeout: timeout},
		Decisions: &decisionRepo{db: db, timeout: timeout},
		Sources:   &sourceRepo{db: db, timeout: timeout},
		Outcomes:  &outcomeRepo{db: db, timeout: timeout},
		Positions: &positionRepo{db: db, timeout: timeout},
	}
}
