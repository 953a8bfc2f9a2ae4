package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eternisai/search-chat/internal/config"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavour behind a Database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

type Database struct {
	DB      *sql.DB
	Dialect Dialect
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d *Database) Placeholder(n int) string {
	if d.Dialect == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Placeholders returns count markers starting at from, joined by commas.
func (d *Database) Placeholders(from, count int) string {
	list := make([]string, 0, count)
	for i := 0; i < count; i++ {
		list = append(list, d.Placeholder(from+i))
	}
	return strings.Join(list, ", ")
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.DB.Close()
}

// InitDatabase opens the Postgres pool configured in cfg and runs migrations.
func InitDatabase(ctx context.Context, cfg *config.Config) (*Database, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTime) * time.Minute)
	db.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetime) * time.Minute)

	return open(ctx, db, DialectPostgres)
}

// OpenSQLite opens a SQLite database at path (":memory:" for a private in-memory
// database) and runs migrations.
func OpenSQLite(ctx context.Context, path string) (*Database, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// A single connection serializes writers and keeps in-memory databases alive.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable sqlite foreign keys: %w", err)
	}

	return open(ctx, db, DialectSQLite)
}

func open(ctx context.Context, db *sql.DB, dialect Dialect) (*Database, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(ctx, db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Database{
		DB:      db,
		Dialect: dialect,
	}, nil
}
