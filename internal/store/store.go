package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // driver: sqlite
)

// Driver selects the database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db     *sqlx.DB
	driver Driver
}

// Open connects to the database and creates the schema if needed.
// An empty dsn selects a local default for the driver.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		drvName = "sqlite"
		if dsn == "" {
			dsn = "pastpaper.db"
		}
		if dsn != ":memory:" && !strings.Contains(dsn, "?") {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/pastpaper?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sqlx.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// SQLite allows one writer, and every :memory: connection is its own database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Debug("database ready", "driver", driver)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS papers (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0,
		duration_sec INTEGER NOT NULL,
		total_marks INTEGER NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS questions (
		paper_id TEXT NOT NULL REFERENCES papers(id),
		id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		options_json TEXT NOT NULL,
		answer TEXT NOT NULL,
		marks INTEGER NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		explanation TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (paper_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS results (
		session_id TEXT PRIMARY KEY,
		paper_id TEXT NOT NULL,
		student_id TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL,
		total_marks INTEGER NOT NULL,
		percentage INTEGER NOT NULL,
		grade TEXT NOT NULL,
		submitted_at BIGINT NOT NULL,
		result_json TEXT NOT NULL,
		review_json TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS results_paper_idx ON results (paper_id, submitted_at)`,
	`CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		paper_id TEXT NOT NULL,
		imported_at BIGINT NOT NULL
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	// Databases created before reviews were stored lack review_json.
	if _, err := s.db.ExecContext(ctx, `SELECT review_json FROM results LIMIT 0`); err != nil {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE results ADD COLUMN review_json TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add review_json: %w", err)
		}
	}
	return nil
}
