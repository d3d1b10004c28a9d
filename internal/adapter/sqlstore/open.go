// Package sqlstore implements the link queue over sqlx for SQLite and
// PostgreSQL.
package sqlstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultPingTimeout = 5 * time.Second
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS links (
    id           INTEGER PRIMARY KEY,
    url          TEXT NOT NULL,
    status       INTEGER NOT NULL DEFAULT 1,
    artifact_id  INTEGER,
    published_at DATETIME,
    vehicle_code INTEGER,
    channel_code INTEGER,
    client_code  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_links_status ON links(status);
CREATE TABLE IF NOT EXISTS artifacts (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    link_id    INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Config selects the database.
type Config struct {
	Driver      string
	DSN         string
	PingTimeout time.Duration
}

// Opener establishes a fresh database handle.
type Opener func(ctx context.Context) (*sqlx.DB, error)

// NewOpener returns an Opener for cfg. SQLite databases get their directory
// and schema created on open.
func NewOpener(cfg Config) (Opener, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case DriverSQLite, DriverPostgres:
	case "", "sqlite3":
		driver = DriverSQLite
	case "postgresql", "pq":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("store dsn is required")
	}
	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}

	return func(ctx context.Context) (*sqlx.DB, error) {
		if driver == DriverSQLite {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}

		db, err := sqlx.Open(driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", driver, err)
		}
		if driver == DriverSQLite {
			db.SetMaxOpenConns(1)
		}

		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping %s: %w", driver, err)
		}

		if driver == DriverSQLite {
			if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
				db.Close()
				return nil, fmt.Errorf("init schema: %w", err)
			}
		}
		return db, nil
	}, nil
}
