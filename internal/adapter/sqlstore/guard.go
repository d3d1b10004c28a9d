package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/cwygoda/postcatch/internal/domain"
)

// Guard owns the single shared database handle. Before each operation it
// pings the handle and reopens it when the ping fails. An operation that
// fails with a connection error is retried once on a fresh handle.
type Guard struct {
	open        Opener
	log         *zap.Logger
	pingTimeout time.Duration

	mu    sync.Mutex
	db    *sqlx.DB
	opens int
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithPingTimeout bounds the health check run before each operation.
// Non-positive values keep the default.
func WithPingTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.pingTimeout = d
		}
	}
}

// NewGuard creates a Guard. The handle is opened lazily.
func NewGuard(open Opener, log *zap.Logger, opts ...GuardOption) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Guard{open: open, log: log, pingTimeout: defaultPingTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do runs fn against a healthy handle.
func (g *Guard) Do(ctx context.Context, op string, fn func(db *sqlx.DB) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	db, err := g.conn(ctx)
	if err != nil {
		return err
	}

	err = fn(db)
	if err == nil || !isConnErr(err) {
		return err
	}

	g.log.Warn("store operation lost connection, reconnecting",
		zap.String("op", op),
		zap.Error(err),
	)
	g.drop()
	db, err = g.conn(ctx)
	if err != nil {
		return err
	}
	if err = fn(db); err != nil && isConnErr(err) {
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
	}
	return err
}

// Ping checks the store, reconnecting if needed.
func (g *Guard) Ping(ctx context.Context) error {
	return g.Do(ctx, "ping", func(db *sqlx.DB) error {
		return g.ping(ctx, db)
	})
}

// Reconnects reports how many times the handle was reopened after the first open.
func (g *Guard) Reconnects() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.opens == 0 {
		return 0
	}
	return g.opens - 1
}

// Close releases the handle.
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db == nil {
		return nil
	}
	err := g.db.Close()
	g.db = nil
	return err
}

func (g *Guard) conn(ctx context.Context) (*sqlx.DB, error) {
	if g.db != nil {
		err := g.ping(ctx, g.db)
		if err == nil {
			return g.db, nil
		}
		g.log.Warn("store ping failed, reconnecting", zap.Error(err))
		g.drop()
	}

	db, err := g.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	g.db = db
	g.opens++
	if g.opens > 1 {
		g.log.Info("store reconnected", zap.Int("reconnects", g.opens-1))
	}
	return db, nil
}

func (g *Guard) ping(ctx context.Context, db *sqlx.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, g.pingTimeout)
	defer cancel()
	return db.PingContext(pingCtx)
}

func (g *Guard) drop() {
	if g.db == nil {
		return
	}
	if err := g.db.Close(); err != nil {
		g.log.Debug("closing stale store handle", zap.Error(err))
	}
	g.db = nil
}

func isConnErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 08: connection exception, 57P0x: server shutting down.
		return pqErr.Code.Class() == "08" || strings.HasPrefix(string(pqErr.Code), "57P")
	}
	return false
}
