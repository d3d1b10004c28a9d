// Package ledger keeps a local record of captured artifacts and failure kinds
// so that a capture whose ingestion failed can be handed over again later
// without re-scraping.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/cwygoda/postcatch/internal/domain"
)

// Store is an ArtifactLedger that owns a resource.
type Store interface {
	domain.ArtifactLedger
	Close() error
}

// Options controls retention of ingested entries.
type Options struct {
	// Retention is how long an ingested entry is kept before pruning.
	Retention time.Duration
}

const defaultRetention = 30 * 24 * time.Hour

// New creates the configured ledger backend.
func New(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}

	switch typ {
	case "", "none", "disabled":
		return Noop{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt ledger requires a path")
		}
		s, err := openBolt(path, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported ledger type %q", typ)
	}
}

// Noop remembers nothing.
type Noop struct{}

func (Noop) Close() error                                                           { return nil }
func (Noop) Lookup(int64) (*domain.LedgerEntry, error)                              { return nil, nil }
func (Noop) RecordCapture(domain.LedgerEntry) error                                 { return nil }
func (Noop) RecordFailure(int64, domain.Platform, domain.FailureKind, string) error { return nil }
func (Noop) MarkIngested(int64, *int64) error                                       { return nil }
func (Noop) Forget(int64) error                                                     { return nil }
