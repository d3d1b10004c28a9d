package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cwygoda/postcatch/internal/domain"
)

const (
	entryBucket = "artifacts"
	keyBytes    = 8
)

// boltStore implements Store backed by BoltDB.
type boltStore struct {
	db        *bolt.DB
	retention time.Duration
	now       func() time.Time
}

func openBolt(path string, opts Options) (*boltStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(entryBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	s := &boltStore{db: db, retention: opts.Retention, now: time.Now}
	if _, err := s.prune(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func key(linkID int64) []byte {
	buf := make([]byte, keyBytes)
	binary.BigEndian.PutUint64(buf, uint64(linkID))
	return buf
}

func (b *boltStore) Lookup(linkID int64) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(entryBucket))
		if bucket == nil {
			return fmt.Errorf("ledger bucket missing")
		}
		raw := bucket.Get(key(linkID))
		if raw == nil {
			return nil
		}
		var e domain.LedgerEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("decode ledger entry %d: %w", linkID, err)
		}
		entry = &e
		return nil
	})
	return entry, err
}

func (b *boltStore) RecordCapture(entry domain.LedgerEntry) error {
	return b.update(entry.LinkID, func(e *domain.LedgerEntry) {
		*e = entry
		e.Stage = domain.StageCaptured
		e.Failure = domain.FailureNone
		e.Detail = ""
	})
}

// RecordFailure notes the failure kind while keeping any captured paths.
func (b *boltStore) RecordFailure(linkID int64, p domain.Platform, kind domain.FailureKind, detail string) error {
	return b.update(linkID, func(e *domain.LedgerEntry) {
		e.Platform = p.String()
		e.Failure = kind
		e.Detail = detail
	})
}

func (b *boltStore) MarkIngested(linkID int64, artifactID *int64) error {
	return b.update(linkID, func(e *domain.LedgerEntry) {
		e.Stage = domain.StageIngested
		e.ArtifactID = artifactID
		e.Failure = domain.FailureNone
		e.Detail = ""
	})
}

func (b *boltStore) Forget(linkID int64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(entryBucket))
		if bucket == nil {
			return fmt.Errorf("ledger bucket missing")
		}
		return bucket.Delete(key(linkID))
	})
}

func (b *boltStore) update(linkID int64, mutate func(*domain.LedgerEntry)) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(entryBucket))
		if bucket == nil {
			return fmt.Errorf("ledger bucket missing")
		}
		k := key(linkID)
		var e domain.LedgerEntry
		if raw := bucket.Get(k); raw != nil {
			if err := json.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("decode ledger entry %d: %w", linkID, err)
			}
		}
		mutate(&e)
		e.LinkID = linkID
		e.UpdatedAt = b.now().UTC()
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return bucket.Put(k, raw)
	})
}

// prune drops ingested entries older than the retention window.
func (b *boltStore) prune() (int, error) {
	cutoff := b.now().Add(-b.retention)
	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(entryBucket))
		if bucket == nil {
			return fmt.Errorf("ledger bucket missing")
		}
		var stale [][]byte
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e domain.LedgerEntry
			if err := json.Unmarshal(v, &e); err != nil {
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			if e.Stage == domain.StageIngested && e.UpdatedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
