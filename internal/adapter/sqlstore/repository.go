package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cwygoda/postcatch/internal/domain"
)

const linkColumns = `id, url, status, artifact_id, published_at, vehicle_code, channel_code, client_code`

// Repository implements domain.LinkRepository.
type Repository struct {
	guard *Guard
}

// New creates a Repository on top of a Guard.
func New(guard *Guard) *Repository {
	return &Repository{guard: guard}
}

// Ping verifies the store is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.guard.Ping(ctx)
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.guard.Close()
}

// Get retrieves a link by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*domain.LinkRecord, error) {
	var link domain.LinkRecord
	err := r.guard.Do(ctx, "get", func(db *sqlx.DB) error {
		return db.GetContext(ctx, &link,
			db.Rebind(`SELECT `+linkColumns+` FROM links WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// FindPending returns Pending and RetryEligible links published since
// q.Since, newest id first.
func (r *Repository) FindPending(ctx context.Context, q domain.PendingQuery) ([]domain.LinkRecord, error) {
	query, args := pendingQuery(q)
	var links []domain.LinkRecord
	err := r.guard.Do(ctx, "find_pending", func(db *sqlx.DB) error {
		links = links[:0]
		return db.SelectContext(ctx, &links, db.Rebind(query), args...)
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

func pendingQuery(q domain.PendingQuery) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + linkColumns + ` FROM links WHERE status IN (?, ?) AND published_at >= ?`)
	args := []any{domain.StatusPending, domain.StatusRetryEligible, q.Since.UTC()}

	clause, patterns := platformFilter(q.Platform)
	b.WriteString(clause)
	for _, p := range patterns {
		args = append(args, p)
	}
	if q.ClientCode != 0 {
		b.WriteString(` AND client_code = ?`)
		args = append(args, q.ClientCode)
	}

	b.WriteString(` ORDER BY id DESC LIMIT ?`)
	args = append(args, q.Limit)
	return b.String(), args
}

// platformFilter turns an operator platform name into URL LIKE patterns.
// Unknown names match as a plain substring of the URL.
func platformFilter(name string) (string, []string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}

	var patterns []string
	if p, ok := domain.ParsePlatform(name); ok {
		for _, d := range p.Domains() {
			patterns = append(patterns, "%"+d+"%")
		}
	} else {
		patterns = []string{"%" + name + "%"}
	}

	likes := make([]string, len(patterns))
	for i := range patterns {
		likes[i] = "url LIKE ?"
	}
	return " AND (" + strings.Join(likes, " OR ") + ")", patterns
}

// UpdateStatus writes a status code and, when non-nil, the artifact id.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status domain.Status, artifactID *int64) error {
	if _, err := domain.ParseStatus(int(status)); err != nil {
		return err
	}
	return r.guard.Do(ctx, "update_status", func(db *sqlx.DB) error {
		var (
			res sql.Result
			err error
		)
		if artifactID != nil {
			res, err = db.ExecContext(ctx,
				db.Rebind(`UPDATE links SET status = ?, artifact_id = ? WHERE id = ?`),
				status, *artifactID, id)
		} else {
			res, err = db.ExecContext(ctx,
				db.Rebind(`UPDATE links SET status = ? WHERE id = ?`),
				status, id)
		}
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// DeleteArtifact removes the downstream artifact for a link and clears the
// reference. A link without an artifact is left untouched.
func (r *Repository) DeleteArtifact(ctx context.Context, id int64) error {
	return r.guard.Do(ctx, "delete_artifact", func(db *sqlx.DB) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var artifactID sql.NullInt64
		err = tx.GetContext(ctx, &artifactID, tx.Rebind(`SELECT artifact_id FROM links WHERE id = ?`), id)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrLinkNotFound
		}
		if err != nil {
			return err
		}
		if !artifactID.Valid {
			return nil
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM artifacts WHERE id = ?`), artifactID.Int64); err != nil {
			return fmt.Errorf("delete artifact %d: %w", artifactID.Int64, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE links SET artifact_id = NULL WHERE id = ?`), id); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Add inserts a link. It is the local producer path; links normally arrive
// from an external system.
func (r *Repository) Add(ctx context.Context, link domain.LinkRecord) error {
	if link.Status == 0 {
		link.Status = domain.StatusPending
	}
	if link.PublishedAt == nil {
		now := time.Now().UTC()
		link.PublishedAt = &now
	} else {
		utc := link.PublishedAt.UTC()
		link.PublishedAt = &utc
	}
	return r.guard.Do(ctx, "add", func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx,
			`INSERT INTO links (`+linkColumns+`)
			 VALUES (:id, :url, :status, :artifact_id, :published_at, :vehicle_code, :channel_code, :client_code)`,
			link)
		return err
	})
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrLinkNotFound
	}
	return nil
}
