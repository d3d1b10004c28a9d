package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"

	"github.com/cwygoda/postcatch/internal/domain"
)

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	open, err := NewOpener(Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "db", "test.db"),
	})
	if err != nil {
		t.Fatalf("NewOpener() error = %v", err)
	}
	repo := New(NewGuard(open, zaptest.NewLogger(t)))
	t.Cleanup(func() { repo.Close() })
	return repo
}

func int64p(v int64) *int64 { return &v }

func timep(t time.Time) *time.Time { return &t }

func TestRepository_AddAndGet(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	published := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	err := repo.Add(ctx, domain.LinkRecord{
		ID:          100,
		URL:         "https://www.instagram.com/p/ABC/",
		PublishedAt: &published,
		VehicleCode: int64p(12),
		ClientCode:  int64p(7),
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	link, err := repo.Get(ctx, 100)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if link.URL != "https://www.instagram.com/p/ABC/" {
		t.Errorf("URL = %q", link.URL)
	}
	if link.Status != domain.StatusPending {
		t.Errorf("Status = %v, want %v", link.Status, domain.StatusPending)
	}
	if link.PublishedAt == nil || !link.PublishedAt.Equal(published) {
		t.Errorf("PublishedAt = %v, want %v", link.PublishedAt, published)
	}
	if link.VehicleCode == nil || *link.VehicleCode != 12 {
		t.Errorf("VehicleCode = %v, want 12", link.VehicleCode)
	}
	if link.ChannelCode != nil {
		t.Errorf("ChannelCode = %v, want nil", *link.ChannelCode)
	}
	if link.ArtifactID != nil {
		t.Errorf("ArtifactID = %v, want nil", *link.ArtifactID)
	}

	_, err = repo.Get(ctx, 9999)
	if !errors.Is(err, domain.ErrLinkNotFound) {
		t.Errorf("Get() error = %v, want %v", err, domain.ErrLinkNotFound)
	}
}

func TestRepository_FindPending(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	recent := now.Add(-24 * time.Hour)
	old := now.Add(-20 * 24 * time.Hour)

	seed := []domain.LinkRecord{
		{ID: 1, URL: "https://www.instagram.com/p/1", Status: domain.StatusPending, PublishedAt: &recent},
		{ID: 2, URL: "https://x.com/u/status/2", Status: domain.StatusRetryEligible, PublishedAt: &recent},
		{ID: 3, URL: "https://twitter.com/u/status/3", Status: domain.StatusSucceeded, PublishedAt: &recent},
		{ID: 4, URL: "https://www.facebook.com/p/4", Status: domain.StatusFailed, PublishedAt: &recent},
		{ID: 5, URL: "https://fb.watch/5", Status: domain.StatusPending, PublishedAt: &recent, ClientCode: int64p(77)},
		{ID: 6, URL: "https://www.instagram.com/p/6", Status: domain.StatusPending, PublishedAt: &old},
		{ID: 7, URL: "https://tiktok.com/@u/7", Status: domain.StatusPending, PublishedAt: &recent},
	}
	for _, l := range seed {
		if err := repo.Add(ctx, l); err != nil {
			t.Fatalf("Add(%d) error = %v", l.ID, err)
		}
	}

	since := now.Add(-domain.PendingWindow)
	tests := []struct {
		name  string
		query domain.PendingQuery
		want  []int64
	}{
		{"all selectable newest first", domain.PendingQuery{Limit: 10, Since: since}, []int64{7, 5, 2, 1}},
		{"limit", domain.PendingQuery{Limit: 2, Since: since}, []int64{7, 5}},
		{"twitter", domain.PendingQuery{Limit: 10, Platform: "Twitter", Since: since}, []int64{2}},
		{"instagram", domain.PendingQuery{Limit: 10, Platform: "instagram", Since: since}, []int64{1}},
		{"facebook", domain.PendingQuery{Limit: 10, Platform: "facebook", Since: since}, []int64{5}},
		{"free text", domain.PendingQuery{Limit: 10, Platform: "tiktok", Since: since}, []int64{7}},
		{"client", domain.PendingQuery{Limit: 10, ClientCode: 77, Since: since}, []int64{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links, err := repo.FindPending(ctx, tt.query)
			if err != nil {
				t.Fatalf("FindPending() error = %v", err)
			}
			var got []int64
			for _, l := range links {
				got = append(got, l.ID)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("FindPending() ids = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("FindPending() ids = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestRepository_UpdateStatus(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	repo.Add(ctx, domain.LinkRecord{ID: 100, URL: "https://x.com/a/status/1", PublishedAt: timep(time.Now())})

	if err := repo.UpdateStatus(ctx, 100, domain.StatusSucceeded, int64p(555)); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	link, _ := repo.Get(ctx, 100)
	if link.Status != domain.StatusSucceeded {
		t.Errorf("Status = %v, want %v", link.Status, domain.StatusSucceeded)
	}
	if link.ArtifactID == nil || *link.ArtifactID != 555 {
		t.Errorf("ArtifactID = %v, want 555", link.ArtifactID)
	}

	// A nil artifact id leaves the stored reference alone.
	if err := repo.UpdateStatus(ctx, 100, domain.StatusFailed, nil); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	link, _ = repo.Get(ctx, 100)
	if link.ArtifactID == nil || *link.ArtifactID != 555 {
		t.Errorf("ArtifactID = %v, want 555 kept", link.ArtifactID)
	}

	if err := repo.UpdateStatus(ctx, 9999, domain.StatusFailed, nil); !errors.Is(err, domain.ErrLinkNotFound) {
		t.Errorf("UpdateStatus() error = %v, want %v", err, domain.ErrLinkNotFound)
	}
	if err := repo.UpdateStatus(ctx, 100, domain.StatusInProgress, nil); err == nil {
		t.Error("UpdateStatus() accepted a non-persisted status")
	}
}

func TestRepository_DeleteArtifact(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	repo.Add(ctx, domain.LinkRecord{ID: 42, URL: "https://www.facebook.com/p/1", PublishedAt: timep(time.Now())})

	var artifactID int64
	err := repo.guard.Do(ctx, "seed", func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, `INSERT INTO artifacts (link_id) VALUES (?)`, 42)
		if err != nil {
			return err
		}
		artifactID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	repo.UpdateStatus(ctx, 42, domain.StatusSucceeded, &artifactID)

	if err := repo.DeleteArtifact(ctx, 42); err != nil {
		t.Fatalf("DeleteArtifact() error = %v", err)
	}

	link, _ := repo.Get(ctx, 42)
	if link.ArtifactID != nil {
		t.Errorf("ArtifactID = %v, want nil", *link.ArtifactID)
	}
	var count int
	repo.guard.Do(ctx, "count", func(db *sqlx.DB) error {
		return db.GetContext(ctx, &count, `SELECT COUNT(*) FROM artifacts WHERE id = ?`, artifactID)
	})
	if count != 0 {
		t.Errorf("artifact rows = %d, want 0", count)
	}

	// Without an artifact the call is a no-op.
	if err := repo.DeleteArtifact(ctx, 42); err != nil {
		t.Errorf("DeleteArtifact() second call error = %v", err)
	}
	if err := repo.DeleteArtifact(ctx, 9999); !errors.Is(err, domain.ErrLinkNotFound) {
		t.Errorf("DeleteArtifact() error = %v, want %v", err, domain.ErrLinkNotFound)
	}
}

func TestPendingQuery(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	query, args := pendingQuery(domain.PendingQuery{Limit: 5, Platform: "x.com", Since: since})

	if !strings.Contains(query, "(url LIKE ? OR url LIKE ?)") {
		t.Errorf("query = %q, want twitter LIKE pair", query)
	}
	if !strings.HasSuffix(query, "ORDER BY id DESC LIMIT ?") {
		t.Errorf("query = %q, want id DESC ordering", query)
	}
	want := []any{domain.StatusPending, domain.StatusRetryEligible, since, "%twitter.com%", "%x.com%", 5}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %v, want %v", i, args[i], want[i])
		}
	}
}

func TestNewOpener_Validation(t *testing.T) {
	if _, err := NewOpener(Config{Driver: "mssql", DSN: "x"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
	if _, err := NewOpener(Config{Driver: "postgres"}); err == nil {
		t.Error("expected error for empty dsn")
	}
}
