package domain

import (
	"context"
	"fmt"
	"time"
)

// PendingWindow bounds how far back a batch run looks for unprocessed links.
const PendingWindow = 15 * 24 * time.Hour

// LinkService wraps the link repository with the status lifecycle rules.
type LinkService struct {
	repo LinkRepository
	now  func() time.Time
}

// NewLinkService creates a new LinkService.
func NewLinkService(repo LinkRepository) *LinkService {
	return &LinkService{repo: repo, now: time.Now}
}

// Get retrieves a link by ID.
func (s *LinkService) Get(ctx context.Context, id int64) (*LinkRecord, error) {
	return s.repo.Get(ctx, id)
}

// Pending returns selectable links, newest id first. A zero Since is
// replaced by the start of the pending window.
func (s *LinkService) Pending(ctx context.Context, q PendingQuery) ([]LinkRecord, error) {
	if q.Since.IsZero() {
		q.Since = s.now().Add(-PendingWindow)
	}
	return s.repo.FindPending(ctx, q)
}

// MarkSucceeded records a successful ingestion.
func (s *LinkService) MarkSucceeded(ctx context.Context, link *LinkRecord, artifactID *int64) error {
	if err := s.transition(ctx, link, StatusSucceeded, artifactID); err != nil {
		return err
	}
	link.ArtifactID = artifactID
	return nil
}

// MarkFailed records a terminal failure.
func (s *LinkService) MarkFailed(ctx context.Context, link *LinkRecord) error {
	return s.transition(ctx, link, StatusFailed, nil)
}

// Reset removes any ingested artifact and returns the link to Pending. It is
// the operator path and ignores the automated transition rules.
func (s *LinkService) Reset(ctx context.Context, id int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteArtifact(ctx, id); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, id, StatusPending, nil)
}

func (s *LinkService) transition(ctx context.Context, link *LinkRecord, to Status, artifactID *int64) error {
	from := link.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if err := s.repo.UpdateStatus(ctx, link.ID, to, artifactID); err != nil {
		return err
	}
	link.Status = to
	return nil
}
