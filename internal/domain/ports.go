package domain

import "context"

// LinkRepository is the driven port for the link queue.
type LinkRepository interface {
	Get(ctx context.Context, id int64) (*LinkRecord, error)
	FindPending(ctx context.Context, q PendingQuery) ([]LinkRecord, error)
	UpdateStatus(ctx context.Context, id int64, status Status, artifactID *int64) error
	DeleteArtifact(ctx context.Context, id int64) error
}

// Session is a leased, isolated browsing context on top of a platform's
// authenticated browser.
type Session interface {
	Platform() Platform
	// Context carries the isolated browsing context for the lease.
	Context() context.Context
	// PersistAuth saves the lease's authentication state for later runs.
	PersistAuth(ctx context.Context) error
}

// SessionPool hands out one session per platform at a time.
type SessionPool interface {
	Acquire(ctx context.Context, p Platform) (Session, error)
	Release(s Session)
}

// CaptureStrategy captures one post for one platform.
type CaptureStrategy interface {
	Platform() Platform
	Capture(ctx context.Context, link *LinkRecord, s Session) CaptureResult
}

// Ingestor hands captured artifacts to the downstream ingestion step.
type Ingestor interface {
	Ingest(ctx context.Context, req IngestRequest) (IngestResult, error)
}

// ArtifactLedger remembers captures and failure kinds across runs.
type ArtifactLedger interface {
	Lookup(linkID int64) (*LedgerEntry, error)
	RecordCapture(entry LedgerEntry) error
	RecordFailure(linkID int64, p Platform, kind FailureKind, detail string) error
	MarkIngested(linkID int64, artifactID *int64) error
	Forget(linkID int64) error
}
