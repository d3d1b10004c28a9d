package domain

import (
	"fmt"
	"path/filepath"
	"time"
)

// CaptureOutcome tags the result of a single capture attempt.
type CaptureOutcome int

const (
	OutcomeError CaptureOutcome = iota
	OutcomeSuccess
	OutcomeNotFound
)

func (o CaptureOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// CaptureResult is produced by a capture strategy and consumed right away by
// the orchestrator.
type CaptureResult struct {
	Outcome     CaptureOutcome
	ImagePath   string
	TextPath    string
	PublishedAt *time.Time
	Detail      string
	// Err is the fault behind an error result, when the strategy has one.
	Err error
}

// CaptureSuccess builds a successful result.
func CaptureSuccess(imagePath, textPath string, publishedAt *time.Time) CaptureResult {
	return CaptureResult{
		Outcome:     OutcomeSuccess,
		ImagePath:   imagePath,
		TextPath:    textPath,
		PublishedAt: publishedAt,
	}
}

// CaptureNotFound builds a terminal "content gone" result.
func CaptureNotFound(detail string) CaptureResult {
	return CaptureResult{Outcome: OutcomeNotFound, Detail: detail}
}

// CaptureFailed builds a retryable error result.
func CaptureFailed(format string, args ...any) CaptureResult {
	return CaptureResult{Outcome: OutcomeError, Detail: fmt.Sprintf(format, args...)}
}

// CaptureFault builds an error result that keeps err for classification.
func CaptureFault(err error, format string, args ...any) CaptureResult {
	res := CaptureFailed(format, args...)
	res.Err = err
	return res
}

// ArtifactPaths returns the deterministic image and text paths for a link.
func ArtifactPaths(dir string, p Platform, linkID int64) (imagePath, textPath string) {
	base := fmt.Sprintf("%s_%d", p, linkID)
	return filepath.Join(dir, base+".png"), filepath.Join(dir, base+".txt")
}

// IngestRequest carries a captured artifact to the ingestion step.
type IngestRequest struct {
	LinkID      int64
	ImagePath   string
	TextPath    string
	PublishedOn string
	VehicleCode int64
	ChannelCode int64
	ClientCode  int64
}

// IngestResult is what the ingestion step reported back.
type IngestResult struct {
	ArtifactID *int64
	Output     string
}

// LedgerStage records how far a link's artifacts got.
type LedgerStage string

const (
	StageNone     LedgerStage = ""
	StageCaptured LedgerStage = "captured"
	StageIngested LedgerStage = "ingested"
)

// LedgerEntry is the local record of a link's captured artifacts and last
// failure, kept across runs.
type LedgerEntry struct {
	LinkID      int64       `json:"link_id"`
	Platform    string      `json:"platform"`
	Stage       LedgerStage `json:"stage,omitempty"`
	ImagePath   string      `json:"image_path,omitempty"`
	TextPath    string      `json:"text_path,omitempty"`
	PublishedAt *time.Time  `json:"published_at,omitempty"`
	ArtifactID  *int64      `json:"artifact_id,omitempty"`
	Failure     FailureKind `json:"failure,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Reusable reports whether the entry holds a capture that was never ingested.
func (e *LedgerEntry) Reusable() bool {
	return e != nil && e.Stage == StageCaptured && e.ImagePath != "" && e.TextPath != ""
}
