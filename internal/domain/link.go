package domain

import (
	"fmt"
	"time"
)

// Status is the persisted processing state of a link. The numeric values are
// the codes stored by the link store and must not change.
type Status int

const (
	StatusPending       Status = 1
	StatusSucceeded     Status = 2
	StatusFailed        Status = 3
	StatusRetryEligible Status = 9

	// StatusInProgress only exists in memory while a link is being processed.
	StatusInProgress Status = -1
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusRetryEligible:
		return "retry_eligible"
	case StatusInProgress:
		return "in_progress"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Selectable reports whether a batch run may pick up a record in this state.
func (s Status) Selectable() bool {
	return s == StatusPending || s == StatusRetryEligible
}

// Terminal reports whether automated processing must leave the record alone.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ParseStatus converts a stored status code.
func ParseStatus(code int) (Status, error) {
	switch s := Status(code); s {
	case StatusPending, StatusSucceeded, StatusFailed, StatusRetryEligible:
		return s, nil
	default:
		return 0, fmt.Errorf("unknown status code %d", code)
	}
}

// CanTransition reports whether automated processing may move a record from
// one status to another. Operator resets bypass this check.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending, StatusRetryEligible:
		return to == StatusInProgress || to == StatusSucceeded || to == StatusFailed
	case StatusInProgress:
		return to == StatusSucceeded || to == StatusFailed
	default:
		return false
	}
}

// LinkRecord is a queued social media post link.
type LinkRecord struct {
	ID          int64      `db:"id" json:"id"`
	URL         string     `db:"url" json:"url"`
	Status      Status     `db:"status" json:"status"`
	ArtifactID  *int64     `db:"artifact_id" json:"artifact_id,omitempty"`
	PublishedAt *time.Time `db:"published_at" json:"published_at,omitempty"`
	VehicleCode *int64     `db:"vehicle_code" json:"vehicle_code,omitempty"`
	ChannelCode *int64     `db:"channel_code" json:"channel_code,omitempty"`
	ClientCode  *int64     `db:"client_code" json:"client_code,omitempty"`
}

// PendingQuery selects the next page of links to process.
type PendingQuery struct {
	Limit    int
	Platform string
	Since    time.Time

	// ClientCode restricts the page to one client when non-zero.
	ClientCode int64
}
