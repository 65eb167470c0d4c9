package coordinator

import (
	"time"

	"tradedash/internal/apperr"
	"tradedash/models"
)

// Status is the user visible health of the synchronization layer. Transient
// snapshot failures below the threshold are deliberately absent.
type Status struct {
	Running           bool                   `json:"running"`
	Connection        models.ConnectionState `json:"connection"`
	SnapshotLoaded    bool                   `json:"snapshot_loaded"`
	LastRefresh       *time.Time             `json:"last_refresh,omitempty"`
	PersistentFailure string                 `json:"persistent_failure,omitempty"`
	LastOrderError    string                 `json:"last_order_error,omitempty"`
	LastStreamError   string                 `json:"last_stream_error,omitempty"`

	failure *apperr.PersistentFetchFailure
}

// Failure returns the persistent refresh failure, if one is active.
func (s Status) Failure() *apperr.PersistentFetchFailure {
	return s.failure
}

// View is an immutable projection of everything the dashboard renders.
// Slices in a View are never written after publication.
type View struct {
	Version    uint64                 `json:"version"`
	Quotes     []models.Tick          `json:"quotes"`
	Positions  []models.Position      `json:"positions"`
	Account    models.Account         `json:"account"`
	Connection models.ConnectionState `json:"connection"`
	Status     Status                 `json:"status"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// SubscriptionID identifies a view subscriber. Zero is never issued.
type SubscriptionID uint64
