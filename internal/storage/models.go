package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Bid statuses. Active-like statuses count against the one-bid-per-project
// idempotency invariant.
const (
	BidStatusActive     = "active"
	BidStatusSubmitted  = "submitted"
	BidStatusRemoteOnly = "submitted_remote_only"
	BidStatusWithdrawn  = "withdrawn"
	BidStatusCompleted  = "completed"
)

// ActiveLikeStatuses are the bid statuses that block another submission
// for the same project.
var ActiveLikeStatuses = []string{BidStatusActive, BidStatusSubmitted, BidStatusRemoteOnly}

// Terminal project markers set by the bid gate. A marketplace sync must
// never silently overwrite these.
var terminalProjectStatuses = map[string]bool{
	"bid_submitted":         true,
	"submitted_remote_only": true,
	"skills_blocked":        true,
	"preferred_only":        true,
	"escrow_required":       true,
	"not_biddable":          true,
	"amount_out_of_range":   true,
	"not_found":             true,
}

// TerminalProjectStatus reports whether a marker ends the bidding
// lifecycle for a project.
func TerminalProjectStatus(status string) bool {
	return terminalProjectStatuses[status]
}

// Bid is one successfully submitted bid. Amount is in the project's
// native currency.
type Bid struct {
	ID          string
	BidID       int64 // externally issued bid id
	BidderID    int64
	ProjectID   int64
	Amount      float64
	Period      int // days
	Description string
	Status      string
	CreatedAt   time.Time
}

// AuditRecord is one append-only row describing an external-effecting
// action. Request and Response hold stringified JSON snapshots.
type AuditRecord struct {
	ID         string
	Action     string
	EntityType string
	EntityID   string
	Request    string
	Response   string
	Status     string // "success", "error", "warning"
	CreatedAt  time.Time
}
