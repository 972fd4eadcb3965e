package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/dealflow/internal/model"
)

var (
	// ErrVersionConflict is returned by UpdateDeal when the expected version
	// no longer matches; the caller re-reads and re-evaluates.
	ErrVersionConflict = errors.New("version conflict")

	// ErrNotFound is returned when a deal id or identity is unknown.
	ErrNotFound = errors.New("deal not found")

	// ErrLeaseHeld is returned when another run holds the run lease.
	ErrLeaseHeld = errors.New("run lease held")
)

// DealFilter specifies criteria for listing deals. Results are ordered by
// score descending (unscored last), then creation time ascending.
type DealFilter struct {
	States   []model.LifecycleState `json:"states,omitempty"`
	MinScore int                    `json:"min_score,omitempty"`
	Since    time.Time              `json:"since,omitempty"`
	Limit    int                    `json:"limit,omitempty"`
}

// OutreachDraft is a queued outreach email awaiting human send-off.
type OutreachDraft struct {
	ID        string    `json:"id"`
	DealID    string    `json:"deal_id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence contract the engine requires: atomic
// create-if-absent on identity, version-guarded updates, an append-only
// triage log, filtered listing, the single-run lease, and the outreach
// side-effect queue.
type Store interface {
	// CreateDealIfAbsent inserts the deal unless its identity already
	// exists, in which case the existing deal is returned with created
	// false. The identity uniqueness constraint is the dedup backstop.
	CreateDealIfAbsent(ctx context.Context, d *model.Deal) (deal *model.Deal, created bool, err error)

	GetDeal(ctx context.Context, id string) (*model.Deal, error)
	GetDealByIdentity(ctx context.Context, identity string) (*model.Deal, error)

	// UpdateDeal commits the deal's current field values if the stored
	// version still equals expectedVersion, bumping the version and
	// appending any new triage entries in the same transaction. Returns
	// ErrVersionConflict on mismatch. On success d.Version is updated.
	UpdateDeal(ctx context.Context, d *model.Deal, expectedVersion int64) error

	ListDeals(ctx context.Context, f DealFilter) ([]model.Deal, error)

	// Run lease: at most one ingestion run at a time.
	AcquireRunLease(ctx context.Context, holder string, ttl time.Duration) error
	ReleaseRunLease(ctx context.Context, holder string) error

	// EnqueueOutreach queues a draft at most once per deal; created reports
	// whether this call inserted it.
	EnqueueOutreach(ctx context.Context, draft OutreachDraft) (created bool, err error)
	ListOutreach(ctx context.Context, limit int) ([]OutreachDraft, error)

	Migrate(ctx context.Context) error
	Close() error
}
