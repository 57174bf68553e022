package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/model"
)

// ErrNotFound is returned when a record lookup has no match.
var ErrNotFound = eris.New("record not found")

// ErrDuplicateIdentity is returned by Put when another record already owns
// the identity key.
var ErrDuplicateIdentity = eris.New("identity key already stored")

// ErrClaimLost is returned by RenewClaim callers and PutClaimed when the
// owner no longer holds a live claim on the record.
var ErrClaimLost = eris.New("record claim lost")

// ListFilter specifies criteria for listing records.
type ListFilter struct {
	Stage        model.Stage `json:"stage,omitempty"`
	NeedsCRMSync bool        `json:"needs_crm_sync,omitempty"` // connected or later with no CRM id
	Limit        int         `json:"limit,omitempty"`
	Offset       int         `json:"offset,omitempty"`
}

// Store defines the persistence interface for lead records. Every method
// that returns more than one record orders by creation time, then id, and
// treats a limit <= 0 as unbounded.
type Store interface {
	// Records
	Get(ctx context.Context, id string) (*model.Record, error)
	GetByIdentity(ctx context.Context, identityKey string) (*model.Record, error)
	Put(ctx context.Context, rec *model.Record) error
	// PutClaimed updates an existing record only while owner holds an
	// unexpired claim on it; otherwise it returns ErrClaimLost.
	PutClaimed(ctx context.Context, rec *model.Record, owner string) error
	QueryByStage(ctx context.Context, stage model.Stage, limit int) ([]model.Record, error)
	ListAll(ctx context.Context, filter ListFilter) ([]model.Record, error)
	ListFailedSubmissions(ctx context.Context, limit int) ([]model.Record, error)
	NextNeedingDraft(ctx context.Context) (*model.Record, error)
	CountByStage(ctx context.Context) (map[model.Stage]int, error)

	// Claims
	Claim(ctx context.Context, id, owner string, ttl time.Duration) (bool, error)
	// RenewClaim extends a claim owner still holds. It never takes over a
	// claim that was released or passed to another owner.
	RenewClaim(ctx context.Context, id, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, id, owner string) error

	// Quota
	LoadQuota(ctx context.Context, day string) (model.QuotaWindow, error)
	SaveQuota(ctx context.Context, w model.QuotaWindow) error
	IncrementQuota(ctx context.Context, day string, ceiling int) (model.QuotaWindow, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// recordColumns are the indexed columns derived from a record; the full
// record is stored as JSON alongside them.
type recordColumns struct {
	submitFailed bool
	needsDraft   bool
	crmPending   bool
}

// prepareForPut stamps timestamps, validates the lifecycle invariant and
// derives index columns.
func prepareForPut(rec *model.Record, now time.Time) (recordColumns, error) {
	if rec.ID == "" {
		return recordColumns{}, eris.New("record id is required")
	}
	if rec.IdentityKey == "" {
		return recordColumns{}, eris.Errorf("record %s: identity key is required", rec.ID)
	}
	if err := rec.Validate(); err != nil {
		return recordColumns{}, err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return recordColumns{
		submitFailed: rec.SubmissionFailed(),
		needsDraft:   rec.Stage == model.StageConnected && rec.Followup == nil,
		crmPending:   rec.Stage.AtLeast(model.StageConnected) && rec.CRMID == "",
	}, nil
}
