package registrar

import (
	"context"
	"slices"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Requests persists Request rows for every workflow kind.
type Requests interface {
	Create(ctx context.Context, record *Request) (*Request, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	ListBySubject(ctx context.Context, kind RequestKind, subjectID uuid.UUID) ([]*Request, error)
	HasPending(ctx context.Context, kind RequestKind, subjectID uuid.UUID) (bool, error)
	// Resolve moves a pending request to status. It reports false when the
	// request was no longer pending.
	Resolve(ctx context.Context, id uuid.UUID, status RequestStatus, note, reviewer string, at time.Time) (bool, error)
	ListPending(ctx context.Context, kind RequestKind) ([]*Request, error)
}

type requests struct {
	repo repository.Repository[*Request]
	db   bun.IDB
}

var _ Requests = (*requests)(nil)

// NewRequestsRepository returns the bun backed Requests store.
func NewRequestsRepository(db *bun.DB) Requests {
	repo := repository.NewRepository[*Request](db, repository.ModelHandlers[*Request]{
		NewRecord: func() *Request { return &Request{} },
		GetID: func(r *Request) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *Request, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})

	return &requests{repo: repo, db: db}
}

func (r *requests) Create(ctx context.Context, record *Request) (*Request, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = RequestStatusPending
	}
	created, err := r.repo.Create(ctx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, withMeta(ErrDuplicatePendingRequest, map[string]any{
				"kind":       string(record.Kind),
				"subject_id": record.SubjectID.String(),
			})
		}
		return nil, err
	}
	return created, nil
}

func (r *requests) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	record, err := r.repo.GetByID(ctx, id.String())
	if err != nil {
		return nil, notFoundOr(err, "request", id.String())
	}
	return record, nil
}

func (r *requests) ListBySubject(ctx context.Context, kind RequestKind, subjectID uuid.UUID) ([]*Request, error) {
	records := []*Request{}
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.kind = ?", kind).
		Where("?TableAlias.subject_id = ?", subjectID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(records, func(req *Request) time.Time { return req.SubmittedAt })
	return records, nil
}

func (r *requests) HasPending(ctx context.Context, kind RequestKind, subjectID uuid.UUID) (bool, error) {
	return r.db.NewSelect().
		Model((*Request)(nil)).
		Where("?TableAlias.kind = ?", kind).
		Where("?TableAlias.subject_id = ?", subjectID).
		Where("?TableAlias.status = ?", RequestStatusPending).
		Exists(ctx)
}

func (r *requests) Resolve(ctx context.Context, id uuid.UUID, status RequestStatus, note, reviewer string, at time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*Request)(nil)).
		Set("status = ?", status).
		Set("reviewer_note = ?", note).
		Set("reviewed_by = ?", reviewer).
		Set("resolved_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", RequestStatusPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *requests) ListPending(ctx context.Context, kind RequestKind) ([]*Request, error) {
	records := []*Request{}
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.kind = ?", kind).
		Where("?TableAlias.status = ?", RequestStatusPending).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(records, func(req *Request) time.Time { return req.SubmittedAt })
	return records, nil
}

// sortNewestFirst orders in memory: timestamps are stored as text by some
// dialects and do not compare reliably across offsets.
func sortNewestFirst[T any](records []T, at func(T) time.Time) {
	slices.SortStableFunc(records, func(a, b T) int {
		return at(b).Compare(at(a))
	})
}
