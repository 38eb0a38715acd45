package registrar

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Applications persists EnrollmentApplication rows.
type Applications interface {
	Create(ctx context.Context, record *EnrollmentApplication) (*EnrollmentApplication, error)
	GetByID(ctx context.Context, id uuid.UUID) (*EnrollmentApplication, error)
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*EnrollmentApplication, error)
	// Review moves a pending application to status. It reports false when the
	// application was no longer pending.
	Review(ctx context.Context, id uuid.UUID, status ApplicationStatus, reviewer, note string, at time.Time) (bool, error)
	ListByStatus(ctx context.Context, status ApplicationStatus) ([]*EnrollmentApplication, error)
}

type applications struct {
	repo repository.Repository[*EnrollmentApplication]
	db   bun.IDB
}

var _ Applications = (*applications)(nil)

// NewApplicationsRepository returns the bun backed Applications store.
func NewApplicationsRepository(db *bun.DB) Applications {
	repo := repository.NewRepository[*EnrollmentApplication](db, repository.ModelHandlers[*EnrollmentApplication]{
		NewRecord: func() *EnrollmentApplication { return &EnrollmentApplication{} },
		GetID: func(a *EnrollmentApplication) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *EnrollmentApplication, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "account_id"
		},
	})

	return &applications{repo: repo, db: db}
}

func (a *applications) Create(ctx context.Context, record *EnrollmentApplication) (*EnrollmentApplication, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = ApplicationStatusPending
	}
	if record.SubmittedAt.IsZero() {
		record.SubmittedAt = time.Now()
	}
	return a.repo.Create(ctx, record)
}

func (a *applications) GetByID(ctx context.Context, id uuid.UUID) (*EnrollmentApplication, error) {
	record, err := a.repo.GetByID(ctx, id.String())
	if err != nil {
		return nil, notFoundOr(err, "application", id.String())
	}
	return record, nil
}

func (a *applications) GetByAccount(ctx context.Context, accountID uuid.UUID) (*EnrollmentApplication, error) {
	// GetByIdentifier switches to the id column for uuid values, so the
	// account lookup is spelled out.
	record, err := a.repo.Get(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.account_id = ?", accountID)
	})
	if err != nil {
		return nil, notFoundOr(err, "application", accountID.String())
	}
	return record, nil
}

func (a *applications) Review(ctx context.Context, id uuid.UUID, status ApplicationStatus, reviewer, note string, at time.Time) (bool, error) {
	res, err := a.db.NewUpdate().
		Model((*EnrollmentApplication)(nil)).
		Set("status = ?", status).
		Set("reviewed_by = ?", reviewer).
		Set("review_note = ?", note).
		Set("reviewed_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", ApplicationStatusPending).
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

func (a *applications) ListByStatus(ctx context.Context, status ApplicationStatus) ([]*EnrollmentApplication, error) {
	records := []*EnrollmentApplication{}
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", status).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(records, func(r *EnrollmentApplication) time.Time { return r.SubmittedAt })
	return records, nil
}
