package registrar

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts persists Account rows.
type Accounts interface {
	Create(ctx context.Context, record *Account) (*Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	// UpdateStatus moves the account from one status to another. It reports
	// false when the stored status no longer equals from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AccountStatus, opts ...StatusUpdateOption) (bool, error)
	UpdateCredential(ctx context.Context, id uuid.UUID, credentialHash string, at time.Time) error
	ListByStatus(ctx context.Context, status AccountStatus) ([]*Account, error)
}

// StatusUpdateOption adds columns to a status update.
type StatusUpdateOption func(*statusUpdate)

type statusUpdate struct {
	at         time.Time
	verifiedAt *time.Time
}

// WithEmailVerified flips the email verified flag in the same write.
func WithEmailVerified(at time.Time) StatusUpdateOption {
	return func(u *statusUpdate) {
		u.verifiedAt = &at
	}
}

// WithStatusUpdatedAt sets the updated_at column, defaults to time.Now.
func WithStatusUpdatedAt(at time.Time) StatusUpdateOption {
	return func(u *statusUpdate) {
		u.at = at
	}
}

type accounts struct {
	repo repository.Repository[*Account]
	db   bun.IDB
}

var _ Accounts = (*accounts)(nil)

// NewAccountsRepository returns the bun backed Accounts store.
func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accounts{repo: repo, db: db}
}

func (a *accounts) Create(ctx context.Context, record *Account) (*Account, error) {
	prepareAccountDefaults(record)
	created, err := a.repo.Create(ctx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, withMeta(ErrValidationFailed, map[string]any{
				"email":  record.Email,
				"reason": "email already registered",
			})
		}
		return nil, err
	}
	return created, nil
}

func (a *accounts) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	record, err := a.repo.GetByID(ctx, id.String())
	if err != nil {
		return nil, notFoundOr(err, "account", id.String())
	}
	return record, nil
}

func (a *accounts) GetByEmail(ctx context.Context, email string) (*Account, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, withMeta(ErrNotFound, map[string]any{"entity": "account"})
	}

	record, err := a.repo.GetByIdentifier(ctx, email)
	if err != nil {
		return nil, notFoundOr(err, "account", email)
	}
	return record, nil
}

func (a *accounts) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AccountStatus, opts ...StatusUpdateOption) (bool, error) {
	upd := &statusUpdate{}
	for _, opt := range opts {
		if opt != nil {
			opt(upd)
		}
	}
	if upd.at.IsZero() {
		upd.at = time.Now()
	}

	q := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", upd.at).
		Where("id = ?", id).
		Where("status = ?", from)

	if upd.verifiedAt != nil {
		q = q.Set("email_verified = ?", true).Set("verified_at = ?", *upd.verifiedAt)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (a *accounts) UpdateCredential(ctx context.Context, id uuid.UUID, credentialHash string, at time.Time) error {
	res, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("credential_hash = ?", credentialHash).
		Set("credential_changed_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return withMeta(ErrNotFound, map[string]any{"entity": "account", "id": id.String()})
	}
	return nil
}

func (a *accounts) ListByStatus(ctx context.Context, status AccountStatus) ([]*Account, error) {
	records := []*Account{}
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", status).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// NormalizeEmail is the form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func prepareAccountDefaults(record *Account) {
	if record == nil {
		return
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Email = NormalizeEmail(record.Email)
	if record.Role == "" {
		record.Role = RoleStudent
	}
	if record.Status == "" {
		record.Status = AccountStatusApplicant
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
}

// notFoundOr maps the repository not found error onto ErrNotFound and
// passes anything else through.
func notFoundOr(err error, entity, id string) error {
	if repository.IsRecordNotFound(err) {
		return withMeta(ErrNotFound, map[string]any{
			"entity": entity,
			"id":     id,
		})
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}
