package registrar

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SecurityTokens persists SecurityToken rows. Rows are looked up by the hash
// of the token value, never by the value itself.
type SecurityTokens interface {
	Create(ctx context.Context, token *SecurityToken) error
	GetByID(ctx context.Context, id uuid.UUID) (*SecurityToken, error)
	GetByHash(ctx context.Context, hash string) (*SecurityToken, error)
	// RevokeOutstanding revokes every unconsumed, unrevoked token of the
	// account for purpose and returns how many rows changed.
	RevokeOutstanding(ctx context.Context, accountID uuid.UUID, purpose TokenPurpose, at time.Time) (int, error)
	// MarkConsumed reports false when the token was already consumed or revoked.
	MarkConsumed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*SecurityToken, error)
}

type securityTokens struct {
	repo repository.Repository[*SecurityToken]
	db   bun.IDB
}

var _ SecurityTokens = (*securityTokens)(nil)

// NewSecurityTokensRepository returns the bun backed token store.
func NewSecurityTokensRepository(db *bun.DB) SecurityTokens {
	repo := repository.NewRepository[*SecurityToken](db, repository.ModelHandlers[*SecurityToken]{
		NewRecord: func() *SecurityToken { return &SecurityToken{} },
		GetID: func(t *SecurityToken) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *SecurityToken, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
		GetIdentifier: func() string {
			return "token_hash"
		},
	})

	return &securityTokens{repo: repo, db: db}
}

func (s *securityTokens) Create(ctx context.Context, token *SecurityToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	_, err := s.repo.Create(ctx, token)
	return err
}

func (s *securityTokens) GetByID(ctx context.Context, id uuid.UUID) (*SecurityToken, error) {
	token, err := s.repo.GetByID(ctx, id.String())
	if err != nil {
		return nil, notFoundOr(err, "security_token", id.String())
	}
	return token, nil
}

func (s *securityTokens) GetByHash(ctx context.Context, hash string) (*SecurityToken, error) {
	token, err := s.repo.GetByIdentifier(ctx, hash)
	if err != nil {
		return nil, notFoundOr(err, "security_token", "")
	}
	return token, nil
}

func (s *securityTokens) RevokeOutstanding(ctx context.Context, accountID uuid.UUID, purpose TokenPurpose, at time.Time) (int, error) {
	res, err := s.db.NewUpdate().
		Model((*SecurityToken)(nil)).
		Set("revoked_at = ?", at).
		Where("account_id = ?", accountID).
		Where("purpose = ?", purpose).
		Where("consumed_at IS NULL").
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *securityTokens) MarkConsumed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*SecurityToken)(nil)).
		Set("consumed_at = ?", at).
		Where("id = ?", id).
		Where("consumed_at IS NULL").
		Where("revoked_at IS NULL").
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

func (s *securityTokens) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*SecurityToken, error) {
	records := []*SecurityToken{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.account_id = ?", accountID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(records, func(t *SecurityToken) time.Time { return t.CreatedAt })
	return records, nil
}
