package registrar

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ClearanceItems persists ClearanceItem rows, one per (account, department).
type ClearanceItems interface {
	// Open inserts a pending item unless one already exists for the
	// department and reports whether a row was created.
	Open(ctx context.Context, item *ClearanceItem) (bool, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*ClearanceItem, error)
	// UpdateVerdict reports false when no item exists for the department.
	UpdateVerdict(ctx context.Context, accountID uuid.UUID, department string, status ClearanceStatus, remarks, reviewer string, at time.Time) (bool, error)
}

type clearanceItems struct {
	db bun.IDB
}

var _ ClearanceItems = (*clearanceItems)(nil)

// NewClearanceItemsRepository returns the bun backed clearance store.
func NewClearanceItemsRepository(db *bun.DB) ClearanceItems {
	return &clearanceItems{db: db}
}

func (c *clearanceItems) Open(ctx context.Context, item *ClearanceItem) (bool, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.Department = NormalizeDepartment(item.Department)
	if item.Status == "" {
		item.Status = ClearanceStatusPending
	}

	res, err := c.db.NewInsert().
		Model(item).
		On("CONFLICT (account_id, department) DO NOTHING").
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

func (c *clearanceItems) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*ClearanceItem, error) {
	records := []*ClearanceItem{}
	err := c.db.NewSelect().
		Model(&records).
		Where("?TableAlias.account_id = ?", accountID).
		OrderExpr("?TableAlias.department ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (c *clearanceItems) UpdateVerdict(ctx context.Context, accountID uuid.UUID, department string, status ClearanceStatus, remarks, reviewer string, at time.Time) (bool, error) {
	res, err := c.db.NewUpdate().
		Model((*ClearanceItem)(nil)).
		Set("status = ?", status).
		Set("remarks = ?", remarks).
		Set("reviewed_by = ?", reviewer).
		Set("updated_at = ?", at).
		Where("account_id = ?", accountID).
		Where("department = ?", NormalizeDepartment(department)).
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

// NormalizeDepartment is the form department names are stored in.
func NormalizeDepartment(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
