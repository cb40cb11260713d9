package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/originhash-backend/pkg/pagination"
)

// Base is embedded by the gorm repositories so transactions can be rebound
// without each one carrying its own plumbing.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the connection bound to ctx when one is given.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Rebind returns a Base over tx, or b itself when tx is nil.
func (b Base) Rebind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// FindOne loads the first T matching where. gorm.ErrRecordNotFound is
// returned untouched so services can map it to their own not-found error.
func FindOne[T any](ctx context.Context, b Base, where string, args ...any) (*T, error) {
	var out T
	if err := b.DB(ctx).Where(where, args...).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// KeysetPage orders newest first and continues strictly after cursor.
func KeysetPage(query *gorm.DB, cursor *pagination.Cursor, limit int) *gorm.DB {
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	return query.Order("created_at DESC, id DESC").Limit(limit)
}
