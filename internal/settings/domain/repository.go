package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// FindByKey returns (nil, nil) when the key is absent.
	FindByKey(ctx context.Context, db *gorm.DB, key string) (*Setting, error)
	// InsertIfAbsent reports whether the row was written.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, setting *Setting) (bool, error)
}
