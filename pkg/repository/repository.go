package repository

import (
	"context"

	"github.com/smallbiznis/homeledger/pkg/db/option"
)

// Repository is a typed gorm store for simple lookups and writes. Callers
// build one per call on the *gorm.DB they hold, so a transaction flows
// through unchanged.
// FindOne returns (nil, nil) when no row matches.
type Repository[T any] interface {
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
}
