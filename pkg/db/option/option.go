package option

import (
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/homeledger/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption narrows a query built by a generic repository.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type optionFunc func(db *gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// WithSortBy orders by column. Any direction other than "desc" sorts ascending.
func WithSortBy(column, direction string) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		column = strings.TrimSpace(column)
		if column == "" {
			return db
		}
		desc := strings.EqualFold(strings.TrimSpace(direction), "desc")
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc})
	})
}

func WithWhere(query string, args ...any) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}

// WithLockingUpdate adds FOR UPDATE. Dialects without row locks ignore it.
func WithLockingUpdate() QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	})
}

// ApplyPagination seeks past the cursor in page.PageToken for rows ordered
// by created_at desc, id desc, and fetches one row beyond the page size so
// callers can tell whether more rows follow. A token that does not decode
// starts from the first page.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		if token := strings.TrimSpace(page.PageToken); token != "" {
			if cursor, err := pagination.DecodeCursor(token); err == nil {
				createdAt, timeErr := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
				id, idErr := strconv.ParseInt(cursor.ID, 10, 64)
				if timeErr == nil && idErr == nil {
					db = db.Where("((created_at < ?) OR (created_at = ? AND id < ?))", createdAt.UTC(), createdAt.UTC(), id)
				}
			}
		}
		size := page.PageSize
		if size <= 0 {
			size = pagination.DefaultPageSize
		}
		if size > pagination.MaxPageSize {
			size = pagination.MaxPageSize
		}
		return db.Limit(size + 1)
	})
}
