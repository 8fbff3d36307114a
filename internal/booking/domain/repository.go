package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrBookingNotFound  = errors.New("booking_not_found")
	ErrUserNotFound     = errors.New("user_not_found")
	ErrPropertyNotFound = errors.New("property_not_found")
)

// Repository is the record access used by the pipeline. Find methods
// return (nil, nil) when the row does not exist.
type Repository interface {
	FindBooking(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	FindUser(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindProperty(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Property, error)
	// InsertPaymentIfAbsent writes payment unless a payment with the same
	// idempotency key exists, and reports whether it was written.
	InsertPaymentIfAbsent(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	FindPaymentByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*Payment, error)
}
