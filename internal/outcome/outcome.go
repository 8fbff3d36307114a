package outcome

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Kind classifies the failure of an event handler.
type Kind string

const (
	KindConfigMissing            Kind = "ConfigMissing"
	KindBookingNotFound          Kind = "BookingNotFound"
	KindUserNotFound             Kind = "UserNotFound"
	KindPropertyNotFound         Kind = "PropertyNotFound"
	KindPartialCommissionFailure Kind = "PartialCommissionFailure"
	KindInsufficientBalance      Kind = "InsufficientBalance"
	KindStoreUnavailable         Kind = "StoreUnavailable"
	KindInvalidRequest           Kind = "InvalidRequest"
	KindInvalidAmount            Kind = "InvalidAmount"
	KindRateLimited              Kind = "RateLimited"
)

// IsBusinessRejection reports whether kind is an expected negative outcome
// rather than a system fault. Business rejections are never alerted on.
func (k Kind) IsBusinessRejection() bool {
	switch k {
	case KindInsufficientBalance, KindInvalidAmount, KindInvalidRequest, KindRateLimited:
		return true
	default:
		return false
	}
}

// Retryable reports whether rerunning the whole handler may succeed.
func (k Kind) Retryable() bool {
	return k == KindStoreUnavailable
}

// Fault is the error returned by every handler. It carries the identifiers
// an operator needs to reconcile the failed run by hand.
type Fault struct {
	Kind      Kind
	Message   string
	BookingID string
	PaymentID string
	AgentID   string
	Err       error
}

func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

func Wrap(kind Kind, err error, message string) *Fault {
	return &Fault{Kind: kind, Message: message, Err: err}
}

func (f *Fault) Error() string {
	if f == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(string(f.Kind))
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *Fault) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

func (f *Fault) WithBooking(id string) *Fault {
	f.BookingID = id
	return f
}

func (f *Fault) WithPayment(id string) *Fault {
	f.PaymentID = id
	return f
}

func (f *Fault) WithAgent(id string) *Fault {
	f.AgentID = id
	return f
}

// KindOf classifies any error. Errors that are neither a Fault nor a known
// sentinel are treated as store failures, since the record store is the
// only thing a handler waits on.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fault *Fault
	if errors.As(err, &fault) && fault.Kind != "" {
		return fault.Kind
	}
	return KindStoreUnavailable
}

// IsStoreFailure reports whether err came from the record store or its
// deadline rather than from domain logic.
func IsStoreFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, gorm.ErrInvalidDB) || errors.Is(err, gorm.ErrInvalidTransaction) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Store wraps a record-store failure.
func Store(err error, message string) *Fault {
	return Wrap(KindStoreUnavailable, err, message)
}
