package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homeledger/internal/booking/domain"
	"github.com/smallbiznis/homeledger/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindBooking(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	if id == 0 {
		return nil, nil
	}
	return repository.ProvideStore[domain.Booking](db).FindOne(ctx, &domain.Booking{ID: id})
}

func (r *repo) FindUser(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	if id == 0 {
		return nil, nil
	}
	return repository.ProvideStore[domain.User](db).FindOne(ctx, &domain.User{ID: id})
}

func (r *repo) FindProperty(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Property, error) {
	if id == 0 {
		return nil, nil
	}
	return repository.ProvideStore[domain.Property](db).FindOne(ctx, &domain.Property{ID: id})
}

func (r *repo) InsertPaymentIfAbsent(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(payment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindPaymentByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.Payment, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	return repository.ProvideStore[domain.Payment](db).FindOne(ctx, &domain.Payment{IdempotencyKey: &key})
}
