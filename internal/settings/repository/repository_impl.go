package repository

import (
	"context"

	"github.com/smallbiznis/homeledger/internal/settings/domain"
	"github.com/smallbiznis/homeledger/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, key string) (*domain.Setting, error) {
	return repository.ProvideStore[domain.Setting](db).FindOne(ctx, &domain.Setting{Key: key})
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, setting *domain.Setting) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(setting)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
