package repository

import (
	"context"
	"testing"

	"github.com/smallbiznis/homeledger/pkg/db"
	"github.com/smallbiznis/homeledger/pkg/db/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID    int64 `gorm:"primaryKey"`
	Owner string
	Rank  int
}

func setupStore(t *testing.T) Repository[widget] {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&widget{}))
	return ProvideStore[widget](conn)
}

func TestFindOneMissingReturnsNil(t *testing.T) {
	store := setupStore(t)

	got, err := store.FindOne(context.Background(), &widget{ID: 404})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindWithOptions(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	for i, owner := range []string{"a", "a", "b"} {
		require.NoError(t, store.Create(ctx, &widget{ID: int64(i + 1), Owner: owner, Rank: i}))
	}

	rows, err := store.Find(ctx, &widget{Owner: "a"}, option.WithSortBy("rank", "desc"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].ID)
	assert.Equal(t, int64(1), rows[1].ID)

	rows, err = store.Find(ctx, nil, option.WithWhere("rank >= ?", 1), option.WithSortBy("id", "asc"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[1].ID)
}
