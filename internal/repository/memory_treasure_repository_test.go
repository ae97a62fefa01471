package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landgrid/internal/domain/model"
)

func TestMemoryTreasureRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTreasureRepository()

	require.NoError(t, repo.CreateTreasure(ctx, &model.Treasure{
		ID: "t2", Name: "second", Cells: cells("5,5"), RewardType: model.RewardTypeTokens, RewardAmount: 1,
	}))
	require.NoError(t, repo.CreateTreasure(ctx, &model.Treasure{
		ID: "t1", Name: "first", Cells: cells("2,2", "1,1"), RewardType: model.RewardTypeTokens, RewardAmount: 3, MaxRedemptions: 1,
	}))

	found, err := repo.FindOverlapping(ctx, cells("1,1", "5,5", "9,9"))
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "t1", found[0].ID)
	assert.Equal(t, cells("1,1", "2,2"), found[0].Cells)

	none, err := repo.FindOverlapping(ctx, cells("9,9"))
	require.NoError(t, err)
	assert.Empty(t, none)

	redeemed, err := repo.Redeem(ctx, "t1", "alice")
	require.NoError(t, err)
	require.NotNil(t, redeemed)
	assert.Equal(t, 1, redeemed.Redemptions)
	assert.Equal(t, []string{"alice"}, redeemed.RedeemedBy)

	// 上限に達した宝物は受け取れない
	again, err := repo.Redeem(ctx, "t1", "bob")
	require.NoError(t, err)
	assert.Nil(t, again)

	_, err = repo.Redeem(ctx, "missing", "alice")
	assert.ErrorIs(t, err, model.ErrTreasureNotFound)

	// 返り値を書き換えても保存内容は変わらない
	redeemed.RedeemedBy[0] = "mallory"
	found, err = repo.FindOverlapping(ctx, cells("1,1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, found[0].RedeemedBy)
}
