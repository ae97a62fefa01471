package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landgrid/internal/domain/model"
)

func cells(values ...string) []model.CellID {
	out := make([]model.CellID, 0, len(values))
	for _, v := range values {
		c, err := model.ParseCellID(v)
		if err != nil {
			panic(err)
		}
		out = append(out, c)
	}
	return out
}

func seededRepo(t *testing.T, users map[string]int64) *MemoryPropertyRepository {
	t.Helper()
	repo := NewMemoryPropertyRepository()
	for id, tokens := range users {
		_, err := repo.EnsureUser(context.Background(), id, tokens)
		require.NoError(t, err)
	}
	return repo
}

func TestMemoryPropertyRepository_PurchaseCells(t *testing.T) {
	ctx := context.Background()
	repo := seededRepo(t, map[string]int64{"alice": 10, "bob": 10})

	p, err := repo.PurchaseCells(ctx, &model.PurchaseRequest{ID: "p1", Owner: "alice", Cells: cells("2,1", "1,1", "1,1"), Price: 4})
	require.NoError(t, err)
	assert.Equal(t, cells("1,1", "2,1"), p.Cells)

	alice, err := repo.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(6), alice.Tokens)

	t.Run("重複セルは競合", func(t *testing.T) {
		_, err := repo.PurchaseCells(ctx, &model.PurchaseRequest{ID: "p2", Owner: "bob", Cells: cells("2,1", "3,1"), Price: 2})
		var conflict *model.OwnershipConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, cells("2,1"), conflict.Cells)

		bob, err := repo.GetUser(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(10), bob.Tokens)
	})

	t.Run("残高不足", func(t *testing.T) {
		_, err := repo.PurchaseCells(ctx, &model.PurchaseRequest{ID: "p3", Owner: "bob", Cells: cells("5,5"), Price: 11})
		var balance *model.InsufficientBalanceError
		require.ErrorAs(t, err, &balance)
		assert.Equal(t, int64(11), balance.Required)
		assert.Equal(t, int64(10), balance.Available)
	})

	t.Run("未登録ユーザー", func(t *testing.T) {
		_, err := repo.PurchaseCells(ctx, &model.PurchaseRequest{ID: "p4", Owner: "carol", Cells: cells("6,6"), Price: 1})
		assert.ErrorIs(t, err, model.ErrUserNotFound)
	})

	owned, err := repo.FindOwnedCells(ctx, cells("1,1", "3,1", "2,1"))
	require.NoError(t, err)
	assert.Equal(t, cells("1,1", "2,1"), owned)
}

func TestMemoryPropertyRepository_ConcurrentPurchaseSameCell(t *testing.T) {
	ctx := context.Background()
	users := map[string]int64{}
	for _, id := range []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7"} {
		users[id] = 10
	}
	repo := seededRepo(t, users)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for id := range users {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := repo.PurchaseCells(ctx, &model.PurchaseRequest{ID: "p-" + id, Owner: id, Cells: cells("7,7"), Price: 1})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	properties, err := repo.ListProperties(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, properties, 1)
}

func TestMemoryPropertyRepository_ListingAndBids(t *testing.T) {
	ctx := context.Background()
	repo := seededRepo(t, map[string]int64{"alice": 10, "bob": 20, "carol": 20})
	_, err := repo.PurchaseCells(ctx, &model.PurchaseRequest{ID: "p1", Owner: "alice", Cells: cells("1,1"), Price: 5})
	require.NoError(t, err)

	forSale := true
	_, err = repo.UpdateProperty(ctx, "p1", "bob", &model.UpdatePropertyRequest{ForSale: &forSale})
	assert.ErrorIs(t, err, model.ErrForbidden)

	p, err := repo.UpdateProperty(ctx, "p1", "alice", &model.UpdatePropertyRequest{ForSale: &forSale})
	require.NoError(t, err)
	require.NotNil(t, p.SalePrice)
	assert.Equal(t, int64(5), *p.SalePrice)

	bid, err := repo.CreateBid(ctx, &model.Bid{ID: "b1", PropertyID: "p1", Bidder: "carol", Amount: 8})
	require.NoError(t, err)
	assert.Equal(t, model.BidActive, bid.Status)

	received, err := repo.ListBidsReceived(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, received, 1)

	t.Run("販売中のプロパティを購入", func(t *testing.T) {
		p, err := repo.BuyListedProperty(ctx, "p1", "bob")
		require.NoError(t, err)
		assert.Equal(t, "bob", p.Owner)
		assert.False(t, p.ForSale)
		assert.Nil(t, p.SalePrice)
		assert.Empty(t, p.Bids)

		alice, _ := repo.GetUser(ctx, "alice")
		bob, _ := repo.GetUser(ctx, "bob")
		assert.Equal(t, int64(10), alice.Tokens)
		assert.Equal(t, int64(15), bob.Tokens)

		made, err := repo.ListBidsMade(ctx, "carol")
		require.NoError(t, err)
		require.Len(t, made, 1)
		assert.Equal(t, model.BidDeclined, made[0].Status)
	})

	t.Run("販売していなければ購入できない", func(t *testing.T) {
		_, err := repo.BuyListedProperty(ctx, "p1", "carol")
		assert.ErrorIs(t, err, model.ErrNotForSale)
	})

	t.Run("入札の承認で譲渡", func(t *testing.T) {
		_, err := repo.CreateBid(ctx, &model.Bid{ID: "b2", PropertyID: "p1", Bidder: "carol", Amount: 12})
		require.NoError(t, err)
		_, err = repo.CreateBid(ctx, &model.Bid{ID: "b3", PropertyID: "p1", Bidder: "alice", Amount: 3})
		require.NoError(t, err)

		_, err = repo.UpdateBidStatus(ctx, "b2", "carol", model.BidAccepted)
		assert.ErrorIs(t, err, model.ErrForbidden)

		accepted, err := repo.UpdateBidStatus(ctx, "b2", "bob", model.BidAccepted)
		require.NoError(t, err)
		assert.Equal(t, model.BidAccepted, accepted.Status)

		p, err := repo.GetProperty(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "carol", p.Owner)
		assert.Equal(t, int64(12), p.Price)

		carol, _ := repo.GetUser(ctx, "carol")
		bob, _ := repo.GetUser(ctx, "bob")
		assert.Equal(t, int64(8), carol.Tokens)
		assert.Equal(t, int64(27), bob.Tokens)

		made, err := repo.ListBidsMade(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, made, 1)
		assert.Equal(t, model.BidDeclined, made[0].Status)

		_, err = repo.UpdateBidStatus(ctx, "b2", "carol", model.BidCancelled)
		assert.ErrorIs(t, err, model.ErrInvalidBid)
	})

	_, err = repo.UpdateBidStatus(ctx, "missing", "alice", model.BidDeclined)
	assert.ErrorIs(t, err, model.ErrBidNotFound)
	_, err = repo.CreateBid(ctx, &model.Bid{ID: "b9", PropertyID: "missing", Bidder: "alice", Amount: 1})
	assert.ErrorIs(t, err, model.ErrPropertyNotFound)
}

func TestMemoryPropertyRepository_ListPropertiesBoundingBox(t *testing.T) {
	ctx := context.Background()
	repo := seededRepo(t, map[string]int64{"alice": 10})
	near := model.CellIDOf(139.7671, 35.6812)
	far := model.CellIDOf(-74.0061, 40.7128)
	_, err := repo.PurchaseCells(ctx, &model.PurchaseRequest{ID: "tokyo", Owner: "alice", Cells: []model.CellID{near}, Price: 1})
	require.NoError(t, err)
	_, err = repo.PurchaseCells(ctx, &model.PurchaseRequest{ID: "nyc", Owner: "alice", Cells: []model.CellID{far}, Price: 1})
	require.NoError(t, err)

	properties, err := repo.ListProperties(ctx, &model.BoundingBox{MinLng: 139.7, MinLat: 35.6, MaxLng: 139.8, MaxLat: 35.7})
	require.NoError(t, err)
	require.Len(t, properties, 1)
	assert.Equal(t, "tokyo", properties[0].ID)

	all, err := repo.ListProperties(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryPropertyRepository_EnsureUserKeepsBalance(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPropertyRepository()

	first, err := repo.EnsureUser(ctx, "alice", model.InitialTokens)
	require.NoError(t, err)
	assert.Equal(t, int64(model.InitialTokens), first.Tokens)

	_, err = repo.CreditTokens(ctx, "alice", 5)
	require.NoError(t, err)

	again, err := repo.EnsureUser(ctx, "alice", model.InitialTokens)
	require.NoError(t, err)
	assert.Equal(t, int64(15), again.Tokens)

	_, err = repo.CreditTokens(ctx, "nobody", 1)
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}
