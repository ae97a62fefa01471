package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landgrid/internal/domain/model"
	"landgrid/internal/infrastructure/logger"
)

func TestRPCError(t *testing.T) {
	log := logger.OrDefault(nil)

	var conflict *model.OwnershipConflictError
	err := rpcError(&rpcResult{Error: "conflict", OwnedCells: []string{"2,1", "oops", "1,1"}}, log)
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, cells("1,1", "2,1"), conflict.Cells)

	var balance *model.InsufficientBalanceError
	err = rpcError(&rpcResult{Error: "insufficient", Required: 6, Available: 2}, log)
	require.ErrorAs(t, err, &balance)
	assert.Equal(t, int64(6), balance.Required)
	assert.Equal(t, int64(2), balance.Available)

	sentinels := map[string]error{
		"user_not_found":     model.ErrUserNotFound,
		"property_not_found": model.ErrPropertyNotFound,
		"forbidden":          model.ErrForbidden,
		"not_for_sale":       model.ErrNotForSale,
		"bid_not_found":      model.ErrBidNotFound,
		"invalid_bid":        model.ErrInvalidBid,
	}
	for code, want := range sentinels {
		assert.ErrorIs(t, rpcError(&rpcResult{Error: code}, log), want, code)
	}

	assert.EqualError(t, rpcError(&rpcResult{Error: "boom"}, log), "RPCがエラーを返しました: boom")
}

func TestBidRowToModel(t *testing.T) {
	row := bidRow{ID: "b1", PropertyID: "p1", Bidder: "bob", Amount: 4, Status: "declined"}
	bid := row.toModel()
	assert.Equal(t, model.BidDeclined, bid.Status)
	assert.Equal(t, int64(4), bid.Amount)

	bids, err := decodeBids([]byte(`[
		{"id":"b2","property_id":"p1","bidder":"bob","amount":2,"status":"active","created_at":"2024-05-02T00:00:00Z","updated_at":"2024-05-02T00:00:00Z"},
		{"id":"b1","property_id":"p1","bidder":"carol","amount":3,"status":"active","created_at":"2024-05-01T00:00:00Z","updated_at":"2024-05-01T00:00:00Z"}
	]`))
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, "b1", bids[0].ID)
}
