package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landgrid/internal/domain/model"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *HTTPPropertyStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPPropertyStore(srv.URL+"/api", "alice", 2*time.Second, nil)
}

func TestHTTPPropertyStore_ListPropertiesSkipsInvalidRecords(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/properties", r.URL.Path)
		assert.Equal(t, "alice", r.Header.Get(UserIDHeader))
		_, _ = w.Write([]byte(`[
			{"id":"p1","owner":"alice","cells":["1,1","bad","2,1"],"price":2,"forSale":false},
			{"id":"p2","owner":"bob","cells":"1,1","price":1,"forSale":false},
			{"owner":"bob","cells":[],"price":1,"forSale":false},
			{"id":"p3","owner":"bob","cells":["3,3"],"price":1,"forSale":true,"salePrice":4}
		]`))
	})

	properties, err := store.ListProperties(context.Background())
	require.NoError(t, err)
	require.Len(t, properties, 2)
	assert.Equal(t, "p1", properties[0].ID)
	assert.Equal(t, cells("1,1", "2,1"), properties[0].Cells)
	assert.Equal(t, "p3", properties[1].ID)
	require.NotNil(t, properties[1].SalePrice)
	assert.Equal(t, int64(4), *properties[1].SalePrice)
}

func TestHTTPPropertyStore_CheckCells(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/properties/cells/check", r.URL.Path)
		var req model.CheckCellsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"1,1", "2,1"}, req.Cells)
		_ = json.NewEncoder(w).Encode(model.CheckCellsResponse{OwnedCells: []string{"2,1"}})
	})

	owned, err := store.CheckCells(context.Background(), cells("1,1", "2,1"))
	require.NoError(t, err)
	assert.Equal(t, cells("2,1"), owned)
}

func TestHTTPPropertyStore_IsCellOwned(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/properties/cell/-740061,577486/check", r.URL.Path)
		_ = json.NewEncoder(w).Encode(model.CellCheckResponse{CellID: "-740061,577486", IsOwned: true})
	})

	owned, err := store.IsCellOwned(context.Background(), model.CellID{LngIndex: -740061, LatIndex: 577486})
	require.NoError(t, err)
	assert.True(t, owned)
}

func TestHTTPPropertyStore_CreatePropertyErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "所有済みセル",
			status: http.StatusConflict,
			body:   `{"error":"conflict","ownedCells":["2,1","1,1"]}`,
			check: func(t *testing.T, err error) {
				var conflict *model.OwnershipConflictError
				require.ErrorAs(t, err, &conflict)
				assert.Equal(t, cells("1,1", "2,1"), conflict.Cells)
			},
		},
		{
			name:   "残高不足",
			status: http.StatusPaymentRequired,
			body:   `{"error":"insufficient","required":10,"available":3}`,
			check: func(t *testing.T, err error) {
				var balance *model.InsufficientBalanceError
				require.ErrorAs(t, err, &balance)
				assert.Equal(t, int64(10), balance.Required)
				assert.Equal(t, int64(3), balance.Available)
			},
		},
		{
			name:   "サーバーエラー",
			status: http.StatusBadGateway,
			body:   `{"error":"upstream"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, model.ErrRemoteUnavailable)
			},
		},
		{
			name:   "未認証",
			status: http.StatusUnauthorized,
			body:   `{"error":"unauthenticated"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, model.ErrUnauthenticated)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/properties/unallocated/buy", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := store.CreateProperty(context.Background(), &model.PurchaseRequest{ID: "p1", Owner: "alice", Cells: cells("1,1"), Price: 1})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestHTTPPropertyStore_CreateProperty(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		var req model.PurchaseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, cells("1,1"), req.Cells)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{
			"property": {"id":"p1","owner":"alice","cells":["1,1"],"price":1,"forSale":false},
			"isTreasure": true,
			"treasure": {"id":"t1","name":"coin","rewardType":"tokens","rewardAmount":5}
		}`))
	})

	resp, err := store.CreateProperty(context.Background(), &model.PurchaseRequest{ID: "p1", Owner: "alice", Cells: cells("1,1"), Price: 1})
	require.NoError(t, err)
	assert.Equal(t, "p1", resp.Property.ID)
	assert.True(t, resp.IsTreasure)
	assert.Equal(t, "coin", resp.Treasure.Name)
}

func TestHTTPPropertyStore_ProfileAndPrice(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/users/profile":
			_, _ = w.Write([]byte(`{"id":"alice","tokens":7}`))
		case "/api/pricing":
			assert.Equal(t, "Shibuya, Tokyo", r.URL.Query().Get("address"))
			_, _ = w.Write([]byte(`{"address":"Shibuya, Tokyo","basePrice":3}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	profile, err := store.GetProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), profile.Tokens)

	price, err := store.GetBasePrice(context.Background(), "Shibuya, Tokyo")
	require.NoError(t, err)
	assert.Equal(t, int64(3), price)
}

func TestHTTPPropertyStore_RequiresUser(t *testing.T) {
	store := NewHTTPPropertyStore("http://127.0.0.1:1/api", "", time.Second, nil)
	_, err := store.ListProperties(context.Background())
	assert.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestHTTPPropertyStore_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	store := NewHTTPPropertyStore(url+"/api", "alice", time.Second, nil)
	_, err := store.ListProperties(context.Background())
	assert.ErrorIs(t, err, model.ErrRemoteUnavailable)
}
