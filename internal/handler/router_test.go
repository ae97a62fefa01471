package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landgrid/internal/config"
	"landgrid/internal/domain/model"
	"landgrid/internal/domain/service"
	"landgrid/internal/repository"
	"landgrid/internal/usecase"
)

type testServer struct {
	router *gin.Engine
	repo   *repository.MemoryPropertyRepository
}

func newTestServer(t *testing.T, serverCfg config.ServerConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryPropertyRepository()
	pricing := service.NewPricingService(config.PricingConfig{
		BasePrice: 1,
		Rules:     []config.PriceRule{{Match: "tokyo", BasePrice: 3}},
	})
	treasures := usecase.NewTreasureUseCase(repository.NewMemoryTreasureRepository(), repo, nil)
	properties := usecase.NewPropertyUseCase(repo, repo, treasures, pricing, nil, usecase.PropertyUseCaseConfig{})

	router := NewRouter(RouterDeps{
		Properties: properties,
		Users:      usecase.NewUserUseCase(repo),
		Treasures:  treasures,
		Pricing:    pricing,
		Server:     serverCfg,
	})
	return &testServer{router: router, repo: repo}
}

func (s *testServer) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(repository.UserIDHeader, user)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})
	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestRegisterAndProfile(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	w := s.do(t, http.MethodGet, "/api/users/profile", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/users", "", struct{}{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/users", "alice", struct{}{})
	require.Equal(t, http.StatusOK, w.Code)
	var profile model.UserProfile
	decode(t, w, &profile)
	assert.Equal(t, int64(model.InitialTokens), profile.Tokens)

	w = s.do(t, http.MethodGet, "/api/users/profile", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPurchaseFlow(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})
	s.do(t, http.MethodPost, "/api/users", "alice", struct{}{})
	s.do(t, http.MethodPost, "/api/users", "bob", struct{}{})

	purchase := model.PurchaseRequest{Cells: []model.CellID{{LngIndex: 1, LatIndex: 1}, {LngIndex: 2, LatIndex: 1}}, Price: 2}
	w := s.do(t, http.MethodPost, "/api/properties/unallocated/buy", "alice", purchase)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp model.PurchaseResponse
	decode(t, w, &resp)
	assert.Equal(t, "alice", resp.Property.Owner)

	t.Run("所有済みセルは409", func(t *testing.T) {
		req := model.PurchaseRequest{Cells: []model.CellID{{LngIndex: 2, LatIndex: 1}, {LngIndex: 3, LatIndex: 1}}, Price: 2}
		w := s.do(t, http.MethodPost, "/api/properties/unallocated/buy", "bob", req)
		require.Equal(t, http.StatusConflict, w.Code)
		var body struct {
			OwnedCells []string `json:"ownedCells"`
		}
		decode(t, w, &body)
		assert.Equal(t, []string{"2,1"}, body.OwnedCells)
	})

	t.Run("価格が足りなければ400", func(t *testing.T) {
		addr := "Shinjuku, Tokyo"
		req := model.PurchaseRequest{Cells: []model.CellID{{LngIndex: 9, LatIndex: 9}}, Price: 1, Address: &addr}
		w := s.do(t, http.MethodPost, "/api/properties/unallocated/buy", "bob", req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("残高不足は402", func(t *testing.T) {
		req := model.PurchaseRequest{Cells: []model.CellID{{LngIndex: 9, LatIndex: 9}}, Price: 50}
		w := s.do(t, http.MethodPost, "/api/properties/unallocated/buy", "bob", req)
		require.Equal(t, http.StatusPaymentRequired, w.Code)
		var body struct {
			Required  int64 `json:"required"`
			Available int64 `json:"available"`
		}
		decode(t, w, &body)
		assert.Equal(t, int64(50), body.Required)
		assert.Equal(t, int64(10), body.Available)
	})

	t.Run("空の選択は400", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/properties/unallocated/buy", "bob", model.PurchaseRequest{Price: 1})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("所有チェック", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/properties/cell/2,1/check", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var check model.CellCheckResponse
		decode(t, w, &check)
		assert.True(t, check.IsOwned)

		w = s.do(t, http.MethodGet, "/api/properties/cell/abc/check", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = s.do(t, http.MethodPost, "/api/properties/cells/check", "", model.CheckCellsRequest{Cells: []string{"3,1", "1,1", "2,1"}})
		require.Equal(t, http.StatusOK, w.Code)
		var many model.CheckCellsResponse
		decode(t, w, &many)
		assert.Equal(t, []string{"1,1", "2,1"}, many.OwnedCells)
	})

	t.Run("GeoJSON", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/properties/features", "alice", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var fc struct {
			Type     string            `json:"type"`
			Features []json.RawMessage `json:"features"`
		}
		decode(t, w, &fc)
		assert.Equal(t, "FeatureCollection", fc.Type)
		assert.Len(t, fc.Features, 2)
	})
}

func TestListingAndBidsOverHTTP(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})
	for _, u := range []string{"alice", "bob"} {
		s.do(t, http.MethodPost, "/api/users", u, struct{}{})
	}
	w := s.do(t, http.MethodPost, "/api/properties/unallocated/buy", "alice",
		model.PurchaseRequest{ID: "p1", Cells: []model.CellID{{LngIndex: 1, LatIndex: 1}}, Price: 1})
	require.Equal(t, http.StatusCreated, w.Code)

	forSale := true
	price := int64(4)
	w = s.do(t, http.MethodPut, "/api/properties/p1", "bob", model.UpdatePropertyRequest{ForSale: &forSale, SalePrice: &price})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/properties/bids", "bob", model.CreateBidRequest{PropertyID: "p1", Amount: 3})
	require.Equal(t, http.StatusCreated, w.Code)
	var bid model.Bid
	decode(t, w, &bid)

	w = s.do(t, http.MethodPost, "/api/properties/bids", "alice", model.CreateBidRequest{PropertyID: "p1", Amount: 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/properties/bids/received", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var received []model.Bid
	decode(t, w, &received)
	assert.Len(t, received, 1)

	w = s.do(t, http.MethodPut, "/api/properties/p1", "alice", model.UpdatePropertyRequest{ForSale: &forSale, SalePrice: &price})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/properties/p1/buy", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var bought model.Property
	decode(t, w, &bought)
	assert.Equal(t, "bob", bought.Owner)

	w = s.do(t, http.MethodPut, "/api/properties/bids/"+bid.ID+"/status", "bob", model.UpdateBidStatusRequest{Status: model.BidCancelled})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/properties/bids/missing/status", "bob", model.UpdateBidStatusRequest{Status: model.BidCancelled})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPricingAndTreasure(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	w := s.do(t, http.MethodGet, "/api/pricing?address=Chiyoda,%20Tokyo", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var price model.PriceResponse
	decode(t, w, &price)
	assert.Equal(t, int64(3), price.BasePrice)

	w = s.do(t, http.MethodPost, "/api/treasures", "admin", model.CreateTreasureRequest{Name: "coin", Cells: []string{"5,5"}, RewardAmount: 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/treasures", "admin", model.CreateTreasureRequest{Name: "coin", Cells: []string{"5,5"}, RewardAmount: 7})
	require.Equal(t, http.StatusCreated, w.Code)

	s.do(t, http.MethodPost, "/api/users", "alice", struct{}{})
	w = s.do(t, http.MethodPost, "/api/properties/unallocated/buy", "alice",
		model.PurchaseRequest{Cells: []model.CellID{{LngIndex: 5, LatIndex: 5}}, Price: 1})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp model.PurchaseResponse
	decode(t, w, &resp)
	require.True(t, resp.IsTreasure)
	assert.Equal(t, []model.CellID{{LngIndex: 5, LatIndex: 5}}, resp.Treasure.OverlappingCells)

	profile, err := s.repo.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(16), profile.Tokens)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{RateLimitPerSecond: 0.001, RateLimitBurst: 2})
	codes := []int{}
	for i := 0; i < 3; i++ {
		codes = append(codes, s.do(t, http.MethodGet, "/api/properties", "", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

// TestHTTPPropertyStoreAgainstRouter クライアントのRESTストアとサーバーの往復
func TestHTTPPropertyStoreAgainstRouter(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx := context.Background()
	store := repository.NewHTTPPropertyStore(srv.URL+"/api", "alice", 2*time.Second, nil)

	profile, err := store.RegisterUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), profile.Tokens)

	cell := model.CellIDOf(139.7671, 35.6812)
	resp, err := store.CreateProperty(ctx, &model.PurchaseRequest{ID: "p1", Owner: "alice", Cells: []model.CellID{cell}, Price: 1})
	require.NoError(t, err)
	assert.Equal(t, []model.CellID{cell}, resp.Property.Cells)

	_, err = store.CreateProperty(ctx, &model.PurchaseRequest{ID: "p2", Owner: "alice", Cells: []model.CellID{cell}, Price: 1})
	var conflict *model.OwnershipConflictError
	require.ErrorAs(t, err, &conflict)

	properties, err := store.ListProperties(ctx)
	require.NoError(t, err)
	require.Len(t, properties, 1)

	owned, err := store.IsCellOwned(ctx, cell)
	require.NoError(t, err)
	assert.True(t, owned)

	price, err := store.GetBasePrice(ctx, "Marunouchi, Tokyo")
	require.NoError(t, err)
	assert.Equal(t, int64(3), price)
}
