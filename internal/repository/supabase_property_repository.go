package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"landgrid/internal/domain/model"
	"landgrid/internal/infrastructure/database"
	"landgrid/internal/infrastructure/logger"
)

// SupabasePropertyRepository Supabase(PostgREST)経由のプロパティ・ユーザーストア
// 読み込みはテーブルを直接参照し、複数行にまたがる書き込みはRPC関数で原子的に行う
type SupabasePropertyRepository struct {
	client *database.SupabaseClient
	log    *slog.Logger
}

// NewSupabasePropertyRepository 新しいSupabasePropertyRepositoryインスタンスを作成
func NewSupabasePropertyRepository(client *database.SupabaseClient, log *slog.Logger) *SupabasePropertyRepository {
	return &SupabasePropertyRepository{
		client: client,
		log:    logger.OrDefault(log),
	}
}

// propertyRow propertiesテーブルの1行
type propertyRow struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Price       int64     `json:"price"`
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Address     *string   `json:"address"`
	ForSale     bool      `json:"for_sale"`
	SalePrice   *int64    `json:"sale_price"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type cellRow struct {
	Cell       string `json:"cell"`
	PropertyID string `json:"property_id"`
}

type bidRow struct {
	ID         string    `json:"id"`
	PropertyID string    `json:"property_id"`
	Bidder     string    `json:"bidder"`
	Amount     int64     `json:"amount"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (b bidRow) toModel() model.Bid {
	return model.Bid{
		ID:         b.ID,
		PropertyID: b.PropertyID,
		Bidder:     b.Bidder,
		Amount:     b.Amount,
		Message:    b.Message,
		Status:     model.BidStatus(b.Status),
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

type userRow struct {
	ID        string    `json:"id"`
	Tokens    int64     `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

// rpcResult RPC関数の戻り値
type rpcResult struct {
	OK         bool     `json:"ok"`
	Error      string   `json:"error"`
	ID         string   `json:"id"`
	OwnedCells []string `json:"ownedCells"`
	Required   int64    `json:"required"`
	Available  int64    `json:"available"`
}

func (r *SupabasePropertyRepository) ListProperties(ctx context.Context, bbox *model.BoundingBox) ([]model.Property, error) {
	query := r.client.GetClient().From("properties").Select("*", "exact", false)
	if bbox != nil {
		b := BoundingBoxToBound(bbox)
		query = query.
			Gte("max_lng", formatFloat(b.Min.Lon())).
			Lte("min_lng", formatFloat(b.Max.Lon())).
			Gte("max_lat", formatFloat(b.Min.Lat())).
			Lte("min_lat", formatFloat(b.Max.Lat()))
	}
	data, _, err := query.Execute()
	if err != nil {
		return nil, fmt.Errorf("プロパティ一覧の取得失敗: %w", err)
	}
	var rows []propertyRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("プロパティデータのJSONアンマーシャル失敗: %w", err)
	}
	return r.hydrate(rows)
}

func (r *SupabasePropertyRepository) GetProperty(ctx context.Context, id string) (*model.Property, error) {
	data, _, err := r.client.GetClient().From("properties").Select("*", "exact", false).Eq("id", id).Execute()
	if err != nil {
		return nil, fmt.Errorf("プロパティの取得失敗: %w", err)
	}
	var rows []propertyRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("プロパティデータのJSONアンマーシャル失敗: %w", err)
	}
	if len(rows) == 0 {
		return nil, model.ErrPropertyNotFound
	}
	properties, err := r.hydrate(rows)
	if err != nil {
		return nil, err
	}
	return &properties[0], nil
}

// hydrate セルと有効な入札を付けてモデルに変換する
func (r *SupabasePropertyRepository) hydrate(rows []propertyRow) ([]model.Property, error) {
	properties := make([]model.Property, 0, len(rows))
	if len(rows) == 0 {
		return properties, nil
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	data, _, err := r.client.GetClient().From("property_cells").Select("cell,property_id", "exact", false).In("property_id", ids).Execute()
	if err != nil {
		return nil, fmt.Errorf("セルの取得失敗: %w", err)
	}
	var cells []cellRow
	if err := json.Unmarshal(data, &cells); err != nil {
		return nil, fmt.Errorf("セルデータのJSONアンマーシャル失敗: %w", err)
	}
	cellsByProperty := make(map[string][]string)
	for _, c := range cells {
		cellsByProperty[c.PropertyID] = append(cellsByProperty[c.PropertyID], c.Cell)
	}

	data, _, err = r.client.GetClient().From("bids").Select("*", "exact", false).
		In("property_id", ids).Eq("status", string(model.BidActive)).Execute()
	if err != nil {
		return nil, fmt.Errorf("入札の取得失敗: %w", err)
	}
	var bids []bidRow
	if err := json.Unmarshal(data, &bids); err != nil {
		return nil, fmt.Errorf("入札データのJSONアンマーシャル失敗: %w", err)
	}
	bidsByProperty := make(map[string][]model.Bid)
	for _, b := range bids {
		bidsByProperty[b.PropertyID] = append(bidsByProperty[b.PropertyID], b.toModel())
	}

	for _, row := range rows {
		p := model.Property{
			ID:          row.ID,
			Owner:       row.Owner,
			Price:       row.Price,
			Name:        row.Name,
			Description: row.Description,
			Address:     row.Address,
			ForSale:     row.ForSale,
			SalePrice:   row.SalePrice,
			Bids:        sortBids(bidsByProperty[row.ID]),
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		}
		p.Cells = parseCellsLenient(r.log, row.ID, cellsByProperty[row.ID])
		model.SortCells(p.Cells)
		properties = append(properties, p)
	}
	sort.SliceStable(properties, func(i, j int) bool {
		if !properties[i].CreatedAt.Equal(properties[j].CreatedAt) {
			return properties[i].CreatedAt.Before(properties[j].CreatedAt)
		}
		return properties[i].ID < properties[j].ID
	})
	return properties, nil
}

func (r *SupabasePropertyRepository) FindOwnedCells(ctx context.Context, cells []model.CellID) ([]model.CellID, error) {
	if len(cells) == 0 {
		return []model.CellID{}, nil
	}
	data, _, err := r.client.GetClient().From("property_cells").Select("cell", "exact", false).
		In("cell", model.CellStrings(cells)).Execute()
	if err != nil {
		return nil, fmt.Errorf("所有セルの検索失敗: %w", err)
	}
	var rows []cellRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("セルデータのJSONアンマーシャル失敗: %w", err)
	}
	values := make([]string, len(rows))
	for i, row := range rows {
		values[i] = row.Cell
	}
	owned := parseCellsLenient(r.log, "", values)
	model.SortCells(owned)
	return owned, nil
}

func (r *SupabasePropertyRepository) PurchaseCells(ctx context.Context, req *model.PurchaseRequest) (*model.Property, error) {
	cells := model.NewCellSet(req.Cells...).Sorted()
	bound, ok := model.CellsBound(cells)
	if !ok {
		return nil, model.ErrEmptySelection
	}
	lngs := make([]int64, len(cells))
	lats := make([]int64, len(cells))
	for i, c := range cells {
		lngs[i], lats[i] = c.LngIndex, c.LatIndex
	}

	_, err := r.rpc("landgrid_purchase_cells", map[string]interface{}{
		"p_id":         req.ID,
		"p_owner":      req.Owner,
		"p_cells":      model.CellStrings(cells),
		"p_lng":        lngs,
		"p_lat":        lats,
		"p_price":      req.Price,
		"p_address":    req.Address,
		"p_min_lng":    bound.Min.Lon(),
		"p_min_lat":    bound.Min.Lat(),
		"p_max_lng":    bound.Max.Lon(),
		"p_max_lat":    bound.Max.Lat(),
		"p_bounds_wkt": CellsBoundsWKT(cells),
	})
	if err != nil {
		return nil, err
	}
	return r.GetProperty(ctx, req.ID)
}

func (r *SupabasePropertyRepository) UpdateProperty(ctx context.Context, id, actor string, req *model.UpdatePropertyRequest) (*model.Property, error) {
	p, err := r.GetProperty(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Owner != actor {
		return nil, model.ErrForbidden
	}
	req.Apply(p)
	if p.ForSale && p.SalePrice == nil {
		price := p.Price
		p.SalePrice = &price
	}

	values := map[string]interface{}{
		"name":        p.Name,
		"description": p.Description,
		"for_sale":    p.ForSale,
		"sale_price":  p.SalePrice,
		"updated_at":  time.Now().UTC(),
	}
	// 所有者が変わっていないことを条件に更新する
	if _, _, err := r.client.GetClient().From("properties").Update(values, "", "").
		Eq("id", id).Eq("owner", actor).Execute(); err != nil {
		return nil, fmt.Errorf("プロパティの更新失敗: %w", err)
	}
	return r.GetProperty(ctx, id)
}

func (r *SupabasePropertyRepository) BuyListedProperty(ctx context.Context, id, buyer string) (*model.Property, error) {
	if _, err := r.rpc("landgrid_buy_listed", map[string]interface{}{
		"p_property": id,
		"p_buyer":    buyer,
	}); err != nil {
		return nil, err
	}
	return r.GetProperty(ctx, id)
}

func (r *SupabasePropertyRepository) CreateBid(ctx context.Context, bid *model.Bid) (*model.Bid, error) {
	if _, err := r.GetProperty(ctx, bid.PropertyID); err != nil {
		return nil, err
	}
	row := map[string]interface{}{
		"id":          bid.ID,
		"property_id": bid.PropertyID,
		"bidder":      bid.Bidder,
		"amount":      bid.Amount,
		"message":     bid.Message,
		"status":      string(model.BidActive),
	}
	if _, _, err := r.client.GetClient().From("bids").Insert(row, false, "", "", "").Execute(); err != nil {
		return nil, fmt.Errorf("入札の作成失敗: %w", err)
	}
	return r.getBid(bid.ID)
}

func (r *SupabasePropertyRepository) UpdateBidStatus(ctx context.Context, bidID, actor string, status model.BidStatus) (*model.Bid, error) {
	if !status.Valid() || status == model.BidActive {
		return nil, fmt.Errorf("%w: 状態 %q には変更できません", model.ErrInvalidBid, status)
	}
	if _, err := r.rpc("landgrid_update_bid_status", map[string]interface{}{
		"p_bid":    bidID,
		"p_actor":  actor,
		"p_status": string(status),
	}); err != nil {
		return nil, err
	}
	return r.getBid(bidID)
}

func (r *SupabasePropertyRepository) getBid(id string) (*model.Bid, error) {
	bids, err := r.selectBids("id", id)
	if err != nil {
		return nil, err
	}
	if len(bids) == 0 {
		return nil, model.ErrBidNotFound
	}
	return &bids[0], nil
}

func (r *SupabasePropertyRepository) ListBidsMade(ctx context.Context, bidder string) ([]model.Bid, error) {
	return r.selectBids("bidder", bidder)
}

func (r *SupabasePropertyRepository) ListBidsReceived(ctx context.Context, owner string) ([]model.Bid, error) {
	data, _, err := r.client.GetClient().From("properties").Select("id", "exact", false).Eq("owner", owner).Execute()
	if err != nil {
		return nil, fmt.Errorf("所有プロパティの取得失敗: %w", err)
	}
	var rows []propertyRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("プロパティデータのJSONアンマーシャル失敗: %w", err)
	}
	if len(rows) == 0 {
		return []model.Bid{}, nil
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	data, _, err = r.client.GetClient().From("bids").Select("*", "exact", false).In("property_id", ids).Execute()
	if err != nil {
		return nil, fmt.Errorf("入札一覧の取得失敗: %w", err)
	}
	return decodeBids(data)
}

func (r *SupabasePropertyRepository) selectBids(column, value string) ([]model.Bid, error) {
	data, _, err := r.client.GetClient().From("bids").Select("*", "exact", false).Eq(column, value).Execute()
	if err != nil {
		return nil, fmt.Errorf("入札一覧の取得失敗: %w", err)
	}
	return decodeBids(data)
}

func decodeBids(data []byte) ([]model.Bid, error) {
	var rows []bidRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("入札データのJSONアンマーシャル失敗: %w", err)
	}
	bids := make([]model.Bid, 0, len(rows))
	for _, row := range rows {
		bids = append(bids, row.toModel())
	}
	return sortBids(bids), nil
}

func sortBids(bids []model.Bid) []model.Bid {
	sort.SliceStable(bids, func(i, j int) bool {
		if !bids[i].CreatedAt.Equal(bids[j].CreatedAt) {
			return bids[i].CreatedAt.Before(bids[j].CreatedAt)
		}
		return bids[i].ID < bids[j].ID
	})
	return bids
}

func (r *SupabasePropertyRepository) GetUser(ctx context.Context, id string) (*model.UserProfile, error) {
	data, _, err := r.client.GetClient().From("users").Select("*", "exact", false).Eq("id", id).Execute()
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得失敗: %w", err)
	}
	var rows []userRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("ユーザーデータのJSONアンマーシャル失敗: %w", err)
	}
	if len(rows) == 0 {
		return nil, model.ErrUserNotFound
	}
	return &model.UserProfile{ID: rows[0].ID, Tokens: rows[0].Tokens, CreatedAt: rows[0].CreatedAt}, nil
}

func (r *SupabasePropertyRepository) EnsureUser(ctx context.Context, id string, initialTokens int64) (*model.UserProfile, error) {
	u, err := r.GetUser(ctx, id)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, model.ErrUserNotFound) {
		return nil, err
	}
	row := map[string]interface{}{"id": id, "tokens": initialTokens}
	if _, _, err := r.client.GetClient().From("users").Insert(row, false, "", "", "").Execute(); err != nil {
		// 同時登録で先に作成された場合はそのまま読み直す
		r.log.Warn("⚠️ ユーザー作成に失敗したため再取得します", "user_id", id, "error", err)
	}
	return r.GetUser(ctx, id)
}

func (r *SupabasePropertyRepository) CreditTokens(ctx context.Context, id string, amount int64) (*model.UserProfile, error) {
	if _, err := r.rpc("landgrid_credit_tokens", map[string]interface{}{
		"p_user":   id,
		"p_amount": amount,
	}); err != nil {
		return nil, err
	}
	return r.GetUser(ctx, id)
}

// rpc RPC関数を呼び出し、結果のエラーコードをドメインエラーに変換する
func (r *SupabasePropertyRepository) rpc(name string, body map[string]interface{}) (*rpcResult, error) {
	raw := r.client.GetClient().Rpc(name, "", body)
	if raw == "" {
		return nil, fmt.Errorf("%w: RPC %s の応答がありません", model.ErrRemoteUnavailable, name)
	}
	var result rpcResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("RPC %s の応答を解析できません: %w", name, err)
	}
	if result.OK {
		return &result, nil
	}
	return nil, rpcError(&result, r.log)
}

func rpcError(result *rpcResult, log *slog.Logger) error {
	switch result.Error {
	case "user_not_found":
		return model.ErrUserNotFound
	case "conflict":
		cells := parseCellsLenient(log, "", result.OwnedCells)
		model.SortCells(cells)
		return &model.OwnershipConflictError{Cells: cells}
	case "insufficient":
		return &model.InsufficientBalanceError{Required: result.Required, Available: result.Available}
	case "property_not_found":
		return model.ErrPropertyNotFound
	case "forbidden":
		return model.ErrForbidden
	case "not_for_sale":
		return model.ErrNotForSale
	case "bid_not_found":
		return model.ErrBidNotFound
	case "invalid_bid":
		return model.ErrInvalidBid
	default:
		return fmt.Errorf("RPCがエラーを返しました: %s", result.Error)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
