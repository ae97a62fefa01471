package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"landgrid/internal/domain/model"
	"landgrid/internal/domain/repository"
	"landgrid/internal/domain/service"
	"landgrid/internal/infrastructure/logger"
	"landgrid/internal/infrastructure/metrics"
)

// ChangePublisher コミット済みの変更をクライアントへ知らせる
type ChangePublisher interface {
	PublishPropertiesChanged(propertyID, reason string)
}

// PropertyUseCase プロパティストアAPIのユースケース
type PropertyUseCase interface {
	ListProperties(ctx context.Context, bbox *model.BoundingBox) ([]model.Property, error)
	// Features 所有セルをGeoJSONで返す。色分けはクライアントと同じ規則
	Features(ctx context.Context, userID string, bbox *model.BoundingBox) (*geojson.FeatureCollection, error)
	CheckCell(ctx context.Context, cell model.CellID) (bool, error)
	CheckCells(ctx context.Context, cells []model.CellID) ([]model.CellID, error)
	// Purchase 未所有セルを購入し、重なる宝物があれば報酬を付与する
	Purchase(ctx context.Context, userID string, req *model.PurchaseRequest) (*model.PurchaseResponse, error)
	UpdateProperty(ctx context.Context, userID, propertyID string, req *model.UpdatePropertyRequest) (*model.Property, error)
	BuyListed(ctx context.Context, userID, propertyID string) (*model.Property, error)
	PlaceBid(ctx context.Context, userID string, req *model.CreateBidRequest) (*model.Bid, error)
	UpdateBidStatus(ctx context.Context, userID, bidID string, status model.BidStatus) (*model.Bid, error)
	BidsMade(ctx context.Context, userID string) ([]model.Bid, error)
	BidsReceived(ctx context.Context, userID string) ([]model.Bid, error)
}

// PropertyUseCaseConfig PropertyUseCaseの設定
type PropertyUseCaseConfig struct {
	// PriceTolerance 申告価格が算出価格を下回ってよい幅
	PriceTolerance int64
	// Geocoder 設定されていればセルの中心から住所を引き、リクエストの住所は使わない
	Geocoder repository.Geocoder
	Logger   *slog.Logger
}

type propertyUseCaseImpl struct {
	properties repository.PropertyRepository
	users      repository.UserRepository
	treasures  TreasureUseCase
	pricing    *service.PricingService
	publisher  ChangePublisher
	tolerance  int64
	geocoder   repository.Geocoder
	log        *slog.Logger
}

// NewPropertyUseCase 新しいPropertyUseCaseインスタンスを作成
// treasuresとpublisherはnilでもよい
func NewPropertyUseCase(
	properties repository.PropertyRepository,
	users repository.UserRepository,
	treasures TreasureUseCase,
	pricing *service.PricingService,
	publisher ChangePublisher,
	cfg PropertyUseCaseConfig,
) PropertyUseCase {
	return &propertyUseCaseImpl{
		properties: properties,
		users:      users,
		treasures:  treasures,
		pricing:    pricing,
		publisher:  publisher,
		tolerance:  cfg.PriceTolerance,
		geocoder:   cfg.Geocoder,
		log:        logger.OrDefault(cfg.Logger),
	}
}

func (u *propertyUseCaseImpl) ListProperties(ctx context.Context, bbox *model.BoundingBox) ([]model.Property, error) {
	properties, err := u.properties.ListProperties(ctx, bbox)
	if err != nil {
		return nil, fmt.Errorf("プロパティ一覧の取得に失敗: %w", err)
	}
	return properties, nil
}

func (u *propertyUseCaseImpl) Features(ctx context.Context, userID string, bbox *model.BoundingBox) (*geojson.FeatureCollection, error) {
	properties, err := u.ListProperties(ctx, bbox)
	if err != nil {
		return nil, err
	}
	idx := service.RebuildIndex(properties)
	for _, v := range idx.Violations() {
		u.log.Error("❌ データ整合性違反", "cell", v.Cell.String(), "property_ids", v.PropertyIDs)
	}
	return model.FeatureCollection(service.ToRenderFeatures(idx, userID)), nil
}

func (u *propertyUseCaseImpl) CheckCell(ctx context.Context, cell model.CellID) (bool, error) {
	owned, err := u.properties.FindOwnedCells(ctx, []model.CellID{cell})
	if err != nil {
		return false, fmt.Errorf("セル %s の所有チェックに失敗: %w", cell, err)
	}
	return len(owned) > 0, nil
}

func (u *propertyUseCaseImpl) CheckCells(ctx context.Context, cells []model.CellID) ([]model.CellID, error) {
	unique := model.NewCellSet(cells...).Sorted()
	if len(unique) == 0 {
		return []model.CellID{}, nil
	}
	owned, err := u.properties.FindOwnedCells(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("セルの一括所有チェックに失敗: %w", err)
	}
	model.SortCells(owned)
	return owned, nil
}

func (u *propertyUseCaseImpl) Purchase(ctx context.Context, userID string, req *model.PurchaseRequest) (*model.PurchaseResponse, error) {
	if userID == "" {
		return nil, model.ErrUnauthenticated
	}
	if req.Owner == "" {
		req.Owner = userID
	}
	if req.Owner != userID {
		return nil, model.ErrForbidden
	}
	req.Cells = model.NewCellSet(req.Cells...).Sorted()
	if len(req.Cells) == 0 {
		return nil, model.ErrEmptySelection
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	address, err := u.resolveAddress(ctx, req)
	if err != nil {
		return nil, err
	}
	expected := u.pricing.Total(address, len(req.Cells))
	if req.Price+u.tolerance < expected {
		return nil, fmt.Errorf("%w（申告: %d, 価格: %d）", model.ErrPriceMismatch, req.Price, expected)
	}

	log := u.log.With("user_id", userID, "property_id", req.ID)
	log.Info("🚀 セル購入開始", "cells", len(req.Cells), "price", req.Price, "address", address)

	property, err := u.properties.PurchaseCells(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("セルの購入に失敗: %w", err)
	}
	log.Info("✅ セル購入完了")
	u.publish(property.ID, "purchase")

	resp := &model.PurchaseResponse{Property: property}
	if u.treasures != nil {
		// 宝物の処理に失敗しても購入自体は成功とする
		discovery, err := u.treasures.Discover(ctx, userID, req.Cells)
		if err != nil {
			log.Warn("⚠️ 宝物の判定に失敗", "error", err)
		} else if discovery != nil {
			resp.IsTreasure = true
			resp.Treasure = discovery
		}
	}
	return resp, nil
}

// resolveAddress 価格計算に使う住所。ジオコーダーがあればサーバー側で引いた住所で上書きする
func (u *propertyUseCaseImpl) resolveAddress(ctx context.Context, req *model.PurchaseRequest) (string, error) {
	if u.geocoder == nil {
		if req.Address == nil {
			return "", nil
		}
		return *req.Address, nil
	}
	center, _ := model.CellsCenter(req.Cells)
	address, err := u.geocoder.ReverseGeocode(ctx, center.Lon(), center.Lat())
	if err != nil {
		return "", fmt.Errorf("%w: 住所の取得に失敗: %v", model.ErrPricingFailed, err)
	}
	req.Address = &address
	return address, nil
}

func (u *propertyUseCaseImpl) UpdateProperty(ctx context.Context, userID, propertyID string, req *model.UpdatePropertyRequest) (*model.Property, error) {
	if userID == "" {
		return nil, model.ErrUnauthenticated
	}
	if req.SalePrice != nil && *req.SalePrice <= 0 {
		return nil, fmt.Errorf("%w: 販売価格は正の値で指定してください", model.ErrInvalidBid)
	}
	property, err := u.properties.UpdateProperty(ctx, propertyID, userID, req)
	if err != nil {
		return nil, fmt.Errorf("プロパティの更新に失敗: %w", err)
	}
	u.publish(property.ID, "update")
	return property, nil
}

func (u *propertyUseCaseImpl) BuyListed(ctx context.Context, userID, propertyID string) (*model.Property, error) {
	if userID == "" {
		return nil, model.ErrUnauthenticated
	}
	property, err := u.properties.BuyListedProperty(ctx, propertyID, userID)
	if err != nil {
		return nil, fmt.Errorf("販売中プロパティの購入に失敗: %w", err)
	}
	u.log.Info("🤝 販売中プロパティを購入", "property_id", propertyID, "buyer", userID)
	u.publish(property.ID, "transfer")
	return property, nil
}

func (u *propertyUseCaseImpl) PlaceBid(ctx context.Context, userID string, req *model.CreateBidRequest) (*model.Bid, error) {
	if userID == "" {
		return nil, model.ErrUnauthenticated
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: 入札額は正の値で指定してください", model.ErrInvalidBid)
	}
	property, err := u.properties.GetProperty(ctx, req.PropertyID)
	if err != nil {
		return nil, err
	}
	if property.IsOwnedBy(userID) {
		return nil, fmt.Errorf("%w: 自分のプロパティには入札できません", model.ErrInvalidBid)
	}
	profile, err := u.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile.Tokens < req.Amount {
		return nil, &model.InsufficientBalanceError{Required: req.Amount, Available: profile.Tokens}
	}

	bid, err := u.properties.CreateBid(ctx, &model.Bid{
		ID:         uuid.NewString(),
		PropertyID: req.PropertyID,
		Bidder:     userID,
		Amount:     req.Amount,
		Message:    req.Message,
		Status:     model.BidActive,
	})
	if err != nil {
		return nil, fmt.Errorf("入札の作成に失敗: %w", err)
	}
	u.publish(req.PropertyID, "bid")
	return bid, nil
}

func (u *propertyUseCaseImpl) UpdateBidStatus(ctx context.Context, userID, bidID string, status model.BidStatus) (*model.Bid, error) {
	if userID == "" {
		return nil, model.ErrUnauthenticated
	}
	if !status.Valid() || status == model.BidActive {
		return nil, fmt.Errorf("%w: 状態 %q には変更できません", model.ErrInvalidBid, status)
	}
	bid, err := u.properties.UpdateBidStatus(ctx, bidID, userID, status)
	if err != nil {
		return nil, fmt.Errorf("入札状態の更新に失敗: %w", err)
	}
	reason := "bid"
	if status == model.BidAccepted {
		reason = "transfer"
		u.log.Info("🤝 入札承認によりプロパティを譲渡", "property_id", bid.PropertyID, "bidder", bid.Bidder, "amount", bid.Amount)
	}
	u.publish(bid.PropertyID, reason)
	return bid, nil
}

func (u *propertyUseCaseImpl) BidsMade(ctx context.Context, userID string) ([]model.Bid, error) {
	if userID == "" {
		return nil, model.ErrUnauthenticated
	}
	return u.properties.ListBidsMade(ctx, userID)
}

func (u *propertyUseCaseImpl) BidsReceived(ctx context.Context, userID string) ([]model.Bid, error) {
	if userID == "" {
		return nil, model.ErrUnauthenticated
	}
	return u.properties.ListBidsReceived(ctx, userID)
}

func (u *propertyUseCaseImpl) publish(propertyID, reason string) {
	if reason == "purchase" {
		metrics.PurchasesTotal.WithLabelValues("committed").Inc()
	}
	if u.publisher != nil {
		u.publisher.PublishPropertiesChanged(propertyID, reason)
	}
}
