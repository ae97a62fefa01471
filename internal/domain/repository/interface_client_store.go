package repository

import (
	"context"

	"landgrid/internal/domain/model"
)

// PropertyStore クライアントから見たプロパティストア
type PropertyStore interface {
	ListProperties(ctx context.Context) ([]model.Property, error)
	IsCellOwned(ctx context.Context, cell model.CellID) (bool, error)
	// CheckCells 指定セルのうち所有済みのもの（1回の往復）
	CheckCells(ctx context.Context, cells []model.CellID) ([]model.CellID, error)
	CreateProperty(ctx context.Context, req *model.PurchaseRequest) (*model.PurchaseResponse, error)
	UpdateProperty(ctx context.Context, id string, req *model.UpdatePropertyRequest) (*model.Property, error)
}

// UserProfileReader 残高の取得。購入前に毎回呼ぶためキャッシュしない
type UserProfileReader interface {
	GetProfile(ctx context.Context) (*model.UserProfile, error)
}

// PriceLookup 住所ごとのセル単価
type PriceLookup interface {
	GetBasePrice(ctx context.Context, address string) (int64, error)
}

// Geocoder 座標から住所への逆ジオコーディング
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lng, lat float64) (string, error)
}

// SelectionCache 未確定の選択をローカルに保存する
type SelectionCache interface {
	SaveSelection(ctx context.Context, cells []string) error
	LoadSelection(ctx context.Context) ([]string, error)
}

// SnapshotCache 最後に取得できたプロパティ一覧
type SnapshotCache interface {
	SaveSnapshot(ctx context.Context, properties []model.Property) error
	LoadSnapshot(ctx context.Context) ([]model.Property, error)
}
