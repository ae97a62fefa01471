package repository

import (
	"context"

	"landgrid/internal/domain/model"
)

// PropertyRepository サーバー側のプロパティ永続化
// 購入・譲渡・入札承認はすべて1トランザクションで行い、セルの二重所有を防ぐ
type PropertyRepository interface {
	ListProperties(ctx context.Context, bbox *model.BoundingBox) ([]model.Property, error)
	GetProperty(ctx context.Context, id string) (*model.Property, error)
	// FindOwnedCells 指定セルのうち所有済みのもの
	FindOwnedCells(ctx context.Context, cells []model.CellID) ([]model.CellID, error)
	// PurchaseCells 所有チェック・残高引き落とし・作成を原子的に行う
	// 所有済みセルがあれば *model.OwnershipConflictError、残高不足なら *model.InsufficientBalanceError
	PurchaseCells(ctx context.Context, req *model.PurchaseRequest) (*model.Property, error)
	UpdateProperty(ctx context.Context, id, actor string, req *model.UpdatePropertyRequest) (*model.Property, error)
	// BuyListedProperty 販売中のプロパティを販売価格で購入し、代金を元の所有者へ支払う
	BuyListedProperty(ctx context.Context, id, buyer string) (*model.Property, error)

	CreateBid(ctx context.Context, bid *model.Bid) (*model.Bid, error)
	// UpdateBidStatus 承認時は所有権とトークンを移転し、同じプロパティの他の入札を辞退扱いにする
	UpdateBidStatus(ctx context.Context, bidID, actor string, status model.BidStatus) (*model.Bid, error)
	ListBidsMade(ctx context.Context, bidder string) ([]model.Bid, error)
	ListBidsReceived(ctx context.Context, owner string) ([]model.Bid, error)
}

// UserRepository ユーザーとトークン残高
type UserRepository interface {
	GetUser(ctx context.Context, id string) (*model.UserProfile, error)
	// EnsureUser 未登録なら初期トークン付きで作成し、登録済みならそのまま返す
	EnsureUser(ctx context.Context, id string, initialTokens int64) (*model.UserProfile, error)
	CreditTokens(ctx context.Context, id string, amount int64) (*model.UserProfile, error)
}
