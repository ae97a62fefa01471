package repository

import (
	"context"

	"landgrid/internal/domain/model"
)

// TreasureRepository セルに紐づく宝物
type TreasureRepository interface {
	CreateTreasure(ctx context.Context, treasure *model.Treasure) error
	// FindOverlapping 指定セルのいずれかを含む宝物
	FindOverlapping(ctx context.Context, cells []model.CellID) ([]model.Treasure, error)
	// Redeem 受け取り回数と受取者を原子的に更新する。受け取れない場合は (nil, nil)
	Redeem(ctx context.Context, treasureID, userID string) (*model.Treasure, error)
}
