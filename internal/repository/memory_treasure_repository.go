package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"landgrid/internal/domain/model"
)

// MemoryTreasureRepository メモリ上の宝物リポジトリ
type MemoryTreasureRepository struct {
	mu        sync.Mutex
	treasures map[string]*model.Treasure
	now       func() time.Time
}

// NewMemoryTreasureRepository 新しいMemoryTreasureRepositoryインスタンスを作成
func NewMemoryTreasureRepository() *MemoryTreasureRepository {
	return &MemoryTreasureRepository{
		treasures: make(map[string]*model.Treasure),
		now:       time.Now,
	}
}

func (r *MemoryTreasureRepository) CreateTreasure(ctx context.Context, treasure *model.Treasure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *treasure
	stored.Cells = model.NewCellSet(treasure.Cells...).Sorted()
	stored.RedeemedBy = append([]string(nil), treasure.RedeemedBy...)
	r.treasures[stored.ID] = &stored
	return nil
}

func (r *MemoryTreasureRepository) FindOverlapping(ctx context.Context, cells []model.CellID) ([]model.Treasure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []model.Treasure
	for _, t := range r.treasures {
		if len(t.OverlappingCells(cells)) > 0 {
			result = append(result, copyTreasure(t))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *MemoryTreasureRepository) Redeem(ctx context.Context, treasureID, userID string) (*model.Treasure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.treasures[treasureID]
	if !ok {
		return nil, model.ErrTreasureNotFound
	}
	if !t.IsAvailable(userID, r.now()) {
		return nil, nil
	}
	t.Redemptions++
	t.RedeemedBy = append(t.RedeemedBy, userID)
	copied := copyTreasure(t)
	return &copied, nil
}

func copyTreasure(t *model.Treasure) model.Treasure {
	copied := *t
	copied.Cells = append([]model.CellID(nil), t.Cells...)
	copied.RedeemedBy = append([]string(nil), t.RedeemedBy...)
	return copied
}
