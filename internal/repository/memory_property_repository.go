package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"landgrid/internal/domain/model"
)

// MemoryPropertyRepository メモリ上のプロパティ・ユーザーストア
// 開発用サーバーとテストで使う。1つのミューテックスで全操作を直列化する
type MemoryPropertyRepository struct {
	mu         sync.Mutex
	properties map[string]*model.Property
	cellOwner  map[model.CellID]string
	users      map[string]*model.UserProfile
	bids       map[string]*model.Bid
	now        func() time.Time
}

// NewMemoryPropertyRepository 新しいMemoryPropertyRepositoryインスタンスを作成
func NewMemoryPropertyRepository() *MemoryPropertyRepository {
	return &MemoryPropertyRepository{
		properties: make(map[string]*model.Property),
		cellOwner:  make(map[model.CellID]string),
		users:      make(map[string]*model.UserProfile),
		bids:       make(map[string]*model.Bid),
		now:        time.Now,
	}
}

func (r *MemoryPropertyRepository) ListProperties(ctx context.Context, bbox *model.BoundingBox) ([]model.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]model.Property, 0, len(r.properties))
	for _, p := range r.properties {
		if bbox != nil && !PropertyIntersects(p.Cells, bbox) {
			continue
		}
		result = append(result, r.withBids(p))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *MemoryPropertyRepository) GetProperty(ctx context.Context, id string) (*model.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.properties[id]
	if !ok {
		return nil, model.ErrPropertyNotFound
	}
	copied := r.withBids(p)
	return &copied, nil
}

func (r *MemoryPropertyRepository) FindOwnedCells(ctx context.Context, cells []model.CellID) ([]model.CellID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ownedLocked(cells), nil
}

func (r *MemoryPropertyRepository) PurchaseCells(ctx context.Context, req *model.PurchaseRequest) (*model.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[req.Owner]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	if _, exists := r.properties[req.ID]; exists {
		return nil, fmt.Errorf("プロパティID %s は既に存在します", req.ID)
	}
	if owned := r.ownedLocked(req.Cells); len(owned) > 0 {
		return nil, &model.OwnershipConflictError{Cells: owned}
	}
	if user.Tokens < req.Price {
		return nil, &model.InsufficientBalanceError{Required: req.Price, Available: user.Tokens}
	}

	now := r.now()
	user.Tokens -= req.Price
	p := &model.Property{
		ID:        req.ID,
		Owner:     req.Owner,
		Cells:     model.NewCellSet(req.Cells...).Sorted(),
		Price:     req.Price,
		Address:   req.Address,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.properties[p.ID] = p
	for _, c := range p.Cells {
		r.cellOwner[c] = p.ID
	}
	copied := *p
	return &copied, nil
}

func (r *MemoryPropertyRepository) UpdateProperty(ctx context.Context, id, actor string, req *model.UpdatePropertyRequest) (*model.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.properties[id]
	if !ok {
		return nil, model.ErrPropertyNotFound
	}
	if p.Owner != actor {
		return nil, model.ErrForbidden
	}
	req.Apply(p)
	if p.ForSale && p.SalePrice == nil {
		price := p.Price
		p.SalePrice = &price
	}
	p.UpdatedAt = r.now()
	copied := r.withBids(p)
	return &copied, nil
}

func (r *MemoryPropertyRepository) BuyListedProperty(ctx context.Context, id, buyer string) (*model.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.properties[id]
	if !ok {
		return nil, model.ErrPropertyNotFound
	}
	if !p.ForSale || p.SalePrice == nil {
		return nil, model.ErrNotForSale
	}
	if p.Owner == buyer {
		return nil, model.ErrForbidden
	}
	if err := r.transferLocked(p, buyer, *p.SalePrice); err != nil {
		return nil, err
	}
	r.closeActiveBidsLocked(p.ID, "")
	copied := r.withBids(p)
	return &copied, nil
}

func (r *MemoryPropertyRepository) CreateBid(ctx context.Context, bid *model.Bid) (*model.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.properties[bid.PropertyID]; !ok {
		return nil, model.ErrPropertyNotFound
	}
	now := r.now()
	stored := *bid
	stored.Status = model.BidActive
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.bids[stored.ID] = &stored
	copied := stored
	return &copied, nil
}

func (r *MemoryPropertyRepository) UpdateBidStatus(ctx context.Context, bidID, actor string, status model.BidStatus) (*model.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bid, ok := r.bids[bidID]
	if !ok {
		return nil, model.ErrBidNotFound
	}
	if bid.Status != model.BidActive {
		return nil, fmt.Errorf("%w: 入札は既に %s です", model.ErrInvalidBid, bid.Status)
	}
	p, ok := r.properties[bid.PropertyID]
	if !ok {
		return nil, model.ErrPropertyNotFound
	}

	switch status {
	case model.BidCancelled:
		if bid.Bidder != actor {
			return nil, model.ErrForbidden
		}
	case model.BidDeclined:
		if p.Owner != actor {
			return nil, model.ErrForbidden
		}
	case model.BidAccepted:
		if p.Owner != actor {
			return nil, model.ErrForbidden
		}
		if err := r.transferLocked(p, bid.Bidder, bid.Amount); err != nil {
			return nil, err
		}
		r.closeActiveBidsLocked(p.ID, bid.ID)
	default:
		return nil, fmt.Errorf("%w: 状態 %q には変更できません", model.ErrInvalidBid, status)
	}

	bid.Status = status
	bid.UpdatedAt = r.now()
	copied := *bid
	return &copied, nil
}

func (r *MemoryPropertyRepository) ListBidsMade(ctx context.Context, bidder string) ([]model.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filterBidsLocked(func(b *model.Bid) bool { return b.Bidder == bidder }), nil
}

func (r *MemoryPropertyRepository) ListBidsReceived(ctx context.Context, owner string) ([]model.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filterBidsLocked(func(b *model.Bid) bool {
		p, ok := r.properties[b.PropertyID]
		return ok && p.Owner == owner
	}), nil
}

func (r *MemoryPropertyRepository) GetUser(ctx context.Context, id string) (*model.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *MemoryPropertyRepository) EnsureUser(ctx context.Context, id string, initialTokens int64) (*model.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		u = &model.UserProfile{ID: id, Tokens: initialTokens, CreatedAt: r.now()}
		r.users[id] = u
	}
	copied := *u
	return &copied, nil
}

func (r *MemoryPropertyRepository) CreditTokens(ctx context.Context, id string, amount int64) (*model.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	u.Tokens += amount
	copied := *u
	return &copied, nil
}

// transferLocked 買い手から所有者へ代金を払い、所有者を入れ替える
func (r *MemoryPropertyRepository) transferLocked(p *model.Property, buyer string, amount int64) error {
	buyerProfile, ok := r.users[buyer]
	if !ok {
		return model.ErrUserNotFound
	}
	if buyerProfile.Tokens < amount {
		return &model.InsufficientBalanceError{Required: amount, Available: buyerProfile.Tokens}
	}
	buyerProfile.Tokens -= amount
	if seller, ok := r.users[p.Owner]; ok {
		seller.Tokens += amount
	}
	p.Owner = buyer
	p.Price = amount
	p.ForSale = false
	p.SalePrice = nil
	p.UpdatedAt = r.now()
	return nil
}

// closeActiveBidsLocked 譲渡後に残っている入札を辞退扱いにする
func (r *MemoryPropertyRepository) closeActiveBidsLocked(propertyID, exceptBidID string) {
	now := r.now()
	for _, b := range r.bids {
		if b.PropertyID == propertyID && b.ID != exceptBidID && b.Status == model.BidActive {
			b.Status = model.BidDeclined
			b.UpdatedAt = now
		}
	}
}

func (r *MemoryPropertyRepository) ownedLocked(cells []model.CellID) []model.CellID {
	owned := model.NewCellSet()
	for _, c := range cells {
		if _, ok := r.cellOwner[c]; ok {
			owned.Add(c)
		}
	}
	return owned.Sorted()
}

func (r *MemoryPropertyRepository) withBids(p *model.Property) model.Property {
	copied := *p
	copied.Cells = append([]model.CellID(nil), p.Cells...)
	copied.Bids = r.filterBidsLocked(func(b *model.Bid) bool {
		return b.PropertyID == p.ID && b.Status == model.BidActive
	})
	if len(copied.Bids) == 0 {
		copied.Bids = nil
	}
	return copied
}

func (r *MemoryPropertyRepository) filterBidsLocked(keep func(*model.Bid) bool) []model.Bid {
	result := []model.Bid{}
	for _, b := range r.bids {
		if keep(b) {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}
