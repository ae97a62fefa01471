package model

import "time"

// RewardTypeTokens 報酬としてトークンを付与する宝物
const RewardTypeTokens = "tokens"

// Treasure セルに隠された報酬
type Treasure struct {
	ID             string     `json:"id" firestore:"id"`
	Name           string     `json:"name" firestore:"name"`
	Description    string     `json:"description" firestore:"description"`
	Cells          []CellID   `json:"cells" firestore:"-"`
	RewardType     string     `json:"rewardType" firestore:"rewardType"`
	RewardAmount   int64      `json:"rewardAmount" firestore:"rewardAmount"`
	RewardMessage  string     `json:"rewardMessage" firestore:"rewardMessage"`
	MaxRedemptions int        `json:"maxRedemptions" firestore:"maxRedemptions"`
	Redemptions    int        `json:"redemptions" firestore:"redemptions"`
	RedeemedBy     []string   `json:"redeemedBy,omitempty" firestore:"redeemedBy"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty" firestore:"expiresAt"`
	CreatedAt      time.Time  `json:"createdAt" firestore:"createdAt"`
}

// IsAvailable 期限内で残り回数があり、ユーザーがまだ受け取っていないか
// MaxRedemptionsが0なら回数無制限
func (t *Treasure) IsAvailable(userID string, now time.Time) bool {
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return false
	}
	if t.MaxRedemptions > 0 && t.Redemptions >= t.MaxRedemptions {
		return false
	}
	for _, u := range t.RedeemedBy {
		if u == userID {
			return false
		}
	}
	return true
}

// OverlappingCells 指定セルとの重なり（正規順）
func (t *Treasure) OverlappingCells(cells []CellID) []CellID {
	want := NewCellSet(cells...)
	overlap := NewCellSet()
	for _, c := range t.Cells {
		if want.Has(c) {
			overlap.Add(c)
		}
	}
	return overlap.Sorted()
}

// Discovery 購入者に返す発見情報
func (t *Treasure) Discovery(overlapping []CellID) *TreasureDiscovery {
	return &TreasureDiscovery{
		ID:               t.ID,
		Name:             t.Name,
		Description:      t.Description,
		RewardType:       t.RewardType,
		RewardAmount:     t.RewardAmount,
		RewardMessage:    t.RewardMessage,
		TreasureCells:    t.Cells,
		OverlappingCells: overlapping,
	}
}

// TreasureDiscovery 購入時に見つかった宝物
type TreasureDiscovery struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	RewardType       string   `json:"rewardType"`
	RewardAmount     int64    `json:"rewardAmount"`
	RewardMessage    string   `json:"rewardMessage"`
	TreasureCells    []CellID `json:"treasureCells"`
	OverlappingCells []CellID `json:"overlappingCells"`
}

// CreateTreasureRequest POST /treasures
type CreateTreasureRequest struct {
	Name           string     `json:"name" binding:"required"`
	Description    string     `json:"description"`
	Cells          []string   `json:"cells" binding:"required"`
	RewardType     string     `json:"rewardType"`
	RewardAmount   int64      `json:"rewardAmount"`
	RewardMessage  string     `json:"rewardMessage"`
	MaxRedemptions int        `json:"maxRedemptions"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}
