package model

import "time"

// Property 購入されたセルのまとまり（区画）
type Property struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Cells       []CellID  `json:"cells"`
	Price       int64     `json:"price"`
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Address     *string   `json:"address,omitempty"`
	ForSale     bool      `json:"forSale"`
	SalePrice   *int64    `json:"salePrice,omitempty"`
	Bids        []Bid     `json:"bids,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsOwnedBy 指定ユーザーの所有か
func (p *Property) IsOwnedBy(userID string) bool {
	return p.Owner != "" && p.Owner == userID
}

// UpdatePropertyRequest 所有者によるメタデータ・販売設定の更新
type UpdatePropertyRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	ForSale     *bool   `json:"forSale,omitempty"`
	SalePrice   *int64  `json:"salePrice,omitempty"`
}

// Apply 更新内容をプロパティに反映する
// 販売をやめた場合は販売価格も消す
func (r *UpdatePropertyRequest) Apply(p *Property) {
	if r.Name != nil {
		p.Name = r.Name
	}
	if r.Description != nil {
		p.Description = r.Description
	}
	if r.ForSale != nil {
		p.ForSale = *r.ForSale
	}
	if r.SalePrice != nil {
		p.SalePrice = r.SalePrice
	}
	if !p.ForSale {
		p.SalePrice = nil
	}
}

// BoundingBox プロパティ一覧の範囲絞り込み
type BoundingBox struct {
	MinLng float64
	MinLat float64
	MaxLng float64
	MaxLat float64
}

// UserProfile ユーザーのトークン残高
type UserProfile struct {
	ID        string    `json:"id"`
	Tokens    int64     `json:"tokens"`
	CreatedAt time.Time `json:"createdAt"`
}
