package model

import "time"

// BidStatus 入札の状態
type BidStatus string

const (
	BidActive    BidStatus = "active"
	BidAccepted  BidStatus = "accepted"
	BidDeclined  BidStatus = "declined"
	BidCancelled BidStatus = "cancelled"
)

// Valid 既知の状態か
func (s BidStatus) Valid() bool {
	switch s {
	case BidActive, BidAccepted, BidDeclined, BidCancelled:
		return true
	}
	return false
}

// Bid 他ユーザーのプロパティへの入札
type Bid struct {
	ID         string    `json:"id"`
	PropertyID string    `json:"propertyId"`
	Bidder     string    `json:"bidder"`
	Amount     int64     `json:"amount"`
	Message    string    `json:"message,omitempty"`
	Status     BidStatus `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CreateBidRequest POST /properties/bids
type CreateBidRequest struct {
	PropertyID string `json:"propertyId" binding:"required"`
	Amount     int64  `json:"amount" binding:"required"`
	Message    string `json:"message"`
}

// UpdateBidStatusRequest PUT /properties/bids/:id/status
type UpdateBidStatusRequest struct {
	Status BidStatus `json:"status" binding:"required"`
}
