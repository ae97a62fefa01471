package model

// PurchaseRequest 未所有セルの購入リクエスト
type PurchaseRequest struct {
	ID      string   `json:"id"`
	Owner   string   `json:"owner"`
	Cells   []CellID `json:"cells"`
	Price   int64    `json:"price"`
	Address *string  `json:"address,omitempty"`
}

// PurchaseResponse 購入結果。宝物が見つかった場合はTreasureに入る
type PurchaseResponse struct {
	Property   *Property          `json:"property"`
	IsTreasure bool               `json:"isTreasure"`
	Treasure   *TreasureDiscovery `json:"treasure,omitempty"`
}

// CheckCellsRequest POST /properties/cells/check
type CheckCellsRequest struct {
	Cells []string `json:"cells" binding:"required"`
}

// CheckCellsResponse 所有済みのセル
type CheckCellsResponse struct {
	OwnedCells []string `json:"ownedCells"`
}

// CellCheckResponse GET /properties/cell/:cellId/check
type CellCheckResponse struct {
	CellID  string `json:"cellId"`
	IsOwned bool   `json:"isOwned"`
}

// PriceResponse GET /pricing
type PriceResponse struct {
	Address   string `json:"address"`
	BasePrice int64  `json:"basePrice"`
}

// Quote 確認待ちの購入見積もり
type Quote struct {
	ID        string   `json:"id"`
	Cells     []CellID `json:"cells"`
	Address   string   `json:"address"`
	BasePrice int64    `json:"basePrice"`
	Total     int64    `json:"total"`
}

// PropertiesChangedEvent 変更フィードで配信されるイベント
type PropertiesChangedEvent struct {
	Type       string `json:"type"`
	Seq        uint64 `json:"seq"`
	PropertyID string `json:"propertyId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// EventTypePropertiesChanged プロパティが変更されたことを示すイベント種別
const EventTypePropertiesChanged = "properties_changed"
