package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"landgrid/internal/domain/model"
	"landgrid/internal/usecase"
)

// PropertyHandler はプロパティAPIのハンドラー
type PropertyHandler struct {
	propertyUseCase usecase.PropertyUseCase
}

// NewPropertyHandler は新しいPropertyHandlerインスタンスを作成
func NewPropertyHandler(propertyUseCase usecase.PropertyUseCase) *PropertyHandler {
	return &PropertyHandler{propertyUseCase: propertyUseCase}
}

// ListProperties GET /properties[?bbox=min_lng,min_lat,max_lng,max_lat]
func (h *PropertyHandler) ListProperties(c *gin.Context) {
	bbox, err := parseBoundingBox(c.Query("bbox"))
	if err != nil {
		badRequest(c, err)
		return
	}
	properties, err := h.propertyUseCase.ListProperties(c.Request.Context(), bbox)
	if err != nil {
		respondError(c, "プロパティ一覧の取得に失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, properties)
}

// GetFeatures GET /properties/features
// 所有セルをGeoJSONで返す
func (h *PropertyHandler) GetFeatures(c *gin.Context) {
	bbox, err := parseBoundingBox(c.Query("bbox"))
	if err != nil {
		badRequest(c, err)
		return
	}
	fc, err := h.propertyUseCase.Features(c.Request.Context(), currentUser(c), bbox)
	if err != nil {
		respondError(c, "プロパティの取得に失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, fc)
}

// CheckCell GET /properties/cell/:cellId/check
func (h *PropertyHandler) CheckCell(c *gin.Context) {
	cell, err := model.ParseCellID(c.Param("cellId"))
	if err != nil {
		badRequest(c, err)
		return
	}
	owned, err := h.propertyUseCase.CheckCell(c.Request.Context(), cell)
	if err != nil {
		respondError(c, "セルの所有チェックに失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, model.CellCheckResponse{CellID: cell.String(), IsOwned: owned})
}

// CheckCells POST /properties/cells/check
func (h *PropertyHandler) CheckCells(c *gin.Context) {
	var req model.CheckCellsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cells, err := model.ParseCellIDs(req.Cells)
	if err != nil {
		badRequest(c, err)
		return
	}
	owned, err := h.propertyUseCase.CheckCells(c.Request.Context(), cells)
	if err != nil {
		respondError(c, "セルの所有チェックに失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, model.CheckCellsResponse{OwnedCells: model.CellStrings(owned)})
}

// Purchase POST /properties/unallocated/buy, POST /properties
func (h *PropertyHandler) Purchase(c *gin.Context) {
	var req model.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := validatePurchase(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.propertyUseCase.Purchase(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		respondError(c, "セルの購入に失敗しました", err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func validatePurchase(req *model.PurchaseRequest) error {
	if len(req.Cells) == 0 {
		return &ValidationError{Field: "cells", Message: "セルを1つ以上指定してください"}
	}
	if req.Price <= 0 {
		return &ValidationError{Field: "price", Message: "価格は正の値で指定してください"}
	}
	return nil
}

// UpdateProperty PUT /properties/:id
func (h *PropertyHandler) UpdateProperty(c *gin.Context) {
	var req model.UpdatePropertyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	property, err := h.propertyUseCase.UpdateProperty(c.Request.Context(), currentUser(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, "プロパティの更新に失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, property)
}

// BuyListed POST /properties/:id/buy
func (h *PropertyHandler) BuyListed(c *gin.Context) {
	property, err := h.propertyUseCase.BuyListed(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, "プロパティの購入に失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, property)
}

// PlaceBid POST /properties/bids
func (h *PropertyHandler) PlaceBid(c *gin.Context) {
	var req model.CreateBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	bid, err := h.propertyUseCase.PlaceBid(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		respondError(c, "入札に失敗しました", err)
		return
	}
	c.JSON(http.StatusCreated, bid)
}

// UpdateBidStatus PUT /properties/bids/:id/status
func (h *PropertyHandler) UpdateBidStatus(c *gin.Context) {
	var req model.UpdateBidStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	bid, err := h.propertyUseCase.UpdateBidStatus(c.Request.Context(), currentUser(c), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, "入札状態の更新に失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, bid)
}

// BidsMade GET /properties/bids/made
func (h *PropertyHandler) BidsMade(c *gin.Context) {
	bids, err := h.propertyUseCase.BidsMade(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, "入札一覧の取得に失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, bids)
}

// BidsReceived GET /properties/bids/received
func (h *PropertyHandler) BidsReceived(c *gin.Context) {
	bids, err := h.propertyUseCase.BidsReceived(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, "入札一覧の取得に失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, bids)
}
