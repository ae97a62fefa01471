package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"landgrid/internal/domain/model"
	"landgrid/internal/domain/service"
	"landgrid/internal/usecase"
)

// UserHandler はユーザー・価格・宝物APIのハンドラー
type UserHandler struct {
	userUseCase     usecase.UserUseCase
	treasureUseCase usecase.TreasureUseCase
	pricing         *service.PricingService
}

// NewUserHandler は新しいUserHandlerインスタンスを作成
func NewUserHandler(userUseCase usecase.UserUseCase, treasureUseCase usecase.TreasureUseCase, pricing *service.PricingService) *UserHandler {
	return &UserHandler{
		userUseCase:     userUseCase,
		treasureUseCase: treasureUseCase,
		pricing:         pricing,
	}
}

// GetProfile GET /users/profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	profile, err := h.userUseCase.GetProfile(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, "ユーザーが見つかりません", err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// Register POST /users
// 登録済みなら現在のプロフィールを返す
func (h *UserHandler) Register(c *gin.Context) {
	profile, err := h.userUseCase.Register(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, "ユーザー登録に失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// GetPricing GET /pricing?address=
func (h *UserHandler) GetPricing(c *gin.Context) {
	address := c.Query("address")
	c.JSON(http.StatusOK, model.PriceResponse{
		Address:   address,
		BasePrice: h.pricing.BasePriceFor(address),
	})
}

// CreateTreasure POST /treasures
func (h *UserHandler) CreateTreasure(c *gin.Context) {
	var req model.CreateTreasureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if currentUser(c) == "" {
		respondError(c, "宝物の作成に失敗しました", model.ErrUnauthenticated)
		return
	}
	treasure, err := h.treasureUseCase.CreateTreasure(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "宝物の作成に失敗しました", err)
		return
	}
	c.JSON(http.StatusCreated, treasure)
}
