package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"landgrid/internal/domain/model"
	"landgrid/internal/repository"
)

// ValidationError はバリデーションエラーを表す
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// currentUser 上流の認証ゲートウェイが付与したユーザーID
func currentUser(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(repository.UserIDHeader))
}

// respondError ドメインエラーをステータスコードに変換して返す
func respondError(c *gin.Context, message string, err error) {
	var conflict *model.OwnershipConflictError
	var insufficient *model.InsufficientBalanceError
	var parseErr *model.ParseError
	var validation *ValidationError

	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":      "選択したセルは既に所有されています",
			"details":    err.Error(),
			"ownedCells": model.CellStrings(conflict.Cells),
		})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":     "トークンが不足しています",
			"details":   err.Error(),
			"required":  insufficient.Required,
			"available": insufficient.Available,
		})
	case errors.Is(err, model.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "ユーザーIDが指定されていません",
			"details": err.Error(),
		})
	case errors.Is(err, model.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   message,
			"details": err.Error(),
		})
	case errors.Is(err, model.ErrPropertyNotFound),
		errors.Is(err, model.ErrBidNotFound),
		errors.Is(err, model.ErrUserNotFound),
		errors.Is(err, model.ErrTreasureNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   message,
			"details": err.Error(),
		})
	case errors.As(err, &parseErr), errors.As(err, &validation),
		errors.Is(err, model.ErrEmptySelection),
		errors.Is(err, model.ErrNotForSale),
		errors.Is(err, model.ErrInvalidBid),
		errors.Is(err, model.ErrInvalidTreasure),
		errors.Is(err, model.ErrPriceMismatch):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   message,
			"details": err.Error(),
		})
	case errors.Is(err, model.ErrPricingFailed):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   message,
			"details": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   message,
			"details": err.Error(),
		})
	}
}

// badRequest リクエストの形式エラー
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "リクエストの形式が正しくありません",
		"details": err.Error(),
	})
}

// parseBoundingBox bbox=min_lng,min_lat,max_lng,max_lat を解析する。未指定なら nil
func parseBoundingBox(raw string) (*model.BoundingBox, error) {
	if raw == "" {
		return nil, nil
	}
	coords := strings.Split(raw, ",")
	if len(coords) != 4 {
		return nil, &ValidationError{Field: "bbox", Message: "min_lng,min_lat,max_lng,max_latの4つの値を指定してください"}
	}

	names := []string{"min_lng", "min_lat", "max_lng", "max_lat"}
	values := make([]float64, 4)
	for i, s := range coords {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, &ValidationError{Field: "bbox." + names[i], Message: "数値で指定してください"}
		}
		values[i] = v
	}

	bbox := &model.BoundingBox{MinLng: values[0], MinLat: values[1], MaxLng: values[2], MaxLat: values[3]}
	if bbox.MinLng > bbox.MaxLng || bbox.MinLat > bbox.MaxLat {
		return nil, &ValidationError{Field: "bbox", Message: "min値がmax値を超えています"}
	}
	// 座標値の範囲チェック（経度: -180〜180, 緯度: -90〜90）
	if bbox.MinLng < -180 || bbox.MaxLng > 180 || bbox.MinLat < -90 || bbox.MaxLat > 90 {
		return nil, &ValidationError{Field: "bbox", Message: "座標値が有効範囲外です"}
	}
	return bbox, nil
}
