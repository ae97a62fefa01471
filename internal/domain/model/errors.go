package model

import (
	"errors"
	"fmt"
)

// ParseError セルIDの文字列表現が不正
type ParseError struct {
	Input  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("セルIDの解析に失敗 %q: %s", e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// OwnershipConflictError 選択セルの一部が既に所有されている
type OwnershipConflictError struct {
	Cells []CellID
}

func (e *OwnershipConflictError) Error() string {
	return fmt.Sprintf("選択したセルのうち%d個は既に所有されています", len(e.Cells))
}

// Count 所有済みセル数
func (e *OwnershipConflictError) Count() int {
	return len(e.Cells)
}

// InsufficientBalanceError トークン残高不足
type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("トークンが不足しています（必要: %d, 残高: %d）", e.Required, e.Available)
}

// DataIntegrityViolation 同じセルが複数のプロパティに含まれている
type DataIntegrityViolation struct {
	Cell        CellID
	PropertyIDs []string
}

func (e *DataIntegrityViolation) Error() string {
	return fmt.Sprintf("セル %s が複数のプロパティに所属しています: %v", e.Cell, e.PropertyIDs)
}

var (
	// ErrRemoteUnavailable プロパティストアに到達できない、または5xx
	ErrRemoteUnavailable = errors.New("プロパティストアに接続できません")
	ErrUnauthenticated   = errors.New("ユーザーが認証されていません")
	ErrEmptySelection    = errors.New("セルが選択されていません")
	ErrPricingFailed     = errors.New("価格の取得に失敗しました")
	// ErrSuperseded キャンセル済みまたは新しい購入試行に置き換えられた
	ErrSuperseded       = errors.New("購入処理は取り消されました")
	ErrPurchaseInFlight = errors.New("購入処理は既に送信中です")
	ErrNoActiveQuote    = errors.New("確認待ちの見積もりがありません")

	ErrPropertyNotFound = errors.New("プロパティが見つかりません")
	ErrForbidden        = errors.New("この操作を行う権限がありません")
	ErrNotForSale       = errors.New("プロパティは販売されていません")
	ErrBidNotFound      = errors.New("入札が見つかりません")
	ErrInvalidBid       = errors.New("入札内容が不正です")
	ErrUserNotFound     = errors.New("ユーザーが見つかりません")
	ErrTreasureNotFound = errors.New("宝物が見つかりません")
	ErrInvalidTreasure  = errors.New("宝物の内容が不正です")
	ErrPriceMismatch    = errors.New("購入価格が現在の価格を下回っています")
)
