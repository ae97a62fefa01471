package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"landgrid/internal/domain/model"
	"landgrid/internal/domain/repository"
	"landgrid/internal/infrastructure/logger"
	"landgrid/internal/infrastructure/metrics"
)

// PurchaseState 購入フローの状態
type PurchaseState int

const (
	PurchaseReady PurchaseState = iota
	PurchaseValidating
	PurchasePricing
	PurchaseConfirming
	PurchaseSubmitting
	PurchaseSucceeded
	PurchaseFailed
)

var purchaseStateNames = map[PurchaseState]string{
	PurchaseReady:      "ready",
	PurchaseValidating: "validating",
	PurchasePricing:    "pricing",
	PurchaseConfirming: "confirming",
	PurchaseSubmitting: "submitting",
	PurchaseSucceeded:  "succeeded",
	PurchaseFailed:     "failed",
}

func (s PurchaseState) String() string {
	return purchaseStateNames[s]
}

// NotificationKind ユーザー向け通知の種類
type NotificationKind string

const (
	NotifySuccess  NotificationKind = "success"
	NotifyError    NotificationKind = "error"
	NotifyWarning  NotificationKind = "warning"
	NotifyTreasure NotificationKind = "treasure"
)

// Notification ユーザー向け通知
type Notification struct {
	Kind     NotificationKind
	Message  string
	Treasure *model.TreasureDiscovery
}

// Notifier 通知の表示先
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc 関数をNotifierとして使う
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Selection 購入対象の選択
type Selection interface {
	Cells() []model.CellID
	Clear()
}

// OwnershipSource 購入前の所有チェックと購入後の再取得
type OwnershipSource interface {
	CheckMany(ctx context.Context, cells []model.CellID) (model.CellSet, error)
	Refresh(ctx context.Context) error
}

// PurchaseWorkflow 選択セルの検証・見積もり・購入
type PurchaseWorkflow interface {
	// Begin 所有チェックと価格取得を行い、確認用の見積もりを返す
	Begin(ctx context.Context) (*model.Quote, error)
	// Confirm 見積もりを確定して購入を送信する
	Confirm(ctx context.Context, quoteID string) (*model.PurchaseResponse, error)
	// Cancel 送信前の購入をやめる。送信中ならfalse
	Cancel() bool
	State() PurchaseState
}

// PurchaseWorkflowDeps PurchaseWorkflowの依存
type PurchaseWorkflowDeps struct {
	UserID    string
	Selection Selection
	Ownership OwnershipSource
	Store     repository.PropertyStore
	Profiles  repository.UserProfileReader
	Prices    repository.PriceLookup
	Geocoder  repository.Geocoder
	Notifier  Notifier
	Logger    *slog.Logger
}

type purchaseWorkflowImpl struct {
	deps PurchaseWorkflowDeps
	log  *slog.Logger

	mu      sync.Mutex
	state   PurchaseState
	attempt uint64
	quote   *model.Quote
}

// NewPurchaseWorkflow 新しいPurchaseWorkflowインスタンスを作成
func NewPurchaseWorkflow(deps PurchaseWorkflowDeps) PurchaseWorkflow {
	if deps.Notifier == nil {
		deps.Notifier = NotifierFunc(func(Notification) {})
	}
	return &purchaseWorkflowImpl{
		deps: deps,
		log:  logger.OrDefault(deps.Logger),
	}
}

func (w *purchaseWorkflowImpl) State() PurchaseState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *purchaseWorkflowImpl) Begin(ctx context.Context) (*model.Quote, error) {
	w.mu.Lock()
	if w.state == PurchaseSubmitting {
		w.mu.Unlock()
		return nil, model.ErrPurchaseInFlight
	}
	w.attempt++
	attempt := w.attempt
	w.quote = nil
	w.state = PurchaseReady

	if w.deps.UserID == "" {
		w.mu.Unlock()
		w.deps.Notifier.Notify(Notification{Kind: NotifyError, Message: "購入するにはログインしてください"})
		return nil, model.ErrUnauthenticated
	}
	cells := w.deps.Selection.Cells()
	if len(cells) == 0 {
		w.mu.Unlock()
		w.deps.Notifier.Notify(Notification{Kind: NotifyError, Message: "購入するセルを選択してください"})
		return nil, model.ErrEmptySelection
	}
	w.state = PurchaseValidating
	w.mu.Unlock()

	w.log.Info("🚀 購入検証開始", "cells", len(cells))

	// Step 1: 所有チェック（1セルでも所有済みなら全体を中止）
	owned, err := w.deps.Ownership.CheckMany(ctx, cells)
	if err != nil {
		return nil, w.fail(attempt, fmt.Errorf("所有チェックに失敗: %w", err))
	}
	if owned.Len() > 0 {
		return nil, w.fail(attempt, &model.OwnershipConflictError{Cells: owned.Sorted()})
	}
	if !w.advance(attempt, PurchasePricing) {
		return nil, model.ErrSuperseded
	}

	// Step 2: 選択中心の住所と単価
	address := ""
	if w.deps.Geocoder != nil {
		center, _ := model.CellsCenter(cells)
		address, err = w.deps.Geocoder.ReverseGeocode(ctx, center.Lon(), center.Lat())
		if err != nil {
			return nil, w.fail(attempt, fmt.Errorf("%w: 住所の取得に失敗: %v", model.ErrPricingFailed, err))
		}
	}
	basePrice, err := w.deps.Prices.GetBasePrice(ctx, address)
	if err != nil {
		return nil, w.fail(attempt, fmt.Errorf("%w: %v", model.ErrPricingFailed, err))
	}

	quote := &model.Quote{
		ID:        uuid.NewString(),
		Cells:     cells,
		Address:   address,
		BasePrice: basePrice,
		Total:     basePrice * int64(len(cells)),
	}

	w.mu.Lock()
	if attempt != w.attempt {
		w.mu.Unlock()
		return nil, model.ErrSuperseded
	}
	w.quote = quote
	w.state = PurchaseConfirming
	w.mu.Unlock()

	w.log.Info("💰 見積もり作成", "quote_id", quote.ID, "address", address, "base_price", basePrice, "total", quote.Total)
	return quote, nil
}

func (w *purchaseWorkflowImpl) Confirm(ctx context.Context, quoteID string) (*model.PurchaseResponse, error) {
	w.mu.Lock()
	if w.state == PurchaseSubmitting {
		w.mu.Unlock()
		return nil, model.ErrPurchaseInFlight
	}
	if w.state != PurchaseConfirming || w.quote == nil || w.quote.ID != quoteID {
		w.mu.Unlock()
		return nil, model.ErrNoActiveQuote
	}
	quote := w.quote
	attempt := w.attempt
	w.state = PurchaseSubmitting
	w.mu.Unlock()

	// 残高は毎回取り直す
	profile, err := w.deps.Profiles.GetProfile(ctx)
	if err != nil {
		return nil, w.fail(attempt, fmt.Errorf("残高の取得に失敗: %w", err))
	}
	if profile.Tokens < quote.Total {
		return nil, w.fail(attempt, &model.InsufficientBalanceError{Required: quote.Total, Available: profile.Tokens})
	}

	req := &model.PurchaseRequest{
		ID:    uuid.NewString(),
		Owner: w.deps.UserID,
		Cells: quote.Cells,
		Price: quote.Total,
	}
	if quote.Address != "" {
		req.Address = &quote.Address
	}

	resp, err := w.deps.Store.CreateProperty(ctx, req)
	if err != nil {
		return nil, w.fail(attempt, err)
	}

	w.mu.Lock()
	w.state = PurchaseSucceeded
	w.quote = nil
	w.mu.Unlock()

	metrics.PurchasesTotal.WithLabelValues("success").Inc()
	w.log.Info("✅ 購入完了", "property_id", req.ID, "cells", len(req.Cells), "price", req.Price)

	w.deps.Selection.Clear()
	w.deps.Notifier.Notify(Notification{
		Kind:    NotifySuccess,
		Message: fmt.Sprintf("%dセルを%dトークンで購入しました", len(req.Cells), req.Price),
	})
	if err := w.deps.Ownership.Refresh(ctx); err != nil {
		w.log.Warn("⚠️ 購入後の所有情報更新に失敗", "error", err)
		w.deps.Notifier.Notify(Notification{Kind: NotifyWarning, Message: "地図の更新に失敗しました。しばらくして再読み込みしてください"})
	}
	if resp != nil && resp.IsTreasure && resp.Treasure != nil {
		w.deps.Notifier.Notify(Notification{
			Kind:     NotifyTreasure,
			Message:  treasureMessage(resp.Treasure),
			Treasure: resp.Treasure,
		})
	}

	w.mu.Lock()
	if w.state == PurchaseSucceeded {
		w.state = PurchaseReady
	}
	w.mu.Unlock()
	return resp, nil
}

func (w *purchaseWorkflowImpl) Cancel() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == PurchaseSubmitting {
		return false
	}
	w.attempt++
	w.quote = nil
	w.state = PurchaseReady
	return true
}

// advance 試行が置き換えられていなければ次の状態に進む
func (w *purchaseWorkflowImpl) advance(attempt uint64, next PurchaseState) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if attempt != w.attempt {
		return false
	}
	w.state = next
	return true
}

// fail 失敗理由を通知してReadyに戻す。キャンセル済みの試行なら何も通知しない
func (w *purchaseWorkflowImpl) fail(attempt uint64, err error) error {
	w.mu.Lock()
	if attempt != w.attempt {
		w.mu.Unlock()
		return model.ErrSuperseded
	}
	w.state = PurchaseFailed
	w.quote = nil
	w.mu.Unlock()

	outcome, message := classifyPurchaseError(err)
	metrics.PurchasesTotal.WithLabelValues(outcome).Inc()
	w.log.Warn("❌ 購入失敗", "outcome", outcome, "error", err)
	w.deps.Notifier.Notify(Notification{Kind: NotifyError, Message: message})

	w.mu.Lock()
	if attempt == w.attempt && w.state == PurchaseFailed {
		w.state = PurchaseReady
	}
	w.mu.Unlock()
	return err
}

func classifyPurchaseError(err error) (string, string) {
	var conflict *model.OwnershipConflictError
	var balance *model.InsufficientBalanceError
	switch {
	case errors.As(err, &conflict):
		return "conflict", conflict.Error()
	case errors.As(err, &balance):
		return "insufficient", fmt.Sprintf("トークンが不足しています。%dトークン必要です（残高: %d）", balance.Required, balance.Available)
	case errors.Is(err, model.ErrPricingFailed):
		return "pricing", "価格を取得できませんでした。もう一度お試しください"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled", "購入処理が中断されました"
	default:
		return "network", "通信エラーが発生しました。選択は保持されています。もう一度お試しください"
	}
}

func treasureMessage(t *model.TreasureDiscovery) string {
	if t.RewardMessage != "" {
		return fmt.Sprintf("🎁 宝物「%s」を発見しました！ %s", t.Name, t.RewardMessage)
	}
	return fmt.Sprintf("🎁 宝物「%s」を発見しました！ 報酬: %d %s", t.Name, t.RewardAmount, t.RewardType)
}
