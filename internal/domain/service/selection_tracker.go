package service

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/paulmach/orb/geojson"

	"landgrid/internal/domain/model"
	"landgrid/internal/infrastructure/logger"
)

// SelectionState 選択操作の状態
type SelectionState int

const (
	// SelectionIdle ポインター移動ではセルを追加しない
	SelectionIdle SelectionState = iota
	// SelectionSelecting ポインターが通過したセルを追加する
	SelectionSelecting
)

func (s SelectionState) String() string {
	if s == SelectionSelecting {
		return "selecting"
	}
	return "idle"
}

// OwnershipChecker メモリ上の所有情報による同期チェック
type OwnershipChecker interface {
	IsOwned(c model.CellID) bool
}

// SelectionTracker ユーザーが未購入のまま選んでいるセルの集合
// クリックで選択開始、もう一度クリックで終了するトグル方式
type SelectionTracker struct {
	ownership OwnershipChecker
	color     string
	log       *slog.Logger

	mu        sync.Mutex
	cells     model.CellSet
	state     SelectionState
	listeners []func([]model.CellID)
}

// NewSelectionTracker SelectionTrackerの新しいインスタンスを作成
func NewSelectionTracker(ownership OwnershipChecker, color string, log *slog.Logger) *SelectionTracker {
	if color == "" {
		color = model.DefaultSelectionColor
	}
	return &SelectionTracker{
		ownership: ownership,
		color:     color,
		log:       logger.OrDefault(log),
		cells:     model.NewCellSet(),
	}
}

// OnChange 選択が変わるたびに正規順のセル一覧で呼ばれる
func (t *SelectionTracker) OnChange(fn func([]model.CellID)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// PointerDown クリック。Idleなら選択を開始し、Selectingなら終了する
// 最小ズーム未満では開始も終了もしない
func (t *SelectionTracker) PointerDown(lng, lat, zoom float64) {
	if zoom < model.MinGridZoom || !model.IsValidCoordinate(lng, lat) {
		return
	}

	t.mu.Lock()
	if t.state == SelectionSelecting {
		t.state = SelectionIdle
		t.mu.Unlock()
		return
	}

	c := model.CellIDOf(lng, lat)
	if t.ownership.IsOwned(c) {
		t.mu.Unlock()
		t.log.Debug("所有済みセルのため選択を開始しません", "cell", c.String())
		return
	}
	t.state = SelectionSelecting
	changed := t.cells.Add(c)
	t.mu.Unlock()

	if changed {
		t.notify()
	}
}

// PointerMove Selecting中は通過したセルを追加する
func (t *SelectionTracker) PointerMove(lng, lat, zoom float64) {
	if zoom < model.MinGridZoom || !model.IsValidCoordinate(lng, lat) {
		return
	}

	t.mu.Lock()
	if t.state != SelectionSelecting {
		t.mu.Unlock()
		return
	}
	c := model.CellIDOf(lng, lat)
	if t.cells.Has(c) || t.ownership.IsOwned(c) {
		t.mu.Unlock()
		return
	}
	t.cells.Add(c)
	t.mu.Unlock()

	t.notify()
}

// PointerUp 状態は変えない
func (t *SelectionTracker) PointerUp() {}

// PointerLeave 状態は変えない
func (t *SelectionTracker) PointerLeave() {}

// Clear 選択を空にしてIdleに戻す
func (t *SelectionTracker) Clear() {
	t.mu.Lock()
	hadCells := t.cells.Len() > 0
	t.cells = model.NewCellSet()
	t.state = SelectionIdle
	t.mu.Unlock()

	if hadCells {
		t.notify()
	}
}

// Deselect 指定セルを選択から外す。所有済みと判明したセルを手動で外すときに使う
func (t *SelectionTracker) Deselect(cells ...model.CellID) int {
	t.mu.Lock()
	removed := 0
	for _, c := range cells {
		if t.cells.Remove(c) {
			removed++
		}
	}
	t.mu.Unlock()

	if removed > 0 {
		t.notify()
	}
	return removed
}

// Restore 保存されていた選択を読み込む。所有済みのセルは落とす
func (t *SelectionTracker) Restore(cells []model.CellID) int {
	t.mu.Lock()
	t.cells = model.NewCellSet()
	t.state = SelectionIdle
	dropped := 0
	for _, c := range cells {
		if t.ownership.IsOwned(c) {
			dropped++
			continue
		}
		t.cells.Add(c)
	}
	t.mu.Unlock()

	if dropped > 0 {
		t.log.Info("🧹 保存された選択から所有済みセルを除外", "dropped", dropped)
	}
	t.notify()
	return dropped
}

// Cells 正規順の選択セル
func (t *SelectionTracker) Cells() []model.CellID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cells.Sorted()
}

func (t *SelectionTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cells.Len()
}

func (t *SelectionTracker) State() SelectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Features 選択レイヤーの描画用フィーチャ
func (t *SelectionTracker) Features() []model.RenderFeature {
	cells := t.Cells()
	features := make([]model.RenderFeature, len(cells))
	for i, c := range cells {
		features[i] = model.RenderFeature{Cell: c, Class: model.ColorClassSelection, Color: t.color}
	}
	return features
}

// Layer 選択レイヤーのGeoJSON
func (t *SelectionTracker) Layer() *geojson.FeatureCollection {
	return model.FeatureCollection(t.Features())
}

func (t *SelectionTracker) notify() {
	t.mu.Lock()
	cells := t.cells.Sorted()
	listeners := slices.Clone(t.listeners)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(cells)
	}
}
