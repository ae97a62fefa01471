package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"landgrid/internal/domain/model"
	"landgrid/internal/domain/repository"
	"landgrid/internal/infrastructure/logger"
	"landgrid/internal/infrastructure/metrics"
)

// ReconcilerConfig OwnershipReconcilerの設定
type ReconcilerConfig struct {
	UserID string
	// ChunkSize 一括所有チェック1回あたりのセル数
	ChunkSize int
	// Parallel 一括所有チェックの同時実行数
	Parallel int
	Snapshot repository.SnapshotCache
	Logger   *slog.Logger
}

// OwnershipReconciler プロパティストアの内容を所有インデックスに反映する
type OwnershipReconciler struct {
	store    repository.PropertyStore
	snapshot repository.SnapshotCache
	userID   string
	log      *slog.Logger

	chunkSize int
	parallel  int

	mu          sync.RWMutex
	index       *OwnershipIndex
	appliedSeq  uint64
	stale       bool
	lastApplied time.Time
	listeners   []func(*OwnershipIndex)

	seq   atomic.Uint64
	group singleflight.Group
}

// NewOwnershipReconciler OwnershipReconcilerの新しいインスタンスを作成
func NewOwnershipReconciler(store repository.PropertyStore, cfg ReconcilerConfig) *OwnershipReconciler {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 4
	}
	return &OwnershipReconciler{
		store:     store,
		snapshot:  cfg.Snapshot,
		userID:    cfg.UserID,
		log:       logger.OrDefault(cfg.Logger),
		chunkSize: cfg.ChunkSize,
		parallel:  cfg.Parallel,
	}
}

// OnChange インデックスが差し替えられたときに呼ばれる
func (r *OwnershipReconciler) OnChange(fn func(*OwnershipIndex)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Refresh プロパティ一覧を取得してインデックスを作り直す
// 取得に失敗した場合は直前のインデックスを維持し、ErrRemoteUnavailableを含むエラーを返す
// 失敗した取得より新しい結果が適用済みなら失敗は無視する
func (r *OwnershipReconciler) Refresh(ctx context.Context) error {
	seq := r.seq.Add(1)

	properties, err := r.store.ListProperties(ctx)
	if err != nil {
		r.mu.Lock()
		superseded := seq <= r.appliedSeq
		if !superseded {
			r.stale = true
		}
		r.mu.Unlock()
		if superseded {
			r.log.Debug("より新しいスナップショットが適用済みのため取得失敗を無視", "seq", seq, "error", err)
			return nil
		}
		metrics.IndexStaleTotal.Inc()
		r.log.Warn("⚠️ プロパティ一覧の取得に失敗、前回のスナップショットを使用します", "seq", seq, "error", err)
		return fmt.Errorf("所有情報の更新に失敗: %w", asRemoteUnavailable(err))
	}

	idx := RebuildIndex(properties)
	if !r.apply(seq, idx) {
		metrics.IndexDiscardedTotal.Inc()
		r.log.Debug("より新しいスナップショットが適用済みのため結果を破棄", "seq", seq)
		return nil
	}

	for _, v := range idx.Violations() {
		metrics.IntegrityViolationsTotal.Inc()
		r.log.Error("❌ データ整合性違反: セルが複数のプロパティに所属しています",
			"cell", v.Cell.String(), "property_ids", v.PropertyIDs)
	}
	r.log.Info("✅ 所有インデックス再構築完了",
		"seq", seq, "properties", len(idx.Properties()), "cells", idx.CellCount())

	if r.snapshot != nil {
		if err := r.snapshot.SaveSnapshot(ctx, idx.Properties()); err != nil {
			r.log.Warn("⚠️ スナップショットの保存に失敗", "error", err)
		}
	}
	return nil
}

// RefreshCoalesced 定期実行や変更通知からの更新。実行中の取得があればその結果を共有する
// 購入直後など最新状態が必要な場合はRefreshを使う
func (r *OwnershipReconciler) RefreshCoalesced(ctx context.Context) error {
	_, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		return nil, r.Refresh(ctx)
	})
	return err
}

// apply seqが適用済みより新しい場合のみインデックスを差し替える
func (r *OwnershipReconciler) apply(seq uint64, idx *OwnershipIndex) bool {
	r.mu.Lock()
	if seq <= r.appliedSeq {
		r.mu.Unlock()
		return false
	}
	r.index = idx
	r.appliedSeq = seq
	r.stale = false
	r.lastApplied = time.Now()
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	metrics.IndexRebuildsTotal.Inc()
	metrics.CellsOwned.Set(float64(idx.CellCount()))
	for _, fn := range listeners {
		fn(idx)
	}
	return true
}

// LoadSnapshot 起動時にローカルのスナップショットからインデックスを復元する
// 既にストアから取得済みなら何もしない
func (r *OwnershipReconciler) LoadSnapshot(ctx context.Context) error {
	if r.snapshot == nil {
		return nil
	}
	properties, err := r.snapshot.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("スナップショットの読み込みに失敗: %w", err)
	}
	if properties == nil {
		return nil
	}
	idx := RebuildIndex(properties)

	r.mu.Lock()
	if r.index != nil {
		r.mu.Unlock()
		return nil
	}
	r.index = idx
	r.stale = true
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	r.log.Info("📦 スナップショットから所有インデックスを復元", "properties", len(properties))
	for _, fn := range listeners {
		fn(idx)
	}
	return nil
}

// Index 現在のインデックス。返した値は変更されない
func (r *OwnershipReconciler) Index() *OwnershipIndex {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index
}

// IsStale 最後の更新が失敗し、古いスナップショットを表示しているか
func (r *OwnershipReconciler) IsStale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stale
}

// IsOwned メモリ上のインデックスだけを見る同期チェック
func (r *OwnershipReconciler) IsOwned(c model.CellID) bool {
	return r.Index().IsOwned(c)
}

// IsOwnedRemote ストアに1セルの所有状況を問い合わせる
func (r *OwnershipReconciler) IsOwnedRemote(ctx context.Context, c model.CellID) (bool, error) {
	owned, err := r.store.IsCellOwned(ctx, c)
	if err != nil {
		return false, fmt.Errorf("セル %s の所有チェックに失敗: %w", c, asRemoteUnavailable(err))
	}
	return owned || r.Index().IsContested(c), nil
}

// CheckMany 複数セルの所有状況をまとめて問い合わせる
// 大きな選択はチャンクに分けて並行に問い合わせ、ローカルで整合性違反のセルも所有済みに含める
func (r *OwnershipReconciler) CheckMany(ctx context.Context, cells []model.CellID) (model.CellSet, error) {
	unique := model.NewCellSet(cells...).Sorted()
	owned := model.NewCellSet()
	if len(unique) == 0 {
		return owned, nil
	}

	var chunks [][]model.CellID
	for start := 0; start < len(unique); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(unique) {
			end = len(unique)
		}
		chunks = append(chunks, unique[start:end])
	}

	semaphore := make(chan struct{}, r.parallel)
	results := make(chan []model.CellID, len(chunks))
	errs := make(chan error, len(chunks))
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		wg.Add(1)
		go func(chunkIndex int, chunk []model.CellID) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := ctx.Err(); err != nil {
				errs <- err
				return
			}
			found, err := r.store.CheckCells(ctx, chunk)
			if err != nil {
				errs <- fmt.Errorf("チャンク%d (%dセル) の所有チェックに失敗: %w", chunkIndex, len(chunk), err)
				return
			}
			results <- found
		}(i, chunk)
	}

	wg.Wait()
	close(results)
	close(errs)

	if err, ok := <-errs; ok {
		return nil, asRemoteUnavailable(err)
	}
	for found := range results {
		for _, c := range found {
			owned.Add(c)
		}
	}

	idx := r.Index()
	for _, c := range unique {
		if idx.IsContested(c) {
			owned.Add(c)
		}
	}
	if len(chunks) > 1 {
		r.log.Debug("一括所有チェック完了", "cells", len(unique), "chunks", len(chunks), "owned", owned.Len())
	}
	return owned, nil
}

// Features 現在のインデックスから描画用フィーチャを作る
func (r *OwnershipReconciler) Features() []model.RenderFeature {
	return ToRenderFeatures(r.Index(), r.userID)
}

func asRemoteUnavailable(err error) error {
	if errors.Is(err, model.ErrRemoteUnavailable) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrRemoteUnavailable, err)
}
