package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"landgrid/internal/config"
	"landgrid/internal/domain/model"
	"landgrid/internal/domain/repository"
	"landgrid/internal/domain/service"
	"landgrid/internal/infrastructure/database"
	"landgrid/internal/infrastructure/logger"
	"landgrid/internal/infrastructure/maps"
	repoimpl "landgrid/internal/repository"
	"landgrid/internal/usecase"
)

const usage = `usage: landctl <command> [flags]

commands:
  register   ユーザーを登録する（初回のみ10トークン）
  profile    トークン残高を表示する
  features   所有セルをGeoJSONで出力する
  select     クリック・ドラッグでセルを選択する
  clear      保存された選択を消す
  buy        選択中のセルを購入する
  grid       表示範囲のグリッド線をGeoJSONで出力する
  watch      変更フィードと定期更新で所有状況を監視する
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	_ = godotenv.Load()

	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.Configure(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "grid":
		err = gridCmd(args, cfg)
	case "register", "profile", "features", "select", "clear", "buy", "watch":
		err = runSession(ctx, cmd, args, func() (*session, error) {
			return openSession(ctx, cfg, log)
		})
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runSession セッションを開いてコマンドを実行する。os.Exitより前に必ず閉じる
func runSession(ctx context.Context, cmd string, args []string, open func() (*session, error)) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer s.Close()
	return s.run(ctx, cmd, args)
}

// session 1回のコマンド実行で使うクライアント側のコンポーネント一式
type session struct {
	cfg        *config.Config
	log        *slog.Logger
	store      *repoimpl.HTTPPropertyStore
	local      *repoimpl.SQLiteLocalStore
	reconciler *service.OwnershipReconciler
	selection  *service.SelectionTracker
	geocoder   repository.Geocoder
	closers    []func()
}

func openSession(ctx context.Context, cfg *config.Config, log *slog.Logger) (*session, error) {
	s := &session{cfg: cfg, log: log}

	s.store = repoimpl.NewHTTPPropertyStore(cfg.Client.ServerURL, cfg.Client.UserID, cfg.Client.Timeout(), log)
	local, err := repoimpl.OpenSQLiteLocalStore(ctx, cfg.Client.LocalStorePath)
	if err != nil {
		return nil, err
	}
	s.local = local
	s.closers = append(s.closers, func() { local.Close() })

	s.reconciler = service.NewOwnershipReconciler(s.store, service.ReconcilerConfig{
		UserID:    cfg.Client.UserID,
		ChunkSize: cfg.Client.CheckChunkSize,
		Parallel:  cfg.Client.CheckParallel,
		Snapshot:  local,
		Logger:    log,
	})
	s.selection = service.NewSelectionTracker(s.reconciler, cfg.Client.SelectionColor, log)

	geocoder, err := s.openGeocoder(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.geocoder = geocoder
	return s, nil
}

// openGeocoder Mapboxのトークンがなければ座標文字列を住所として使う
func (s *session) openGeocoder(ctx context.Context) (repository.Geocoder, error) {
	if s.cfg.Mapbox.AccessToken == "" {
		s.log.Warn("⚠️ Mapboxのアクセストークンが未設定のため座標を住所として扱います")
		return coordinateGeocoder{}, nil
	}
	var g repository.Geocoder = maps.NewMapboxGeocoder(s.cfg.Mapbox.AccessToken, s.cfg.Mapbox.BaseURL, s.cfg.Client.Timeout())
	rdb, err := database.OpenRedis(ctx, s.cfg.Redis)
	if err != nil {
		s.log.Warn("⚠️ Redisに接続できないためジオコードキャッシュを使いません", "error", err)
		return g, nil
	}
	if rdb != nil {
		s.closers = append(s.closers, func() { rdb.Close() })
		g = repoimpl.NewRedisGeocodeCache(g, rdb, s.cfg.Redis.TTL(), s.log)
	}
	return g, nil
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// loadState 前回のスナップショットと選択を復元してから最新の所有状況を取得する
func (s *session) loadState(ctx context.Context) {
	if err := s.reconciler.LoadSnapshot(ctx); err != nil {
		s.log.Debug("スナップショットなし", "error", err)
	}
	if err := s.reconciler.Refresh(ctx); err != nil {
		s.log.Warn("⚠️ 所有状況を更新できません。前回のデータを表示します", "error", err)
	}

	saved, err := s.local.LoadSelection(ctx)
	if err != nil {
		s.log.Warn("⚠️ 保存された選択を読み込めません", "error", err)
		return
	}
	cells := make([]model.CellID, 0, len(saved))
	for _, v := range saved {
		c, err := model.ParseCellID(v)
		if err != nil {
			s.log.Debug("保存されたセルIDを読み飛ばします", "error", err)
			continue
		}
		cells = append(cells, c)
	}
	s.selection.Restore(cells)
}

func (s *session) saveSelection(ctx context.Context) error {
	return s.local.SaveSelection(ctx, model.CellStrings(s.selection.Cells()))
}

func (s *session) workflow(notify usecase.Notifier) usecase.PurchaseWorkflow {
	return usecase.NewPurchaseWorkflow(usecase.PurchaseWorkflowDeps{
		UserID:    s.cfg.Client.UserID,
		Selection: s.selection,
		Ownership: s.reconciler,
		Store:     s.store,
		Profiles:  s.store,
		Prices:    s.store,
		Geocoder:  s.geocoder,
		Notifier:  notify,
		Logger:    s.log,
	})
}

type coordinateGeocoder struct{}

func (coordinateGeocoder) ReverseGeocode(ctx context.Context, lng, lat float64) (string, error) {
	return fmt.Sprintf("%.6f,%.6f", lat, lng), nil
}

// parsePoint "lng,lat" 形式の座標
func parsePoint(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("座標は lng,lat で指定してください: %q", s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("経度が不正です: %q", parts[0])
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("緯度が不正です: %q", parts[1])
	}
	if !model.IsValidCoordinate(lng, lat) {
		return 0, 0, fmt.Errorf("座標が不正です: %q", s)
	}
	return lng, lat, nil
}
