package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/klauspost/compress/gzhttp"

	"landgrid/internal/config"
	"landgrid/internal/domain/repository"
	"landgrid/internal/domain/service"
	"landgrid/internal/handler"
	"landgrid/internal/infrastructure/database"
	"landgrid/internal/infrastructure/events"
	"landgrid/internal/infrastructure/firestore"
	"landgrid/internal/infrastructure/logger"
	"landgrid/internal/infrastructure/maps"
	repoimpl "landgrid/internal/repository"
	"landgrid/internal/usecase"
)

// store サーバーが使うプロパティ・ユーザーストア
type store interface {
	repository.PropertyRepository
	repository.UserRepository
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using system environment variables")
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗: %v\n", err)
		os.Exit(1)
	}
	log := logger.Configure(cfg.Logging.Level, cfg.Logging.Format)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	props, healthCheck, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("❌ プロパティストアの初期化に失敗", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	treasures, closeTreasures, err := openTreasures(ctx, cfg, log)
	if err != nil {
		log.Error("❌ 宝物ストアの初期化に失敗", "error", err)
		os.Exit(1)
	}
	defer closeTreasures()

	hub := events.NewHub(log)
	defer hub.Close()

	geocoder, closeGeocoder := openGeocoder(ctx, cfg, log)
	defer closeGeocoder()

	pricing := service.NewPricingService(cfg.Pricing)
	treasureUseCase := usecase.NewTreasureUseCase(treasures, props, log)
	propertyUseCase := usecase.NewPropertyUseCase(props, props, treasureUseCase, pricing, hub, usecase.PropertyUseCaseConfig{
		PriceTolerance: cfg.Server.PriceTolerance,
		Geocoder:       geocoder,
		Logger:         log,
	})

	router := handler.NewRouter(handler.RouterDeps{
		Properties:  propertyUseCase,
		Users:       usecase.NewUserUseCase(props),
		Treasures:   treasureUseCase,
		Pricing:     pricing,
		Hub:         hub,
		HealthCheck: healthCheck,
		Server:      cfg.Server,
		Logger:      log,
	})

	// WebSocketのアップグレードは圧縮せずに通す
	gz := gzhttp.GzipHandler(router)
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			router.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("⚠️ シャットダウンに失敗", "error", err)
		}
	}()

	log.Info("🚀 landgridサーバー起動", "addr", srv.Addr, "driver", cfg.Database.Driver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("❌ サーバーエラー", "error", err)
		os.Exit(1)
	}
	log.Info("👋 サーバー停止")
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store, func(context.Context) error, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		client, err := database.NewPostgreSQLClient(ctx, cfg.Database.PostgresDSN, cfg.Database.MaxOpenConn)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := database.EnsureSchema(ctx, client.DB, false); err != nil {
			client.Close()
			return nil, nil, nil, err
		}
		log.Info("✅ PostgreSQL接続成功")
		return repoimpl.NewPostgresPropertyRepository(client, log), client.HealthCheck, func() { client.Close() }, nil

	case "supabase":
		client, err := database.NewSupabaseClient(cfg.Supabase.URL, cfg.Supabase.AnonKey)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := client.HealthCheck(); err != nil {
			return nil, nil, nil, err
		}
		// DBパスワードがあればテーブルとRPC関数を作成する
		if os.Getenv("SUPABASE_DB_PASSWORD") != "" || cfg.Database.PostgresDSN != "" {
			pg, err := database.NewPostgreSQLClient(ctx, cfg.Database.PostgresDSN, 2)
			if err != nil {
				return nil, nil, nil, err
			}
			err = database.EnsureSchema(ctx, pg.DB, true)
			pg.Close()
			if err != nil {
				return nil, nil, nil, err
			}
		}
		log.Info("✅ Supabase connection successful!")
		health := func(context.Context) error { return client.HealthCheck() }
		return repoimpl.NewSupabasePropertyRepository(client, log), health, func() {}, nil

	default:
		log.Warn("⚠️ メモリストアを使用します。再起動するとデータは消えます")
		return repoimpl.NewMemoryPropertyRepository(), nil, func() {}, nil
	}
}

func openTreasures(ctx context.Context, cfg *config.Config, log *slog.Logger) (repository.TreasureRepository, func(), error) {
	if cfg.Firestore.ProjectID == "" {
		return repoimpl.NewMemoryTreasureRepository(), func() {}, nil
	}
	client, err := firestore.NewFirestoreClient(ctx, cfg.Firestore.ProjectID, log)
	if err != nil {
		return nil, nil, err
	}
	repo := repoimpl.NewFirestoreTreasureRepository(client.GetClient(), cfg.Firestore.TreasureCollection, cfg.Firestore.TTL(), log)
	return repo, func() { client.Close() }, nil
}

// openGeocoder 購入価格の住所をサーバー側で引く。トークンがなければリクエストの住所を使う
func openGeocoder(ctx context.Context, cfg *config.Config, log *slog.Logger) (repository.Geocoder, func()) {
	if cfg.Mapbox.AccessToken == "" {
		log.Warn("⚠️ Mapboxのアクセストークンが未設定のため、価格はクライアントが送った住所で計算します")
		return nil, func() {}
	}
	var g repository.Geocoder = maps.NewMapboxGeocoder(cfg.Mapbox.AccessToken, cfg.Mapbox.BaseURL, cfg.Client.Timeout())
	rdb, err := database.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Warn("⚠️ Redisに接続できないためジオコードキャッシュを使いません", "error", err)
		return g, func() {}
	}
	if rdb == nil {
		return g, func() {}
	}
	return repoimpl.NewRedisGeocodeCache(g, rdb, cfg.Redis.TTL(), log), func() { rdb.Close() }
}
