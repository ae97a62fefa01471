package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"landgrid/internal/config"
	"landgrid/internal/domain/service"
	"landgrid/internal/infrastructure/events"
	"landgrid/internal/infrastructure/logger"
	"landgrid/internal/infrastructure/metrics"
	"landgrid/internal/repository"
	"landgrid/internal/usecase"
)

// RouterDeps ルーターの依存関係
type RouterDeps struct {
	Properties usecase.PropertyUseCase
	Users      usecase.UserUseCase
	Treasures  usecase.TreasureUseCase
	Pricing    *service.PricingService
	Hub        *events.Hub
	// HealthCheck nilなら常に正常
	HealthCheck func(ctx context.Context) error
	Server      config.ServerConfig
	Logger      *slog.Logger
}

// NewRouter APIのルーティングを設定する
func NewRouter(deps RouterDeps) *gin.Engine {
	log := logger.OrDefault(deps.Logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(AccessLog(log))
	r.Use(cors.New(corsConfig(deps.Server.AllowedOrigins)))

	r.GET("/health", healthHandler(deps.HealthCheck))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.Use(RateLimit(deps.Server.RateLimitPerSecond, deps.Server.RateLimitBurst))
	api.GET("/health", healthHandler(deps.HealthCheck))

	propertyHandler := NewPropertyHandler(deps.Properties)
	properties := api.Group("/properties")
	{
		properties.GET("", propertyHandler.ListProperties)
		properties.POST("", propertyHandler.Purchase)
		properties.GET("/features", propertyHandler.GetFeatures)
		properties.GET("/cell/:cellId/check", propertyHandler.CheckCell)
		properties.POST("/cells/check", propertyHandler.CheckCells)
		properties.POST("/unallocated/buy", propertyHandler.Purchase)
		properties.PUT("/:id", propertyHandler.UpdateProperty)
		properties.POST("/:id/buy", propertyHandler.BuyListed)

		properties.POST("/bids", propertyHandler.PlaceBid)
		properties.PUT("/bids/:id/status", propertyHandler.UpdateBidStatus)
		properties.GET("/bids/made", propertyHandler.BidsMade)
		properties.GET("/bids/received", propertyHandler.BidsReceived)
	}

	userHandler := NewUserHandler(deps.Users, deps.Treasures, deps.Pricing)
	api.GET("/users/profile", userHandler.GetProfile)
	api.POST("/users", userHandler.Register)
	api.GET("/pricing", userHandler.GetPricing)
	if deps.Treasures != nil {
		api.POST("/treasures", userHandler.CreateTreasure)
	}

	if deps.Hub != nil {
		api.GET("/events", func(c *gin.Context) {
			deps.Hub.ServeWS(c.Writer, c.Request)
		})
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", repository.UserIDHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func healthHandler(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			if err := check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"details": err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "landgrid"})
	}
}
