package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config アプリケーション設定
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Supabase  SupabaseConfig  `yaml:"supabase"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Mapbox    MapboxConfig    `yaml:"mapbox"`
	Redis     RedisConfig     `yaml:"redis"`
	Client    ClientConfig    `yaml:"client"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig APIサーバーの設定
type ServerConfig struct {
	Port               string   `yaml:"port"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
	// PriceTolerance 申告価格が算出価格をどれだけ下回ってよいか（トークン）
	PriceTolerance int64 `yaml:"price_tolerance"`
}

// DatabaseConfig プロパティストアの保存先
// driver: memory / postgres / supabase
type DatabaseConfig struct {
	Driver      string `yaml:"driver"`
	PostgresDSN string `yaml:"postgres_dsn"`
	MaxOpenConn int    `yaml:"max_open_conns"`
}

// SupabaseConfig database.driver が supabase のときの接続先
type SupabaseConfig struct {
	URL     string `yaml:"url"`
	AnonKey string `yaml:"anon_key"`
}

// FirestoreConfig 宝物の保存先。ProjectIDが空ならメモリに保存する
type FirestoreConfig struct {
	ProjectID          string `yaml:"project_id"`
	TreasureCollection string `yaml:"treasure_collection"`
	TTLHours           int    `yaml:"ttl_hours"`
}

// PricingConfig 住所に応じたセル単価
type PricingConfig struct {
	BasePrice int64       `yaml:"base_price"`
	Rules     []PriceRule `yaml:"rules"`
}

// PriceRule 住所にMatchを含む場合の単価（大文字小文字は区別しない）
type PriceRule struct {
	Match     string `yaml:"match"`
	BasePrice int64  `yaml:"base_price"`
}

// MapboxConfig 逆ジオコーディング
type MapboxConfig struct {
	AccessToken string `yaml:"access_token"`
	BaseURL     string `yaml:"base_url"`
}

// RedisConfig 逆ジオコーディング結果のキャッシュ。Addrが空なら使わない
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLHours int    `yaml:"ttl_hours"`
}

// ClientConfig landctlの設定
type ClientConfig struct {
	ServerURL       string `yaml:"server_url"`
	UserID          string `yaml:"user_id"`
	LocalStorePath  string `yaml:"local_store_path"`
	SelectionColor  string `yaml:"selection_color"`
	GridColor       string `yaml:"grid_color"`
	RefreshSchedule string `yaml:"refresh_schedule"`
	CheckChunkSize  int    `yaml:"check_chunk_size"`
	CheckParallel   int    `yaml:"check_parallel"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	MetricsAddr     string `yaml:"metrics_addr"`
}

// LoggingConfig ログ設定
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig 既定の設定
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               "8080",
			AllowedOrigins:     []string{"*"},
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
			PriceTolerance:     0,
		},
		Database: DatabaseConfig{
			Driver:      "memory",
			MaxOpenConn: 10,
		},
		Firestore: FirestoreConfig{
			TreasureCollection: "treasures",
			TTLHours:           24 * 30,
		},
		Pricing: PricingConfig{
			BasePrice: 1,
		},
		Mapbox: MapboxConfig{
			BaseURL: "https://api.mapbox.com",
		},
		Redis: RedisConfig{
			TTLHours: 24 * 7,
		},
		Client: ClientConfig{
			ServerURL:       "http://localhost:8080/api",
			LocalStorePath:  "landgrid.db",
			SelectionColor:  "#0080ff",
			GridColor:       "#000000",
			RefreshSchedule: "@every 30s",
			CheckChunkSize:  500,
			CheckParallel:   4,
			TimeoutSeconds:  10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load YAMLファイルを既定値に重ねて読み込み、環境変数で上書きする
// ファイルが存在しなければ既定値と環境変数のみ
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("設定ファイルを確認できません: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path LANDGRID_CONFIG、未設定なら config.yaml
func Path() string {
	if p := os.Getenv("LANDGRID_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func (c *Config) applyEnv(getenv func(string) string) {
	setString := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.Server.Port, "PORT")
	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.PostgresDSN, "DATABASE_URL")
	setString(&c.Supabase.URL, "SUPABASE_URL")
	setString(&c.Supabase.AnonKey, "SUPABASE_ANON_KEY")
	setString(&c.Firestore.ProjectID, "FIRESTORE_PROJECT_ID")
	setString(&c.Mapbox.AccessToken, "MAPBOX_ACCESS_TOKEN")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASS")
	setString(&c.Client.ServerURL, "LANDGRID_SERVER_URL")
	setString(&c.Client.UserID, "LANDGRID_USER_ID")
	setString(&c.Client.LocalStorePath, "LANDGRID_LOCAL_STORE")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")

	if v := getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Redis.DB = n
		}
	}
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
}

// Validate 設定値の整合性チェック
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "postgres", "supabase":
	default:
		return fmt.Errorf("未対応のdatabase.driverです: %q", c.Database.Driver)
	}
	if c.Pricing.BasePrice <= 0 {
		return fmt.Errorf("pricing.base_priceは正の値で指定してください: %d", c.Pricing.BasePrice)
	}
	for _, r := range c.Pricing.Rules {
		if r.Match == "" || r.BasePrice <= 0 {
			return fmt.Errorf("価格ルールが不正です: %+v", r)
		}
	}
	if c.Client.CheckChunkSize <= 0 {
		c.Client.CheckChunkSize = 500
	}
	if c.Client.CheckParallel <= 0 {
		c.Client.CheckParallel = 1
	}
	return nil
}

// Timeout クライアントのリクエストタイムアウト
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TTL 宝物ドキュメントの有効期限
func (c *FirestoreConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// TTL キャッシュの有効期限
func (c *RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}
