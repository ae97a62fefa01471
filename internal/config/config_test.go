package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("ファイルがなければ既定値", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.Database.Driver)
		assert.Equal(t, int64(1), cfg.Pricing.BasePrice)
		assert.Equal(t, "#0080ff", cfg.Client.SelectionColor)
		assert.Equal(t, 500, cfg.Client.CheckChunkSize)
	})

	t.Run("YAMLを既定値に重ねる", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		yaml := `
server:
  port: "9090"
pricing:
  base_price: 2
  rules:
    - match: manhattan
      base_price: 5
client:
  selection_color: "#ff00ff"
`
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "9090", cfg.Server.Port)
		assert.Equal(t, int64(2), cfg.Pricing.BasePrice)
		require.Len(t, cfg.Pricing.Rules, 1)
		assert.Equal(t, int64(5), cfg.Pricing.Rules[0].BasePrice)
		assert.Equal(t, "#ff00ff", cfg.Client.SelectionColor)
		assert.Equal(t, "#000000", cfg.Client.GridColor, "未指定の項目は既定値のまま")
	})

	t.Run("不正なドライバーはエラー", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: mysql\n"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":            "7000",
		"DATABASE_DRIVER": "postgres",
		"REDIS_DB":        "3",
		"ALLOWED_ORIGINS": "https://a.example,https://b.example",
	}
	cfg := DefaultConfig()
	cfg.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}
