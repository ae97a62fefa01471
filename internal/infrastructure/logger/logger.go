// Package logger プロセス全体で共有するslogロガー
package logger

import (
	"log/slog"
	"os"
	"strings"
)

var defaultLogger *slog.Logger

// Setup LOG_LEVEL / LOG_FORMAT 環境変数からロガーを初期化する
func Setup() *slog.Logger {
	return Configure(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// Configure レベルと形式（text / json）を指定してロガーを初期化する
// 出力先は標準エラー固定
func Configure(level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	var h slog.Handler
	if strings.ToLower(format) == "json" {
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	} else {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	defaultLogger = slog.New(h)
	slog.SetDefault(defaultLogger)
	return defaultLogger
}

// ParseLevel 未知の値はinfo
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// L 共有ロガー。未初期化なら環境変数から初期化する
func L() *slog.Logger {
	if defaultLogger == nil {
		return Setup()
	}
	return defaultLogger
}

// OrDefault nilなら共有ロガーを返す
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return L()
	}
	return l
}
