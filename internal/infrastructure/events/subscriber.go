package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"landgrid/internal/domain/model"
	"landgrid/internal/infrastructure/logger"
)

// Subscriber 変更フィードを購読し、イベントごとにハンドラーを呼ぶ
// 切断されたら待機してから再接続する
type Subscriber struct {
	url     string
	userID  string
	backoff time.Duration
	log     *slog.Logger
}

// NewSubscriber 新しいSubscriberインスタンスを作成
// serverURL はAPIのベースURL（http/https）で、/events を付けて接続する
func NewSubscriber(serverURL, userID string, log *slog.Logger) (*Subscriber, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/") + "/events")
	if err != nil {
		return nil, fmt.Errorf("サーバーURLが不正です: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("未対応のスキームです: %s", u.Scheme)
	}
	return &Subscriber{
		url:     u.String(),
		userID:  userID,
		backoff: 2 * time.Second,
		log:     logger.OrDefault(log),
	}, nil
}

// Run ctxが終了するまで購読を続ける
func (s *Subscriber) Run(ctx context.Context, handle func(model.PropertiesChangedEvent)) error {
	for {
		err := s.runOnce(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("⚠️ 変更フィードが切断されました。再接続します", "error", err, "backoff", s.backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff):
		}
	}
}

func (s *Subscriber) runOnce(ctx context.Context, handle func(model.PropertiesChangedEvent)) error {
	header := http.Header{}
	if s.userID != "" {
		header.Set("X-User-ID", s.userID)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("変更フィードへの接続に失敗: %w", err)
	}
	defer conn.Close()
	s.log.Info("🔌 変更フィードを購読開始", "url", s.url)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var event model.PropertiesChangedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.log.Debug("イベントを解析できません", "error", err)
			continue
		}
		if event.Type != model.EventTypePropertiesChanged {
			continue
		}
		handle(event)
	}
}
