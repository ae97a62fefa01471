package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"landgrid/internal/domain/model"
	"landgrid/internal/infrastructure/logger"
	"landgrid/internal/infrastructure/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 変更フィードの接続を管理し、コミット済みの変更を全クライアントへ配信する
// 送信が詰まったクライアントは切断する（再接続後に全件取得すれば追いつける）
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	seq      atomic.Uint64
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHub 新しいHubインスタンスを作成
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.OrDefault(log),
	}
}

// PublishPropertiesChanged 変更イベントを配信する
func (h *Hub) PublishPropertiesChanged(propertyID, reason string) {
	event := model.PropertiesChangedEvent{
		Type:       model.EventTypePropertiesChanged,
		Seq:        h.seq.Add(1),
		PropertyID: propertyID,
		Reason:     reason,
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("❌ イベントのJSONマーシャル失敗", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.removeLocked(c)
			h.log.Warn("⚠️ 送信が詰まったクライアントを切断", "seq", event.Seq)
		}
	}
}

// ClientCount 接続中のクライアント数
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS WebSocketにアップグレードして配信を開始する
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("⚠️ WebSocketへのアップグレードに失敗", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	metrics.EventClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
	h.log.Info("🔌 変更フィードに接続", "remote", r.RemoteAddr)

	go h.writePump(c)
	go h.readPump(c)
}

// Close 全クライアントを切断する
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.EventClients.Set(float64(len(h.clients)))
}

// readPump クライアントからのメッセージは読み捨て、切断を検知する
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
