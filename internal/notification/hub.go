package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mdm/internal/metrics"
)

const writeTimeout = 5 * time.Second

type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func (c *clientConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *clientConn) stop() {
	c.once.Do(func() { close(c.done) })
}

// WebSocketHub 管理用户的 WebSocket 连接，离线用户的消息暂存到 OfflineStore
type WebSocketHub struct {
	mu                sync.RWMutex
	clients           map[string]map[*websocket.Conn]*clientConn
	offline           OfflineStore
	keepAliveInterval time.Duration
	logger            *zap.Logger
}

// HubOption 配置 hub
type HubOption func(*WebSocketHub)

// WithOfflineStore 指定离线存储
func WithOfflineStore(store OfflineStore) HubOption {
	return func(h *WebSocketHub) { h.offline = store }
}

// WithKeepAliveInterval 设置心跳间隔
func WithKeepAliveInterval(interval time.Duration) HubOption {
	return func(h *WebSocketHub) { h.keepAliveInterval = interval }
}

// WithHubLogger 设置日志器
func WithHubLogger(l *zap.Logger) HubOption {
	return func(h *WebSocketHub) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewWebSocketHub 创建 Hub
func NewWebSocketHub(opts ...HubOption) *WebSocketHub {
	hub := &WebSocketHub{
		clients:           make(map[string]map[*websocket.Conn]*clientConn),
		offline:           NewMemoryOfflineStore(50),
		keepAliveInterval: 30 * time.Second,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(hub)
		}
	}
	return hub
}

// Register 注册连接，并补发离线期间的消息
func (h *WebSocketHub) Register(ctx context.Context, userID string, conn *websocket.Conn) {
	client := &clientConn{conn: conn, done: make(chan struct{})}
	h.mu.Lock()
	if _, ok := h.clients[userID]; !ok {
		h.clients[userID] = make(map[*websocket.Conn]*clientConn)
	}
	h.clients[userID][conn] = client
	h.mu.Unlock()

	metrics.WebSocketConnectionsGauge.Inc()
	h.replayOffline(ctx, userID, client)
	h.startKeepAlive(userID, client)
}

// Unregister 移除连接
func (h *WebSocketHub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[userID]
	if !ok {
		return
	}
	if client, ok := conns[conn]; ok {
		client.stop()
		delete(conns, conn)
		metrics.WebSocketConnectionsGauge.Dec()
	}
	if len(conns) == 0 {
		delete(h.clients, userID)
	}
}

// SendToUser 将消息发送给用户的所有连接；用户不在线时写入离线存储
func (h *WebSocketHub) SendToUser(ctx context.Context, userID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	clients := make([]*clientConn, 0, len(h.clients[userID]))
	for _, c := range h.clients[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return h.storeOffline(ctx, userID, data)
	}

	var firstErr error
	delivered := 0
	for _, client := range clients {
		if err := client.write(websocket.TextMessage, data); err != nil {
			h.Unregister(userID, client.conn)
			_ = client.conn.Close()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered++
	}
	if delivered == 0 {
		if err := h.storeOffline(ctx, userID, data); err != nil {
			return err
		}
	}
	return firstErr
}

// CloseAll 关闭所有连接，用于优雅退出
func (h *WebSocketHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, conns := range h.clients {
		for conn, client := range conns {
			client.stop()
			_ = conn.Close()
			metrics.WebSocketConnectionsGauge.Dec()
		}
		delete(h.clients, userID)
	}
}

// ConnectedCount 返回用户的连接数
func (h *WebSocketHub) ConnectedCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *WebSocketHub) replayOffline(ctx context.Context, userID string, client *clientConn) {
	if h.offline == nil {
		return
	}
	messages, err := h.offline.Drain(ctx, userID)
	if err != nil {
		h.logger.Warn("离线消息重放失败", zap.String("userId", userID), zap.Error(err))
		return
	}
	for _, msg := range messages {
		if err := client.write(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("推送离线消息失败", zap.String("userId", userID), zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHub) storeOffline(ctx context.Context, userID string, payload []byte) error {
	if h.offline == nil {
		return nil
	}
	return h.offline.Append(ctx, userID, payload)
}

func (h *WebSocketHub) startKeepAlive(userID string, client *clientConn) {
	if h.keepAliveInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(h.keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-client.done:
				return
			case <-ticker.C:
			}
			client.mu.Lock()
			err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			client.mu.Unlock()
			if err != nil {
				h.Unregister(userID, client.conn)
				_ = client.conn.Close()
				return
			}
		}
	}()
}
