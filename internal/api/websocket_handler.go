package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rbignon/speedfog-racing-sub000/internal/config"
	"github.com/rbignon/speedfog-racing-sub000/internal/logger"
	ws "github.com/rbignon/speedfog-racing-sub000/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler WebSocket升级处理器
type WebSocketHandler struct {
	handler  *ws.Handler
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(handler *ws.Handler, cfg *config.WebSocketConfig) *WebSocketHandler {
	return &WebSocketHandler{
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    cfg.ReadBufferSize,
			WriteBufferSize:   cfg.WriteBufferSize,
			EnableCompression: cfg.EnableCompression,
			CheckOrigin: func(r *http.Request) bool {
				// 遥测端从游戏Mod发起，没有固定Origin
				return true
			},
		},
		log: logger.GetModuleLogger("websocket"),
	}
}

// RaceWebSocket 遥测端连接入口
// 认证在连接建立后的第一条消息里完成。
func (h *WebSocketHandler) RaceWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("WebSocket升级失败",
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		return
	}

	h.handler.HandleTelemetry(conn)
}

// WatchWebSocket 观战端连接入口
func (h *WebSocketHandler) WatchWebSocket(c *gin.Context) {
	raceID, ok := parseID(c, "id")
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("WebSocket升级失败",
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		return
	}

	h.handler.HandleSpectator(conn, raceID)
}
