package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rbignon/speedfog-racing-sub000/internal/config"
	apperrors "github.com/rbignon/speedfog-racing-sub000/internal/errors"
	"github.com/rbignon/speedfog-racing-sub000/internal/logger"
	"github.com/rbignon/speedfog-racing-sub000/internal/race"
	"go.uber.org/zap"
)

// Handler WebSocket连接处理器
// 负责遥测端和观战端连接的完整生命周期：认证、消息分发、清理。
type Handler struct {
	hub     *Hub
	service *race.Service
	cfg     *config.WebSocketConfig
	log     *zap.Logger
}

// NewHandler 创建连接处理器
func NewHandler(hub *Hub, service *race.Service, cfg *config.WebSocketConfig) *Handler {
	return &Handler{
		hub:     hub,
		service: service,
		cfg:     cfg,
		log:     logger.GetModuleLogger("websocket"),
	}
}

// Hub 返回底层Hub
func (h *Handler) Hub() *Hub {
	return h.hub
}

// HandleTelemetry 处理遥测端连接
// 第一条消息必须是auth且在认证窗口内到达，否则关闭连接。
func (h *Handler) HandleTelemetry(conn *websocket.Conn) {
	client := NewClient(h.hub, conn, h.cfg)
	go client.WritePump()

	defer func() {
		h.hub.Leave(client)
		client.Close()
		conn.Close()
	}()

	conn.SetReadLimit(h.cfg.MaxMessageSize)

	result, ok := h.authenticate(client, conn)
	if !ok {
		return
	}

	client.RaceID = result.Race.ID
	client.ParticipantID = result.Participant.ID

	// 同一选手只保留最新连接，旧连接直接关闭
	if old := h.hub.JoinTelemetry(client); old != nil {
		old.Close()
	}

	if err := client.SendMessage(MessageTypeAuthOK, &AuthOKPayload{
		RaceID:      result.Race.ID,
		RaceName:    result.Race.Name,
		RaceStatus:  result.Race.Status,
		Participant: result.Participant.Name,
		Seed:        result.Summary,
		Leaderboard: result.Leaderboard,
	}); err != nil {
		return
	}

	h.readLoop(client, conn)
}

// HandleSpectator 处理观战端连接
// 观战不需要认证，连接建立后立即下发全量快照。
func (h *Handler) HandleSpectator(conn *websocket.Conn, raceID uint) {
	snapshot, err := h.service.GetSnapshot(context.Background(), raceID)
	if err != nil {
		conn.Close()
		return
	}

	client := NewClient(h.hub, conn, h.cfg)
	client.RaceID = raceID
	go client.WritePump()

	defer func() {
		h.hub.Leave(client)
		client.Close()
		conn.Close()
	}()

	h.hub.JoinSpectator(client)

	if err := client.SendMessage(MessageTypeLeaderboard, snapshot.Leaderboard); err != nil {
		return
	}

	h.readLoop(client, conn)
}

// authenticate 认证窗口内等待并校验auth消息
func (h *Handler) authenticate(client *Client, conn *websocket.Conn) (*race.AuthResult, bool) {
	conn.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout))

	_, raw, err := conn.ReadMessage()
	if err != nil {
		h.log.Debug("认证窗口内未收到消息", zap.String("client_id", client.ID), zap.Error(err))
		h.rejectAuth(client, apperrors.New(apperrors.ErrAuthTimeout))
		return nil, false
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != MessageTypeAuth {
		h.rejectAuth(client, apperrors.New(apperrors.ErrAuthInvalid, "第一条消息必须是auth"))
		return nil, false
	}

	var payload AuthPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Token == "" {
		h.rejectAuth(client, apperrors.New(apperrors.ErrAuthInvalid, "缺少令牌"))
		return nil, false
	}

	result, err := h.service.Authenticate(context.Background(), payload.Token)
	if err != nil {
		h.rejectAuth(client, err)
		return nil, false
	}

	return result, true
}

// rejectAuth 回传认证错误后留给写循环冲刷，随后连接关闭
func (h *Handler) rejectAuth(client *Client, err error) {
	code := int(apperrors.GetCode(err))
	client.SendMessage(MessageTypeAuthError, &AuthErrorPayload{
		Code:   code,
		Reason: err.Error(),
	})
	// 给写循环一点时间把错误发出去
	time.Sleep(100 * time.Millisecond)
}

// readLoop 认证后的消息读取循环
// 格式错误和未知类型的消息丢弃并记录，连接保持。
func (h *Handler) readLoop(client *Client, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
		return nil
	})

	for {
		select {
		case <-client.done:
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("连接读取结束", zap.String("client_id", client.ID), zap.Error(err))
			}
			return
		}

		h.dispatch(client, conn, raw)
	}
}

// dispatch 分发一条已认证连接的消息
func (h *Handler) dispatch(client *Client, conn *websocket.Conn, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.Warn("消息格式错误，丢弃",
			zap.String("client_id", client.ID),
			zap.Error(err),
		)
		return
	}

	logger.LogWebSocketMessage("receive", msg.Type, map[string]interface{}{
		"client_id":      client.ID,
		"participant_id": client.ParticipantID,
	})

	// 观战连接只响应心跳
	if client.ParticipantID == 0 {
		return
	}

	ctx := context.Background()

	switch msg.Type {
	case MessageTypeStatus:
		var payload StatusPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			h.log.Warn("status消息格式错误，丢弃", zap.String("client_id", client.ID))
			return
		}
		if err := h.service.ApplyStatus(ctx, client.ParticipantID, payload.IGTMs, payload.DeathCount); err != nil {
			h.log.Error("状态心跳处理失败",
				zap.Uint("participant_id", client.ParticipantID),
				zap.Error(err),
			)
		}
		// 更新进度后刷新读超时，遥测端的业务消息等同于心跳
		conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))

	case MessageTypeEvent:
		var payload EventPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			h.log.Warn("event消息格式错误，丢弃", zap.String("client_id", client.ID))
			return
		}
		if err := h.service.ApplyEvent(ctx, client.ParticipantID, payload.FlagID, payload.IGTMs); err != nil {
			h.log.Error("事件处理失败",
				zap.Uint("participant_id", client.ParticipantID),
				zap.Uint32("flag_id", payload.FlagID),
				zap.Error(err),
			)
		}
		conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))

	case MessageTypeForfeit:
		if err := h.service.Forfeit(ctx, client.ParticipantID); err != nil {
			h.log.Error("弃赛处理失败",
				zap.Uint("participant_id", client.ParticipantID),
				zap.Error(err),
			)
		}

	case MessageTypePong:
		conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))

	default:
		h.log.Warn("不支持的消息类型，丢弃",
			zap.String("client_id", client.ID),
			zap.String("type", msg.Type),
		)
	}
}
