package websocket

import (
	"encoding/json"
	"sync"

	"github.com/rbignon/speedfog-racing-sub000/internal/logger"
	"go.uber.org/zap"
)

// Hub 比赛房间管理中心
// 每场比赛一个房间，房间在第一个连接到来时创建，最后一个离开时销毁。
// 同一选手同一时间只保留最新的遥测连接。
type Hub struct {
	mu    sync.RWMutex
	rooms map[uint]*room
	log   *zap.Logger
}

// room 单场比赛的连接集合
type room struct {
	telemetry  map[uint]*Client
	spectators map[*Client]struct{}
}

// NewHub 创建Hub
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[uint]*room),
		log:   logger.GetModuleLogger("websocket"),
	}
}

func (h *Hub) getOrCreateRoom(raceID uint) *room {
	r, ok := h.rooms[raceID]
	if !ok {
		r = &room{
			telemetry:  make(map[uint]*Client),
			spectators: make(map[*Client]struct{}),
		}
		h.rooms[raceID] = r
		h.log.Info("比赛房间创建", zap.Uint("race_id", raceID))
	}
	return r
}

func (h *Hub) disposeIfEmpty(raceID uint) {
	r, ok := h.rooms[raceID]
	if ok && len(r.telemetry) == 0 && len(r.spectators) == 0 {
		delete(h.rooms, raceID)
		h.log.Info("比赛房间销毁", zap.Uint("race_id", raceID))
	}
}

// JoinTelemetry 注册遥测连接
// 同一选手的旧连接被顶替时返回旧连接，由调用方负责关闭。
func (h *Hub) JoinTelemetry(client *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.getOrCreateRoom(client.RaceID)
	old := r.telemetry[client.ParticipantID]
	r.telemetry[client.ParticipantID] = client

	if old != nil {
		h.log.Info("遥测连接被新连接顶替",
			zap.Uint("race_id", client.RaceID),
			zap.Uint("participant_id", client.ParticipantID),
			zap.String("old_client_id", old.ID),
			zap.String("client_id", client.ID),
		)
	}
	return old
}

// JoinSpectator 注册观战连接
func (h *Hub) JoinSpectator(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.getOrCreateRoom(client.RaceID)
	r.spectators[client] = struct{}{}
}

// Leave 注销连接
// 被顶替的旧遥测连接不会误删新连接的注册。
func (h *Hub) Leave(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[client.RaceID]
	if !ok {
		return
	}

	if client.ParticipantID > 0 {
		if current, ok := r.telemetry[client.ParticipantID]; ok && current == client {
			delete(r.telemetry, client.ParticipantID)
		}
	} else {
		delete(r.spectators, client)
	}

	h.disposeIfEmpty(client.RaceID)
}

// Broadcast 向比赛房间内所有连接广播
// 尽力而为：发送缓冲区已满的连接直接淘汰，不阻塞其他接收者。
func (h *Hub) Broadcast(raceID uint, event string, data interface{}) {
	msg, err := NewMessage(event, data)
	if err != nil {
		h.log.Error("广播消息序列化失败", zap.String("event", event), zap.Error(err))
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("广播消息序列化失败", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	r, ok := h.rooms[raceID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(r.telemetry)+len(r.spectators))
	for _, c := range r.telemetry {
		targets = append(targets, c)
	}
	for c := range r.spectators {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(payload) {
			h.log.Warn("连接发送缓冲区已满，淘汰",
				zap.Uint("race_id", raceID),
				zap.String("client_id", c.ID),
			)
			h.Leave(c)
			c.Close()
		}
	}

	logger.LogWebSocketMessage("send", event, map[string]interface{}{
		"race_id": raceID,
		"targets": len(targets),
	})
}

// RoomCount 当前房间数
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// OnlineCount 指定比赛的在线连接数
func (h *Hub) OnlineCount(raceID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rooms[raceID]
	if !ok {
		return 0
	}
	return len(r.telemetry) + len(r.spectators)
}
