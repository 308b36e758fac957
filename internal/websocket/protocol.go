package websocket

import (
	"encoding/json"
	"time"

	"github.com/rbignon/speedfog-racing-sub000/internal/models"
	"github.com/rbignon/speedfog-racing-sub000/internal/race"
)

// 消息类型
const (
	// 遥测端 → 服务端
	MessageTypeAuth    = "auth"
	MessageTypeStatus  = "status"
	MessageTypeEvent   = "event"
	MessageTypeForfeit = "forfeit"
	MessageTypePong    = "pong"

	// 服务端 → 客户端
	MessageTypeAuthOK      = "auth_ok"
	MessageTypeAuthError   = "auth_error"
	MessageTypePing        = "ping"
	MessageTypeLeaderboard = "leaderboard"
	MessageTypeRaceStatus  = "race_status"
	MessageTypeRaceStart   = "race_start"
)

// Message WebSocket消息信封
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewMessage 创建消息
func NewMessage(msgType string, data interface{}) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}

	return msg, nil
}

// AuthPayload 遥测端认证消息
type AuthPayload struct {
	Token string `json:"token"`
}

// StatusPayload 状态心跳消息
type StatusPayload struct {
	IGTMs      int64 `json:"igt_ms"`
	DeathCount int   `json:"death_count"`
}

// EventPayload 事件消息（区域发现、完赛标志）
type EventPayload struct {
	FlagID uint32 `json:"flag_id"`
	IGTMs  int64  `json:"igt_ms"`
}

// AuthOKPayload 认证成功响应
// 种子部分只下发摘要，标志到区域的映射留在服务端。
type AuthOKPayload struct {
	RaceID      uint               `json:"race_id"`
	RaceName    string             `json:"race_name"`
	RaceStatus  models.RaceStatus  `json:"race_status"`
	Participant string             `json:"participant"`
	Seed        *models.SeedSummary `json:"seed"`
	Leaderboard *race.Leaderboard  `json:"leaderboard"`
}

// AuthErrorPayload 认证失败响应
type AuthErrorPayload struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}
