package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rbignon/speedfog-racing-sub000/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWSConfig() *config.WebSocketConfig {
	return &config.WebSocketConfig{
		MaxMessageSize: 8192,
		AuthTimeout:    2 * time.Second,
		PingInterval:   10 * time.Second,
		PongTimeout:    30 * time.Second,
		WriteTimeout:   2 * time.Second,
		SendBufferSize: 16,
	}
}

func newTestClient(hub *Hub, raceID, participantID uint) *Client {
	c := NewClient(hub, nil, testWSConfig())
	c.RaceID = raceID
	c.ParticipantID = participantID
	return c
}

func receive(t *testing.T, c *Client) *Message {
	select {
	case payload := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		return &msg
	default:
		t.Fatal("期望收到消息但发送队列为空")
		return nil
	}
}

// TestHub_RoomLifecycle 测试房间随连接创建和销毁
func TestHub_RoomLifecycle(t *testing.T) {
	hub := NewHub()
	assert.Equal(t, 0, hub.RoomCount())

	alice := newTestClient(hub, 1, 10)
	hub.JoinTelemetry(alice)
	assert.Equal(t, 1, hub.RoomCount())
	assert.Equal(t, 1, hub.OnlineCount(1))

	watcher := newTestClient(hub, 1, 0)
	hub.JoinSpectator(watcher)
	assert.Equal(t, 1, hub.RoomCount())
	assert.Equal(t, 2, hub.OnlineCount(1))

	hub.Leave(alice)
	assert.Equal(t, 1, hub.RoomCount())

	hub.Leave(watcher)
	assert.Equal(t, 0, hub.RoomCount())
	assert.Equal(t, 0, hub.OnlineCount(1))
}

// TestHub_LatestConnectionWins 测试同一选手的新连接顶替旧连接
func TestHub_LatestConnectionWins(t *testing.T) {
	hub := NewHub()

	first := newTestClient(hub, 1, 10)
	displaced := hub.JoinTelemetry(first)
	assert.Nil(t, displaced)

	second := newTestClient(hub, 1, 10)
	displaced = hub.JoinTelemetry(second)
	assert.Equal(t, first, displaced)
	assert.Equal(t, 1, hub.OnlineCount(1))

	// 旧连接的清理不能误删新连接的注册
	hub.Leave(first)
	assert.Equal(t, 1, hub.OnlineCount(1))

	hub.Broadcast(1, MessageTypeLeaderboard, map[string]interface{}{"test": true})
	msg := receive(t, second)
	assert.Equal(t, MessageTypeLeaderboard, msg.Type)
}

// TestHub_BroadcastReachesRoomOnly 测试广播只到达对应比赛房间
func TestHub_BroadcastReachesRoomOnly(t *testing.T) {
	hub := NewHub()

	alice := newTestClient(hub, 1, 10)
	hub.JoinTelemetry(alice)
	bob := newTestClient(hub, 2, 20)
	hub.JoinTelemetry(bob)
	watcher := newTestClient(hub, 1, 0)
	hub.JoinSpectator(watcher)

	hub.Broadcast(1, MessageTypeRaceStart, nil)

	msg := receive(t, alice)
	assert.Equal(t, MessageTypeRaceStart, msg.Type)
	msg = receive(t, watcher)
	assert.Equal(t, MessageTypeRaceStart, msg.Type)

	assert.Empty(t, bob.send)
}

// TestHub_BroadcastToUnknownRoom 测试向不存在的房间广播是无操作
func TestHub_BroadcastToUnknownRoom(t *testing.T) {
	hub := NewHub()
	hub.Broadcast(99, MessageTypeLeaderboard, nil)
	assert.Equal(t, 0, hub.RoomCount())
}

// TestHub_SlowConsumerEvicted 测试缓冲区满的连接被淘汰
func TestHub_SlowConsumerEvicted(t *testing.T) {
	hub := NewHub()

	slow := NewClient(hub, nil, &config.WebSocketConfig{SendBufferSize: 1})
	slow.RaceID = 1
	slow.ParticipantID = 10
	hub.JoinTelemetry(slow)

	healthy := newTestClient(hub, 1, 11)
	hub.JoinTelemetry(healthy)

	// 第一条填满slow的缓冲区，第二条触发淘汰
	hub.Broadcast(1, MessageTypeLeaderboard, nil)
	hub.Broadcast(1, MessageTypeLeaderboard, nil)

	assert.Equal(t, 1, hub.OnlineCount(1))

	// 健康连接两条都收到
	receive(t, healthy)
	receive(t, healthy)
}
