package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rbignon/speedfog-racing-sub000/internal/config"
)

// 错误定义
var (
	ErrSendBufferFull = errors.New("发送缓冲区已满")
)

// Client 一条WebSocket连接
type Client struct {
	ID            string
	RaceID        uint
	ParticipantID uint // 观战连接为0

	hub  *Hub
	conn *websocket.Conn
	cfg  *config.WebSocketConfig
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient 创建客户端
func NewClient(hub *Hub, conn *websocket.Conn, cfg *config.WebSocketConfig) *Client {
	return &Client{
		ID:   uuid.New().String(),
		hub:  hub,
		conn: conn,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendBufferSize),
		done: make(chan struct{}),
	}
}

// trySend 非阻塞投递
func (c *Client) trySend(payload []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// SendMessage 向该连接发送一条消息
func (c *Client) SendMessage(msgType string, data interface{}) error {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if !c.trySend(payload) {
		return ErrSendBufferFull
	}
	return nil
}

// WritePump 写循环：投递消息并定期发送ping
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			// 关闭前冲刷未发送的消息（认证错误等）
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			for {
				select {
				case payload := <-c.send:
					if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				default:
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}

		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			// 应用层ping信封，遥测端以pong消息应答
			msg, err := NewMessage(MessageTypePing, nil)
			if err != nil {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

// Close 关闭连接
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
