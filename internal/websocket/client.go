package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"collab-service/internal/collab"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

var ErrClientDisconnected = errors.New("client disconnected")

// Engine is the session engine as seen by the transport.
type Engine interface {
	Connect(ctx context.Context, h collab.Handle)
	Disconnect(ctx context.Context, h collab.Handle) error
	Dispatch(ctx context.Context, h collab.Handle, msg *collab.Message)
	Touch(h collab.Handle)
}

// Client is one websocket connection. It implements collab.Handle.
type Client struct {
	id     string
	userID string
	hub    *Hub
	engine Engine
	conn   *websocket.Conn
	send   chan []byte

	// Connection state management
	ctx    context.Context
	cancel context.CancelFunc
	closed int32 // atomic flag to track if client is closed

	// Goroutine coordination
	wg sync.WaitGroup
}

func NewClient(hub *Hub, engine Engine, conn *websocket.Conn, userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		id:     uuid.New().String(),
		userID: userID,
		hub:    hub,
		engine: engine,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserID() string {
	return c.userID
}

// isClosed returns true if the client is closed
func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// Send queues msg for the write pump. A full buffer closes the client.
func (c *Client) Send(msg *collab.Message) error {
	if c.isClosed() {
		return ErrClientDisconnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientDisconnected
	default:
		slog.Warn("Send buffer full, closing client", "clientID", c.id, "userID", c.userID)
		c.Close()
		return ErrClientDisconnected
	}
}

// Close marks the client closed, sends a close frame and drops the socket.
// The read pump then exits and runs the disconnect cascade.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.cancel()
	slog.Debug("Client marked as closed", "clientID", c.id, "userID", c.userID)

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return c.conn.Close()
}

// Wait blocks until both pumps have exited or timeout elapses.
func (c *Client) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		slog.Warn("Timeout waiting for goroutines to finish", "clientID", c.id, "userID", c.userID, "timeout", timeout)
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.hub.Remove(c)

		if err := c.engine.Disconnect(context.Background(), c); err != nil {
			slog.Warn("Disconnect cascade reported errors", "clientID", c.id, "userID", c.userID, "error", err)
		}
		c.wg.Done()
		slog.Debug("ReadPump finished", "clientID", c.id, "userID", c.userID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.engine.Touch(c)
		return nil
	})

	slog.Debug("ReadPump started", "clientID", c.id, "userID", c.userID)

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) && !c.isClosed() {
				slog.Error("WebSocket error", "clientID", c.id, "userID", c.userID, "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "clientID", c.id, "userID", c.userID, "error", err)
			}
			return
		}

		var msg collab.Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			slog.Warn("Failed to unmarshal message", "clientID", c.id, "userID", c.userID, "error", err)
			c.Send(collab.NewRejectedMessage(collab.ReasonInvalidMessage))
			continue
		}

		// Identity and receive time come from the server, never the client
		msg.UserID = c.userID
		msg.Timestamp = time.Now().UnixMilli()
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}

		c.engine.Dispatch(c.ctx, c, &msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		c.wg.Done()
		ticker.Stop()
		slog.Debug("WritePump finished", "clientID", c.id, "userID", c.userID)
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("Error writing message", "clientID", c.id, "userID", c.userID, "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("Error sending ping", "clientID", c.id, "userID", c.userID, "error", err)
				c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// start registers the client with the engine and launches its pumps.
func (c *Client) start() {
	c.wg.Add(2)
	c.hub.Add(c)
	c.engine.Connect(c.ctx, c)

	go c.writePump()
	go c.readPump()
}
