package channel

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the deadline for a single websocket write.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before it is
	// considered dead. Pings go out at pingPeriod to keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound messages (task output included).
	maxMessageSize = 512 * 1024

	// sendBuffer is the per-client outbound queue. A client that cannot
	// drain it is treated as stale and dropped.
	sendBuffer = 64
)

// Client is one websocket connection, either an agent or a dashboard
// subscriber. Reads and writes each run on their own pump goroutine; Send is
// safe for concurrent use.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
	closed chan struct{}
}

// NewClient wraps an upgraded websocket connection.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// Send queues an envelope for delivery. A full queue closes the client: a
// peer that stopped reading is indistinguishable from a dead one.
func (c *Client) Send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	case c.send <- data:
		return nil
	default:
		c.logger.Warn("client send queue full, dropping connection")
		c.Close()
		return websocket.ErrCloseSent
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() {
	select {
	case <-c.closed:
		return
	default:
	}
	close(c.closed)
	_ = c.conn.Close()
}

// WritePump drains the send queue onto the connection and keeps the peer
// alive with periodic pings. It exits when the client closes.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump reads envelopes off the connection and hands them to handle until
// the connection drops. It owns the read side: deadlines and pong handling.
func (c *Client) ReadPump(handle func(Envelope)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("malformed websocket message", "error", err)
			continue
		}
		handle(env)
	}
}

// ReadEnvelope reads a single envelope with the standard read deadline.
// Used for the registration handshake before the pumps start.
func (c *Client) ReadEnvelope() (Envelope, error) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	var env Envelope
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Envelope{}, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
