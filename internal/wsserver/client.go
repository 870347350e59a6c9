package wsserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"perfhud/internal/bridge"
)

// Client is the host side of the transport.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	seq     uint64
}

// Dial connects to a hub endpoint such as Hub.URL().
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsserver: dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxReadMessageSize)
	return &Client{conn: conn}, nil
}

// Send writes one envelope. Safe for concurrent use.
func (c *Client) Send(topic bridge.Topic, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.seq++
	frame, err := EncodeEnvelope(topic, c.seq, payload)
	if err != nil {
		c.seq--
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return fmt.Errorf("wsserver: send %s: %w", topic, err)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("wsserver: send %s: %w", topic, err)
	}
	return nil
}

// Receive blocks for the next envelope from the hub. Only one goroutine may
// call it at a time.
func (c *Client) Receive() (Envelope, error) {
	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			return Envelope{}, fmt.Errorf("wsserver: receive: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		return DecodeEnvelope(msg)
	}
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
