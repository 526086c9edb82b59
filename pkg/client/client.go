// Package client is the websocket transport for the terminal client: it
// dials the relay's /updates endpoint, decodes inbound envelopes onto a
// channel, and encodes outbound ones.
package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"draftwire/pkg/logger"
	"draftwire/pkg/models"
	"draftwire/pkg/protocol"
)

// Conn is one live connection to the relay. Packets() yields inbound
// envelopes until the connection dies; Send is safe for one goroutine at a
// time (the session reducer is the single writer anyway).
type Conn struct {
	ws   *websocket.Conn
	user models.UserID

	in      chan protocol.Envelope
	closeMu sync.Mutex
	closed  bool
}

// Dial connects user to the relay at base (e.g. "ws://localhost:8080").
func Dial(ctx context.Context, base string, user models.UserID) (*Conn, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("client: bad server url %q: %w", base, err)
	}
	u.Path = "/updates/" + string(user)
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", u.String(), err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	c := &Conn{ws: ws, user: user, in: make(chan protocol.Envelope, 64)}
	go c.readLoop()
	return c, nil
}

// Packets returns the inbound envelope stream. The channel closes when the
// connection is gone.
func (c *Conn) Packets() <-chan protocol.Envelope { return c.in }

// Send encodes and writes one envelope.
func (c *Conn) Send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
	return c.ws.Close()
}

func (c *Conn) readLoop() {
	defer close(c.in)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("client_read_failed", "user", c.user, "error", err)
			}
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("client_decode_failed", "user", c.user, "error", err)
			continue
		}
		c.in <- env
	}
}
