// Package eventstream bridges a loop's event channel to a networked UI: it
// upgrades an HTTP connection to a websocket and relays every loop.Event as
// a JSON frame. The agent loop itself never depends on this package — it
// only ever writes to a Go channel; eventstream is the optional transport
// layered on top for a UI process running out-of-tree.
package eventstream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/agentloop/internal/loop"
)

// frame is the wire shape of one relayed event.
type frame struct {
	Kind    loop.EventKind `json:"kind"`
	Payload any            `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Same-origin is not enforced: the event stream carries no
	// credentials and is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

// Handler returns an http.HandlerFunc that upgrades the connection and
// relays events from the channel until it closes or the client
// disconnects.
func Handler(events <-chan loop.Event, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if logger != nil {
				logger.Error("eventstream: upgrade failed", "error", err)
			}
			return
		}
		defer conn.Close()

		for evt := range events {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(frame{Kind: evt.Kind, Payload: evt.Payload}); err != nil {
				if logger != nil {
					logger.Warn("eventstream: write failed, closing", "error", err)
				}
				return
			}
		}

		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

// Client connects to a running agentloop's event stream and decodes frames
// as loop.Event values, for a lightweight CLI viewer or integration test.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to the websocket endpoint at url.
func Dial(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Next blocks for the next event frame.
func (c *Client) Next() (loop.Event, error) {
	var f frame
	if err := c.conn.ReadJSON(&f); err != nil {
		return loop.Event{}, err
	}
	return loop.Event{Kind: f.Kind, Payload: f.Payload}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// MarshalEvent is exposed for callers that want to persist individual
// events (e.g. an audit log) without standing up a websocket at all.
func MarshalEvent(evt loop.Event) ([]byte, error) {
	return json.Marshal(frame{Kind: evt.Kind, Payload: evt.Payload})
}
