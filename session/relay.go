package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.veridoc.io/veridoc/log"
	"nhooyr.io/websocket"
)

// Relay is the session-scoped bidirectional channel to the remote prover.
// Events arrive on a single channel in arrival order; the channel is closed
// when the underlying connection drops.
type Relay interface {
	Send(ctx context.Context, msg any) error
	Events() <-chan Event
	Close(err error)
}

// RelayDialer opens a relay channel for the given session ID. Redialing with
// the same ID resumes the same remote session.
type RelayDialer func(ctx context.Context, sessionID string) (Relay, error)

// WebsocketDialer returns a RelayDialer that connects to
// baseURL/session/{sessionID} over websocket, exchanging JSON messages.
func WebsocketDialer(baseURL string) RelayDialer {
	base := strings.TrimRight(baseURL, "/")
	return func(ctx context.Context, sessionID string) (Relay, error) {
		addr := base + "/session/" + sessionID
		conn, _, err := websocket.Dial(ctx, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("cannot dial relay %s: %w", addr, err)
		}
		r := &wsRelay{
			conn:   conn,
			events: make(chan Event, 16),
		}
		go r.readLoop()
		return r, nil
	}
}

type wsRelay struct {
	conn      *websocket.Conn
	events    chan Event
	closeOnce sync.Once
}

// readLoop is the only reader of the connection, which keeps relay events in
// arrival order.
func (r *wsRelay) readLoop() {
	defer close(r.events)
	for {
		_, payload, err := r.conn.Read(context.Background())
		if err != nil {
			return
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Warnw("cannot decode relay message", "error", err)
			continue
		}
		r.events <- ev
	}
}

func (r *wsRelay) Send(ctx context.Context, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.conn.Write(ctx, websocket.MessageText, payload)
}

func (r *wsRelay) Events() <-chan Event {
	return r.events
}

func (r *wsRelay) Close(err error) {
	r.closeOnce.Do(func() {
		status := websocket.StatusNormalClosure
		reason := ""
		if err != nil {
			status = websocket.StatusInternalError
			reason = err.Error()
		}
		_ = r.conn.Close(status, reason)
	})
}
