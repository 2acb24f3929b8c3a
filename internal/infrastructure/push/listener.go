package push

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Listener subscribes to the message server's push channel for a single user.
// It owns the connection for the lifetime of the controller: constructed on
// initialize, closed on teardown. Reconnection is the transport's problem,
// not ours; when the read loop ends the event channel is closed and the
// controller falls back to its periodic refresh.
type Listener struct {
	baseURL string
	token   string

	mutex  sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func NewListener(baseURL, token string) *Listener {
	return &Listener{
		baseURL: baseURL,
		token:   token,
	}
}

// envelope is the wire frame for push events. Some deployments send the
// payload bare instead of wrapped, so both shapes are accepted.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (l *Listener) Subscribe(ctx context.Context, userID string) (<-chan InboundMessage, error) {
	u, err := url.Parse(l.baseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if l.token != "" {
		header.Set("Authorization", "Bearer "+l.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, err
	}

	l.mutex.Lock()
	if l.closed {
		l.mutex.Unlock()
		conn.Close()
		return nil, context.Canceled
	}
	l.conn = conn
	l.mutex.Unlock()

	events := make(chan InboundMessage, 64)

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	go l.readPump(conn, events)

	return events, nil
}

// readPump forwards receiveMessage events in arrival order. No reordering or
// batching happens here; the channel buffer only absorbs bursts.
func (l *Listener) readPump(conn *websocket.Conn, events chan<- InboundMessage) {
	defer func() {
		conn.Close()
		close(events)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Push: read error: %v", err)
			}
			return
		}

		msg, ok := decodeInbound(raw)
		if !ok {
			continue
		}
		msg.ReceivedAt = time.Now()
		events <- msg
	}
}

func decodeInbound(raw []byte) (InboundMessage, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Event != "" {
		if env.Event != EventReceiveMessage {
			return InboundMessage{}, false
		}
		var msg InboundMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil || msg.SenderID == "" {
			log.Printf("Push: dropping malformed %s event", EventReceiveMessage)
			return InboundMessage{}, false
		}
		return msg, true
	}

	// Bare payload format
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.SenderID == "" {
		log.Printf("Push: dropping unrecognized frame")
		return InboundMessage{}, false
	}
	return msg, true
}

func (l *Listener) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.conn != nil {
		l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return l.conn.Close()
	}
	return nil
}
