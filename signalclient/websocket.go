package signalclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nmn/roap-signal/roap"
	"github.com/nmn/roap-signal/signaling"
)

// WebSocketTransport is a push-based Transport backed by a persistent
// connection to a signaling.Relay. Grounded on common/ws.go's
// websocket.DefaultDialer.Dial plus bearer-header pattern.
type WebSocketTransport struct {
	conn     *websocket.Conn
	remoteID string
	logger   *slog.Logger

	writeMu sync.Mutex

	incoming chan roap.RoapMessage
	readErr  chan error

	closeOnce sync.Once
	closed    chan struct{}
}

// DialWebSocket connects to a signaling.Relay at addr (e.g.
// "ws://host:port/ws/relay"), registering as localID and addressing every
// Send call to remoteID. token, if non-empty, is sent as a bearer
// Authorization header, matching the relay's auth check.
func DialWebSocket(addr, localID, remoteID, token string, logger *slog.Logger) (*WebSocketTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("signalclient: parse relay address: %w", err)
	}
	q := u.Query()
	q.Set("id", localID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("signalclient: dial relay: %w", err)
	}

	t := &WebSocketTransport{
		conn:     conn,
		remoteID: remoteID,
		logger:   logger,
		incoming: make(chan roap.RoapMessage, 16),
		readErr:  make(chan error, 1),
		closed:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *WebSocketTransport) readLoop() {
	for {
		var env signaling.Envelope
		if err := t.conn.ReadJSON(&env); err != nil {
			select {
			case t.readErr <- err:
			default:
			}
			return
		}
		var msg roap.RoapMessage
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			t.logger.Warn("signalclient: dropping malformed envelope payload", "err", err)
			continue
		}
		select {
		case t.incoming <- msg:
		case <-t.closed:
			return
		}
	}
}

// Send implements Transport.
func (t *WebSocketTransport) Send(ctx context.Context, msg roap.RoapMessage) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("signalclient: marshal roap message: %w", err)
	}
	env := signaling.Envelope{TargetID: t.remoteID, Message: payload}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	}
	return t.conn.WriteJSON(env)
}

// Receive implements Transport.
func (t *WebSocketTransport) Receive(ctx context.Context) (roap.RoapMessage, error) {
	select {
	case <-t.closed:
		return roap.RoapMessage{}, ErrClosed
	default:
	}
	select {
	case msg := <-t.incoming:
		return msg, nil
	case err := <-t.readErr:
		return roap.RoapMessage{}, fmt.Errorf("signalclient: read relay: %w", err)
	case <-t.closed:
		return roap.RoapMessage{}, ErrClosed
	case <-ctx.Done():
		return roap.RoapMessage{}, ctx.Err()
	}
}

// Close implements Transport.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}
