// Package signaling is the ROAP signaling relay: a WebSocket server that
// forwards Envelope-wrapped messages between exactly two registered peers.
// It knows nothing about ROAP's message semantics — it moves bytes between
// whichever two peer IDs an Envelope names.
package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cornelk/hashmap"
	"github.com/gorilla/websocket"

	"github.com/nmn/roap-signal/common"
)

// Envelope is the wire frame the relay forwards. Grounded on the teacher's
// WebSocketForwardMessageContainer[C], narrowed to the fields a persistent
// duplex relay needs (no MessageID/Type tracking a single forward-then-reply
// round trip, since peers stay connected and exchange many envelopes).
type Envelope struct {
	SenderID string          `json:"sender_id"`
	TargetID string          `json:"target_id"`
	Message  json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Relay holds the registry of currently connected peers and forwards
// Envelopes between them. Grounded on server/server.go, generalized from a
// single read-then-forward-then-return handler to a long-lived relay loop.
type Relay struct {
	tokens     map[string]struct{}
	maxMsgSize int64
	peers      *hashmap.Map[string, *common.RWLock[*websocket.Conn]]
	logger     *slog.Logger
}

// NewRelay constructs a Relay. An empty tokens list disables bearer-token
// gating (any peer may register).
func NewRelay(tokens []string, maxMsgSize int64, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}
	return &Relay{
		tokens:     tokenSet,
		maxMsgSize: maxMsgSize,
		peers:      hashmap.New[string, *common.RWLock[*websocket.Conn]](),
		logger:     logger,
	}
}

func (r *Relay) authorized(req *http.Request) bool {
	if len(r.tokens) == 0 {
		return true
	}
	token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	_, ok := r.tokens[token]
	return ok
}

// ServeHTTP upgrades the request to a WebSocket connection, registers the
// caller under the "id" query parameter, and relays Envelopes to and from
// it until the connection closes. Non-goal per spec.md: persistence across
// process restarts — a peer reconnecting after a relay restart is a fresh
// registration, not a resumed session.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !r.authorized(req) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	peerID := req.URL.Query().Get("id")
	if peerID == "" {
		http.Error(w, "missing id query parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("signaling: upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(r.maxMsgSize)

	r.peers.Set(peerID, common.NewRWLock(conn))
	r.logger.Info("signaling: peer connected", "id", peerID)
	defer func() {
		r.peers.Del(peerID)
		conn.Close()
		r.logger.Info("signaling: peer disconnected", "id", peerID)
	}()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Warn("signaling: read error", "id", peerID, "err", err)
			}
			return
		}
		env.SenderID = peerID
		r.forward(env)
	}
}

func (r *Relay) forward(env Envelope) {
	target, ok := r.peers.Get(env.TargetID)
	if !ok {
		r.logger.Warn("signaling: target peer not registered", "target", env.TargetID)
		return
	}
	target.Write(func(c *websocket.Conn) {
		if err := c.WriteJSON(env); err != nil {
			r.logger.Error("signaling: forward write error", "target", env.TargetID, "err", err)
		}
	})
}
