package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/cornelk/hashmap"
)

// Mailbox is a REST-polled counterpart to Relay: instead of holding a
// persistent WebSocket connection open, a peer registers once and then
// sends/receives individual Envelopes over plain HTTP. Grounded on the
// teacher's RegisterHost/SendSignal/ReceiveSignal trio in
// common/rtc/rtc.go, generalized from per-event-type REST resources to one
// generic Envelope-shaped endpoint.
type Mailbox struct {
	queues      *hashmap.Map[string, chan Envelope]
	queueSize   int
	receiveWait time.Duration
	logger      *slog.Logger
}

// NewMailbox constructs a Mailbox. receiveWait bounds how long ReceiveHandler
// holds a poll request open waiting for a message before responding 204.
func NewMailbox(queueSize int, receiveWait time.Duration, logger *slog.Logger) *Mailbox {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Mailbox{
		queues:      hashmap.New[string, chan Envelope](),
		queueSize:   queueSize,
		receiveWait: receiveWait,
		logger:      logger,
	}
}

func (m *Mailbox) queueFor(id string) chan Envelope {
	if q, ok := m.queues.Get(id); ok {
		return q
	}
	q := make(chan Envelope, m.queueSize)
	actual, _ := m.queues.GetOrInsert(id, q)
	return actual
}

type registerRequest struct {
	ID string `json:"id"`
}

// RegisterHandler ensures a peer's queue exists. Registration is idempotent:
// calling it again for an already-registered peer is a no-op.
func (m *Mailbox) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	m.queueFor(req.ID)
	m.logger.Info("signaling: mailbox registered", "id", req.ID)
	w.WriteHeader(http.StatusOK)
}

// SendHandler enqueues an Envelope for its target. If the target's queue is
// full, the message is dropped and logged rather than blocking the sender —
// a slow poller is the poller's problem, not the sender's.
func (m *Mailbox) SendHandler(w http.ResponseWriter, r *http.Request) {
	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}
	if env.TargetID == "" {
		http.Error(w, "missing target_id", http.StatusBadRequest)
		return
	}
	select {
	case m.queueFor(env.TargetID) <- env:
	default:
		m.logger.Warn("signaling: mailbox queue full, dropping envelope", "target", env.TargetID)
	}
	w.WriteHeader(http.StatusOK)
}

// ReceiveHandler long-polls for the next Envelope addressed to the "id"
// query parameter, responding 204 if none arrives within receiveWait.
func (m *Mailbox) ReceiveHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id query parameter", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), m.receiveWait)
	defer cancel()

	select {
	case env := <-m.queueFor(id):
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(env)
	case <-ctx.Done():
		w.WriteHeader(http.StatusNoContent)
	}
}

// Mount registers the Mailbox's three endpoints on mux.
func (m *Mailbox) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/signal/register", m.RegisterHandler)
	mux.HandleFunc("/signal/send", m.SendHandler)
	mux.HandleFunc("/signal/receive", m.ReceiveHandler)
}
