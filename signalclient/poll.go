package signalclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/nmn/roap-signal/roap"
	"github.com/nmn/roap-signal/signaling"
)

// PollTransport is a REST long-poll Transport backed by a signaling.Mailbox.
// Grounded on common/rtc/rtc.go's RegisterHost/SendSignal/ReceiveSignal
// resty calls, generalized from per-event-type resources to one generic
// Envelope endpoint set.
type PollTransport struct {
	client   *resty.Client
	localID  string
	remoteID string
	logger   *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// DialPoll registers localID with the Mailbox at baseURL and returns a
// Transport that sends to and receives from remoteID. token, if non-empty,
// is sent as a bearer Authorization header on every request.
func DialPoll(ctx context.Context, baseURL, localID, remoteID, token string, logger *slog.Logger) (*PollTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().SetBaseURL(baseURL)
	if token != "" {
		client.SetAuthToken(token)
	}

	res, err := client.R().SetContext(ctx).SetBody(map[string]string{"id": localID}).Post("/signal/register")
	if err != nil {
		return nil, fmt.Errorf("signalclient: register with mailbox: %w", err)
	}
	if res.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("signalclient: register with mailbox: status %s", res.Status())
	}
	logger.Info("signalclient: registered with mailbox", "id", localID)

	return &PollTransport{
		client:   client,
		localID:  localID,
		remoteID: remoteID,
		logger:   logger,
		closed:   make(chan struct{}),
	}, nil
}

// Send implements Transport.
func (t *PollTransport) Send(ctx context.Context, msg roap.RoapMessage) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("signalclient: marshal roap message: %w", err)
	}
	env := signaling.Envelope{SenderID: t.localID, TargetID: t.remoteID, Message: payload}

	res, err := t.client.R().SetContext(ctx).SetBody(env).Post("/signal/send")
	if err != nil {
		return fmt.Errorf("signalclient: send to mailbox: %w", err)
	}
	if res.StatusCode() != http.StatusOK {
		return fmt.Errorf("signalclient: send to mailbox: status %s", res.Status())
	}
	return nil
}

// Receive implements Transport. It long-polls the mailbox's receive
// endpoint, retrying on each 204 (no message yet) until a message arrives,
// ctx is canceled, or the transport is closed.
func (t *PollTransport) Receive(ctx context.Context) (roap.RoapMessage, error) {
	for {
		select {
		case <-t.closed:
			return roap.RoapMessage{}, ErrClosed
		case <-ctx.Done():
			return roap.RoapMessage{}, ctx.Err()
		default:
		}

		res, err := t.client.R().SetContext(ctx).SetQueryParam("id", t.localID).Get("/signal/receive")
		if err != nil {
			return roap.RoapMessage{}, fmt.Errorf("signalclient: receive from mailbox: %w", err)
		}
		if res.StatusCode() == http.StatusNoContent {
			continue
		}
		if res.StatusCode() != http.StatusOK {
			return roap.RoapMessage{}, fmt.Errorf("signalclient: receive from mailbox: status %s", res.Status())
		}

		var env signaling.Envelope
		if err := json.Unmarshal(res.Body(), &env); err != nil {
			return roap.RoapMessage{}, fmt.Errorf("signalclient: decode envelope: %w", err)
		}
		var msg roap.RoapMessage
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			return roap.RoapMessage{}, fmt.Errorf("signalclient: decode roap message: %w", err)
		}
		return msg, nil
	}
}

// Close implements Transport. The mailbox itself has no unregister
// endpoint — its queue is reclaimed only when the process restarts — so
// Close here just marks the transport unusable locally.
func (t *PollTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}
