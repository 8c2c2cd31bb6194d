package roap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePeerConnection is a scriptable PeerConnection for driving the engine's
// state machine deterministically in tests, without a real pion/webrtc stack.
type fakePeerConnection struct {
	offerSDP  string
	answerSDP string

	createOfferErr  error
	createAnswerErr error
	setLocalErr     error
	setRemoteErr    error

	// createOfferDelay lets a test widen the window during which
	// CreateOffer is in flight, so a restart reliably lands before the
	// stale result would otherwise have been posted.
	createOfferDelay time.Duration

	local SessionDescription
}

func (f *fakePeerConnection) CreateOffer(ctx context.Context) (SessionDescription, error) {
	if f.createOfferDelay > 0 {
		time.Sleep(f.createOfferDelay)
	}
	if f.createOfferErr != nil {
		return SessionDescription{}, f.createOfferErr
	}
	return SessionDescription{Type: SDPTypeOffer, SDP: f.offerSDP}, nil
}

func (f *fakePeerConnection) CreateAnswer(ctx context.Context) (SessionDescription, error) {
	if f.createAnswerErr != nil {
		return SessionDescription{}, f.createAnswerErr
	}
	return SessionDescription{Type: SDPTypeAnswer, SDP: f.answerSDP}, nil
}

func (f *fakePeerConnection) SetLocalDescription(ctx context.Context, desc SessionDescription) error {
	if f.setLocalErr != nil {
		return f.setLocalErr
	}
	f.local = desc
	return nil
}

func (f *fakePeerConnection) SetRemoteDescription(ctx context.Context, desc SessionDescription) error {
	return f.setRemoteErr
}

func (f *fakePeerConnection) LocalDescription() (SessionDescription, bool) {
	return f.local, f.local.SDP != ""
}

const testTimeout = 2 * time.Second

func recvOutbound(t *testing.T, e *Engine) RoapMessage {
	t.Helper()
	select {
	case msg := <-e.Outbound():
		return msg
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for outbound message, state=%s", e.State())
		return RoapMessage{}
	}
}

func recvFailure(t *testing.T, e *Engine) FailureEvent {
	t.Helper()
	select {
	case f := <-e.Failures():
		return f
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for failure event, state=%s", e.State())
		return FailureEvent{}
	}
}

func requireNoOutbound(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case msg := <-e.Outbound():
		t.Fatalf("expected no outbound message, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestEngine(pc PeerConnection) *Engine {
	return New(pc, IdentityMunger, nil)
}

// Scenario 1: a local caller drives the full client-initiated offer/answer
// exchange to completion.
func TestEngine_ClientInitiatedOffer(t *testing.T) {
	pc := &fakePeerConnection{offerSDP: "offer-sdp"}
	e := newTestEngine(pc)
	defer e.Close()
	ctx := context.Background()

	require.NoError(t, e.InitiateOffer(ctx))

	offer := recvOutbound(t, e)
	require.Equal(t, MessageOffer, offer.MessageType)
	require.Equal(t, uint64(1), offer.Seq)
	require.Equal(t, "offer-sdp", offer.SDP)
	require.NotNil(t, offer.TieBreaker)
	require.Equal(t, uint32(0xFFFFFFFE), *offer.TieBreaker)
	require.Equal(t, StateWaitingForAnswer, e.State())

	require.NoError(t, e.RoapMessageReceived(ctx, RoapMessage{
		MessageType: MessageAnswer, Seq: 1, SDP: "answer-sdp",
	}))

	ok := recvOutbound(t, e)
	require.Equal(t, MessageOK, ok.MessageType)
	require.Equal(t, uint64(1), ok.Seq)
	require.Equal(t, StateIdle, e.State())
}

// Scenario 2: a remote OFFER_REQUEST drives a backend-initiated exchange.
func TestEngine_BackendInitiatedOfferRequest(t *testing.T) {
	pc := &fakePeerConnection{offerSDP: "backend-offer-sdp"}
	e := newTestEngine(pc)
	defer e.Close()
	ctx := context.Background()

	require.NoError(t, e.RoapMessageReceived(ctx, RoapMessage{
		MessageType: MessageOfferRequest, Seq: 10,
	}))

	resp := recvOutbound(t, e)
	require.Equal(t, MessageOfferResponse, resp.MessageType)
	require.Equal(t, uint64(10), resp.Seq)
	require.Equal(t, "backend-offer-sdp", resp.SDP)
	require.Nil(t, resp.TieBreaker)
	require.Equal(t, StateWaitingForAnswer, e.State())

	require.NoError(t, e.RoapMessageReceived(ctx, RoapMessage{
		MessageType: MessageAnswer, Seq: 10, SDP: "answer-sdp",
	}))

	ok := recvOutbound(t, e)
	require.Equal(t, MessageOK, ok.MessageType)
	require.Equal(t, uint64(10), ok.Seq)
	require.Equal(t, StateIdle, e.State())
}

// Scenario 3: a remote-initiated OFFER is answered and acknowledged.
func TestEngine_RemoteInitiatedOffer(t *testing.T) {
	tb := uint32(123)
	pc := &fakePeerConnection{answerSDP: "my-answer-sdp"}
	e := newTestEngine(pc)
	defer e.Close()
	ctx := context.Background()

	require.NoError(t, e.RoapMessageReceived(ctx, RoapMessage{
		MessageType: MessageOffer, Seq: 5, SDP: "their-offer-sdp", TieBreaker: &tb,
	}))

	answer := recvOutbound(t, e)
	require.Equal(t, MessageAnswer, answer.MessageType)
	require.Equal(t, uint64(5), answer.Seq)
	require.Equal(t, "my-answer-sdp", answer.SDP)
	require.Equal(t, StateWaitingForOk, e.State())

	require.NoError(t, e.RoapMessageReceived(ctx, RoapMessage{MessageType: MessageOK, Seq: 5}))
	require.Equal(t, StateIdle, e.State())
}

// Scenario 4: glare — our own offer is in flight (waitingForAnswer) when the
// remote also tries to offer. The local fixed tie-breaker wins by always
// replying CONFLICT and continuing to wait for our own ANSWER.
func TestEngine_GlareLocalWins(t *testing.T) {
	pc := &fakePeerConnection{offerSDP: "our-offer-sdp"}
	e := newTestEngine(pc)
	defer e.Close()
	ctx := context.Background()

	require.NoError(t, e.InitiateOffer(ctx))
	offer := recvOutbound(t, e)
	require.Equal(t, MessageOffer, offer.MessageType)
	require.Equal(t, StateWaitingForAnswer, e.State())

	remoteTB := uint32(42)
	require.NoError(t, e.RoapMessageReceived(ctx, RoapMessage{
		MessageType: MessageOffer, Seq: 1, SDP: "their-offer-sdp", TieBreaker: &remoteTB,
	}))

	conflict := recvOutbound(t, e)
	require.Equal(t, MessageError, conflict.MessageType)
	require.Equal(t, ErrorConflict, conflict.ErrorType)
	require.Equal(t, StateWaitingForAnswer, e.State())

	require.NoError(t, e.RoapMessageReceived(ctx, RoapMessage{
		MessageType: MessageAnswer, Seq: 1, SDP: "answer-sdp",
	}))
	ok := recvOutbound(t, e)
	require.Equal(t, MessageOK, ok.MessageType)
	require.Equal(t, StateIdle, e.State())
}

// Scenario 5: a DOUBLECONFLICT is retried by re-emitting the stored offer
// verbatim with seq+1, without invoking CreateOffer again.
func TestEngine_DoubleConflictRetry(t *testing.T) {
	pc := &fakePeerConnection{offerSDP: "our-offer-sdp"}
	e := newTestEngine(pc)
	defer e.Close()
	ctx := context.Background()

	require.NoError(t, e.InitiateOffer(ctx))
	offer := recvOutbound(t, e)
	require.Equal(t, uint64(1), offer.Seq)

	require.NoError(t, e.RoapMessageReceived(ctx, RoapMessage{
		MessageType: MessageError, Seq: 1, ErrorType: ErrorDoubleConflict,
	}))

	retry := recvOutbound(t, e)
	require.Equal(t, MessageOffer, retry.MessageType)
	require.Equal(t, uint64(2), retry.Seq)
	require.Equal(t, offer.SDP, retry.SDP)
	require.Equal(t, *offer.TieBreaker, *retry.TieBreaker)
	require.Equal(t, StateWaitingForAnswer, e.State())

	require.NoError(t, e.RoapMessageReceived(ctx, RoapMessage{
		MessageType: MessageAnswer, Seq: 2, SDP: "answer-sdp",
	}))
	ok := recvOutbound(t, e)
	require.Equal(t, uint64(2), ok.Seq)
	require.Equal(t, StateIdle, e.State())
}

// Scenario 6: exhausting the retry budget (retryCount > 3) terminates the
// negotiation as remoteError, with no further outbound traffic.
func TestEngine_RetryExhaustionTerminatesNegotiation(t *testing.T) {
	pc := &fakePeerConnection{offerSDP: "our-offer-sdp"}
	e := newTestEngine(pc)
	defer e.Close()
	ctx := context.Background()

	require.NoError(t, e.InitiateOffer(ctx))
	offer := recvOutbound(t, e)
	seq := offer.Seq

	for i := 0; i < 3; i++ {
		require.NoError(t, e.RoapMessageReceived(ctx, RoapMessage{
			MessageType: MessageError, Seq: seq, ErrorType: ErrorRetry,
		}))
		retry := recvOutbound(t, e)
		require.Equal(t, MessageOffer, retry.MessageType)
		seq = retry.Seq
	}

	// The 4th consecutive retryable ERROR exhausts the retry budget.
	require.NoError(t, e.RoapMessageReceived(ctx, RoapMessage{
		MessageType: MessageError, Seq: seq, ErrorType: ErrorRetry,
	}))

	failure := recvFailure(t, e)
	require.Equal(t, FailureRemoteError, failure.Reason)
	require.Equal(t, StateRemoteError, failure.State)
	require.Equal(t, StateRemoteError, e.State())
	requireNoOutbound(t, e)

	// Terminal states are absorbing.
	require.NoError(t, e.InitiateOffer(ctx))
	requireNoOutbound(t, e)
}

// Scenario 7: a renegotiation requested after an outbound offer has already
// left the engine is queued, not restarted, and fires once idle is reached.
func TestEngine_QueuedRenegotiationFiresOnIdle(t *testing.T) {
	pc := &fakePeerConnection{offerSDP: "offer-1"}
	e := newTestEngine(pc)
	defer e.Close()
	ctx := context.Background()

	require.NoError(t, e.InitiateOffer(ctx))
	first := recvOutbound(t, e)
	require.Equal(t, uint64(1), first.Seq)

	// Queued: we're in waitingForAnswer, an outbound message already left.
	require.NoError(t, e.InitiateOffer(ctx))
	requireNoOutbound(t, e)

	require.NoError(t, e.RoapMessageReceived(ctx, RoapMessage{
		MessageType: MessageAnswer, Seq: 1, SDP: "answer-1",
	}))
	ok := recvOutbound(t, e)
	require.Equal(t, MessageOK, ok.MessageType)

	pc.offerSDP = "offer-2"
	second := recvOutbound(t, e)
	require.Equal(t, MessageOffer, second.MessageType)
	require.Equal(t, uint64(2), second.Seq)
	require.Equal(t, StateWaitingForAnswer, e.State())
}

// Scenario 8: calling initiateOffer again before any outbound message has
// left restarts the in-flight creation rather than queuing it, and the
// stale CreateOffer result is discarded when it eventually arrives.
func TestEngine_RestartBeforeOutboundMessageLeaves(t *testing.T) {
	pc := &fakePeerConnection{offerSDP: "stale-offer-sdp", createOfferDelay: 100 * time.Millisecond}
	e := newTestEngine(pc)
	defer e.Close()
	ctx := context.Background()

	require.NoError(t, e.InitiateOffer(ctx))
	require.Equal(t, StateCreatingLocalOffer, e.State())

	// Still in creatingLocalOffer/settingLocalOffer: this is a restart, not
	// a queue. Flip the SDP the fake will hand back on the next CreateOffer.
	pc.offerSDP = "fresh-offer-sdp"
	require.NoError(t, e.InitiateOffer(ctx))

	offer := recvOutbound(t, e)
	require.Equal(t, MessageOffer, offer.MessageType)
	require.Equal(t, uint64(1), offer.Seq)
	require.Equal(t, "fresh-offer-sdp", offer.SDP)
	requireNoOutbound(t, e)
}

// Scenario 9: a browser-primitive failure terminates the negotiation as
// browserError and notifies the peer with ERROR(FAILED).
func TestEngine_BrowserFailureTerminatesNegotiation(t *testing.T) {
	pc := &fakePeerConnection{createOfferErr: errors.New("ice gathering failed")}
	e := newTestEngine(pc)
	defer e.Close()
	ctx := context.Background()

	require.NoError(t, e.InitiateOffer(ctx))

	failed := recvOutbound(t, e)
	require.Equal(t, MessageError, failed.MessageType)
	require.Equal(t, ErrorFailed, failed.ErrorType)

	failure := recvFailure(t, e)
	require.Equal(t, FailureBrowserError, failure.Reason)
	require.Equal(t, StateBrowserError, failure.State)
	require.Equal(t, StateBrowserError, e.State())
}

func TestEngine_MalformedInboundMessageTerminatesNegotiation(t *testing.T) {
	pc := &fakePeerConnection{}
	e := newTestEngine(pc)
	defer e.Close()
	ctx := context.Background()

	require.NoError(t, e.RoapMessageReceived(ctx, RoapMessage{MessageType: MessageOffer, Seq: 1}))

	failed := recvOutbound(t, e)
	require.Equal(t, MessageError, failed.MessageType)
	require.Equal(t, ErrorFailed, failed.ErrorType)

	failure := recvFailure(t, e)
	require.Equal(t, FailureRemoteError, failure.Reason)
	require.Equal(t, StateRemoteError, e.State())
}

func TestEngine_OutOfOrderSeqRejected(t *testing.T) {
	pc := &fakePeerConnection{offerSDP: "offer-sdp"}
	e := newTestEngine(pc)
	defer e.Close()
	ctx := context.Background()

	require.NoError(t, e.InitiateOffer(ctx))
	recvOutbound(t, e)
	require.Equal(t, StateWaitingForAnswer, e.State())

	require.NoError(t, e.RoapMessageReceived(ctx, RoapMessage{
		MessageType: MessageAnswer, Seq: 99, SDP: "answer-sdp",
	}))

	reply := recvOutbound(t, e)
	require.Equal(t, MessageError, reply.MessageType)
	require.Equal(t, ErrorOutOfOrder, reply.ErrorType)
	require.Equal(t, StateWaitingForAnswer, e.State())
}

func TestEngine_CloseIsIdempotentAndRejectsFurtherCalls(t *testing.T) {
	pc := &fakePeerConnection{}
	e := newTestEngine(pc)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	err := e.InitiateOffer(context.Background())
	require.ErrorIs(t, err, ErrEngineClosed)
}
