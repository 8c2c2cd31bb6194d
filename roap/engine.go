package roap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// outboundBuffer is the capacity of the Outbound() channel. A ROAP exchange
// only ever has a handful of messages in flight at once, so a small bounded
// queue is enough to keep emitOutbound from blocking the engine's single
// worker goroutine on a slow consumer.
const outboundBuffer = 32

// engineCore is every piece of mutable state the coordinator owns (spec
// §3's EngineState, plus the bookkeeping needed to correlate asynchronous
// peer-connection results back to the exchange that requested them). It is
// touched exclusively from the engine's single worker goroutine.
type engineCore struct {
	state               State
	seq                 uint64
	pendingLocalOffer   bool
	retryCount          int
	lastOfferSDP        string
	lastOfferTieBreaker *uint32
	lastOutboundType    MessageType

	// attempt is incremented every time a new asynchronous peer-connection
	// step is launched (fresh start, restart, or queued renegotiation). A
	// background goroutine's result is discarded if, by the time it
	// completes, attempt has moved on without it — this is how "restart"
	// abandons an in-flight createOffer/setLocalDescription/munge chain.
	attempt uint64

	closed bool
}

// Engine is the ROAP Coordinator: it owns the sequence number, the
// pending-renegotiation flag, the retry counter, and the outbound-message
// emitter, and drives the negotiation state machine in state.go.
type Engine struct {
	pc     PeerConnection
	munge  MungerFunc
	logger *slog.Logger

	inbox  chan func()
	closed chan struct{}
	once   sync.Once

	outbound chan RoapMessage
	failures chan FailureEvent

	core engineCore

	// stateSnapshot lets State() be read without a round trip through the
	// worker goroutine, including after Close.
	stateSnapshot atomic.Value
}

// New constructs an Engine in the idle state, wired to pc for peer-connection
// primitives and munge for SDP post-processing. The returned Engine's worker
// goroutine runs until Close is called.
func New(pc PeerConnection, munge MungerFunc, logger *slog.Logger) *Engine {
	if munge == nil {
		munge = IdentityMunger
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		pc:       pc,
		munge:    munge,
		logger:   logger,
		inbox:    make(chan func(), 8),
		closed:   make(chan struct{}),
		outbound: make(chan RoapMessage, outboundBuffer),
		failures: make(chan FailureEvent, 1),
		core:     engineCore{state: StateIdle},
	}
	e.stateSnapshot.Store(StateIdle)
	go e.run()
	return e
}

func (e *Engine) run() {
	for {
		select {
		case fn := <-e.inbox:
			fn()
		case <-e.closed:
			return
		}
	}
}

// post submits fn to the worker loop, dropping it silently if the engine has
// already been closed. Used for internal events (background goroutine
// results) that have no caller waiting on them.
func (e *Engine) post(fn func()) {
	select {
	case e.inbox <- fn:
	case <-e.closed:
	}
}

// Outbound is the ROAP_MESSAGE_TO_SEND event stream: every RoapMessage the
// engine produces, in strict causal order with the transitions that
// produced them.
func (e *Engine) Outbound() <-chan RoapMessage { return e.outbound }

// Failures is the ROAP_FAILURE event stream. It fires exactly once, when the
// engine enters a terminal state.
func (e *Engine) Failures() <-chan FailureEvent { return e.failures }

// State returns the engine's current negotiation state.
func (e *Engine) State() State {
	return e.stateSnapshot.Load().(State)
}

// Close stops the engine's worker goroutine. It is idempotent: calling it
// more than once, or calling it concurrently, is safe. After Close, every
// call to InitiateOffer / RoapMessageReceived returns ErrEngineClosed.
func (e *Engine) Close() error {
	e.once.Do(func() {
		close(e.closed)
	})
	return nil
}

// InitiateOffer requests that a new local offer/answer exchange begin. It
// resolves once the request has been admitted into the state machine, not
// once the exchange completes — see spec §4.1.
func (e *Engine) InitiateOffer(ctx context.Context) error {
	select {
	case <-e.closed:
		return ErrEngineClosed
	default:
	}
	result := make(chan error, 1)
	submitted := func() { result <- e.handleInitiateOffer(ctx) }
	select {
	case e.inbox <- submitted:
	case <-e.closed:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RoapMessageReceived delivers an inbound message to the engine. It resolves
// once the message has been admitted to the state machine, not once any
// resulting outbound message has been sent — see spec §4.1. Messages are
// processed strictly one at a time, each fully completing its transition
// before the next is admitted (spec §5).
func (e *Engine) RoapMessageReceived(ctx context.Context, msg RoapMessage) error {
	select {
	case <-e.closed:
		return ErrEngineClosed
	default:
	}
	result := make(chan error, 1)
	submitted := func() { result <- e.handleMessage(ctx, msg) }
	select {
	case e.inbox <- submitted:
	case <-e.closed:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- internal: initiateOffer handling -------------------------------------

func (e *Engine) handleInitiateOffer(ctx context.Context) error {
	if e.core.closed {
		return ErrEngineClosed
	}
	if e.core.state.IsTerminal() {
		// Terminal states are absorbing; the call is admitted but has no effect.
		return nil
	}

	switch initiateOfferAction(e.core.state) {
	case dispositionStart:
		e.core.seq++
		e.core.attempt++
		e.setState(StateCreatingLocalOffer)
		e.logger.Debug("roap: starting local offer", "seq", e.core.seq)
		e.launchLocalOfferCreate(ctx, e.core.attempt, e.core.seq)
	case dispositionRestart:
		e.core.attempt++
		e.logger.Debug("roap: restarting in-flight local offer creation", "state", e.core.state, "seq", e.core.seq)
		if e.core.state == StateHandlingOfferRequest {
			e.launchOfferRequestFlow(ctx, e.core.attempt, e.core.seq)
		} else {
			e.setState(StateCreatingLocalOffer)
			e.launchLocalOfferCreate(ctx, e.core.attempt, e.core.seq)
		}
	case dispositionQueue:
		e.core.pendingLocalOffer = true
		e.logger.Debug("roap: queuing renegotiation", "state", e.core.state)
	}
	return nil
}

func (e *Engine) maybeStartQueuedOffer(ctx context.Context) {
	if !e.core.pendingLocalOffer {
		return
	}
	e.core.pendingLocalOffer = false
	e.core.seq++
	e.core.attempt++
	e.setState(StateCreatingLocalOffer)
	e.logger.Debug("roap: starting queued renegotiation", "seq", e.core.seq)
	e.launchLocalOfferCreate(ctx, e.core.attempt, e.core.seq)
}

// --- internal: inbound message handling -----------------------------------

func (e *Engine) handleMessage(ctx context.Context, msg RoapMessage) error {
	if e.core.closed {
		return ErrEngineClosed
	}
	if err := msg.validate(); err != nil {
		e.logger.Warn("roap: malformed inbound message", "err", err)
		e.emitOutbound(RoapMessage{MessageType: MessageError, Seq: msg.Seq, ErrorType: ErrorFailed})
		e.terminate(FailureRemoteError, err)
		return nil
	}
	if e.core.state.IsTerminal() {
		return nil
	}

	if e.core.state == StateIdle {
		return e.handleMessageIdle(ctx, msg)
	}
	return e.handleMessageInFlight(ctx, msg)
}

func (e *Engine) handleMessageIdle(ctx context.Context, msg RoapMessage) error {
	switch msg.MessageType {
	case MessageOffer:
		e.core.seq = msg.Seq
		e.core.attempt++
		e.setState(StateSettingRemoteOffer)
		e.launchSetRemoteOffer(ctx, e.core.attempt, msg.SDP)
	case MessageOfferRequest:
		e.core.seq = msg.Seq
		e.core.attempt++
		e.setState(StateHandlingOfferRequest)
		e.launchOfferRequestFlow(ctx, e.core.attempt, e.core.seq)
	default:
		e.emitOutbound(RoapMessage{MessageType: MessageError, Seq: msg.Seq, ErrorType: ErrorInvalidState})
	}
	return nil
}

func (e *Engine) handleMessageInFlight(ctx context.Context, msg RoapMessage) error {
	if msg.Seq != e.core.seq {
		if msg.MessageType == MessageError {
			// Stale or foreign error: drop silently rather than risk an error loop.
			return nil
		}
		e.emitOutbound(RoapMessage{MessageType: MessageError, Seq: msg.Seq, ErrorType: ErrorOutOfOrder})
		return nil
	}

	switch msg.MessageType {
	case MessageOffer, MessageOfferRequest:
		if acceptsRemoteOfferAsGlare(e.core.state) {
			e.emitOutbound(RoapMessage{MessageType: MessageError, Seq: msg.Seq, ErrorType: ErrorConflict})
			return nil
		}
		e.emitOutbound(RoapMessage{MessageType: MessageError, Seq: msg.Seq, ErrorType: ErrorInvalidState})
	case MessageAnswer:
		if e.core.state != StateWaitingForAnswer {
			e.emitOutbound(RoapMessage{MessageType: MessageError, Seq: msg.Seq, ErrorType: ErrorInvalidState})
			return nil
		}
		e.core.attempt++
		e.setState(StateSettingRemoteAnswer)
		e.launchSetRemoteAnswer(ctx, e.core.attempt, msg.SDP)
	case MessageOK:
		if e.core.state != StateWaitingForOk {
			e.emitOutbound(RoapMessage{MessageType: MessageError, Seq: msg.Seq, ErrorType: ErrorInvalidState})
			return nil
		}
		e.core.retryCount = 0
		e.setState(StateIdle)
		e.maybeStartQueuedOffer(ctx)
	case MessageError:
		e.handleInboundError(msg)
	default:
		e.emitOutbound(RoapMessage{MessageType: MessageError, Seq: msg.Seq, ErrorType: ErrorInvalidState})
	}
	return nil
}

func (e *Engine) handleInboundError(msg RoapMessage) {
	if !msg.ErrorType.IsRetryable() {
		e.terminate(FailureRemoteError, fmt.Errorf("roap: remote sent fatal error %s", msg.ErrorType))
		return
	}
	if e.core.state != StateWaitingForAnswer {
		// Retryable per the taxonomy, but there is no outstanding local offer
		// to retry verbatim in this state — treat as fatal rather than hang.
		e.terminate(FailureRemoteError, fmt.Errorf("roap: retryable error %s with no pending offer to retry (state=%s)", msg.ErrorType, e.core.state))
		return
	}
	e.core.retryCount++
	if e.core.retryCount > maxRetries {
		e.terminate(FailureRemoteError, fmt.Errorf("roap: retry budget exhausted after %s", msg.ErrorType))
		return
	}
	e.core.seq++
	e.logger.Debug("roap: retrying offer after retryable error", "errorType", msg.ErrorType, "retryCount", e.core.retryCount, "seq", e.core.seq)
	e.emitOutbound(RoapMessage{
		MessageType: e.core.lastOutboundType,
		Seq:         e.core.seq,
		SDP:         e.core.lastOfferSDP,
		TieBreaker:  e.core.lastOfferTieBreaker,
	})
}

// --- internal: asynchronous peer-connection flows -------------------------
//
// Each flow below runs its peer-connection calls on a background goroutine
// and reports the outcome back through the worker loop via post(), tagged
// with the attempt number that was current when it was launched. This is
// how the spec's asynchronous suspension points are realized: the worker
// loop itself never blocks on a peer-connection call, so it stays free to
// admit a restart or a glare message while one is outstanding.

func (e *Engine) launchLocalOfferCreate(ctx context.Context, attempt, seq uint64) {
	go func() {
		offer, err := e.pc.CreateOffer(ctx)
		e.post(func() { e.onLocalOfferCreated(ctx, attempt, seq, offer.SDP, err) })
	}()
}

func (e *Engine) onLocalOfferCreated(ctx context.Context, attempt, seq uint64, sdp string, err error) {
	if e.stale(attempt) {
		return
	}
	if err != nil {
		e.browserFailure(err)
		return
	}
	e.setState(StateSettingLocalOffer)
	go func() {
		setErr := e.pc.SetLocalDescription(ctx, SessionDescription{Type: SDPTypeOffer, SDP: sdp})
		if setErr != nil {
			e.post(func() { e.onLocalOfferReady(attempt, seq, "", setErr) })
			return
		}
		munged, mErr := e.munge(ctx, sdp)
		e.post(func() { e.onLocalOfferReady(attempt, seq, munged, mErr) })
	}()
}

func (e *Engine) onLocalOfferReady(attempt, seq uint64, munged string, err error) {
	if e.stale(attempt) {
		return
	}
	if err != nil {
		e.browserFailure(err)
		return
	}
	tb := localTieBreaker
	e.core.lastOfferSDP = munged
	e.core.lastOfferTieBreaker = &tb
	e.core.lastOutboundType = MessageOffer
	e.emitOutbound(RoapMessage{MessageType: MessageOffer, Seq: seq, SDP: munged, TieBreaker: &tb})
	e.setState(StateWaitingForAnswer)
}

func (e *Engine) launchOfferRequestFlow(ctx context.Context, attempt, seq uint64) {
	go func() {
		offer, err := e.pc.CreateOffer(ctx)
		if err != nil {
			e.post(func() { e.onOfferRequestReady(attempt, seq, "", err) })
			return
		}
		if err := e.pc.SetLocalDescription(ctx, offer); err != nil {
			e.post(func() { e.onOfferRequestReady(attempt, seq, "", err) })
			return
		}
		munged, mErr := e.munge(ctx, offer.SDP)
		e.post(func() { e.onOfferRequestReady(attempt, seq, munged, mErr) })
	}()
}

func (e *Engine) onOfferRequestReady(attempt, seq uint64, munged string, err error) {
	if e.stale(attempt) {
		return
	}
	if err != nil {
		e.browserFailure(err)
		return
	}
	e.core.lastOfferSDP = munged
	e.core.lastOfferTieBreaker = nil
	e.core.lastOutboundType = MessageOfferResponse
	e.emitOutbound(RoapMessage{MessageType: MessageOfferResponse, Seq: seq, SDP: munged})
	e.setState(StateWaitingForAnswer)
}

func (e *Engine) launchSetRemoteOffer(ctx context.Context, attempt uint64, sdp string) {
	go func() {
		err := e.pc.SetRemoteDescription(ctx, SessionDescription{Type: SDPTypeOffer, SDP: sdp})
		e.post(func() { e.onRemoteOfferSet(ctx, attempt, err) })
	}()
}

func (e *Engine) onRemoteOfferSet(ctx context.Context, attempt uint64, err error) {
	if e.stale(attempt) {
		return
	}
	if err != nil {
		e.browserFailure(err)
		return
	}
	seq := e.core.seq
	e.setState(StateCreatingLocalAnswer)
	go func() {
		answer, err := e.pc.CreateAnswer(ctx)
		if err != nil {
			e.post(func() { e.onLocalAnswerReady(attempt, seq, "", err) })
			return
		}
		if err := e.pc.SetLocalDescription(ctx, answer); err != nil {
			e.post(func() { e.onLocalAnswerReady(attempt, seq, "", err) })
			return
		}
		munged, mErr := e.munge(ctx, answer.SDP)
		e.post(func() { e.onLocalAnswerReady(attempt, seq, munged, mErr) })
	}()
}

func (e *Engine) onLocalAnswerReady(attempt, seq uint64, munged string, err error) {
	if e.stale(attempt) {
		return
	}
	if err != nil {
		e.browserFailure(err)
		return
	}
	e.emitOutbound(RoapMessage{MessageType: MessageAnswer, Seq: seq, SDP: munged})
	e.setState(StateWaitingForOk)
}

func (e *Engine) launchSetRemoteAnswer(ctx context.Context, attempt uint64, sdp string) {
	go func() {
		err := e.pc.SetRemoteDescription(ctx, SessionDescription{Type: SDPTypeAnswer, SDP: sdp})
		e.post(func() { e.onRemoteAnswerSet(ctx, attempt, err) })
	}()
}

func (e *Engine) onRemoteAnswerSet(ctx context.Context, attempt uint64, err error) {
	if e.stale(attempt) {
		return
	}
	if err != nil {
		e.browserFailure(err)
		return
	}
	seq := e.core.seq
	e.emitOutbound(RoapMessage{MessageType: MessageOK, Seq: seq})
	e.core.retryCount = 0
	e.setState(StateIdle)
	e.maybeStartQueuedOffer(context.Background())
}

// --- internal: shared helpers ----------------------------------------------

func (e *Engine) stale(attempt uint64) bool {
	return e.core.closed || e.core.state.IsTerminal() || attempt != e.core.attempt
}

func (e *Engine) setState(s State) {
	e.core.state = s
	e.stateSnapshot.Store(s)
}

func (e *Engine) emitOutbound(msg RoapMessage) {
	if e.core.state.IsTerminal() {
		// No further ROAP_MESSAGE_TO_SEND events after a terminal state (spec §8).
		return
	}
	select {
	case e.outbound <- msg:
	case <-e.closed:
	}
}

func (e *Engine) browserFailure(err error) {
	e.emitOutbound(RoapMessage{MessageType: MessageError, Seq: e.core.seq, ErrorType: ErrorFailed})
	e.terminate(FailureBrowserError, err)
}

func (e *Engine) terminate(reason FailureReason, err error) {
	if e.core.state.IsTerminal() {
		return
	}
	target := StateRemoteError
	if reason == FailureBrowserError {
		target = StateBrowserError
	}
	e.setState(target)
	e.logger.Error("roap: entering terminal state", "state", target, "reason", reason, "err", err)
	select {
	case e.failures <- FailureEvent{Reason: reason, State: target, Err: err}:
	default:
	}
}
