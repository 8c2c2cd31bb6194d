package roap

// State is the negotiation state machine's current node. It is a tagged
// variant, not a set of boolean flags — see spec §9's design note on why
// ad-hoc "inProgress" booleans are avoided here.
type State string

const (
	StateIdle                 State = "idle"
	StateCreatingLocalOffer   State = "creatingLocalOffer"
	StateSettingLocalOffer    State = "settingLocalOffer"
	StateWaitingForAnswer     State = "waitingForAnswer"
	StateSettingRemoteAnswer  State = "settingRemoteAnswer"
	StateHandlingOfferRequest State = "handlingOfferRequest"
	StateSettingRemoteOffer   State = "settingRemoteOffer"
	StateCreatingLocalAnswer  State = "creatingLocalAnswer"
	StateWaitingForOk         State = "waitingForOk"
	StateBrowserError         State = "browserError"
	StateRemoteError          State = "remoteError"
)

// IsTerminal reports whether s is one of the two absorbing error states.
// Terminal states ignore all further inputs (spec §5).
func (s State) IsTerminal() bool {
	return s == StateBrowserError || s == StateRemoteError
}

// initiateOfferDisposition is the engine's decision for a re-entrant
// initiateOffer() call, keyed by the state it arrives in (spec §4.2).
type initiateOfferDisposition int

const (
	// dispositionStart means the engine is idle: begin a brand new exchange.
	dispositionStart initiateOfferDisposition = iota
	// dispositionRestart means the engine has not yet emitted an outbound
	// message for the exchange it is building: abandon and redo it.
	dispositionRestart
	// dispositionQueue means an outbound message already left the engine
	// for this exchange (or a remote exchange is in flight): defer until idle.
	dispositionQueue
)

// initiateOfferAction returns how a call to initiateOffer() should be
// handled given the engine's current state. This is the explicit guarded
// transition table spec §4.2 calls for; restart and queue are the two kinds
// of self-edge the design notes describe.
func initiateOfferAction(s State) initiateOfferDisposition {
	switch s {
	case StateIdle:
		return dispositionStart
	case StateCreatingLocalOffer, StateSettingLocalOffer, StateHandlingOfferRequest:
		return dispositionRestart
	default:
		// waitingForAnswer, settingRemoteAnswer, settingRemoteOffer,
		// creatingLocalAnswer, waitingForOk, and the terminal states all
		// queue (terminal states additionally refuse the call outright;
		// the engine checks IsTerminal separately before consulting this).
		return dispositionQueue
	}
}

// acceptsRemoteOfferAsGlare reports whether an inbound OFFER/OFFER_REQUEST
// arriving in state s collides with a local offer already being created or
// already emitted, and must be answered with CONFLICT rather than processed
// as a fresh remote-initiated exchange (spec §4.2 "Glare resolution").
func acceptsRemoteOfferAsGlare(s State) bool {
	switch s {
	case StateCreatingLocalOffer, StateSettingLocalOffer, StateWaitingForAnswer:
		return true
	default:
		return false
	}
}
