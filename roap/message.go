// Package roap implements the ROAP (RTCWEB Offer/Answer Protocol) negotiation
// core: the message model, the negotiation state machine, and the coordinator
// that drives SDP exchange between a local peer and a remote peer.
package roap

// MessageType identifies the kind of a RoapMessage on the wire.
type MessageType string

const (
	MessageOffer         MessageType = "OFFER"
	MessageOfferRequest  MessageType = "OFFER_REQUEST"
	MessageOfferResponse MessageType = "OFFER_RESPONSE"
	MessageAnswer        MessageType = "ANSWER"
	MessageOK            MessageType = "OK"
	MessageError         MessageType = "ERROR"
)

// ErrorType identifies the kind of protocol error carried by an ERROR message.
type ErrorType string

const (
	ErrorConflict       ErrorType = "CONFLICT"
	ErrorDoubleConflict ErrorType = "DOUBLECONFLICT"
	ErrorInvalidState   ErrorType = "INVALID_STATE"
	ErrorOutOfOrder     ErrorType = "OUT_OF_ORDER"
	ErrorRetry          ErrorType = "RETRY"
	ErrorFailed         ErrorType = "FAILED"
	ErrorNoMatch        ErrorType = "NOMATCH"
	ErrorTimeout        ErrorType = "TIMEOUT"
)

// retryableErrors is the set of ERROR types that the engine absorbs locally
// (up to the retry budget in errors.go) instead of surfacing as a failure.
var retryableErrors = map[ErrorType]bool{
	ErrorDoubleConflict: true,
	ErrorInvalidState:   true,
	ErrorOutOfOrder:     true,
	ErrorRetry:          true,
}

// IsRetryable reports whether an inbound ERROR of this type is absorbed
// locally (with a re-emit of the last offer) rather than terminating the
// negotiation.
func (e ErrorType) IsRetryable() bool {
	return retryableErrors[e]
}

// localTieBreaker is the fixed tie-breaker value every locally generated
// OFFER carries. It sits one below the 32-bit maximum so that a randomly
// generated remote tie-breaker can essentially never collide with it while
// still leaving 0xFFFFFFFF free as a sentinel. Do not change this value —
// see spec §9.
const localTieBreaker uint32 = 0xFFFFFFFE

// RoapMessage is the wire unit exchanged between peers during a ROAP
// negotiation. Field names are wire-significant: this struct is serialized
// to JSON verbatim by the signaling transports.
type RoapMessage struct {
	MessageType MessageType `json:"messageType"`
	Seq         uint64      `json:"seq"`
	SDP         string      `json:"sdp,omitempty"`
	TieBreaker  *uint32     `json:"tieBreaker,omitempty"`
	ErrorType   ErrorType   `json:"errorType,omitempty"`

	OffererSessionID  string `json:"offererSessionId,omitempty"`
	AnswererSessionID string `json:"answererSessionId,omitempty"`
}

// validate reports whether msg carries the fields required for its
// MessageType. A malformed inbound message is an input-validation failure
// per spec §7: missing a required field for the declared type.
func (msg RoapMessage) validate() error {
	switch msg.MessageType {
	case MessageOffer:
		if msg.SDP == "" {
			return errMissingField(msg.MessageType, "sdp")
		}
		if msg.TieBreaker == nil {
			return errMissingField(msg.MessageType, "tieBreaker")
		}
	case MessageOfferResponse, MessageAnswer:
		if msg.SDP == "" {
			return errMissingField(msg.MessageType, "sdp")
		}
	case MessageOfferRequest, MessageOK:
		// sdp and tieBreaker are absent by design.
	case MessageError:
		if msg.ErrorType == "" {
			return errMissingField(msg.MessageType, "errorType")
		}
	default:
		return errUnknownMessageType(msg.MessageType)
	}
	return nil
}
