package roap

import "fmt"

// maxRetries is the number of retryable ERRORs the engine absorbs before
// giving up on an in-flight local offer. retryCount is incremented on every
// retryable ERROR before this check, so the 4th one (retryCount > 3)
// terminates the negotiation instead of triggering a fourth retry.
const maxRetries = 3

// ErrEngineClosed is returned by InitiateOffer / RoapMessageReceived once
// the engine has been closed. Close is idempotent; this error is returned
// for every call made after the first Close, not just the first.
var ErrEngineClosed = fmt.Errorf("roap: engine closed")

func errMissingField(t MessageType, field string) error {
	return fmt.Errorf("roap: %s message missing required field %q", t, field)
}

func errUnknownMessageType(t MessageType) error {
	return fmt.Errorf("roap: unknown message type %q", t)
}

// FailureReason classifies why the engine entered a terminal error state,
// for logging and for ROAP_FAILURE's event payload.
type FailureReason string

const (
	FailureRemoteError  FailureReason = "remote_error"
	FailureBrowserError FailureReason = "browser_error"
)

// FailureEvent is the payload of the ROAP_FAILURE event: emitted exactly
// once, when the engine transitions into a terminal state.
type FailureEvent struct {
	Reason FailureReason
	State  State
	Err    error
}

func (f FailureEvent) String() string {
	if f.Err != nil {
		return fmt.Sprintf("roap failure: %s (state=%s): %v", f.Reason, f.State, f.Err)
	}
	return fmt.Sprintf("roap failure: %s (state=%s)", f.Reason, f.State)
}
