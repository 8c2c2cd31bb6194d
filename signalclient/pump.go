package signalclient

import (
	"context"
	"fmt"

	"github.com/nmn/roap-signal/common"
	"github.com/nmn/roap-signal/roap"
)

// Pump wires a Transport to a roap.Engine: every message the engine emits on
// Outbound() is sent over t, and every message t receives is delivered back
// into the engine via RoapMessageReceived. It returns a channel that carries
// terminal errors — a transport failure, a failed delivery into the engine,
// or the engine reporting a negotiation failure — in the order they occur,
// so the first value received is whichever came first. Each of the three
// streams contributes at most one error; the channel is never closed.
// Grounded on client.go's Run(), which fans a connection's terminal
// conditions into a single error channel with common.Output; here each of
// the three error streams gets its own common.Output call into the shared
// channel rather than one common.Merge, since Merge drains its channels
// strictly in order and would block behind a send/receive loop that only
// exits via ctx — a negotiation failure queued behind sendErrs or recvErrs
// would never reach the caller.
func Pump(ctx context.Context, t Transport, engine *roap.Engine) <-chan error {
	sendErrs := make(chan error, 1)
	go func() {
		defer close(sendErrs)
		for {
			select {
			case msg := <-engine.Outbound():
				if err := t.Send(ctx, msg); err != nil {
					sendErrs <- fmt.Errorf("signalclient: send failed: %w", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	recvErrs := make(chan error, 1)
	go func() {
		defer close(recvErrs)
		for {
			msg, err := t.Receive(ctx)
			if err != nil {
				recvErrs <- fmt.Errorf("signalclient: receive failed: %w", err)
				return
			}
			if err := engine.RoapMessageReceived(ctx, msg); err != nil {
				recvErrs <- fmt.Errorf("signalclient: delivering received message: %w", err)
				return
			}
		}
	}()

	failureErrs := make(chan error, 1)
	go func() {
		defer close(failureErrs)
		select {
		case f := <-engine.Failures():
			failureErrs <- fmt.Errorf("signalclient: negotiation failed: %s: %w", f.Reason, f.Err)
		case <-ctx.Done():
		}
	}()

	out := make(chan error, 1)
	common.Output(out, sendErrs)
	common.Output(out, recvErrs)
	common.Output(out, failureErrs)
	return out
}
