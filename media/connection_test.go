package media

import (
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/nmn/roap-signal/roap"
)

func TestNew_StartsConnectingAndClosesCleanly(t *testing.T) {
	conn, err := New(webrtc.Configuration{}, roap.RoleOfferer, nil, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if got := conn.State(); got != StateConnecting {
		t.Errorf("initial State() = %v, want %v", got, StateConnecting)
	}

	if conn.Outbound() == nil {
		t.Error("expected a non-nil Outbound channel")
	}
	if conn.Failures() == nil {
		t.Error("expected a non-nil Failures channel")
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close() should be a no-op, got: %v", err)
	}
}

func TestNew_RoleIsPassedThrough(t *testing.T) {
	conn, err := New(webrtc.Configuration{}, roap.RoleAnswerer, nil, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer conn.Close()

	if conn.role != roap.RoleAnswerer {
		t.Errorf("role = %v, want %v", conn.role, roap.RoleAnswerer)
	}
}

func TestRoleOf_UnknownSSRCReportsNotOK(t *testing.T) {
	conn, err := New(webrtc.Configuration{}, roap.RoleOfferer, nil, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer conn.Close()

	if _, ok := conn.RoleOf(12345); ok {
		t.Error("expected RoleOf to report not-ok for an unseen SSRC")
	}
}
