package api

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateSessionTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    SessionState
		to      SessionState
		wantErr bool
	}{
		// Valid transitions
		{name: "connecting to open", from: SessionConnecting, to: SessionOpen},
		{name: "connecting to closed (handshake failed)", from: SessionConnecting, to: SessionClosed},
		{name: "open to draining", from: SessionOpen, to: SessionDraining},
		{name: "open to closed (abrupt)", from: SessionOpen, to: SessionClosed},
		{name: "draining to closed", from: SessionDraining, to: SessionClosed},

		// Invalid transitions
		{name: "closed to open", from: SessionClosed, to: SessionOpen, wantErr: true},
		{name: "closed to draining", from: SessionClosed, to: SessionDraining, wantErr: true},
		{name: "draining to open (backward)", from: SessionDraining, to: SessionOpen, wantErr: true},
		{name: "connecting to draining (skip open)", from: SessionConnecting, to: SessionDraining, wantErr: true},
		{name: "open to connecting (backward)", from: SessionOpen, to: SessionConnecting, wantErr: true},
		{name: "unknown state", from: "bogus", to: SessionOpen, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateSessionTransition(%q, %q) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var apiErr *Error
			if !errors.As(err, &apiErr) || apiErr.Kind != KindInternal {
				t.Errorf("error = %v, want internal *Error", err)
			}
			if !strings.Contains(err.Error(), string(tt.to)) {
				t.Errorf("error %q does not mention target state %q", err, tt.to)
			}
		})
	}
}

func TestSessionStateTerminal(t *testing.T) {
	for _, s := range []SessionState{SessionConnecting, SessionOpen, SessionDraining} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
	if !SessionClosed.Terminal() {
		t.Error("closed.Terminal() = false, want true")
	}
}
