package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNewClientSession(t *testing.T) {
	s, err := NewClientSession(42, 1001, "aeron:udp?endpoint=localhost:9020", []byte("alice"))
	if err != nil {
		t.Fatalf("NewClientSession() error = %v", err)
	}
	if s.ID != 42 || s.ResponseStreamID != 1001 {
		t.Errorf("unexpected ids: %+v", s)
	}
	if s.Closing {
		t.Error("new session should not be closing")
	}
}

func TestNewClientSession_Limits(t *testing.T) {
	tests := []struct {
		name      string
		channel   string
		principal []byte
		wantErr   bool
	}{
		{"empty fields", "", nil, false},
		{"max principal", "ch", make([]byte, MaxEncodedPrincipalLength), false},
		{"principal too long", "ch", make([]byte, MaxEncodedPrincipalLength+1), true},
		{"channel too long", strings.Repeat("c", MaxResponseChannelLength+1), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClientSession(1, 1, tt.channel, tt.principal)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewClientSession() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error should be ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestClientSession_Equal(t *testing.T) {
	a := &ClientSession{ID: 1, ResponseStreamID: 2, ResponseChannel: "ch", EncodedPrincipal: []byte{1, 2}}
	b := &ClientSession{ID: 1, ResponseStreamID: 2, ResponseChannel: "ch", EncodedPrincipal: []byte{1, 2}, Closing: true}
	c := &ClientSession{ID: 1, ResponseStreamID: 2, ResponseChannel: "ch", EncodedPrincipal: []byte{9}}

	if !a.Equal(b) {
		t.Error("sessions differing only in Closing should be equal")
	}
	if a.Equal(c) {
		t.Error("sessions with different principals should not be equal")
	}
	if a.Equal(nil) {
		t.Error("session should not equal nil")
	}
}

func TestClientSession_StringHidesPrincipal(t *testing.T) {
	s := &ClientSession{ID: 7, ResponseChannel: "ch", EncodedPrincipal: []byte("top-secret")}
	str := s.String()
	if strings.Contains(str, "top-secret") {
		t.Errorf("String() leaked principal: %s", str)
	}
	if !strings.Contains(str, "principalLength=10") {
		t.Errorf("String() = %s, want principal length", str)
	}
}
