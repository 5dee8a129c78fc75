package command

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yndnr/clustersnap-go/internal/core/domain"
)

func TestReadSessionsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sessions.yaml", `
sessions:
  - id: 1
    response_stream_id: 102
    response_channel: aeron:udp?endpoint=client:9000
    principal: alice
  - id: 2
    response_stream_id: 103
    response_channel: aeron:ipc
    principal_base64: AAEC
  - id: 3
    response_stream_id: 104
    response_channel: aeron:ipc
`)

	got, err := readSessionsFile(path, nil)
	if err != nil {
		t.Fatalf("readSessionsFile: %v", err)
	}
	want := []*domain.ClientSession{
		{ID: 1, ResponseStreamID: 102, ResponseChannel: "aeron:udp?endpoint=client:9000", EncodedPrincipal: []byte("alice")},
		{ID: 2, ResponseStreamID: 103, ResponseChannel: "aeron:ipc", EncodedPrincipal: []byte{0, 1, 2}},
		{ID: 3, ResponseStreamID: 104, ResponseChannel: "aeron:ipc"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}
}

func TestReadSessionsFile_Stdin(t *testing.T) {
	got, err := readSessionsFile("-", strings.NewReader("sessions:\n  - id: 9\n    response_channel: aeron:ipc\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != 9 {
		t.Errorf("got %v", got)
	}

	empty, err := readSessionsFile("-", strings.NewReader(""))
	if err != nil || len(empty) != 0 {
		t.Errorf("empty input: %v, %v", empty, err)
	}
}

func TestReadSessionsFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown key", "sessions:\n  - id: 1\n    user: bob\n", "field user not found"},
		{"duplicate id", "sessions:\n  - id: 1\n  - id: 1\n", "duplicate session id 1"},
		{"both principals", "sessions:\n  - id: 1\n    principal: a\n    principal_base64: YQ==\n", "exclusive"},
		{"bad base64", "sessions:\n  - id: 1\n    principal_base64: '!!'\n", "principal_base64"},
		{"oversized channel", "sessions:\n  - id: 1\n    response_channel: " + strings.Repeat("x", domain.MaxResponseChannelLength+1) + "\n", "response channel length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readSessionsFile("-", strings.NewReader(tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if _, err := readSessionsFile("/nonexistent/sessions.yaml", nil); err == nil {
		t.Error("expected error for missing file")
	}
}
