package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yndnr/clustersnap-go/internal/codec"
	"github.com/yndnr/clustersnap-go/internal/core/domain"
	"github.com/yndnr/clustersnap-go/internal/logbuffer"
	"github.com/yndnr/clustersnap-go/internal/telemetry/metric"
	"github.com/yndnr/clustersnap-go/pkg/idle"
)

func noIdle() idle.Strategy { return idle.NoOp{} }

func newTestContainer(t *testing.T, cfg ContainerConfig, ids ...int64) *Container {
	t.Helper()
	if cfg.NewIdleStrategy == nil {
		cfg.NewIdleStrategy = noIdle
	}
	c := NewContainer(cfg)
	for _, id := range ids {
		s := &domain.ClientSession{
			ID:               id,
			ResponseStreamID: int32(id),
			ResponseChannel:  fmt.Sprintf("aeron:udp?endpoint=node%d:40123", id),
			EncodedPrincipal: []byte(fmt.Sprintf("user-%d", id)),
		}
		if err := c.OpenSession(s); err != nil {
			t.Fatalf("OpenSession(%d) error = %v", id, err)
		}
	}
	return c
}

// payloadService stores one opaque frame after the session records.
type payloadService struct {
	payload []byte
	loaded  []byte
}

func (p *payloadService) OnTakeSnapshot(_ context.Context, pub logbuffer.Publication) error {
	var claim logbuffer.BufferClaim
	if r := pub.TryClaim(len(p.payload), &claim); r < 0 {
		return fmt.Errorf("claim payload: %s", logbuffer.ResultString(r))
	}
	copy(claim.Buffer(), p.payload)
	claim.Commit()
	return nil
}

func (p *payloadService) OnLoadSnapshot(_ context.Context, image logbuffer.Image) error {
	image.ControlledPoll(func(buf []byte, _ logbuffer.Header) logbuffer.Action {
		p.loaded = append([]byte(nil), buf...)
		return logbuffer.ActionBreak
	}, 1)
	if p.loaded == nil {
		return errors.New("no payload")
	}
	return nil
}

func takeToBytes(t *testing.T, c *Container, logPosition, term int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	pub := logbuffer.NewStreamPublication(&buf, logbuffer.DefaultMaxPayloadLength)
	if err := c.TakeSnapshot(context.Background(), pub, logPosition, term); err != nil {
		t.Fatalf("TakeSnapshot() error = %v", err)
	}
	return buf.Bytes()
}

func TestContainer_SessionRegistry(t *testing.T) {
	c := newTestContainer(t, ContainerConfig{}, 3, 1, 2)

	if got := c.SessionCount(); got != 3 {
		t.Fatalf("SessionCount() = %d", got)
	}
	var ids []int64
	for _, s := range c.Sessions() {
		ids = append(ids, s.ID)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, ids); diff != "" {
		t.Errorf("Sessions() order (-want +got):\n%s", diff)
	}

	err := c.OpenSession(&domain.ClientSession{ID: 2})
	if !errors.Is(err, domain.ErrSessionExists) {
		t.Errorf("duplicate OpenSession() error = %v", err)
	}
	err = c.OpenSession(&domain.ClientSession{ID: 9, ResponseChannel: strings.Repeat("x", domain.MaxResponseChannelLength+1)})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("oversized OpenSession() error = %v", err)
	}

	if err := c.CloseSession(2); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if err := c.CloseSession(2); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("second CloseSession() error = %v", err)
	}
	if _, ok := c.Session(2); ok {
		t.Error("session 2 still registered")
	}

	s, ok := c.Session(1)
	if !ok {
		t.Fatal("session 1 missing")
	}
	s.ResponseChannel = "mutated"
	if again, _ := c.Session(1); again.ResponseChannel == "mutated" {
		t.Error("Session() returned shared state")
	}
}

func TestContainer_TakeAndLoadRoundTrip(t *testing.T) {
	src := newTestContainer(t, ContainerConfig{
		AppVersion: ComposeVersion(1, 4, 2),
		TimeUnit:   codec.TimeUnitMicros,
		Service:    &payloadService{payload: []byte("app-state")},
	}, 10, 20, 30)
	data := takeToBytes(t, src, 4096, 5)

	svc := &payloadService{}
	dst := newTestContainer(t, ContainerConfig{Service: svc}, 99)
	result, err := dst.LoadSnapshot(context.Background(), logbuffer.NewBytesImage(data))
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}

	want := &LoadResult{
		LogPosition:      4096,
		LeadershipTermID: 5,
		AppVersion:       ComposeVersion(1, 4, 2),
		TimeUnit:         codec.TimeUnitMicros,
		Sessions:         3,
	}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("LoadResult (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(src.Sessions(), dst.Sessions()); diff != "" {
		t.Errorf("sessions (-src +dst):\n%s", diff)
	}
	if string(svc.loaded) != "app-state" {
		t.Errorf("service payload = %q", svc.loaded)
	}
	if dst.SnapshotTimeUnit() != codec.TimeUnitMicros || dst.SnapshotAppVersion() != ComposeVersion(1, 4, 2) {
		t.Errorf("snapshot metadata = %s, %s", dst.SnapshotTimeUnit(), VersionString(dst.SnapshotAppVersion()))
	}
	if stats := dst.Stats(); stats.Sessions != 3 || stats.LastSnapshotPosition != 4096 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestContainer_TakeSnapshotUnderBackPressure(t *testing.T) {
	log := logbuffer.NewLog(logbuffer.LogConfig{WindowLength: 256, MaxPayloadLength: 128})
	image := log.Image()

	// The invoker plays the role of a co-scheduled consumer draining the log.
	var recorded []byte
	drain := func() int {
		return image.ControlledPoll(func(buf []byte, _ logbuffer.Header) logbuffer.Action {
			recorded = logbuffer.AppendFrame(recorded, buf)
			return logbuffer.ActionContinue
		}, 2)
	}

	ids := make([]int64, 20)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	src := newTestContainer(t, ContainerConfig{Invoker: AgentInvokerFunc(drain)}, ids...)
	if err := src.TakeSnapshot(context.Background(), log.Publication(), 1, 1); err != nil {
		t.Fatalf("TakeSnapshot() error = %v", err)
	}
	for drain() > 0 {
	}

	dst := newTestContainer(t, ContainerConfig{})
	result, err := dst.LoadSnapshot(context.Background(), logbuffer.NewBytesImage(recorded))
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if result.Sessions != 20 {
		t.Errorf("sessions = %d, want 20", result.Sessions)
	}
}

func TestContainer_LoadFailureKeepsSessions(t *testing.T) {
	full := takeToBytes(t, newTestContainer(t, ContainerConfig{}, 1, 2), 100, 1)
	endFrame := logbuffer.AlignedFrameLength(codec.SnapshotMarkerEncodedLength)

	begin := encodeMarker(t, marker(SnapshotTypeID, codec.MarkBegin))

	tests := []struct {
		name string
		data []byte
		want *domain.DomainError
	}{
		{"missing end", full[:len(full)-endFrame], domain.ErrIncompleteSnapshot},
		{"empty stream", nil, domain.ErrIncompleteSnapshot},
		{"double begin", stream(begin, begin), domain.ErrAlreadyInSnapshot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := metric.NewRegistry()
			c := newTestContainer(t, ContainerConfig{Metrics: reg}, 7)

			_, err := c.LoadSnapshot(context.Background(), logbuffer.NewBytesImage(tt.data))
			if !errors.Is(err, tt.want) {
				t.Fatalf("LoadSnapshot() error = %v, want %v", err, tt.want)
			}
			if ids := c.Sessions(); len(ids) != 1 || ids[0].ID != 7 {
				t.Errorf("sessions after failed load = %v", ids)
			}

			rec := httptest.NewRecorder()
			reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
			body, _ := io.ReadAll(rec.Body)
			want := fmt.Sprintf(`clustersnap_snapshot_load_errors_total{code=%q} 1`, tt.want.Code)
			if !strings.Contains(string(body), want) {
				t.Errorf("metrics missing %s", want)
			}
		})
	}
}

func TestContainer_IncompatibleAppVersion(t *testing.T) {
	data := takeToBytes(t, newTestContainer(t, ContainerConfig{AppVersion: ComposeVersion(2, 0, 0)}, 1), 10, 1)

	c := newTestContainer(t, ContainerConfig{
		AppVersion:          ComposeVersion(1, 3, 0),
		AppVersionValidator: SameMajorVersion,
	})
	_, err := c.LoadSnapshot(context.Background(), logbuffer.NewBytesImage(data))
	if !errors.Is(err, domain.ErrIncompatibleAppVersion) {
		t.Fatalf("LoadSnapshot() error = %v, want ErrIncompatibleAppVersion", err)
	}
	if c.SessionCount() != 0 {
		t.Error("sessions loaded from incompatible snapshot")
	}
}

func TestContainer_LoadCancelled(t *testing.T) {
	log := logbuffer.NewLog(logbuffer.LogConfig{})
	image := log.Image()
	taker := NewSnapshotTaker(log.Publication(), noIdle())
	if err := taker.MarkBegin(context.Background(), SnapshotTypeID, 0, 0, 0, codec.TimeUnitMillis, 0); err != nil {
		t.Fatalf("MarkBegin() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestContainer(t, ContainerConfig{}).LoadSnapshot(ctx, image)
	if !IsTermination(err) {
		t.Fatalf("LoadSnapshot() error = %v, want termination", err)
	}
}

func TestContainer_TakeSnapshotOnClosedLog(t *testing.T) {
	log := logbuffer.NewLog(logbuffer.LogConfig{})
	log.Close()

	c := newTestContainer(t, ContainerConfig{}, 1)
	err := c.TakeSnapshot(context.Background(), log.Publication(), 0, 0)
	if !errors.Is(err, domain.ErrUnexpectedPublicationState) {
		t.Fatalf("TakeSnapshot() error = %v", err)
	}
}

func TestVersion(t *testing.T) {
	v := ComposeVersion(1, 2, 3)
	if VersionMajor(v) != 1 || VersionMinor(v) != 2 || VersionPatch(v) != 3 {
		t.Errorf("components of %d = %d.%d.%d", v, VersionMajor(v), VersionMinor(v), VersionPatch(v))
	}
	if got := VersionString(v); got != "1.2.3" {
		t.Errorf("VersionString() = %q", got)
	}
	if !SameMajorVersion(ComposeVersion(1, 0, 0), ComposeVersion(1, 9, 9)) {
		t.Error("same major should be compatible")
	}
	if SameMajorVersion(ComposeVersion(1, 0, 0), ComposeVersion(2, 0, 0)) {
		t.Error("different major should be incompatible")
	}
	if got := VersionString(3); got != "0.0.3" {
		t.Errorf("VersionString(3) = %q", got)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    int32
		wantErr bool
	}{
		{"1.2.3", ComposeVersion(1, 2, 3), false},
		{"v2.0.1", ComposeVersion(2, 0, 1), false},
		{"3", ComposeVersion(3, 0, 0), false},
		{"0.7", ComposeVersion(0, 7, 0), false},
		{"", 0, true},
		{"1.2.3.4", 0, true},
		{"1.256.0", 0, true},
		{"a.b.c", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseVersion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVersion(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVersion(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestContainer_LoadReportsCorruptStream(t *testing.T) {
	full := takeToBytes(t, newTestContainer(t, ContainerConfig{}, 1, 2), 100, 1)

	c := newTestContainer(t, ContainerConfig{}, 7)
	_, err := c.LoadSnapshot(context.Background(), logbuffer.NewBytesImage(full[:len(full)-3]))
	if !errors.Is(err, domain.ErrIncompleteSnapshot) {
		t.Fatalf("LoadSnapshot() error = %v, want ErrIncompleteSnapshot", err)
	}
	if !errors.Is(err, logbuffer.ErrCorruptFrame) {
		t.Errorf("LoadSnapshot() error = %v, want it to wrap ErrCorruptFrame", err)
	}
}

func largestSession(t *testing.T, id int64) *domain.ClientSession {
	t.Helper()
	s, err := domain.NewClientSession(id, 3,
		strings.Repeat("c", domain.MaxResponseChannelLength),
		bytes.Repeat([]byte{0x5a}, domain.MaxEncodedPrincipalLength))
	if err != nil {
		t.Fatalf("NewClientSession() error = %v", err)
	}
	return s
}

func TestContainer_OpenSessionPayloadBound(t *testing.T) {
	s := largestSession(t, 1)

	if err := newTestContainer(t, ContainerConfig{}).OpenSession(s); err != nil {
		t.Fatalf("OpenSession() with default max payload error = %v", err)
	}

	c := newTestContainer(t, ContainerConfig{MaxPayloadLength: codec.MaxClientSessionEncodedLength - 1})
	if err := c.OpenSession(s); !errors.Is(err, domain.ErrSessionTooLarge) {
		t.Fatalf("OpenSession() error = %v, want ErrSessionTooLarge", err)
	}
	if c.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", c.SessionCount())
	}

	small := &domain.ClientSession{ID: 2, ResponseChannel: "aeron:ipc"}
	if err := c.OpenSession(small); err != nil {
		t.Errorf("OpenSession(small) error = %v", err)
	}
}
