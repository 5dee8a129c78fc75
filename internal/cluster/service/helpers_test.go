package service

import (
	"testing"

	"github.com/yndnr/clustersnap-go/internal/codec"
	"github.com/yndnr/clustersnap-go/internal/logbuffer"
)

// stubPublication returns scripted TryClaim results before succeeding.
type stubPublication struct {
	script     []int64
	maxPayload int
	attempts   int
	position   int64
	committed  [][]byte
}

func (p *stubPublication) TryClaim(length int, claim *logbuffer.BufferClaim) int64 {
	p.attempts++
	if len(p.script) > 0 {
		r := p.script[0]
		p.script = p.script[1:]
		if r <= 0 {
			return r
		}
	}
	p.position += int64(logbuffer.AlignedFrameLength(length))
	claim.Wrap(make([]byte, length), func(buf []byte) {
		p.committed = append(p.committed, buf)
	}, func() {})
	return p.position
}

func (p *stubPublication) MaxPayloadLength() int {
	if p.maxPayload == 0 {
		return logbuffer.DefaultMaxPayloadLength
	}
	return p.maxPayload
}

func (p *stubPublication) Position() int64 { return p.position }

// countingIdle counts idle calls without waiting.
type countingIdle struct {
	resets int
	idles  int
}

func (c *countingIdle) Reset() { c.resets++ }
func (c *countingIdle) Idle()  { c.idles++ }
func (c *countingIdle) IdleWork(n int) {
	if n == 0 {
		c.idles++
	}
}

type recordedSession struct {
	ID        int64
	StreamID  int32
	Channel   string
	Principal []byte
}

// recorder is a SessionRegistrar remembering every call in order.
type recorder struct {
	sessions []recordedSession
}

func (r *recorder) AddSession(id int64, streamID int32, channel string, principal []byte) {
	r.sessions = append(r.sessions, recordedSession{id, streamID, channel, principal})
}

func encodeMarker(t *testing.T, m codec.SnapshotMarker) []byte {
	t.Helper()
	buf := make([]byte, m.EncodedLength())
	if _, err := codec.EncodeSnapshotMarker(buf, &m); err != nil {
		t.Fatalf("EncodeSnapshotMarker() error = %v", err)
	}
	return buf
}

func encodeSession(t *testing.T, s codec.ClientSession) []byte {
	t.Helper()
	buf := make([]byte, s.EncodedLength())
	if _, err := codec.EncodeClientSession(buf, &s); err != nil {
		t.Fatalf("EncodeClientSession() error = %v", err)
	}
	return buf
}

func marker(typeID int64, mark codec.SnapshotMark) codec.SnapshotMarker {
	return codec.SnapshotMarker{
		TypeID:           typeID,
		LogPosition:      1000,
		LeadershipTermID: 2,
		Mark:             mark,
		TimeUnit:         codec.TimeUnitMillis,
		AppVersion:       3,
	}
}

// stream frames messages the way a publication would.
func stream(msgs ...[]byte) []byte {
	var out []byte
	for _, m := range msgs {
		out = logbuffer.AppendFrame(out, m)
	}
	return out
}
