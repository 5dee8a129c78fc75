package logbuffer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func publish(t *testing.T, p Publication, payload string) int64 {
	t.Helper()
	var claim BufferClaim
	pos := p.TryClaim(len(payload), &claim)
	if pos <= 0 {
		t.Fatalf("TryClaim(%q) = %s", payload, ResultString(pos))
	}
	copy(claim.Buffer(), payload)
	claim.Commit()
	return pos
}

func collect(img Image, limit int) ([]string, int) {
	var got []string
	n := img.ControlledPoll(func(buf []byte, _ Header) Action {
		got = append(got, string(buf))
		return ActionContinue
	}, limit)
	return got, n
}

func TestAlignedFrameLength(t *testing.T) {
	tests := []struct {
		length int
		want   int
	}{
		{1, 16},
		{8, 16},
		{9, 24},
		{48, 56},
	}
	for _, tt := range tests {
		if got := AlignedFrameLength(tt.length); got != tt.want {
			t.Errorf("AlignedFrameLength(%d) = %d, want %d", tt.length, got, tt.want)
		}
	}
}

func TestResultString(t *testing.T) {
	if got := ResultString(BackPressured); got != "BACK_PRESSURED" {
		t.Errorf("ResultString(BackPressured) = %q", got)
	}
	if got := ResultString(64); got != "POSITION(64)" {
		t.Errorf("ResultString(64) = %q", got)
	}
	for _, r := range []int64{NotConnected, Closed, MaxPositionExceeded} {
		if !IsTerminal(r) {
			t.Errorf("IsTerminal(%s) = false", ResultString(r))
		}
	}
	for _, r := range []int64{BackPressured, AdminAction} {
		if IsTerminal(r) {
			t.Errorf("IsTerminal(%s) = true", ResultString(r))
		}
	}
}

func TestLog_PublishAndPoll(t *testing.T) {
	l := NewLog(LogConfig{})
	img := l.Image()

	p1 := publish(t, l.Publication(), "alpha")
	p2 := publish(t, l.Publication(), "beta")
	if p1 != 16 || p2 != 32 {
		t.Fatalf("positions = %d, %d, want 16, 32", p1, p2)
	}

	got, n := collect(img, 10)
	if n != 2 || len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("poll = %v (%d)", got, n)
	}
	if img.Position() != p2 {
		t.Errorf("image position = %d, want %d", img.Position(), p2)
	}
}

func TestLog_UncommittedClaimIsInvisible(t *testing.T) {
	l := NewLog(LogConfig{})
	img := l.Image()

	var claim BufferClaim
	if pos := l.Publication().TryClaim(4, &claim); pos <= 0 {
		t.Fatalf("TryClaim = %s", ResultString(pos))
	}
	if _, n := collect(img, 10); n != 0 {
		t.Fatalf("poll before commit = %d fragments", n)
	}
	if pos := l.Publication().TryClaim(4, &BufferClaim{}); pos != AdminAction {
		t.Fatalf("second TryClaim = %s, want ADMIN_ACTION", ResultString(pos))
	}

	copy(claim.Buffer(), "data")
	claim.Commit()
	if got, n := collect(img, 10); n != 1 || got[0] != "data" {
		t.Fatalf("poll after commit = %v", got)
	}
}

func TestLog_AbortedClaimIsSkipped(t *testing.T) {
	l := NewLog(LogConfig{})
	img := l.Image()

	var claim BufferClaim
	l.Publication().TryClaim(4, &claim)
	claim.Abort()
	claim.Commit() // ignored
	publish(t, l.Publication(), "next")

	got, n := collect(img, 10)
	if n != 1 || got[0] != "next" {
		t.Fatalf("poll = %v (%d)", got, n)
	}
}

func TestLog_BackPressure(t *testing.T) {
	l := NewLog(LogConfig{WindowLength: 64, MaxPayloadLength: 8})
	img := l.Image()

	for i := 0; i < 4; i++ {
		publish(t, l.Publication(), "12345678")
	}
	if pos := l.Publication().TryClaim(8, &BufferClaim{}); pos != BackPressured {
		t.Fatalf("TryClaim on full window = %s", ResultString(pos))
	}

	if _, n := collect(img, 1); n != 1 {
		t.Fatalf("poll = %d", n)
	}
	publish(t, l.Publication(), "12345678")
}

func TestLog_TerminalStates(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		l := NewLog(LogConfig{RequireSubscriber: true})
		if pos := l.Publication().TryClaim(1, &BufferClaim{}); pos != NotConnected {
			t.Fatalf("TryClaim = %s", ResultString(pos))
		}
		l.Image()
		publish(t, l.Publication(), "x")
	})

	t.Run("closed", func(t *testing.T) {
		l := NewLog(LogConfig{})
		l.Close()
		if pos := l.Publication().TryClaim(1, &BufferClaim{}); pos != Closed {
			t.Fatalf("TryClaim = %s", ResultString(pos))
		}
	})

	t.Run("max position", func(t *testing.T) {
		l := NewLog(LogConfig{MaxPosition: 16})
		publish(t, l.Publication(), "x")
		if pos := l.Publication().TryClaim(1, &BufferClaim{}); pos != MaxPositionExceeded {
			t.Fatalf("TryClaim = %s", ResultString(pos))
		}
	})
}

func TestLogImage_ControlledActions(t *testing.T) {
	l := NewLog(LogConfig{})
	img := l.Image()
	for _, s := range []string{"a", "b", "c", "d"} {
		publish(t, l.Publication(), s)
	}

	// Abort leaves the fragment for the next poll.
	var seen []string
	n := img.ControlledPoll(func(buf []byte, _ Header) Action {
		seen = append(seen, string(buf))
		if string(buf) == "b" {
			return ActionAbort
		}
		return ActionContinue
	}, 10)
	if n != 1 || len(seen) != 2 {
		t.Fatalf("abort poll: n=%d seen=%v", n, seen)
	}

	// Break consumes the fragment and stops.
	seen = nil
	n = img.ControlledPoll(func(buf []byte, _ Header) Action {
		seen = append(seen, string(buf))
		return ActionBreak
	}, 10)
	if n != 1 || seen[0] != "b" {
		t.Fatalf("break poll: n=%d seen=%v", n, seen)
	}

	got, n := collect(img, 1)
	if n != 1 || got[0] != "c" {
		t.Fatalf("limited poll = %v", got)
	}
}

func TestLogImage_EndOfStream(t *testing.T) {
	l := NewLog(LogConfig{})
	img := l.Image()
	publish(t, l.Publication(), "last")
	l.Close()

	if img.IsEndOfStream() {
		t.Fatal("end of stream before draining")
	}
	collect(img, 10)
	if !img.IsEndOfStream() {
		t.Fatal("not end of stream after draining closed log")
	}
}

func TestStreamPublication_BytesImage(t *testing.T) {
	var buf bytes.Buffer
	pub := NewStreamPublication(&buf, 64)

	publish(t, pub, "one")
	var claim BufferClaim
	pub.TryClaim(5, &claim)
	claim.Abort()
	last := publish(t, pub, "three")

	if int64(buf.Len()) != last {
		t.Fatalf("stream length %d, position %d", buf.Len(), last)
	}

	img := NewBytesImage(buf.Bytes())
	got, n := collect(img, 10)
	if n != 2 || got[0] != "one" || got[1] != "three" {
		t.Fatalf("poll = %v (%d)", got, n)
	}
	if !img.IsEndOfStream() || img.Err() != nil {
		t.Fatalf("end=%v err=%v", img.IsEndOfStream(), img.Err())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestStreamPublication_WriteErrorCloses(t *testing.T) {
	pub := NewStreamPublication(failingWriter{}, 64)
	publish(t, pub, "x")
	if pub.Err() == nil {
		t.Fatal("expected write error")
	}
	if pos := pub.TryClaim(1, &BufferClaim{}); pos != Closed {
		t.Fatalf("TryClaim after error = %s", ResultString(pos))
	}
}

func TestBytesImage_Corrupt(t *testing.T) {
	data := AppendFrame(nil, []byte("ok"))
	data = AppendFrame(data, []byte("truncated"))
	img := NewBytesImage(data[:len(data)-4])

	got, n := collect(img, 10)
	if n != 1 || got[0] != "ok" {
		t.Fatalf("poll = %v", got)
	}
	if !errors.Is(img.Err(), ErrCorruptFrame) {
		t.Fatalf("Err() = %v, want ErrCorruptFrame", img.Err())
	}
	if !img.IsEndOfStream() {
		t.Fatal("corrupt image should be at end of stream")
	}
}

func TestBytesImage_OversizedLength(t *testing.T) {
	for _, length := range []uint32{0xFFFFFFFF, 0x7FFFFFF8, 64} {
		data := AppendFrame(nil, []byte("ok"))
		bad := AppendFrame(nil, []byte("payload"))
		binary.LittleEndian.PutUint32(bad, length)
		img := NewBytesImage(append(data, bad...))

		got, n := collect(img, 10)
		if n != 1 || got[0] != "ok" {
			t.Fatalf("length %#x: poll = %v", length, got)
		}
		if !errors.Is(img.Err(), ErrCorruptFrame) {
			t.Errorf("length %#x: Err() = %v, want ErrCorruptFrame", length, img.Err())
		}
	}
}
