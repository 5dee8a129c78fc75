package logbuffer

// BufferClaim is a region reserved by Publication.TryClaim.
//
// The claimed bytes are invisible to readers until Commit. Exactly one of
// Commit or Abort must be called; later calls are ignored.
type BufferClaim struct {
	buf      []byte
	onCommit func([]byte)
	onAbort  func()
	done     bool
}

// Wrap points the claim at buf. It is called by Publication implementations.
func (c *BufferClaim) Wrap(buf []byte, onCommit func([]byte), onAbort func()) {
	c.buf = buf
	c.onCommit = onCommit
	c.onAbort = onAbort
	c.done = false
}

// Buffer returns the claimed region, exactly the length that was claimed.
func (c *BufferClaim) Buffer() []byte {
	return c.buf
}

// Length returns the claimed length.
func (c *BufferClaim) Length() int {
	return len(c.buf)
}

// Commit makes the claimed frame visible to readers.
func (c *BufferClaim) Commit() {
	if c.done || c.onCommit == nil {
		return
	}
	c.done = true
	c.onCommit(c.buf)
	c.buf = nil
}

// Abort releases the claim; readers skip the reserved frame.
func (c *BufferClaim) Abort() {
	if c.done || c.onAbort == nil {
		return
	}
	c.done = true
	c.onAbort()
	c.buf = nil
}
