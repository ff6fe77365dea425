// Package frame implements the length-value wire framing that carries
// messages over a streaming TCP connection.
//
// Frame format, all integers 32-bit big-endian:
//
//	| totalLen | mtype | idLen | id | body |
//
// totalLen excludes itself: totalLen = 4 (mtype) + 4 (idLen) + len(id) + len(body).
package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"jrpchub/message"
)

// DefaultMaxSize is used when a Codec is constructed with a zero max size.
// REDESIGN FLAG #5: the original hard-codes 64KiB; here it is a Codec field
// so callers (via config) can raise or lower it.
const DefaultMaxSize = 65536

const lenFieldSize = 4 // one u32 length field

// Codec encodes and decodes frames against a configured maximum frame size.
type Codec struct {
	MaxSize uint32
}

// NewCodec returns a Codec with maxSize, or DefaultMaxSize if maxSize is 0.
func NewCodec(maxSize uint32) *Codec {
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	return &Codec{MaxSize: maxSize}
}

// CanProcess reports whether buf holds at least one complete frame, without
// consuming it. buf must hold at least 4 bytes to read totalLen.
func (c *Codec) CanProcess(buf []byte) bool {
	if len(buf) < lenFieldSize {
		return false
	}
	totalLen := binary.BigEndian.Uint32(buf[:lenFieldSize])
	return uint32(len(buf)) >= totalLen+lenFieldSize
}

// Encode serializes m into a complete frame: header plus JSON body.
func (c *Codec) Encode(m message.Message) ([]byte, error) {
	body, err := m.Marshal()
	if err != nil {
		return nil, fmt.Errorf("frame: marshal body: %w", err)
	}
	id := []byte(m.Rid())

	totalLen := uint32(lenFieldSize + lenFieldSize + len(id) + len(body))
	buf := make([]byte, lenFieldSize+totalLen)
	binary.BigEndian.PutUint32(buf[0:4], totalLen)
	binary.BigEndian.PutUint32(buf[4:8], uint32(m.MType()))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(id)))
	off := 12
	off += copy(buf[off:], id)
	copy(buf[off:], body)
	return buf, nil
}

// Decode consumes one complete frame from the front of buf, returning the
// decoded Message and the number of bytes consumed. buf must already satisfy
// CanProcess.
func (c *Codec) Decode(buf []byte) (message.Message, int, error) {
	totalLen := binary.BigEndian.Uint32(buf[:lenFieldSize])
	frameEnd := lenFieldSize + int(totalLen)
	if frameEnd > len(buf) {
		return nil, 0, fmt.Errorf("frame: short buffer")
	}

	mtype := message.MType(binary.BigEndian.Uint32(buf[4:8]))
	idLen := binary.BigEndian.Uint32(buf[8:12])
	if int(idLen) > int(totalLen)-8 {
		return nil, 0, fmt.Errorf("%w: idLen exceeds totalLen", message.RCodeInvalidMsg)
	}
	idStart := 12
	idEnd := idStart + int(idLen)
	id := string(buf[idStart:idEnd])
	body := buf[idEnd:frameEnd]

	m, err := message.New(mtype)
	if err != nil {
		return nil, frameEnd, fmt.Errorf("%w: %v", message.RCodeInvalidMsg, err)
	}
	if err := m.Unmarshal(body); err != nil {
		return nil, frameEnd, fmt.Errorf("%w: %v", message.RCodeParseFailed, err)
	}
	m.SetRid(id)
	if err := m.Check(); err != nil {
		return nil, frameEnd, err
	}
	return m, frameEnd, nil
}

// WriteTo encodes m and writes it to w as a single frame. Callers sharing w
// across goroutines must serialize calls (see netconn.Conn's write mutex).
func (c *Codec) WriteTo(w io.Writer, m message.Message) error {
	buf, err := c.Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// DecodeStream reads one complete frame directly from r, blocking until the
// header and body are available. It mirrors Decode's semantics but is used
// on the connection read loop where bytes arrive incrementally rather than
// in one already-buffered slice.
func (c *Codec) DecodeStream(r io.Reader) (message.Message, error) {
	lenBuf := make([]byte, lenFieldSize)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	totalLen := binary.BigEndian.Uint32(lenBuf)
	if c.ExceedsMax(int(totalLen) + lenFieldSize) {
		return nil, fmt.Errorf("frame: frame of %d bytes exceeds max size %d", totalLen+lenFieldSize, c.MaxSize)
	}

	rest := make([]byte, totalLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}

	buf := make([]byte, lenFieldSize+len(rest))
	copy(buf, lenBuf)
	copy(buf[lenFieldSize:], rest)

	m, _, err := c.Decode(buf)
	return m, err
}

// ExceedsMax reports whether a frame whose header has been read (totalLen
// already known) exceeds the configured maximum. DecodeStream calls it with
// the declared frame size (totalLen + 4) right after reading the length
// field, so an oversized frame is rejected before any of its body is read.
func (c *Codec) ExceedsMax(readable int) bool {
	return uint32(readable) > c.MaxSize
}
