package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MaxWireBytes limits a single encoded object.
	MaxWireBytes = 1 << 20 // 1 MiB

	// maxStringBytes limits credential strings.
	maxStringBytes = 1 << 10

	// maxElements limits any repeated field (leaves, proposals, path).
	maxElements = 1 << 16
)

var (
	ErrTooLarge           = errors.New("wire object too large")
	ErrTruncated          = errors.New("wire object truncated")
	ErrTrailingData       = errors.New("wire object has trailing bytes")
	ErrUnknownType        = errors.New("wire unknown object type")
	ErrUnsupportedVersion = errors.New("wire unsupported format version")
	ErrMalformed          = errors.New("wire malformed field")
)

// MsgType is the leading type byte of every encoded object.
type MsgType uint8

const (
	TypeKeyPackage MsgType = iota + 1
	TypeCommit
	TypeWelcome
	TypeMessage
)

// writer accumulates the canonical encoding. Writes cannot fail.
type writer struct {
	b []byte
}

func newWriter(sizeHint int) *writer {
	return &writer{b: make([]byte, 0, sizeHint)}
}

func (w *writer) u8(v uint8)   { w.b = append(w.b, v) }
func (w *writer) u16(v uint16) { w.b = binary.BigEndian.AppendUint16(w.b, v) }
func (w *writer) u32(v uint32) { w.b = binary.BigEndian.AppendUint32(w.b, v) }
func (w *writer) u64(v uint64) { w.b = binary.BigEndian.AppendUint64(w.b, v) }
func (w *writer) i64(v int64)  { w.u64(uint64(v)) }
func (w *writer) raw(b []byte) { w.b = append(w.b, b...) }

func (w *writer) varBytes(b []byte) {
	w.u32(uint32(len(b)))
	w.raw(b)
}

func (w *writer) str(s string) { w.varBytes([]byte(s)) }

func (w *writer) flag(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

// reader consumes an encoding with a sticky error: after the first failure
// every accessor returns zero values and the error surfaces from done.
type reader struct {
	b   []byte
	off int
	err error
}

// newReader frames b, checking the overall size and the leading type byte.
func newReader(b []byte, want MsgType) *reader {
	r := &reader{b: b}
	if len(b) > MaxWireBytes {
		r.err = ErrTooLarge
		return r
	}
	t := r.u8()
	if r.err != nil {
		return r
	}
	if MsgType(t) != want {
		r.err = fmt.Errorf("%w: got %d, want %d", ErrUnknownType, t, want)
	}
	return r
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.b)-r.off < n {
		r.err = ErrTruncated
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if r.err != nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) arr16() (out [16]byte) {
	copy(out[:], r.take(16))
	return
}

func (r *reader) arr32() (out [32]byte) {
	copy(out[:], r.take(32))
	return
}

// varBytes copies out of the input so decoded objects never alias the
// caller's buffer.
func (r *reader) varBytes(max int) []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	if int(n) > max {
		r.err = ErrTooLarge
		return nil
	}
	b := r.take(int(n))
	if r.err != nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *reader) str() string {
	return string(r.varBytes(maxStringBytes))
}

func (r *reader) flag() bool {
	switch r.u8() {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail(ErrMalformed)
		return false
	}
}

func (r *reader) count() int {
	n := r.u32()
	if r.err != nil {
		return 0
	}
	if n > maxElements {
		r.err = ErrTooLarge
		return 0
	}
	return int(n)
}

// version reads and checks the format version byte.
func (r *reader) version(want uint8) uint8 {
	v := r.u8()
	if r.err != nil {
		return 0
	}
	if v != want {
		r.err = fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	return v
}

// done finishes the parse: the sticky error if any, otherwise a check that
// the object was consumed exactly.
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.b) {
		return ErrTrailingData
	}
	return nil
}
