package wire

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/google/uuid"

	"worldsync.dev/internal/mathx"
)

var (
	// ErrTruncated means the buffer ended mid-field. The whole record fails;
	// callers must not apply anything parsed so far.
	ErrTruncated = errors.New("wire: truncated record")

	// ErrBadCount means a count coding was malformed (overlong or overflowing).
	ErrBadCount = errors.New("wire: malformed count coding")
)

// Reader decodes a record with an explicit cursor. Every read advances the
// cursor, so a rejected record can still be skipped over correctly.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset is the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n == 0 {
		return 0, ErrTruncated
	}
	if n < 0 {
		return 0, ErrBadCount
	}
	r.off += n
	return v, nil
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	return v != 0, err
}

func (r *Reader) Float32() (float32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func (r *Reader) Vec3() (mathx.Vec3, error) {
	b, err := r.take(12)
	if err != nil {
		return mathx.Vec3{}, err
	}
	return mathx.Vec3{
		X: math.Float32frombits(binary.LittleEndian.Uint32(b[0:])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
	}, nil
}

func (r *Reader) Quat() (mathx.Quat, error) {
	b, err := r.take(16)
	if err != nil {
		return mathx.Quat{}, err
	}
	return mathx.Quat{
		W: math.Float32frombits(binary.LittleEndian.Uint32(b[0:])),
		X: math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(b[12:])),
	}, nil
}

func (r *Reader) UUID() (uuid.UUID, error) {
	b, err := r.take(16)
	if err != nil {
		return uuid.UUID{}, err
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

// Bytes reads a uvarint length prefix then that many bytes. The result
// aliases the underlying buffer.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Remaining()) {
		return nil, ErrTruncated
	}
	return r.take(int(n))
}

func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	return string(b), err
}

// Flags reads the property presence bitmask.
func (r *Reader) Flags() (PropertyFlags, error) {
	v, err := r.Uvarint()
	return PropertyFlags(v), err
}
