package telepathy

import (
	"errors"
	"fmt"
	"io"

	"github.com/lithdew/bytesutil"
)

// HeaderSize is the length of the big-endian size prefix of every frame.
const HeaderSize = 4

var (
	ErrInvalidSize     = errors.New("telepathy: invalid message size header")
	ErrMessageTooLarge = errors.New("telepathy: message too large")
	ErrEmptyMessage    = errors.New("telepathy: empty message")
)

// AppendFrame appends [4-byte big-endian len(payload)][payload] to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = bytesutil.AppendUint32BE(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// DecodeSize reads a size prefix. The prefix is interpreted as a signed
// 32-bit value so that a peer cannot smuggle a huge length through as
// a negative int on the receiving side.
func DecodeSize(header []byte) int {
	return int(int32(bytesutil.Uint32BE(header[:HeaderSize])))
}

// ValidateSize reports whether size is acceptable for a frame payload.
func ValidateSize(size, maxMessageSize int) error {
	if size <= 0 || size > maxMessageSize {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidSize, size, maxMessageSize)
	}
	return nil
}

// ReadMessageBlocking reads one frame from r. header must hold at least
// HeaderSize bytes and payload at least maxMessageSize bytes; both are
// reused across calls. It returns the payload length; the payload is
// payload[:n].
//
// A size header outside (0, maxMessageSize] is not resynchronized on:
// the caller must drop the stream.
func ReadMessageBlocking(r io.Reader, maxMessageSize int, header, payload []byte) (int, error) {
	if _, err := io.ReadFull(r, header[:HeaderSize]); err != nil {
		return 0, err
	}

	size := DecodeSize(header)
	if err := ValidateSize(size, maxMessageSize); err != nil {
		return 0, err
	}

	if _, err := io.ReadFull(r, payload[:size]); err != nil {
		return 0, err
	}
	return size, nil
}
