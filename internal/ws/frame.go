package ws

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameSize is the inbound payload limit applied when a Session is
// created with no explicit maximum. Frames larger than the limit are treated
// as malformed; the limit exists so a misbehaving client cannot make the
// server allocate unbounded memory from an 8-byte length prefix.
const DefaultMaxFrameSize = 1 << 20 // 1 MiB

// Frame-decoding error kinds. Decode errors that are not one of these
// sentinels are transport read failures.
var (
	// ErrFrameMalformed marks a frame with FIN=0, a reserved bit set, or a
	// missing client mask. Client-to-server frames must be masked and
	// fragmentation is not supported.
	ErrFrameMalformed = errors.New("ws: malformed frame")

	// ErrProtocolViolation marks a frame whose opcode is not defined by
	// RFC 6455.
	ErrProtocolViolation = errors.New("ws: unknown opcode")

	// ErrFrameTooLarge marks a frame whose declared payload length exceeds
	// the session's inbound limit.
	ErrFrameTooLarge = errors.New("ws: frame exceeds size limit")
)

// readFrame reads one client-to-server frame from r: the 2-byte fixed
// header, the 0/2/8-byte extended length, the 4-byte mask, and the payload,
// which is unmasked in place before being returned.
//
// The fixed header is validated before anything else is consumed: FIN must
// be set, the reserved bits must be zero, and the mask bit must be set
// (RFC 6455 §5.1 requires clients to mask). Violations return
// ErrFrameMalformed; an undefined opcode returns ErrProtocolViolation; a
// declared length above maxSize returns ErrFrameTooLarge. Any other error is
// a transport read failure.
func readFrame(r io.Reader, maxSize int64) (Message, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, fmt.Errorf("ws: read frame header: %w", err)
	}

	fin := hdr[0]&0x80 != 0
	rsv := hdr[0] & 0x70
	opcode := Opcode(hdr[0] & 0x0F)
	masked := hdr[1]&0x80 != 0
	length := int64(hdr[1] & 0x7F)

	switch {
	case !fin:
		return Message{}, fmt.Errorf("%w: fragmented frame (FIN=0)", ErrFrameMalformed)
	case rsv != 0:
		return Message{}, fmt.Errorf("%w: reserved bits set (0x%02x)", ErrFrameMalformed, rsv)
	case !masked:
		return Message{}, fmt.Errorf("%w: client frame not masked", ErrFrameMalformed)
	case !opcode.known():
		return Message{}, fmt.Errorf("%w: 0x%x", ErrProtocolViolation, byte(opcode))
	}

	// Extended payload length, network byte order (RFC 6455 §5.2).
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Message{}, fmt.Errorf("ws: read extended length: %w", err)
		}
		length = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Message{}, fmt.Errorf("ws: read extended length: %w", err)
		}
		// Uint64 values above MaxInt64 would wrap negative; they are far
		// beyond any sane limit anyway, so fold the check into the size guard.
		raw := binary.BigEndian.Uint64(ext[:])
		if raw > uint64(maxSize) {
			return Message{}, fmt.Errorf("%w: declared length %d, limit %d", ErrFrameTooLarge, raw, maxSize)
		}
		length = int64(raw)
	}
	if length > maxSize {
		return Message{}, fmt.Errorf("%w: declared length %d, limit %d", ErrFrameTooLarge, length, maxSize)
	}

	var mask [4]byte
	if _, err := io.ReadFull(r, mask[:]); err != nil {
		return Message{}, fmt.Errorf("ws: read mask: %w", err)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("ws: read payload: %w", err)
	}
	for i := range payload {
		payload[i] ^= mask[i%4]
	}

	return Message{Opcode: opcode, Payload: payload}, nil
}

// encodeFrameHeader serializes the header of a server-to-client frame:
// FIN=1, RSV=0, the opcode, MASK=0, and the minimal big-endian length
// encoding for len(payload) == n (RFC 6455 §5.2).
//
// Server frames are never masked (RFC 6455 §5.1), so the header is at most
// 10 bytes and the payload follows verbatim.
func encodeFrameHeader(op Opcode, n int) []byte {
	b0 := 0x80 | byte(op)
	switch {
	case n < 126:
		return []byte{b0, byte(n)}
	case n < 65536:
		hdr := []byte{b0, 126, 0, 0}
		binary.BigEndian.PutUint16(hdr[2:], uint16(n))
		return hdr
	default:
		hdr := make([]byte, 10)
		hdr[0] = b0
		hdr[1] = 127
		binary.BigEndian.PutUint64(hdr[2:], uint64(n))
		return hdr
	}
}

// writeFrame serializes op + payload as a single server-to-client frame and
// writes it to w. The header and payload are written separately so large
// payloads are not copied into a contiguous buffer first.
func writeFrame(w io.Writer, op Opcode, payload []byte) error {
	if _, err := w.Write(encodeFrameHeader(op, len(payload))); err != nil {
		return fmt.Errorf("ws: write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("ws: write frame payload: %w", err)
		}
	}
	return nil
}
