package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const headerLen = 4

// ErrFrameTooLarge is returned for a length prefix above the configured limit.
var ErrFrameTooLarge = errors.New("frame too large")

// EncodeFrame prefixes payload with its 4-byte big-endian length.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[headerLen:], payload)
	return out
}

// ReadFrame reads one complete frame from r, blocking until it arrives.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if max > 0 && int(n) > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, max)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// splitFrames extracts complete frames from buf and returns the remainder.
func splitFrames(buf []byte, max int) (frames [][]byte, rest []byte, err error) {
	for len(buf) >= headerLen {
		n := binary.BigEndian.Uint32(buf)
		if max > 0 && int(n) > max {
			return frames, nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, max)
		}
		if len(buf) < headerLen+int(n) {
			break
		}
		frame := make([]byte, n)
		copy(frame, buf[headerLen:headerLen+int(n)])
		frames = append(frames, frame)
		buf = buf[headerLen+int(n):]
	}
	rest = append([]byte(nil), buf...)
	return frames, rest, nil
}
