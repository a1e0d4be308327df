// Package stomp is a STOMP 1.2 client carried over a WebSocket, one frame per message,
// as spoken by the forum backend's chat broker.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-stomp/stomp/v3/frame"
)

var (
	// ErrHeartbeat is returned by Decode for a heart-beat (EOL only) message.
	ErrHeartbeat = errors.New("stomp: heart-beat")
	// ErrMalformed is returned for a frame that cannot be parsed.
	ErrMalformed = errors.New("stomp: malformed frame")
)

// Encode serializes f into one WebSocket message, setting content-length for a non-empty
// body. A nil f encodes a heart-beat.
func Encode(f *frame.Frame) ([]byte, error) {
	if f != nil && len(f.Body) > 0 {
		f.Header.Set(frame.ContentLength, strconv.Itoa(len(f.Body)))
	}
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("stomp: encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses the frame carried by one WebSocket message.
func Decode(data []byte) (*frame.Frame, error) {
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f == nil {
		return nil, ErrHeartbeat
	}
	return f, nil
}
