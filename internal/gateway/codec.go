package gateway

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	headerLen = 4
	// MaxFrameSize bounds the body length accepted from a peer
	MaxFrameSize = 16 << 20
	readChunk    = 4096
)

var (
	ErrFrameTooLarge = errors.New("gateway frame too large")
	// ErrMalformedFrame wraps a frame whose body is not a valid envelope.
	// The frame has been consumed and the stream stays usable.
	ErrMalformedFrame = errors.New("malformed gateway frame")
)

// Encode returns the length-prefixed frame of msg
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	frame := make([]byte, headerLen+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[headerLen:], body)
	return frame, nil
}

// DecodeFrame decodes the first complete frame in buf and returns the number
// of bytes it occupied. n == 0 with a nil error means buf holds only a
// partial frame and nothing was consumed.
func DecodeFrame(buf []byte) (Message, int, error) {
	if len(buf) < headerLen {
		return Message{}, 0, nil
	}
	length := binary.BigEndian.Uint32(buf)
	if length > MaxFrameSize {
		return Message{}, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	total := headerLen + int(length)
	if len(buf) < total {
		return Message{}, 0, nil
	}

	var msg Message
	if err := json.Unmarshal(buf[headerLen:total], &msg); err != nil {
		return Message{}, total, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return msg, total, nil
}

// WriteMessage encodes msg and writes it as a single frame
func WriteMessage(w io.Writer, msg Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Decoder reads frames from a stream, buffering partial reads
type Decoder struct {
	r   io.Reader
	buf []byte
}

// NewDecoder creates a decoder over r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode blocks until one full frame is available. ErrMalformedFrame is
// recoverable; any other error ends the stream.
func (d *Decoder) Decode() (Message, error) {
	chunk := make([]byte, readChunk)
	for {
		msg, n, err := DecodeFrame(d.buf)
		if n > 0 {
			d.buf = append(d.buf[:0], d.buf[n:]...)
			return msg, err
		}
		if err != nil {
			return Message{}, err
		}

		read, err := d.r.Read(chunk)
		if read > 0 {
			d.buf = append(d.buf, chunk[:read]...)
		}
		if err != nil {
			if read > 0 {
				continue
			}
			if errors.Is(err, io.EOF) && len(d.buf) > 0 {
				return Message{}, io.ErrUnexpectedEOF
			}
			return Message{}, err
		}
	}
}
