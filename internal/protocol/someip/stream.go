package someip

import (
	"errors"
	"fmt"
	"io"
)

// Limits constrains stream decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 1 << 20,
	}
}

// ReadMessage reads one length-delimited message from a TCP stream.
func ReadMessage(r io.Reader, limits Limits) (*Message, error) {
	var fixed [HeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTooShort
		}
		return nil, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return nil, err
	}
	if h.Length < LengthCovered {
		return nil, fmt.Errorf("%w: length=%d below %d", ErrMalformed, h.Length, LengthCovered)
	}
	payloadLen := h.Length - LengthCovered
	if payloadLen > limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, payloadLen, limits.MaxPayloadBytes)
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("%w: truncated payload: %v", ErrMalformed, err)
		}
	}
	return &Message{Header: h, Payload: payload}, nil
}

// WriteMessage writes msg with a codec-computed length.
func WriteMessage(w io.Writer, msg *Message, limits Limits) error {
	if msg == nil {
		return ErrMalformed
	}
	if uint64(len(msg.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	if _, err := encodedLength(len(msg.Payload)); err != nil {
		return err
	}
	_, err := w.Write(Encode(msg.Header, msg.Payload))
	return err
}
