package someip

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MaxPayloadSize is the largest payload the 32-bit length field can carry.
const MaxPayloadSize = math.MaxUint32 - LengthCovered

// Header is the fixed 16-byte SOME/IP header.
type Header struct {
	ServiceID        uint16
	MethodID         uint16
	Length           uint32
	ClientID         uint16
	SessionID        uint16
	ProtocolVersion  uint8
	InterfaceVersion uint8
	MessageType      MessageType
	ReturnCode       ReturnCode
}

// MessageID packs service and method ids.
func (h Header) MessageID() uint32 {
	return uint32(h.ServiceID)<<16 | uint32(h.MethodID)
}

// RequestID packs client and session ids.
func (h Header) RequestID() uint32 {
	return uint32(h.ClientID)<<16 | uint32(h.SessionID)
}

// IsSD reports whether the header addresses service discovery.
func (h Header) IsSD() bool {
	return h.ServiceID == SDServiceID && h.MethodID == SDMethodID
}

// Message is one header plus payload unit.
type Message struct {
	Header  Header
	Payload []byte
}

// MarshalBinary encodes m with a codec-computed length.
func (m *Message) MarshalBinary() ([]byte, error) {
	if m == nil {
		return nil, ErrMalformed
	}
	if _, err := encodedLength(len(m.Payload)); err != nil {
		return nil, err
	}
	return Encode(m.Header, m.Payload), nil
}

// Encode writes the header fields and payload. The length field is always
// computed from the payload; h.Length is ignored. Encode panics with
// ErrPayloadTooLarge when payload exceeds MaxPayloadSize; MarshalBinary and
// WriteMessage return the error instead.
func Encode(h Header, payload []byte) []byte {
	length, err := encodedLength(len(payload))
	if err != nil {
		panic(err)
	}
	buf := make([]byte, HeaderSize+len(payload))
	putHeader(buf, h, length)
	copy(buf[HeaderSize:], payload)
	return buf
}

func encodedLength(payloadLen int) (uint32, error) {
	if payloadLen < 0 || uint64(payloadLen) > MaxPayloadSize {
		return 0, fmt.Errorf("%w: %d bytes exceeds the length field maximum %d", ErrPayloadTooLarge, payloadLen, uint64(MaxPayloadSize))
	}
	return uint32(LengthCovered + payloadLen), nil
}

func putHeader(buf []byte, h Header, length uint32) {
	binary.BigEndian.PutUint16(buf[0:2], h.ServiceID)
	binary.BigEndian.PutUint16(buf[2:4], h.MethodID)
	binary.BigEndian.PutUint32(buf[4:8], length)
	binary.BigEndian.PutUint16(buf[8:10], h.ClientID)
	binary.BigEndian.PutUint16(buf[10:12], h.SessionID)
	buf[12] = h.ProtocolVersion
	buf[13] = h.InterfaceVersion
	buf[14] = byte(h.MessageType)
	buf[15] = byte(h.ReturnCode)
}

// DecodeHeader reads the fixed header without touching the payload.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes", ErrTooShort, len(b))
	}
	return Header{
		ServiceID:        binary.BigEndian.Uint16(b[0:2]),
		MethodID:         binary.BigEndian.Uint16(b[2:4]),
		Length:           binary.BigEndian.Uint32(b[4:8]),
		ClientID:         binary.BigEndian.Uint16(b[8:10]),
		SessionID:        binary.BigEndian.Uint16(b[10:12]),
		ProtocolVersion:  b[12],
		InterfaceVersion: b[13],
		MessageType:      MessageType(b[14]),
		ReturnCode:       ReturnCode(b[15]),
	}, nil
}

// Decode reads one message from data. Bytes past the declared length are
// ignored; use DecodeAll for datagrams carrying several messages.
func Decode(data []byte) (*Message, error) {
	msg, _, err := decodeOne(data)
	return msg, err
}

// DecodeAll decodes every message packed back to back in data.
func DecodeAll(data []byte) ([]*Message, error) {
	out := make([]*Message, 0, 1)
	for len(data) > 0 {
		msg, rest, err := decodeOne(data)
		if err != nil {
			return out, err
		}
		out = append(out, msg)
		data = rest
	}
	return out, nil
}

func decodeOne(data []byte) (*Message, []byte, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, nil, err
	}
	if h.Length < LengthCovered {
		return nil, nil, fmt.Errorf("%w: length=%d below %d", ErrMalformed, h.Length, LengthCovered)
	}
	available := uint64(len(data) - HeaderSize)
	payloadLen := uint64(h.Length - LengthCovered)
	if payloadLen > available {
		return nil, nil, fmt.Errorf("%w: length=%d needs %d payload bytes, have %d", ErrMalformed, h.Length, payloadLen, available)
	}
	end := HeaderSize + int(payloadLen)
	payload := make([]byte, payloadLen)
	copy(payload, data[HeaderSize:end])
	return &Message{Header: h, Payload: payload}, data[end:], nil
}
