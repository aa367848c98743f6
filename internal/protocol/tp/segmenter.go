package tp

import (
	"fmt"

	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/rs/zerolog/log"
)

// Segment is one decoded TP segment.
type Segment struct {
	Offset  uint32
	More    bool
	Payload []byte
}

// End is one past the last byte covered by the segment.
func (s Segment) End() uint64 {
	return uint64(s.Offset) + uint64(len(s.Payload))
}

// SplitMessages splits msg into TP segment messages when its payload exceeds
// cfg.MaxSegmentPayload. Payloads that fit are returned unchanged as a single
// message. Segments come out in strictly increasing offset order.
func SplitMessages(msg *someip.Message, cfg Config) ([]*someip.Message, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformedTP)
	}
	if uint64(len(msg.Payload)) > uint64(cfg.MaxMessageSize) {
		return nil, fmt.Errorf("%w: payload %d exceeds max_message_size %d", ErrMalformedTP, len(msg.Payload), cfg.MaxMessageSize)
	}
	chunk, err := cfg.chunkSize()
	if err != nil {
		return nil, err
	}
	if uint64(len(msg.Payload)) <= uint64(cfg.MaxSegmentPayload) {
		single := *msg
		single.Header.Length = uint32(someip.LengthCovered + len(msg.Payload))
		return []*someip.Message{&single}, nil
	}
	tpType, ok := msg.Header.MessageType.WithTP()
	if !ok {
		return nil, fmt.Errorf("%w: message type %s has no TP variant", ErrMalformedTP, msg.Header.MessageType)
	}

	total := uint32(len(msg.Payload))
	out := make([]*someip.Message, 0, (total+chunk-1)/chunk)
	for off := uint32(0); off < total; off += chunk {
		end := min(off+chunk, total)
		tpHeader, err := NewHeader(off, end < total).Encode()
		if err != nil {
			return nil, err
		}
		payload := make([]byte, 0, HeaderSize+int(end-off))
		payload = append(payload, tpHeader...)
		payload = append(payload, msg.Payload[off:end]...)

		h := msg.Header
		h.MessageType = tpType
		h.Length = uint32(someip.LengthCovered + len(payload))
		out = append(out, &someip.Message{Header: h, Payload: payload})
	}
	log.Debug().
		Uint32("message_id", msg.Header.MessageID()).
		Uint32("bytes", total).
		Int("segments", len(out)).
		Msg("tp.SplitMessages")
	return out, nil
}

// Split is SplitMessages encoded to wire bytes.
func Split(msg *someip.Message, cfg Config) ([][]byte, error) {
	msgs, err := SplitMessages(msg, cfg)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, someip.Encode(m.Header, m.Payload))
	}
	return out, nil
}
