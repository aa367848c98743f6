package someip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/danmuck/someip/internal/testutil/testlog"
)

func sampleHeader() Header {
	return Header{
		ServiceID:        0x1234,
		MethodID:         0x0421,
		ClientID:         0x0010,
		SessionID:        0x0001,
		ProtocolVersion:  DefaultProtocolVersion,
		InterfaceVersion: 0x03,
		MessageType:      TypeRequest,
		ReturnCode:       ReturnOK,
	}
}

func TestEncodeLayoutIsBigEndian(t *testing.T) {
	testlog.Start(t)
	buf := Encode(sampleHeader(), []byte{0xAA, 0xBB})
	want := []byte{
		0x12, 0x34, 0x04, 0x21,
		0x00, 0x00, 0x00, 0x0A,
		0x00, 0x10, 0x00, 0x01,
		0x01, 0x03, 0x00, 0x00,
		0xAA, 0xBB,
	}
	if !bytes.Equal(buf, want) {
		t.Fatalf("unexpected encoding:\n got=% x\nwant=% x", buf, want)
	}
}

func TestEncodeIgnoresCallerLength(t *testing.T) {
	testlog.Start(t)
	h := sampleHeader()
	h.Length = 999
	buf := Encode(h, []byte("abc"))
	if got := binary.BigEndian.Uint32(buf[4:8]); got != 11 {
		t.Fatalf("length=%d want 11", got)
	}
}

func TestEncodedLengthRejectsOverflow(t *testing.T) {
	testlog.Start(t)
	if got, err := encodedLength(MaxPayloadSize); err != nil || got != math.MaxUint32 {
		t.Fatalf("max payload: length=%d err=%v", got, err)
	}
	if _, err := encodedLength(MaxPayloadSize + 1); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge past the length field, got %v", err)
	}
	if _, err := encodedLength(-1); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge for negative size, got %v", err)
	}
}

func TestRoundTripEncodeDecode(t *testing.T) {
	testlog.Start(t)
	payloads := [][]byte{nil, {}, {0x00}, bytes.Repeat([]byte{0x5A}, 1500)}
	types := []MessageType{TypeRequest, TypeNotification, TypeResponse, TypeTPRequest, TypeErrorAck, MessageType(0x7F)}
	for _, mt := range types {
		for _, payload := range payloads {
			h := sampleHeader()
			h.MessageType = mt
			h.ReturnCode = ReturnCode(0xFF)
			msg, err := Decode(Encode(h, payload))
			if err != nil {
				t.Fatalf("decode type=%s: %v", mt, err)
			}
			h.Length = uint32(LengthCovered + len(payload))
			if msg.Header != h {
				t.Fatalf("header mismatch: got=%+v want=%+v", msg.Header, h)
			}
			if !bytes.Equal(msg.Payload, payload) {
				t.Fatalf("payload mismatch for type=%s len=%d", mt, len(payload))
			}
			if msg.Header.Length != uint32(8+len(msg.Payload)) {
				t.Fatalf("length invariant broken: %d", msg.Header.Length)
			}
		}
	}
}

func TestDecodeTruncatedHeaderIsTooShort(t *testing.T) {
	testlog.Start(t)
	buf := Encode(sampleHeader(), []byte("payload"))
	for n := 0; n < HeaderSize; n++ {
		_, err := Decode(buf[:n])
		if !errors.Is(err, ErrTooShort) {
			t.Fatalf("len=%d expected ErrTooShort, got %v", n, err)
		}
	}
}

func TestDecodeLengthBelowMinimum(t *testing.T) {
	testlog.Start(t)
	buf := Encode(sampleHeader(), nil)
	binary.BigEndian.PutUint32(buf[4:8], 7)
	if _, err := Decode(buf); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeLengthPastSlice(t *testing.T) {
	testlog.Start(t)
	buf := Encode(sampleHeader(), []byte("abcd"))
	binary.BigEndian.PutUint32(buf[4:8], 0xFFFFFFFF)
	if _, err := Decode(buf); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := Decode(buf[:len(buf)-1]); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed on truncated payload, got %v", err)
	}
}

func TestDecodeIsPure(t *testing.T) {
	testlog.Start(t)
	buf := Encode(sampleHeader(), []byte("xyz"))
	a, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	a.Payload[0] = 'Q'
	b, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(b.Payload) != "xyz" {
		t.Fatalf("decode must not alias input: %q", b.Payload)
	}
}

func TestDecodeAllPackedDatagram(t *testing.T) {
	testlog.Start(t)
	first := Encode(sampleHeader(), []byte("one"))
	h := sampleHeader()
	h.SessionID = 2
	second := Encode(h, []byte("second"))
	msgs, err := DecodeAll(append(first, second...))
	if err != nil {
		t.Fatalf("decode all: %v", err)
	}
	if len(msgs) != 2 || string(msgs[1].Payload) != "second" || msgs[1].Header.SessionID != 2 {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	_, err = DecodeAll(append(first, 0x01, 0x02))
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected trailing garbage to be ErrTooShort, got %v", err)
	}
}

func TestMessageTypeHelpers(t *testing.T) {
	testlog.Start(t)
	if tp, ok := TypeNotification.WithTP(); !ok || tp != TypeTPNotification {
		t.Fatalf("WithTP(NOTIFICATION)=%s,%v", tp, ok)
	}
	if tp, ok := TypeResponse.WithTP(); !ok || tp != TypeTPResponse {
		t.Fatalf("WithTP(RESPONSE)=%s,%v", tp, ok)
	}
	if _, ok := TypeRequestAck.WithTP(); ok {
		t.Fatalf("ack kinds have no TP variant")
	}
	if TypeTPError.WithoutTP() != TypeError {
		t.Fatalf("WithoutTP(TP_ERROR)=%s", TypeTPError.WithoutTP())
	}
	if ack, ok := TypeTPRequest.AckType(); !ok || ack != TypeRequestAck {
		t.Fatalf("AckType(TP_REQUEST)=%s,%v", ack, ok)
	}
	if !TypeTPRequestNoReturn.IsRequest() || TypeResponse.IsRequest() {
		t.Fatalf("IsRequest classification wrong")
	}
	if MessageType(0x03).Known() || MessageType(0x03).String() != "UNKNOWN(0x03)" {
		t.Fatalf("unknown type must stay unknown: %s", MessageType(0x03))
	}
	if ReturnCode(0x10).Known() || !ReturnE2ENoNewData.Known() {
		t.Fatalf("return code range wrong")
	}
}

func TestHeaderIDs(t *testing.T) {
	testlog.Start(t)
	h := sampleHeader()
	if h.MessageID() != 0x12340421 || h.RequestID() != 0x00100001 {
		t.Fatalf("unexpected ids: %08x %08x", h.MessageID(), h.RequestID())
	}
	if h.IsSD() {
		t.Fatalf("not an SD header")
	}
}
