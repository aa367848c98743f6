package someip

import "fmt"

// Wire constants.
const (
	HeaderSize = 16
	// LengthCovered is the number of header bytes counted by the length field.
	LengthCovered = 8

	DefaultProtocolVersion uint8 = 0x01

	SDServiceID uint16 = 0xFFFF
	SDMethodID  uint16 = 0x8100
)

// MessageType is the one-byte message kind.
type MessageType uint8

const (
	TypeRequest            MessageType = 0x00
	TypeRequestNoReturn    MessageType = 0x01
	TypeNotification       MessageType = 0x02
	TypeRequestAck         MessageType = 0x40
	TypeRequestNoReturnAck MessageType = 0x41
	TypeNotificationAck    MessageType = 0x42
	TypeResponse           MessageType = 0x80
	TypeError              MessageType = 0x81
	TypeResponseAck        MessageType = 0xC0
	TypeErrorAck           MessageType = 0xC1

	TypeTPRequest         MessageType = 0x20
	TypeTPRequestNoReturn MessageType = 0x21
	TypeTPNotification    MessageType = 0x22
	TypeTPResponse        MessageType = 0xA0
	TypeTPError           MessageType = 0xA1

	tpFlag  MessageType = 0x20
	ackFlag MessageType = 0x40
)

var messageTypeNames = map[MessageType]string{
	TypeRequest:            "REQUEST",
	TypeRequestNoReturn:    "REQUEST_NO_RETURN",
	TypeNotification:       "NOTIFICATION",
	TypeRequestAck:         "REQUEST_ACK",
	TypeRequestNoReturnAck: "REQUEST_NO_RETURN_ACK",
	TypeNotificationAck:    "NOTIFICATION_ACK",
	TypeResponse:           "RESPONSE",
	TypeError:              "ERROR",
	TypeResponseAck:        "RESPONSE_ACK",
	TypeErrorAck:           "ERROR_ACK",
	TypeTPRequest:          "TP_REQUEST",
	TypeTPRequestNoReturn:  "TP_REQUEST_NO_RETURN",
	TypeTPNotification:     "TP_NOTIFICATION",
	TypeTPResponse:         "TP_RESPONSE",
	TypeTPError:            "TP_ERROR",
}

// Known reports whether t is a member of the closed enumeration.
func (t MessageType) Known() bool {
	_, ok := messageTypeNames[t]
	return ok
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
}

// IsRequest reports whether t carries a request that needs a session id.
func (t MessageType) IsRequest() bool {
	switch t {
	case TypeRequest, TypeRequestNoReturn, TypeNotification,
		TypeTPRequest, TypeTPRequestNoReturn, TypeTPNotification:
		return true
	default:
		return false
	}
}

func (t MessageType) IsResponse() bool {
	switch t {
	case TypeResponse, TypeError, TypeTPResponse, TypeTPError:
		return true
	default:
		return false
	}
}

// UsesTP reports whether t is a known TP-segmented kind.
func (t MessageType) UsesTP() bool {
	return t.Known() && t&tpFlag != 0 && t&ackFlag == 0
}

// WithTP returns the TP variant of t. ok is false when no variant exists.
func (t MessageType) WithTP() (MessageType, bool) {
	if t.UsesTP() {
		return t, true
	}
	tp := t | tpFlag
	if !t.Known() || t&ackFlag != 0 || !tp.Known() {
		return t, false
	}
	return tp, true
}

// WithoutTP returns the plain variant of a TP kind.
func (t MessageType) WithoutTP() MessageType {
	if !t.UsesTP() {
		return t
	}
	return t &^ tpFlag
}

// AckType returns the *_ACK variant of t.
func (t MessageType) AckType() (MessageType, bool) {
	ack := t.WithoutTP() | ackFlag
	if !t.Known() || t&ackFlag != 0 || !ack.Known() {
		return t, false
	}
	return ack, true
}

// ReturnCode is the one-byte result code.
type ReturnCode uint8

const (
	ReturnOK                    ReturnCode = 0x00
	ReturnNotOK                 ReturnCode = 0x01
	ReturnUnknownService        ReturnCode = 0x02
	ReturnUnknownMethod         ReturnCode = 0x03
	ReturnNotReady              ReturnCode = 0x04
	ReturnNotReachable          ReturnCode = 0x05
	ReturnTimeout               ReturnCode = 0x06
	ReturnWrongProtocolVersion  ReturnCode = 0x07
	ReturnWrongInterfaceVersion ReturnCode = 0x08
	ReturnMalformedMessage      ReturnCode = 0x09
	ReturnWrongMessageType      ReturnCode = 0x0A
	ReturnE2ERepeated           ReturnCode = 0x0B
	ReturnE2EWrongSequence      ReturnCode = 0x0C
	ReturnE2E                   ReturnCode = 0x0D
	ReturnE2ENotAvailable       ReturnCode = 0x0E
	ReturnE2ENoNewData          ReturnCode = 0x0F
)

var returnCodeNames = [...]string{
	"E_OK",
	"E_NOT_OK",
	"E_UNKNOWN_SERVICE",
	"E_UNKNOWN_METHOD",
	"E_NOT_READY",
	"E_NOT_REACHABLE",
	"E_TIMEOUT",
	"E_WRONG_PROTOCOL_VERSION",
	"E_WRONG_INTERFACE_VERSION",
	"E_MALFORMED_MESSAGE",
	"E_WRONG_MESSAGE_TYPE",
	"E_E2E_REPEATED",
	"E_E2E_WRONG_SEQUENCE",
	"E_E2E",
	"E_E2E_NOT_AVAILABLE",
	"E_E2E_NO_NEW_DATA",
}

func (c ReturnCode) Known() bool {
	return int(c) < len(returnCodeNames)
}

func (c ReturnCode) String() string {
	if c.Known() {
		return returnCodeNames[c]
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(c))
}
