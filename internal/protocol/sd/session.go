package sd

import (
	"sync"

	"github.com/danmuck/someip/internal/protocol/someip"
)

// Session is the sender side SD state of one process: session id counter and
// reboot flag. The reboot flag stays set until the session id wraps.
type Session struct {
	mu               sync.Mutex
	nextID           uint16
	wrapped          bool
	InterfaceVersion uint8
	ProtocolVersion  uint8
}

func NewSession() *Session {
	return &Session{
		nextID:           1,
		InterfaceVersion: 0x01,
		ProtocolVersion:  someip.DefaultProtocolVersion,
	}
}

// Next builds the SOME/IP message carrying p with the session's flags and the
// next session id.
func (s *Session) Next(p Payload) (*someip.Message, error) {
	s.mu.Lock()
	id := s.nextID
	reboot := !s.wrapped
	s.nextID++
	if s.nextID == 0 {
		s.nextID = 1
		s.wrapped = true
	}
	s.mu.Unlock()

	if reboot {
		p.Flags |= FlagReboot
	} else {
		p.Flags &^= FlagReboot
	}
	body, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	return &someip.Message{
		Header: someip.Header{
			ServiceID:        someip.SDServiceID,
			MethodID:         someip.SDMethodID,
			Length:           uint32(someip.LengthCovered + len(body)),
			ClientID:         0,
			SessionID:        id,
			ProtocolVersion:  s.ProtocolVersion,
			InterfaceVersion: s.InterfaceVersion,
			MessageType:      someip.TypeNotification,
			ReturnCode:       someip.ReturnOK,
		},
		Payload: body,
	}, nil
}

// Reset restores the state of a freshly started process.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = 1
	s.wrapped = false
}
