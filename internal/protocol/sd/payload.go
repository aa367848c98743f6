package sd

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/rs/zerolog/log"
)

// Well-known SD addressing.
const (
	DefaultPort      uint16 = 30490
	ReservedPortLow  uint16 = 30490
	ReservedPortHigh uint16 = 30499
)

var DefaultMulticastGroup = netip.MustParseAddr("224.224.224.245")

// Flags is the first byte of the SD payload.
type Flags uint8

const (
	FlagReboot   Flags = 0x80
	FlagUnicast  Flags = 0x40
	FlagReserved Flags = 0x3F
)

func (f Flags) Reboot() bool  { return f&FlagReboot != 0 }
func (f Flags) Unicast() bool { return f&FlagUnicast != 0 }

// ReservedBits returns any reserved bits that are set.
func (f Flags) ReservedBits() Flags { return f & FlagReserved }

// Payload is a decoded SD payload.
type Payload struct {
	Flags   Flags
	Entries []Entry
	Options []Option
}

// OptionsFor resolves both option runs of e. Runs outside the options array
// produce ErrMalformedSD.
func (p Payload) OptionsFor(e Entry) ([]Option, error) {
	if err := e.checkRuns(len(p.Options)); err != nil {
		return nil, err
	}
	out := make([]Option, 0, int(e.NumOptions1)+int(e.NumOptions2))
	for _, run := range e.OptionRuns() {
		if run.Count == 0 {
			continue
		}
		out = append(out, p.Options[run.Index:run.End()]...)
	}
	return out, nil
}

// IsReservedPort reports whether port sits in the SOME/IP reserved range.
func IsReservedPort(port uint16) bool {
	return port >= ReservedPortLow && port <= ReservedPortHigh
}

// EncodePayload serializes p. Reserved flag bits are forced to zero and
// entries/options keep their insertion order.
func EncodePayload(p Payload) ([]byte, error) {
	for _, e := range p.Entries {
		if err := e.checkRuns(len(p.Options)); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, 8, 12+EntrySize*len(p.Entries))
	buf[0] = byte(p.Flags &^ FlagReserved)
	binary.BigEndian.PutUint32(buf[4:8], uint32(EntrySize*len(p.Entries)))
	for _, e := range p.Entries {
		var rec [EntrySize]byte
		if err := e.encode(rec[:]); err != nil {
			return nil, err
		}
		buf = append(buf, rec[:]...)
	}

	lenAt := len(buf)
	buf = append(buf, 0, 0, 0, 0)
	for _, o := range p.Options {
		var err error
		buf, err = o.appendTo(buf)
		if err != nil {
			return nil, err
		}
	}
	binary.BigEndian.PutUint32(buf[lenAt:lenAt+4], uint32(len(buf)-lenAt-4))
	return buf, nil
}

// DecodePayload parses an SD payload. Reserved flag bits are kept as
// received so the conformance layer can report them.
func DecodePayload(data []byte) (Payload, error) {
	if len(data) < 12 {
		return Payload{}, fmt.Errorf("%w: %d bytes is below the 12 byte minimum", ErrMalformedSD, len(data))
	}
	p := Payload{Flags: Flags(data[0])}

	entriesLen := uint64(binary.BigEndian.Uint32(data[4:8]))
	rest := data[8:]
	if entriesLen > uint64(len(rest)-4) {
		return Payload{}, fmt.Errorf("%w: entries array length %d overruns %d bytes", ErrMalformedSD, entriesLen, len(rest)-4)
	}
	if entriesLen%EntrySize != 0 {
		return Payload{}, fmt.Errorf("%w: entries array length %d is not a multiple of %d", ErrMalformedSD, entriesLen, EntrySize)
	}
	entries := rest[:entriesLen]
	p.Entries = make([]Entry, 0, entriesLen/EntrySize)
	for off := 0; off < len(entries); off += EntrySize {
		p.Entries = append(p.Entries, decodeEntry(entries[off:off+EntrySize]))
	}

	rest = rest[entriesLen:]
	optionsLen := uint64(binary.BigEndian.Uint32(rest[0:4]))
	rest = rest[4:]
	if optionsLen != uint64(len(rest)) {
		return Payload{}, fmt.Errorf("%w: options array length %d, have %d bytes", ErrMalformedSD, optionsLen, len(rest))
	}
	p.Options = make([]Option, 0)
	for len(rest) > 0 {
		o, n, err := decodeOption(rest)
		if err != nil {
			return Payload{}, err
		}
		p.Options = append(p.Options, o)
		rest = rest[n:]
	}

	for _, e := range p.Entries {
		if err := e.checkRuns(len(p.Options)); err != nil {
			return Payload{}, err
		}
	}
	log.Debug().
		Int("entries", len(p.Entries)).
		Int("options", len(p.Options)).
		Bool("reboot", p.Flags.Reboot()).
		Msg("sd.DecodePayload ok")
	return p, nil
}
