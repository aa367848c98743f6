package tp

import (
	"encoding/binary"
	"fmt"
)

const (
	HeaderSize = 4
	// WireUnit is the granularity of the offset field on the wire.
	WireUnit uint32 = 16

	flagMore  uint8  = 0x01
	flagsMask uint32 = 0x0F
)

// Header is the TP header that follows the SOME/IP header.
type Header struct {
	// Offset is the byte position of the segment in the original payload.
	Offset uint32
	// Flags holds the low nibble: three reserved bits and More Segments.
	Flags uint8
}

// More reports the More Segments flag.
func (h Header) More() bool {
	return h.Flags&flagMore != 0
}

// Reserved returns the reserved bits between offset and the more flag.
func (h Header) Reserved() uint8 {
	return h.Flags >> 1
}

func NewHeader(offset uint32, more bool) Header {
	h := Header{Offset: offset}
	if more {
		h.Flags = flagMore
	}
	return h
}

// Encode packs the header. Offsets must be multiples of the wire unit.
func (h Header) Encode() ([]byte, error) {
	if h.Offset%WireUnit != 0 {
		return nil, fmt.Errorf("%w: offset %d is not a multiple of %d", ErrMalformedTP, h.Offset, WireUnit)
	}
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf, h.Offset|uint32(h.Flags)&flagsMask)
	return buf, nil
}

func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, need a %d byte TP header", ErrMalformedTP, len(b), HeaderSize)
	}
	raw := binary.BigEndian.Uint32(b[:HeaderSize])
	return Header{Offset: raw &^ flagsMask, Flags: uint8(raw & flagsMask)}, nil
}
