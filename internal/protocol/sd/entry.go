package sd

import (
	"encoding/binary"
	"fmt"
)

const (
	EntrySize = 16
	MaxTTL    = 0xFFFFFF
	// TTLInfinite keeps an entry valid until explicitly withdrawn.
	TTLInfinite = MaxTTL
	maxOptions  = 0x0F
)

// EntryType is the numeric entry kind. Positive and Stop variants share a
// value and differ only by TTL.
type EntryType uint8

const (
	EntryFindService            EntryType = 0x00
	EntryOfferService           EntryType = 0x01
	EntrySubscribeEventgroup    EntryType = 0x06
	EntrySubscribeEventgroupAck EntryType = 0x07
)

func (t EntryType) Known() bool {
	switch t {
	case EntryFindService, EntryOfferService, EntrySubscribeEventgroup, EntrySubscribeEventgroupAck:
		return true
	default:
		return false
	}
}

// IsEventgroup reports whether records of this kind carry an eventgroup id.
func (t EntryType) IsEventgroup() bool {
	return t == EntrySubscribeEventgroup || t == EntrySubscribeEventgroupAck
}

func (t EntryType) String() string {
	switch t {
	case EntryFindService:
		return "FindService"
	case EntryOfferService:
		return "OfferService"
	case EntrySubscribeEventgroup:
		return "SubscribeEventgroup"
	case EntrySubscribeEventgroupAck:
		return "SubscribeEventgroupAck"
	default:
		return fmt.Sprintf("UnknownEntry(0x%02x)", uint8(t))
	}
}

// Entry is one 16-byte SD entry record.
type Entry struct {
	Type         EntryType
	Index1       uint8
	Index2       uint8
	NumOptions1  uint8
	NumOptions2  uint8
	ServiceID    uint16
	InstanceID   uint16
	MajorVersion uint8
	TTL          uint32

	// Service entries.
	MinorVersion uint32

	// Eventgroup entries.
	Counter      uint8
	EventgroupID uint16

	// Tail keeps the last four bytes of entries with an unknown type.
	Tail [4]byte
}

// IsWithdrawal reports the Stop variant of the entry kind (TTL of zero).
func (e Entry) IsWithdrawal() bool {
	return e.TTL == 0
}

// Name resolves the kind and TTL into the variant name.
func (e Entry) Name() string {
	switch e.Type {
	case EntryOfferService:
		if e.IsWithdrawal() {
			return "StopOfferService"
		}
	case EntrySubscribeEventgroup:
		if e.IsWithdrawal() {
			return "StopSubscribeEventgroup"
		}
	case EntrySubscribeEventgroupAck:
		if e.IsWithdrawal() {
			return "SubscribeEventgroupNack"
		}
	}
	return e.Type.String()
}

// OptionRun is a contiguous slice of the options array.
type OptionRun struct {
	Index int
	Count int
}

// End is one past the last referenced option.
func (r OptionRun) End() int {
	return r.Index + r.Count
}

// OptionRuns returns the two option runs referenced by the entry.
func (e Entry) OptionRuns() [2]OptionRun {
	return [2]OptionRun{
		{Index: int(e.Index1), Count: int(e.NumOptions1)},
		{Index: int(e.Index2), Count: int(e.NumOptions2)},
	}
}

func (e Entry) checkRuns(options int) error {
	for i, run := range e.OptionRuns() {
		if run.Count == 0 {
			continue
		}
		if run.End() > options {
			return fmt.Errorf("%w: entry %s option run %d [%d,%d) outside %d options",
				ErrMalformedSD, e.Name(), i+1, run.Index, run.End(), options)
		}
	}
	return nil
}

func (e Entry) encode(buf []byte) error {
	if e.TTL > MaxTTL {
		return fmt.Errorf("%w: ttl %d exceeds 24 bits", ErrMalformedSD, e.TTL)
	}
	if e.NumOptions1 > maxOptions || e.NumOptions2 > maxOptions {
		return fmt.Errorf("%w: option count exceeds 4 bits", ErrMalformedSD)
	}
	buf[0] = byte(e.Type)
	buf[1] = e.Index1
	buf[2] = e.Index2
	buf[3] = e.NumOptions1<<4 | e.NumOptions2
	binary.BigEndian.PutUint16(buf[4:6], e.ServiceID)
	binary.BigEndian.PutUint16(buf[6:8], e.InstanceID)
	binary.BigEndian.PutUint32(buf[8:12], uint32(e.MajorVersion)<<24|e.TTL)
	switch {
	case e.Type.IsEventgroup():
		buf[12] = 0
		buf[13] = e.Counter & 0x0F
		binary.BigEndian.PutUint16(buf[14:16], e.EventgroupID)
	case e.Type.Known():
		binary.BigEndian.PutUint32(buf[12:16], e.MinorVersion)
	default:
		copy(buf[12:16], e.Tail[:])
	}
	return nil
}

func decodeEntry(b []byte) Entry {
	versionTTL := binary.BigEndian.Uint32(b[8:12])
	e := Entry{
		Type:         EntryType(b[0]),
		Index1:       b[1],
		Index2:       b[2],
		NumOptions1:  b[3] >> 4,
		NumOptions2:  b[3] & 0x0F,
		ServiceID:    binary.BigEndian.Uint16(b[4:6]),
		InstanceID:   binary.BigEndian.Uint16(b[6:8]),
		MajorVersion: uint8(versionTTL >> 24),
		TTL:          versionTTL & MaxTTL,
	}
	switch {
	case e.Type.IsEventgroup():
		e.Counter = b[13] & 0x0F
		e.EventgroupID = binary.BigEndian.Uint16(b[14:16])
	case e.Type.Known():
		e.MinorVersion = binary.BigEndian.Uint32(b[12:16])
	default:
		copy(e.Tail[:], b[12:16])
	}
	return e
}

// ServiceRef names one service instance and interface version.
type ServiceRef struct {
	ServiceID    uint16
	InstanceID   uint16
	MajorVersion uint8
	MinorVersion uint32
}

func NewFindService(ref ServiceRef, ttl uint32) Entry {
	return serviceEntry(EntryFindService, ref, ttl)
}

func NewOfferService(ref ServiceRef, ttl uint32) Entry {
	return serviceEntry(EntryOfferService, ref, ttl)
}

func NewStopOfferService(ref ServiceRef) Entry {
	return serviceEntry(EntryOfferService, ref, 0)
}

func NewSubscribeEventgroup(ref ServiceRef, eventgroupID uint16, ttl uint32) Entry {
	return eventgroupEntry(EntrySubscribeEventgroup, ref, eventgroupID, ttl)
}

func NewStopSubscribeEventgroup(ref ServiceRef, eventgroupID uint16) Entry {
	return eventgroupEntry(EntrySubscribeEventgroup, ref, eventgroupID, 0)
}

func NewSubscribeEventgroupAck(ref ServiceRef, eventgroupID uint16, ttl uint32) Entry {
	return eventgroupEntry(EntrySubscribeEventgroupAck, ref, eventgroupID, ttl)
}

func serviceEntry(t EntryType, ref ServiceRef, ttl uint32) Entry {
	return Entry{
		Type:         t,
		ServiceID:    ref.ServiceID,
		InstanceID:   ref.InstanceID,
		MajorVersion: ref.MajorVersion,
		MinorVersion: ref.MinorVersion,
		TTL:          ttl,
	}
}

func eventgroupEntry(t EntryType, ref ServiceRef, eventgroupID uint16, ttl uint32) Entry {
	return Entry{
		Type:         t,
		ServiceID:    ref.ServiceID,
		InstanceID:   ref.InstanceID,
		MajorVersion: ref.MajorVersion,
		EventgroupID: eventgroupID,
		TTL:          ttl,
	}
}

// WithOptions sets the first option run.
func (e Entry) WithOptions(index, count uint8) Entry {
	e.Index1 = index
	e.NumOptions1 = count
	return e
}

// WithSecondOptions sets the second option run.
func (e Entry) WithSecondOptions(index, count uint8) Entry {
	e.Index2 = index
	e.NumOptions2 = count
	return e
}
