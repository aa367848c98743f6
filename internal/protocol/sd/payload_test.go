package sd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"

	"github.com/danmuck/someip/internal/testutil/testlog"
)

var testRef = ServiceRef{ServiceID: 0x1234, InstanceID: 0x0001, MajorVersion: 1, MinorVersion: 7}

func samplePayload() Payload {
	return Payload{
		Flags: FlagReboot | FlagUnicast,
		Entries: []Entry{
			NewOfferService(testRef, 3).WithOptions(0, 2),
			NewSubscribeEventgroup(testRef, 0x0010, 5).WithOptions(2, 1).WithSecondOptions(0, 1),
			NewFindService(ServiceRef{ServiceID: 0xFFFF, InstanceID: 0xFFFF, MajorVersion: 0xFF, MinorVersion: 0xFFFFFFFF}, TTLInfinite),
		},
		Options: []Option{
			NewIPv4Endpoint(netip.MustParseAddrPort("192.168.1.10:30509"), ProtoUDP),
			NewConfiguration(ConfigItem{Key: "hostname", Value: "ecu1", HasValue: true}, ConfigItem{Key: "flag"}),
			NewIPv6Endpoint(netip.MustParseAddrPort("[fd00::1]:40000"), ProtoTCP),
		},
	}
}

func TestEncodeDecodePayloadRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := samplePayload()
	in.Options = append(in.Options,
		NewLoadBalancing(1, 200),
		NewIPv4Multicast(netip.AddrPortFrom(DefaultMulticastGroup, DefaultPort)),
		Option{Type: OptionType(0x77), Raw: []byte{1, 2, 3}},
	)
	b, err := EncodePayload(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodePayload(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Flags != in.Flags {
		t.Fatalf("flags mismatch: %02x", out.Flags)
	}
	if len(out.Entries) != 3 || len(out.Options) != 6 {
		t.Fatalf("unexpected counts: entries=%d options=%d", len(out.Entries), len(out.Options))
	}
	for i := range in.Entries {
		if out.Entries[i] != in.Entries[i] {
			t.Fatalf("entry %d mismatch:\n got=%+v\nwant=%+v", i, out.Entries[i], in.Entries[i])
		}
	}
	if out.Options[0].AddrPort() != netip.MustParseAddrPort("192.168.1.10:30509") || out.Options[0].Protocol != ProtoUDP {
		t.Fatalf("ipv4 option mismatch: %+v", out.Options[0])
	}
	cfg := out.Options[1].Config
	if len(cfg) != 2 || cfg[0].Key != "hostname" || cfg[0].Value != "ecu1" || !cfg[0].HasValue || cfg[1].HasValue {
		t.Fatalf("configuration mismatch: %+v", cfg)
	}
	if out.Options[2].AddrPort() != netip.MustParseAddrPort("[fd00::1]:40000") {
		t.Fatalf("ipv6 option mismatch: %+v", out.Options[2])
	}
	if out.Options[3].Priority != 1 || out.Options[3].Weight != 200 {
		t.Fatalf("load balancing mismatch: %+v", out.Options[3])
	}
	if out.Options[4].Addr != DefaultMulticastGroup || out.Options[4].Port != 30490 {
		t.Fatalf("multicast mismatch: %+v", out.Options[4])
	}
	if out.Options[5].Type.Known() || !bytes.Equal(out.Options[5].Raw, []byte{1, 2, 3}) {
		t.Fatalf("unknown option not preserved: %+v", out.Options[5])
	}
}

func TestEncodePayloadLayout(t *testing.T) {
	testlog.Start(t)
	p := Payload{
		Flags:   FlagReboot | FlagReserved,
		Entries: []Entry{NewOfferService(testRef, 0x000102).WithOptions(0, 1)},
		Options: []Option{NewIPv4Endpoint(netip.MustParseAddrPort("10.0.0.1:30501"), ProtoUDP)},
	}
	b, err := EncodePayload(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{
		0x80, 0, 0, 0, // flags, reserved bits cleared
		0, 0, 0, 16,
		0x01, 0x00, 0x00, 0x10, 0x12, 0x34, 0x00, 0x01,
		0x01, 0x00, 0x01, 0x02, 0x00, 0x00, 0x00, 0x07,
		0, 0, 0, 12,
		0x00, 0x09, 0x04, 0x00, 10, 0, 0, 1, 0x00, 0x11, 0x77, 0x25,
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("unexpected layout:\n got=% x\nwant=% x", b, want)
	}
}

func TestWithdrawalIsDerivedFromTTL(t *testing.T) {
	testlog.Start(t)
	stop := NewStopOfferService(testRef)
	offer := NewOfferService(testRef, 10)
	if stop.Type != offer.Type {
		t.Fatalf("stop and offer must share the wire kind")
	}
	if !stop.IsWithdrawal() || offer.IsWithdrawal() {
		t.Fatalf("withdrawal must follow ttl")
	}
	if stop.Name() != "StopOfferService" || offer.Name() != "OfferService" {
		t.Fatalf("unexpected names: %s %s", stop.Name(), offer.Name())
	}
	if NewStopSubscribeEventgroup(testRef, 1).Name() != "StopSubscribeEventgroup" {
		t.Fatalf("unexpected stop subscribe name")
	}
	if NewSubscribeEventgroupAck(testRef, 1, 0).Name() != "SubscribeEventgroupNack" {
		t.Fatalf("unexpected nack name")
	}
}

func TestEncodeRejectsOptionIndexOutOfRange(t *testing.T) {
	testlog.Start(t)
	p := Payload{Entries: []Entry{NewOfferService(testRef, 1).WithOptions(1, 1)}, Options: []Option{NewLoadBalancing(0, 0)}}
	if _, err := EncodePayload(p); !errors.Is(err, ErrMalformedSD) {
		t.Fatalf("expected ErrMalformedSD, got %v", err)
	}
}

func TestDecodeRejectsOptionIndexOutOfRange(t *testing.T) {
	testlog.Start(t)
	b, err := EncodePayload(Payload{Entries: []Entry{NewOfferService(testRef, 1)}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b[8+1] = 0    // index1
	b[8+3] = 0x10 // one option in run 1, none present
	if _, err := DecodePayload(b); !errors.Is(err, ErrMalformedSD) {
		t.Fatalf("expected ErrMalformedSD, got %v", err)
	}
}

func TestDecodeOverrunsAreMalformed(t *testing.T) {
	testlog.Start(t)
	good, err := EncodePayload(samplePayload())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for n := 0; n < len(good); n++ {
		if _, err := DecodePayload(good[:n]); !errors.Is(err, ErrMalformedSD) {
			t.Fatalf("truncated to %d: expected ErrMalformedSD, got %v", n, err)
		}
	}

	bad := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(bad[4:8], 0xFFFFFFF0)
	if _, err := DecodePayload(bad); !errors.Is(err, ErrMalformedSD) {
		t.Fatalf("huge entries length: expected ErrMalformedSD, got %v", err)
	}

	bad = append([]byte(nil), good...)
	binary.BigEndian.PutUint32(bad[4:8], 15)
	if _, err := DecodePayload(bad); !errors.Is(err, ErrMalformedSD) {
		t.Fatalf("unaligned entries length: expected ErrMalformedSD, got %v", err)
	}
}

func TestDecodeOptionLengthOverrun(t *testing.T) {
	testlog.Start(t)
	b, err := EncodePayload(Payload{Options: []Option{NewLoadBalancing(1, 1)}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// option length field sits right after the options array length
	binary.BigEndian.PutUint16(b[12:14], 0x0100)
	if _, err := DecodePayload(b); !errors.Is(err, ErrMalformedSD) {
		t.Fatalf("expected ErrMalformedSD, got %v", err)
	}
}

func TestEncodeRejectsInvalidFields(t *testing.T) {
	testlog.Start(t)
	cases := []Payload{
		{Entries: []Entry{NewOfferService(testRef, MaxTTL+1)}},
		{Options: []Option{NewIPv4Endpoint(netip.MustParseAddrPort("[::1]:1"), ProtoUDP)}},
		{Options: []Option{NewIPv6Endpoint(netip.MustParseAddrPort("1.2.3.4:1"), ProtoUDP)}},
		{Options: []Option{NewConfiguration(ConfigItem{Key: "a=b"})}},
		{Entries: []Entry{NewOfferService(testRef, 1).WithOptions(0, 16)}},
	}
	for i, p := range cases {
		if _, err := EncodePayload(p); !errors.Is(err, ErrMalformedSD) {
			t.Fatalf("case %d: expected ErrMalformedSD, got %v", i, err)
		}
	}
}

func TestOptionsFor(t *testing.T) {
	testlog.Start(t)
	p := samplePayload()
	opts, err := p.OptionsFor(p.Entries[1])
	if err != nil {
		t.Fatalf("options for: %v", err)
	}
	if len(opts) != 2 || opts[0].Type != OptionIPv6Endpoint || opts[1].Type != OptionIPv4Endpoint {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if _, err := p.OptionsFor(NewOfferService(testRef, 1).WithSecondOptions(3, 1)); !errors.Is(err, ErrMalformedSD) {
		t.Fatalf("expected ErrMalformedSD, got %v", err)
	}
}

func TestUnknownEntryPreserved(t *testing.T) {
	testlog.Start(t)
	e := Entry{Type: EntryType(0x44), ServiceID: 9, TTL: 4, Tail: [4]byte{9, 8, 7, 6}}
	b, err := EncodePayload(Payload{Entries: []Entry{e}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodePayload(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Entries[0] != e || out.Entries[0].Type.Known() {
		t.Fatalf("unknown entry not preserved: %+v", out.Entries[0])
	}
}

func TestReservedPortRange(t *testing.T) {
	if !IsReservedPort(30490) || !IsReservedPort(30499) || IsReservedPort(30500) {
		t.Fatalf("reserved port range wrong")
	}
}
