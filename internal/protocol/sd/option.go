package sd

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
)

const optionHeaderSize = 3

// OptionType tags an SD option record.
type OptionType uint8

const (
	OptionConfiguration  OptionType = 0x01
	OptionLoadBalancing  OptionType = 0x02
	OptionIPv4Endpoint   OptionType = 0x04
	OptionIPv6Endpoint   OptionType = 0x06
	OptionIPv4Multicast  OptionType = 0x14
	OptionIPv6Multicast  OptionType = 0x16
	OptionIPv4SDEndpoint OptionType = 0x24
	OptionIPv6SDEndpoint OptionType = 0x26
)

func (t OptionType) Known() bool {
	switch t {
	case OptionConfiguration, OptionLoadBalancing,
		OptionIPv4Endpoint, OptionIPv6Endpoint,
		OptionIPv4Multicast, OptionIPv6Multicast,
		OptionIPv4SDEndpoint, OptionIPv6SDEndpoint:
		return true
	default:
		return false
	}
}

func (t OptionType) String() string {
	switch t {
	case OptionConfiguration:
		return "Configuration"
	case OptionLoadBalancing:
		return "LoadBalancing"
	case OptionIPv4Endpoint:
		return "IPv4Endpoint"
	case OptionIPv6Endpoint:
		return "IPv6Endpoint"
	case OptionIPv4Multicast:
		return "IPv4Multicast"
	case OptionIPv6Multicast:
		return "IPv6Multicast"
	case OptionIPv4SDEndpoint:
		return "IPv4SDEndpoint"
	case OptionIPv6SDEndpoint:
		return "IPv6SDEndpoint"
	default:
		return fmt.Sprintf("UnknownOption(0x%02x)", uint8(t))
	}
}

func (t OptionType) isIPv4() bool {
	return t == OptionIPv4Endpoint || t == OptionIPv4Multicast || t == OptionIPv4SDEndpoint
}

func (t OptionType) isIPv6() bool {
	return t == OptionIPv6Endpoint || t == OptionIPv6Multicast || t == OptionIPv6SDEndpoint
}

// L4Protocol is the transport carried in endpoint options.
type L4Protocol uint8

const (
	ProtoTCP L4Protocol = 0x06
	ProtoUDP L4Protocol = 0x11
)

func (p L4Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	default:
		return fmt.Sprintf("proto(0x%02x)", uint8(p))
	}
}

// ConfigItem is one key[=value] string of a configuration option.
type ConfigItem struct {
	Key      string
	Value    string
	HasValue bool
}

// Option is one SD option record. Which fields are meaningful depends on Type.
type Option struct {
	Type OptionType

	// Endpoint and multicast options.
	Addr     netip.Addr
	Protocol L4Protocol
	Port     uint16

	// Configuration options.
	Config []ConfigItem

	// Load balancing options.
	Priority uint16
	Weight   uint16

	// Raw keeps the body of options with an unknown type.
	Raw []byte
}

func NewIPv4Endpoint(addr netip.AddrPort, proto L4Protocol) Option {
	return Option{Type: OptionIPv4Endpoint, Addr: addr.Addr(), Port: addr.Port(), Protocol: proto}
}

func NewIPv6Endpoint(addr netip.AddrPort, proto L4Protocol) Option {
	return Option{Type: OptionIPv6Endpoint, Addr: addr.Addr(), Port: addr.Port(), Protocol: proto}
}

func NewIPv4Multicast(addr netip.AddrPort) Option {
	return Option{Type: OptionIPv4Multicast, Addr: addr.Addr(), Port: addr.Port(), Protocol: ProtoUDP}
}

func NewConfiguration(items ...ConfigItem) Option {
	return Option{Type: OptionConfiguration, Config: items}
}

func NewLoadBalancing(priority, weight uint16) Option {
	return Option{Type: OptionLoadBalancing, Priority: priority, Weight: weight}
}

// AddrPort returns the endpoint of address-bearing options.
func (o Option) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(o.Addr, o.Port)
}

// body encodes everything after the type field, starting with the reserved byte.
func (o Option) body() ([]byte, error) {
	switch {
	case o.Type.isIPv4():
		if !o.Addr.Is4() {
			return nil, fmt.Errorf("%w: %s needs an IPv4 address, got %v", ErrMalformedSD, o.Type, o.Addr)
		}
		a := o.Addr.As4()
		return endpointBody(a[:], o.Protocol, o.Port), nil
	case o.Type.isIPv6():
		if !o.Addr.Is6() || o.Addr.Is4In6() {
			return nil, fmt.Errorf("%w: %s needs an IPv6 address, got %v", ErrMalformedSD, o.Type, o.Addr)
		}
		a := o.Addr.As16()
		return endpointBody(a[:], o.Protocol, o.Port), nil
	case o.Type == OptionConfiguration:
		return configBody(o.Config)
	case o.Type == OptionLoadBalancing:
		b := make([]byte, 5)
		binary.BigEndian.PutUint16(b[1:3], o.Priority)
		binary.BigEndian.PutUint16(b[3:5], o.Weight)
		return b, nil
	default:
		b := make([]byte, 1+len(o.Raw))
		copy(b[1:], o.Raw)
		return b, nil
	}
}

func endpointBody(addr []byte, proto L4Protocol, port uint16) []byte {
	b := make([]byte, 0, 1+len(addr)+4)
	b = append(b, 0)
	b = append(b, addr...)
	b = append(b, 0, byte(proto))
	return binary.BigEndian.AppendUint16(b, port)
}

func configBody(items []ConfigItem) ([]byte, error) {
	b := []byte{0}
	for _, item := range items {
		if item.Key == "" || strings.Contains(item.Key, "=") {
			return nil, fmt.Errorf("%w: invalid configuration key %q", ErrMalformedSD, item.Key)
		}
		s := item.Key
		if item.HasValue {
			s += "=" + item.Value
		}
		if len(s) > 0xFF {
			return nil, fmt.Errorf("%w: configuration item %q exceeds 255 bytes", ErrMalformedSD, item.Key)
		}
		b = append(b, byte(len(s)))
		b = append(b, s...)
	}
	return append(b, 0), nil
}

func (o Option) appendTo(dst []byte) ([]byte, error) {
	body, err := o.body()
	if err != nil {
		return nil, err
	}
	if len(body) > 0xFFFF {
		return nil, fmt.Errorf("%w: %s option body too large", ErrMalformedSD, o.Type)
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(body)))
	dst = append(dst, byte(o.Type))
	return append(dst, body...), nil
}

// decodeOption reads one option from b and returns the bytes consumed.
func decodeOption(b []byte) (Option, int, error) {
	if len(b) < optionHeaderSize+1 {
		return Option{}, 0, fmt.Errorf("%w: short option header", ErrMalformedSD)
	}
	length := int(binary.BigEndian.Uint16(b[0:2]))
	o := Option{Type: OptionType(b[2])}
	if length < 1 || length > len(b)-optionHeaderSize {
		return Option{}, 0, fmt.Errorf("%w: %s option length %d overruns %d bytes",
			ErrMalformedSD, o.Type, length, len(b)-optionHeaderSize)
	}
	body := b[optionHeaderSize : optionHeaderSize+length]
	data := body[1:]

	switch {
	case o.Type.isIPv4():
		if err := decodeEndpoint(&o, data, 4); err != nil {
			return Option{}, 0, err
		}
	case o.Type.isIPv6():
		if err := decodeEndpoint(&o, data, 16); err != nil {
			return Option{}, 0, err
		}
	case o.Type == OptionConfiguration:
		items, err := decodeConfig(data)
		if err != nil {
			return Option{}, 0, err
		}
		o.Config = items
	case o.Type == OptionLoadBalancing:
		if len(data) != 4 {
			return Option{}, 0, fmt.Errorf("%w: load balancing option length %d", ErrMalformedSD, length)
		}
		o.Priority = binary.BigEndian.Uint16(data[0:2])
		o.Weight = binary.BigEndian.Uint16(data[2:4])
	default:
		o.Raw = append([]byte(nil), data...)
	}
	return o, optionHeaderSize + length, nil
}

func decodeEndpoint(o *Option, data []byte, addrLen int) error {
	if len(data) != addrLen+4 {
		return fmt.Errorf("%w: %s option body %d bytes, want %d", ErrMalformedSD, o.Type, len(data), addrLen+4)
	}
	addr, ok := netip.AddrFromSlice(data[:addrLen])
	if !ok {
		return fmt.Errorf("%w: %s option address", ErrMalformedSD, o.Type)
	}
	o.Addr = addr
	o.Protocol = L4Protocol(data[addrLen+1])
	o.Port = binary.BigEndian.Uint16(data[addrLen+2 : addrLen+4])
	return nil
}

func decodeConfig(data []byte) ([]ConfigItem, error) {
	items := make([]ConfigItem, 0)
	for i := 0; i < len(data); {
		n := int(data[i])
		i++
		if n == 0 {
			if i != len(data) {
				return nil, fmt.Errorf("%w: bytes after configuration terminator", ErrMalformedSD)
			}
			return items, nil
		}
		if n > len(data)-i {
			return nil, fmt.Errorf("%w: configuration item overruns option", ErrMalformedSD)
		}
		s := string(data[i : i+n])
		i += n
		key, value, hasValue := strings.Cut(s, "=")
		if key == "" {
			return nil, fmt.Errorf("%w: configuration item %q without key", ErrMalformedSD, s)
		}
		items = append(items, ConfigItem{Key: key, Value: value, HasValue: hasValue})
	}
	return nil, fmt.Errorf("%w: configuration option missing terminator", ErrMalformedSD)
}
