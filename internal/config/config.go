package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/someip/internal/endpoint"
	"github.com/danmuck/someip/internal/protocol/conformance"
	"github.com/danmuck/someip/internal/protocol/sd"
	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/danmuck/someip/internal/protocol/tp"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. SOMEIP_TP_UNIT.
const EnvPrefix = "SOMEIP"

type EngineConfig struct {
	Codec       someip.Limits
	Conformance conformance.Config
	TP          tp.Config
	Endpoint    EndpointConfig
}

type EndpointConfig struct {
	// Listen is the UDP address for unicast and SD traffic.
	Listen string
	// TCPListen enables the TCP listener when set.
	TCPListen      string
	MulticastGroup string
	// Interface names the NIC used for the SD multicast join. Empty lets the
	// kernel choose.
	Interface   string
	JoinSD      bool
	MetricsAddr string
	// PeerIdleTimeout drops SD state of peers silent for this long.
	PeerIdleTimeout time.Duration
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Codec:       someip.DefaultLimits(),
		Conformance: conformance.DefaultConfig(),
		TP:          tp.DefaultConfig(),
		Endpoint: EndpointConfig{
			Listen:          fmt.Sprintf(":%d", sd.DefaultPort),
			MulticastGroup:  sd.DefaultMulticastGroup.String(),
			JoinSD:          true,
			PeerIdleTimeout: endpoint.DefaultPeerIdleTimeout,
		},
	}
}

type fileConfig struct {
	Codec struct {
		MaxPayloadBytes uint32 `toml:"max_payload_bytes"`
	} `toml:"codec"`
	Conformance struct {
		ProtocolVersion uint8 `toml:"protocol_version"`
	} `toml:"conformance"`
	TP struct {
		Unit              uint32 `toml:"unit"`
		MaxSegmentPayload uint32 `toml:"max_segment_payload"`
		MaxMessageSize    uint32 `toml:"max_message_size"`
		ReassemblyTimeout string `toml:"reassembly_timeout"`
		SweepInterval     string `toml:"sweep_interval"`
		MaxBuffers        int    `toml:"max_buffers"`
	} `toml:"tp"`
	Endpoint struct {
		Listen         string `toml:"listen"`
		TCPListen      string `toml:"tcp_listen"`
		MulticastGroup string `toml:"multicast_group"`
		Interface      string `toml:"interface"`
		JoinSD         bool   `toml:"join_sd"`
		MetricsAddr    string `toml:"metrics_addr"`
		PeerIdle       string `toml:"peer_idle_timeout"`
	} `toml:"endpoint"`
}

// envOverrides holds SOMEIP_* variables. Zero values mean unset.
type envOverrides struct {
	MaxPayloadBytes     uint32        `envconfig:"MAX_PAYLOAD_BYTES"`
	ProtocolVersion     uint8         `envconfig:"PROTOCOL_VERSION"`
	TPUnit              uint32        `envconfig:"TP_UNIT"`
	TPMaxSegmentPayload uint32        `envconfig:"TP_MAX_SEGMENT_PAYLOAD"`
	TPMaxMessageSize    uint32        `envconfig:"TP_MAX_MESSAGE_SIZE"`
	TPReassemblyTimeout time.Duration `envconfig:"TP_REASSEMBLY_TIMEOUT"`
	TPSweepInterval     time.Duration `envconfig:"TP_SWEEP_INTERVAL"`
	TPMaxBuffers        int           `envconfig:"TP_MAX_BUFFERS"`
	Listen              string        `envconfig:"LISTEN"`
	TCPListen           string        `envconfig:"TCP_LISTEN"`
	MulticastGroup      string        `envconfig:"MULTICAST_GROUP"`
	Interface           string        `envconfig:"INTERFACE"`
	MetricsAddr         string        `envconfig:"METRICS_ADDR"`
	PeerIdleTimeout     time.Duration `envconfig:"PEER_IDLE_TIMEOUT"`
}

// LoadEngineConfig reads path on top of the defaults and then applies
// environment overrides. An empty path skips the file.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if strings.TrimSpace(path) != "" {
		if err := applyFile(&cfg, path); err != nil {
			return EngineConfig{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return EngineConfig{}, err
	}
	cfg.Conformance.Unit = cfg.TP.Unit
	if err := Validate(cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

func applyFile(cfg *EngineConfig, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config parse failed (%s): unknown key %s", path, undecoded[0])
	}

	if meta.IsDefined("codec", "max_payload_bytes") {
		cfg.Codec.MaxPayloadBytes = raw.Codec.MaxPayloadBytes
	}
	if meta.IsDefined("conformance", "protocol_version") {
		cfg.Conformance.ProtocolVersion = raw.Conformance.ProtocolVersion
	}

	if meta.IsDefined("tp", "unit") {
		cfg.TP.Unit = raw.TP.Unit
	}
	if meta.IsDefined("tp", "max_segment_payload") {
		cfg.TP.MaxSegmentPayload = raw.TP.MaxSegmentPayload
	}
	if meta.IsDefined("tp", "max_message_size") {
		cfg.TP.MaxMessageSize = raw.TP.MaxMessageSize
	}
	if meta.IsDefined("tp", "reassembly_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.TP.ReassemblyTimeout))
		if err != nil {
			return fmt.Errorf("parse tp.reassembly_timeout: %w", err)
		}
		cfg.TP.ReassemblyTimeout = d
	}
	if meta.IsDefined("tp", "sweep_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.TP.SweepInterval))
		if err != nil {
			return fmt.Errorf("parse tp.sweep_interval: %w", err)
		}
		cfg.TP.SweepInterval = d
	}
	if meta.IsDefined("tp", "max_buffers") {
		cfg.TP.MaxBuffers = raw.TP.MaxBuffers
	}

	if meta.IsDefined("endpoint", "listen") {
		cfg.Endpoint.Listen = strings.TrimSpace(raw.Endpoint.Listen)
	}
	if meta.IsDefined("endpoint", "tcp_listen") {
		cfg.Endpoint.TCPListen = strings.TrimSpace(raw.Endpoint.TCPListen)
	}
	if meta.IsDefined("endpoint", "multicast_group") {
		cfg.Endpoint.MulticastGroup = strings.TrimSpace(raw.Endpoint.MulticastGroup)
	}
	if meta.IsDefined("endpoint", "interface") {
		cfg.Endpoint.Interface = strings.TrimSpace(raw.Endpoint.Interface)
	}
	if meta.IsDefined("endpoint", "join_sd") {
		cfg.Endpoint.JoinSD = raw.Endpoint.JoinSD
	}
	if meta.IsDefined("endpoint", "metrics_addr") {
		cfg.Endpoint.MetricsAddr = strings.TrimSpace(raw.Endpoint.MetricsAddr)
	}
	if meta.IsDefined("endpoint", "peer_idle_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Endpoint.PeerIdle))
		if err != nil {
			return fmt.Errorf("parse endpoint.peer_idle_timeout: %w", err)
		}
		cfg.Endpoint.PeerIdleTimeout = d
	}
	return nil
}

func applyEnv(cfg *EngineConfig) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config env overrides: %w", err)
	}
	if env.MaxPayloadBytes != 0 {
		cfg.Codec.MaxPayloadBytes = env.MaxPayloadBytes
	}
	if env.ProtocolVersion != 0 {
		cfg.Conformance.ProtocolVersion = env.ProtocolVersion
	}
	if env.TPUnit != 0 {
		cfg.TP.Unit = env.TPUnit
	}
	if env.TPMaxSegmentPayload != 0 {
		cfg.TP.MaxSegmentPayload = env.TPMaxSegmentPayload
	}
	if env.TPMaxMessageSize != 0 {
		cfg.TP.MaxMessageSize = env.TPMaxMessageSize
	}
	if env.TPReassemblyTimeout != 0 {
		cfg.TP.ReassemblyTimeout = env.TPReassemblyTimeout
	}
	if env.TPSweepInterval != 0 {
		cfg.TP.SweepInterval = env.TPSweepInterval
	}
	if env.TPMaxBuffers != 0 {
		cfg.TP.MaxBuffers = env.TPMaxBuffers
	}
	if env.Listen != "" {
		cfg.Endpoint.Listen = env.Listen
	}
	if env.TCPListen != "" {
		cfg.Endpoint.TCPListen = env.TCPListen
	}
	if env.MulticastGroup != "" {
		cfg.Endpoint.MulticastGroup = env.MulticastGroup
	}
	if env.Interface != "" {
		cfg.Endpoint.Interface = env.Interface
	}
	if env.MetricsAddr != "" {
		cfg.Endpoint.MetricsAddr = env.MetricsAddr
	}
	if env.PeerIdleTimeout != 0 {
		cfg.Endpoint.PeerIdleTimeout = env.PeerIdleTimeout
	}
	return nil
}

func Validate(cfg EngineConfig) error {
	if cfg.Codec.MaxPayloadBytes == 0 {
		return fmt.Errorf("codec config missing max_payload_bytes")
	}
	if cfg.Conformance.ProtocolVersion == 0 {
		return fmt.Errorf("conformance config missing protocol_version")
	}
	if err := cfg.TP.Validate(); err != nil {
		return fmt.Errorf("tp config invalid: %w", err)
	}
	if cfg.TP.MaxMessageSize > cfg.Codec.MaxPayloadBytes {
		return fmt.Errorf("tp max_message_size %d exceeds codec max_payload_bytes %d", cfg.TP.MaxMessageSize, cfg.Codec.MaxPayloadBytes)
	}
	if strings.TrimSpace(cfg.Endpoint.Listen) == "" {
		return fmt.Errorf("endpoint config missing listen")
	}
	if cfg.Endpoint.PeerIdleTimeout <= 0 {
		return fmt.Errorf("endpoint peer_idle_timeout must be positive")
	}
	if cfg.Endpoint.JoinSD {
		group, err := netip.ParseAddr(cfg.Endpoint.MulticastGroup)
		if err != nil {
			return fmt.Errorf("endpoint multicast_group invalid: %w", err)
		}
		if !group.IsMulticast() {
			return fmt.Errorf("endpoint multicast_group %s is not a multicast address", group)
		}
	}
	return nil
}
