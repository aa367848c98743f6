package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/someip/internal/observability"
	"github.com/danmuck/someip/internal/protocol/conformance"
	"github.com/danmuck/someip/internal/protocol/sd"
	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/danmuck/someip/internal/protocol/tp"
	"github.com/rs/zerolog/log"
)

// DefaultPeerIdleTimeout bounds how long SD state is kept for a silent peer.
const DefaultPeerIdleTimeout = 5 * time.Minute

type Config struct {
	Codec       someip.Limits
	Conformance conformance.Config
	TP          tp.Config
	// PeerIdleTimeout is how long a peer's SD reboot state outlives its last
	// SD message. Zero uses DefaultPeerIdleTimeout.
	PeerIdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Codec:           someip.DefaultLimits(),
		Conformance:     conformance.DefaultConfig(),
		TP:              tp.DefaultConfig(),
		PeerIdleTimeout: DefaultPeerIdleTimeout,
	}
}

// Delivery is one message handed to the application.
type Delivery struct {
	Peer       string
	Message    *someip.Message
	Violations conformance.Violations
	// SD is set for service discovery messages with a well formed payload.
	SD *sd.Payload
	// Reassembled is set when Message was rebuilt from TP segments.
	Reassembled bool
	// Segment is set for an unfinished TP segment that is delivered only to
	// surface its violations or Err.
	Segment bool
	Err     error
}

// PeerFailure is a discarded TP buffer attributed to its sender.
type PeerFailure struct {
	Peer string
	tp.Failure
}

// Pipeline owns the per-peer reassembly and SD reboot state. Sweep drops the
// reassembler of a peer once it is idle.
type Pipeline struct {
	cfg       Config
	clock     tp.Clock
	validator *conformance.Validator
	tracker   *sd.RebootTracker

	// feeding is held shared across a reassembler lookup and its Feed, and
	// exclusively while idle reassemblers are removed.
	feeding      sync.RWMutex
	mu           sync.Mutex
	reassemblers map[string]*tp.Reassembler
	onFailure    func(PeerFailure)
}

func NewPipeline(cfg Config, clock tp.Clock) (*Pipeline, error) {
	if err := cfg.TP.Validate(); err != nil {
		return nil, err
	}
	if cfg.Codec.MaxPayloadBytes == 0 {
		cfg.Codec = someip.DefaultLimits()
	}
	if clock == nil {
		clock = tp.SystemClock{}
	}
	if cfg.PeerIdleTimeout <= 0 {
		cfg.PeerIdleTimeout = DefaultPeerIdleTimeout
	}
	cfg.Conformance.Unit = cfg.TP.Unit
	return &Pipeline{
		cfg:          cfg,
		clock:        clock,
		validator:    conformance.New(cfg.Conformance),
		tracker:      sd.NewRebootTrackerWithClock(clock.Now),
		reassemblers: make(map[string]*tp.Reassembler),
	}, nil
}

func (p *Pipeline) Config() Config {
	return p.cfg
}

// OnFailure registers fn for TP buffers discarded on timeout or inconsistency.
func (p *Pipeline) OnFailure(fn func(PeerFailure)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailure = fn
}

// Process decodes every message in datagram and runs it through the
// pipeline. Messages decoded before a codec error are still delivered.
func (p *Pipeline) Process(datagram []byte, peer string) ([]Delivery, error) {
	msgs, decodeErr := someip.DecodeAll(datagram)
	out := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		if d, ok := p.ProcessMessage(msg, peer); ok {
			out = append(out, d)
		}
	}
	if decodeErr != nil {
		observability.RecordDecodeError(decodeReason(decodeErr))
		log.Warn().Err(decodeErr).Str("peer", peer).Int("bytes", len(datagram)).Int("decoded", len(msgs)).Msg("endpoint.Process decode failed")
		return out, fmt.Errorf("decode datagram from %s: %w", peer, decodeErr)
	}
	return out, nil
}

// ProcessMessage runs one decoded message through the pipeline. ok is false
// when msg is a TP segment that was buffered without anything to report.
func (p *Pipeline) ProcessMessage(msg *someip.Message, peer string) (Delivery, bool) {
	var ctx conformance.Context
	if msg.Header.IsSD() && len(msg.Payload) > 0 {
		obs := p.tracker.Observe(peer, msg.Header.SessionID, sd.Flags(msg.Payload[0]))
		ctx.FirstSD = obs.First
		if obs.Rebooted {
			p.ResetPeer(peer)
		}
	}

	report := p.validator.Check(msg, ctx)
	d := Delivery{Peer: peer, Message: msg, Violations: report.Violations, SD: report.SD}
	if msg.Header.MessageType.UsesTP() && !d.Violations.Has(conformance.RuleTPHeader) {
		res, err := p.feed(peer, msg)
		switch {
		case err != nil:
			d.Segment = true
			d.Err = err
			return d, true
		case res.Stale:
			return Delivery{}, false
		case !res.Complete:
			d.Segment = true
			return d, len(d.Violations) > 0
		}
		d.Message = res.Message
		d.Reassembled = true
		segment := d.Violations.Filter(func(v conformance.Violation) bool { return v.Rule.IsTP() })
		whole := p.validator.Check(res.Message, conformance.Context{})
		d.Violations = append(segment, whole.Violations...)
		d.SD = whole.SD
	}

	if d.Message.Header.IsSD() && d.SD == nil {
		observability.RecordDecodeError("sd")
	}
	return d, true
}

func (p *Pipeline) feed(peer string, msg *someip.Message) (tp.Result, error) {
	p.feeding.RLock()
	defer p.feeding.RUnlock()
	return p.reassembler(peer).Feed(msg)
}

func (p *Pipeline) reassembler(peer string) *tp.Reassembler {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.reassemblers[peer]
	if ok {
		return r
	}
	// The config was validated in NewPipeline.
	r, _ = tp.NewReassembler(p.cfg.TP, p.clock)
	r.OnFailure(func(f tp.Failure) {
		p.mu.Lock()
		fn := p.onFailure
		p.mu.Unlock()
		if fn != nil {
			fn(PeerFailure{Peer: peer, Failure: f})
		}
	})
	p.reassemblers[peer] = r
	return r
}

// ResetPeer drops the TP state held for peer. It runs automatically when an
// SD reboot of the peer is observed.
func (p *Pipeline) ResetPeer(peer string) int {
	p.mu.Lock()
	r, ok := p.reassemblers[peer]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	n := r.Reset(nil)
	log.Info().Str("peer", peer).Int("buffers", n).Msg("endpoint.ResetPeer")
	return n
}

// ForgetPeer drops every piece of state held for peer. Stream transports
// call it when the connection closes.
func (p *Pipeline) ForgetPeer(peer string) {
	p.feeding.Lock()
	p.mu.Lock()
	r, ok := p.reassemblers[peer]
	delete(p.reassemblers, peer)
	p.mu.Unlock()
	p.feeding.Unlock()

	p.tracker.Forget(peer)
	if ok {
		if n := r.Reset(nil); n > 0 {
			log.Debug().Str("peer", peer).Int("buffers", n).Msg("endpoint.ForgetPeer dropped buffers")
		}
	}
}

// Sweep evicts timed out TP buffers of every peer, then drops reassemblers
// left idle and SD state of peers silent for PeerIdleTimeout.
func (p *Pipeline) Sweep() []PeerFailure {
	p.mu.Lock()
	peers := make(map[string]*tp.Reassembler, len(p.reassemblers))
	for peer, r := range p.reassemblers {
		peers[peer] = r
	}
	p.mu.Unlock()

	var out []PeerFailure
	for peer, r := range peers {
		for _, f := range r.Sweep() {
			out = append(out, PeerFailure{Peer: peer, Failure: f})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })

	p.feeding.Lock()
	p.mu.Lock()
	removed := 0
	for peer, r := range p.reassemblers {
		if r.Idle() {
			delete(p.reassemblers, peer)
			removed++
		}
	}
	p.mu.Unlock()
	p.feeding.Unlock()

	pruned := p.tracker.Prune(p.cfg.PeerIdleTimeout)
	if removed > 0 || len(pruned) > 0 {
		log.Debug().Int("reassemblers", removed).Int("sd_peers", len(pruned)).Msg("endpoint.Sweep released idle peers")
	}
	return out
}

// Reassemblers counts the peers currently holding TP state.
func (p *Pipeline) Reassemblers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reassemblers)
}

// Run sweeps every TP sweep interval until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.TP.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// Pending counts in-flight TP buffers across peers.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.reassemblers {
		n += r.Pending()
	}
	return n
}

// Peers lists the peers that have sent SD messages.
func (p *Pipeline) Peers() []string {
	return p.tracker.Peers()
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, someip.ErrTooShort):
		return "too_short"
	case errors.Is(err, someip.ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, someip.ErrMalformed):
		return "malformed"
	default:
		return "other"
	}
}
