package tp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/someip/internal/observability"
	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/rs/zerolog/log"
)

// Key identifies the segment stream of one logical message.
type Key struct {
	ClientID  uint16
	SessionID uint16
	ServiceID uint16
	MethodID  uint16
}

func KeyOf(h someip.Header) Key {
	return Key{
		ClientID:  h.ClientID,
		SessionID: h.SessionID,
		ServiceID: h.ServiceID,
		MethodID:  h.MethodID,
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%04x.%04x/%04x.%04x", k.ServiceID, k.MethodID, k.ClientID, k.SessionID)
}

func (k Key) less(o Key) bool {
	if k.ServiceID != o.ServiceID {
		return k.ServiceID < o.ServiceID
	}
	if k.MethodID != o.MethodID {
		return k.MethodID < o.MethodID
	}
	if k.ClientID != o.ClientID {
		return k.ClientID < o.ClientID
	}
	return k.SessionID < o.SessionID
}

// Result is the outcome of one accepted segment.
type Result struct {
	// Complete is true when the segment finished the message.
	Complete bool
	// Stale is true when the segment belonged to an already completed message.
	Stale   bool
	Payload []byte
	// Message is set by Feed on completion, carrying the non-TP message type.
	Message *someip.Message
}

// Failure reports a discarded reassembly buffer.
type Failure struct {
	Key      Key
	Err      error
	Received int
}

// BufferState is a read-only view of one in-flight buffer.
type BufferState struct {
	Segments     map[uint32]int
	Total        uint32
	HaveTotal    bool
	LastActivity time.Time
}

type buffer struct {
	segments     map[uint32][]byte
	total        uint32
	haveTotal    bool
	lastActivity time.Time
}

func (b *buffer) received() int {
	n := 0
	for _, p := range b.segments {
		n += len(p)
	}
	return n
}

func (b *buffer) maxEnd() uint64 {
	var end uint64
	for off, p := range b.segments {
		end = max(end, uint64(off)+uint64(len(p)))
	}
	return end
}

func (b *buffer) sortedOffsets() []uint32 {
	offsets := make([]uint32, 0, len(b.segments))
	for off := range b.segments {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

// covered reports whether the stored spans cover [0,total) without gaps.
func (b *buffer) covered() bool {
	if !b.haveTotal {
		return false
	}
	var cursor uint64
	for _, off := range b.sortedOffsets() {
		if uint64(off) > cursor {
			return false
		}
		cursor = max(cursor, uint64(off)+uint64(len(b.segments[off])))
	}
	return cursor >= uint64(b.total)
}

func (b *buffer) assemble() []byte {
	out := make([]byte, b.total)
	for _, off := range b.sortedOffsets() {
		copy(out[off:], b.segments[off])
	}
	return out
}

// Reassembler owns the in-flight reassembly buffers. All mutation, including
// the timeout sweep, happens under one lock.
type Reassembler struct {
	mu        sync.Mutex
	cfg       Config
	clock     Clock
	buffers   map[Key]*buffer
	completed map[Key]time.Time
	onFailure func(Failure)
}

// NewReassembler returns a reassembler for cfg. A nil clock uses SystemClock.
func NewReassembler(cfg Config, clock Clock) (*Reassembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Reassembler{
		cfg:       cfg,
		clock:     clock,
		buffers:   make(map[Key]*buffer),
		completed: make(map[Key]time.Time),
	}, nil
}

// OnFailure registers fn for every discarded buffer. fn runs without the lock.
func (r *Reassembler) OnFailure(fn func(Failure)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFailure = fn
}

// Feed consumes one TP segment message.
func (r *Reassembler) Feed(msg *someip.Message) (Result, error) {
	if msg == nil || !msg.Header.MessageType.UsesTP() {
		observability.RecordTPSegment("malformed")
		return Result{}, fmt.Errorf("%w: not a TP message", ErrMalformedTP)
	}
	h, err := ParseHeader(msg.Payload)
	if err != nil {
		observability.RecordTPSegment("malformed")
		return Result{}, err
	}
	seg := Segment{Offset: h.Offset, More: h.More(), Payload: msg.Payload[HeaderSize:]}
	res, err := r.insert(KeyOf(msg.Header), seg)
	if err != nil || !res.Complete {
		return res, err
	}
	out := msg.Header
	out.MessageType = out.MessageType.WithoutTP()
	out.Length = uint32(someip.LengthCovered + len(res.Payload))
	res.Message = &someip.Message{Header: out, Payload: res.Payload}
	return res, nil
}

// Insert applies an already decoded segment for key.
func (r *Reassembler) Insert(key Key, seg Segment) (Result, error) {
	return r.insert(key, seg)
}

func (r *Reassembler) insert(key Key, seg Segment) (Result, error) {
	if err := r.checkSegment(seg); err != nil {
		observability.RecordTPSegment("malformed")
		return Result{}, err
	}

	var failures []Failure
	r.mu.Lock()
	res, err := r.insertLocked(key, seg, &failures)
	fn := r.onFailure
	r.mu.Unlock()

	r.report(fn, failures)
	return res, err
}

func (r *Reassembler) checkSegment(seg Segment) error {
	if seg.Offset%r.cfg.Unit != 0 {
		return fmt.Errorf("%w: offset %d is not aligned to %d", ErrMalformedTP, seg.Offset, r.cfg.Unit)
	}
	if seg.More {
		if len(seg.Payload) == 0 {
			return fmt.Errorf("%w: empty segment with more flag at offset %d", ErrMalformedTP, seg.Offset)
		}
		if uint32(len(seg.Payload))%r.cfg.Unit != 0 {
			return fmt.Errorf("%w: non-final segment length %d is not a multiple of %d", ErrMalformedTP, len(seg.Payload), r.cfg.Unit)
		}
	}
	if seg.End() > uint64(r.cfg.MaxMessageSize) {
		return fmt.Errorf("%w: segment end %d exceeds max_message_size %d", ErrMalformedTP, seg.End(), r.cfg.MaxMessageSize)
	}
	return nil
}

func (r *Reassembler) insertLocked(key Key, seg Segment, failures *[]Failure) (Result, error) {
	now := r.clock.Now()
	if doneAt, ok := r.completed[key]; ok {
		if now.Sub(doneAt) <= r.cfg.ReassemblyTimeout {
			observability.RecordTPSegment("stale")
			log.Debug().Str("key", key.String()).Uint32("offset", seg.Offset).Msg("tp stale segment ignored")
			return Result{Stale: true}, nil
		}
		delete(r.completed, key)
	}

	buf, ok := r.buffers[key]
	if !ok {
		if len(r.buffers) >= r.cfg.MaxBuffers {
			r.evictOldestLocked(failures)
		}
		buf = &buffer{segments: make(map[uint32][]byte)}
		r.buffers[key] = buf
		observability.AddTPBuffers(1)
	}

	if !seg.More {
		total := seg.End()
		if buf.haveTotal && uint64(buf.total) != total {
			return Result{}, r.discardLocked(key, buf, failures,
				fmt.Errorf("%w: %s final segment implies %d bytes, earlier final implied %d", ErrReassemblyInconsistent, key, total, buf.total))
		}
		buf.total = uint32(total)
		buf.haveTotal = true
	}

	payload := make([]byte, len(seg.Payload))
	copy(payload, seg.Payload)
	buf.segments[seg.Offset] = payload
	buf.lastActivity = now

	if buf.haveTotal {
		if end := buf.maxEnd(); end > uint64(buf.total) {
			return Result{}, r.discardLocked(key, buf, failures,
				fmt.Errorf("%w: %s data reaches %d bytes past total %d", ErrReassemblyInconsistent, key, end, buf.total))
		}
	}
	observability.RecordTPSegment("buffered")

	if !buf.covered() {
		return Result{}, nil
	}
	out := buf.assemble()
	delete(r.buffers, key)
	r.completed[key] = now
	observability.AddTPBuffers(-1)
	observability.RecordTPReassembly("complete")
	log.Debug().Str("key", key.String()).Int("bytes", len(out)).Msg("tp reassembly complete")
	return Result{Complete: true, Payload: out}, nil
}

func (r *Reassembler) discardLocked(key Key, buf *buffer, failures *[]Failure, err error) error {
	delete(r.buffers, key)
	observability.AddTPBuffers(-1)
	if errors.Is(err, ErrReassemblyTimeout) {
		observability.RecordTPReassembly("timeout")
	} else {
		observability.RecordTPSegment("rejected")
		observability.RecordTPReassembly("inconsistent")
	}
	log.Warn().Err(err).Str("key", key.String()).Int("received", buf.received()).Msg("tp buffer discarded")
	*failures = append(*failures, Failure{Key: key, Err: err, Received: buf.received()})
	return err
}

func (r *Reassembler) evictOldestLocked(failures *[]Failure) {
	var (
		oldestKey Key
		oldest    *buffer
	)
	for k, b := range r.buffers {
		if oldest == nil || b.lastActivity.Before(oldest.lastActivity) ||
			(b.lastActivity.Equal(oldest.lastActivity) && k.less(oldestKey)) {
			oldestKey, oldest = k, b
		}
	}
	if oldest == nil {
		return
	}
	r.discardLocked(oldestKey, oldest, failures,
		fmt.Errorf("%w: %s evicted at buffer limit %d", ErrReassemblyTimeout, oldestKey, r.cfg.MaxBuffers))
}

// Sweep evicts buffers idle for longer than the reassembly timeout and
// forgets expired completion records.
func (r *Reassembler) Sweep() []Failure {
	var failures []Failure
	r.mu.Lock()
	now := r.clock.Now()
	keys := make([]Key, 0, len(r.buffers))
	for k := range r.buffers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	for _, k := range keys {
		buf := r.buffers[k]
		idle := now.Sub(buf.lastActivity)
		if idle > r.cfg.ReassemblyTimeout {
			r.discardLocked(k, buf, &failures,
				fmt.Errorf("%w: %s idle for %s", ErrReassemblyTimeout, k, idle))
		}
	}
	for k, doneAt := range r.completed {
		if now.Sub(doneAt) > r.cfg.ReassemblyTimeout {
			delete(r.completed, k)
		}
	}
	fn := r.onFailure
	r.mu.Unlock()

	r.report(fn, failures)
	return failures
}

// Run sweeps every cfg.SweepInterval until ctx is done.
func (r *Reassembler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Reset drops in-flight buffers and completion records matching match.
// A nil match drops everything. Dropped buffers are not reported as failures.
func (r *Reassembler) Reset(match func(Key) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k := range r.buffers {
		if match == nil || match(k) {
			delete(r.buffers, k)
			n++
		}
	}
	for k := range r.completed {
		if match == nil || match(k) {
			delete(r.completed, k)
		}
	}
	if n > 0 {
		observability.AddTPBuffers(-n)
		log.Info().Int("buffers", n).Msg("tp reassembly reset")
	}
	return n
}

// Idle reports whether r holds no in-flight buffers and no unexpired
// completion records, so dropping it loses no state.
func (r *Reassembler) Idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffers) > 0 {
		return false
	}
	now := r.clock.Now()
	for _, doneAt := range r.completed {
		if now.Sub(doneAt) <= r.cfg.ReassemblyTimeout {
			return false
		}
	}
	return true
}

func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}

// Snapshot returns the state of the in-flight buffer for key.
func (r *Reassembler) Snapshot(key Key) (BufferState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[key]
	if !ok {
		return BufferState{}, false
	}
	st := BufferState{
		Segments:     make(map[uint32]int, len(buf.segments)),
		Total:        buf.total,
		HaveTotal:    buf.haveTotal,
		LastActivity: buf.lastActivity,
	}
	for off, p := range buf.segments {
		st.Segments[off] = len(p)
	}
	return st, true
}

func (r *Reassembler) report(fn func(Failure), failures []Failure) {
	if fn == nil {
		return
	}
	for _, f := range failures {
		fn(f)
	}
}
