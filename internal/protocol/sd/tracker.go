package sd

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Observation is what the tracker learned from one SD message.
type Observation struct {
	// First is true for the first SD message seen from the peer.
	First bool
	// Rebooted is true when the peer restarted since its previous message.
	Rebooted bool
}

type peerState struct {
	sessionID uint16
	reboot    bool
	lastSeen  time.Time
}

// RebootTracker follows the SD session id and reboot flag of each peer.
type RebootTracker struct {
	mu    sync.Mutex
	now   func() time.Time
	peers map[string]peerState
}

func NewRebootTracker() *RebootTracker {
	return NewRebootTrackerWithClock(time.Now)
}

// NewRebootTrackerWithClock stamps observations with now, which Prune
// compares against.
func NewRebootTrackerWithClock(now func() time.Time) *RebootTracker {
	if now == nil {
		now = time.Now
	}
	return &RebootTracker{
		now:   now,
		peers: make(map[string]peerState),
	}
}

// Observe records one SD message from peer.
func (t *RebootTracker) Observe(peer string, sessionID uint16, flags Flags) Observation {
	key := strings.TrimSpace(peer)
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.peers[key]
	t.peers[key] = peerState{sessionID: sessionID, reboot: flags.Reboot(), lastSeen: t.now()}
	if !seen {
		return Observation{First: true}
	}
	rebooted := flags.Reboot() && (!prev.reboot || sessionID <= prev.sessionID)
	if rebooted {
		log.Warn().
			Str("peer", key).
			Uint16("prev_session", prev.sessionID).
			Uint16("session", sessionID).
			Msg("sd peer reboot detected")
	}
	return Observation{Rebooted: rebooted}
}

func (t *RebootTracker) Forget(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, strings.TrimSpace(peer))
}

// Prune forgets peers not heard from for longer than idle and returns them
// sorted. A pruned peer's next message counts as its first.
func (t *RebootTracker) Prune(idle time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var out []string
	for peer, st := range t.peers {
		if now.Sub(st.lastSeen) > idle {
			delete(t.peers, peer)
			out = append(out, peer)
		}
	}
	sort.Strings(out)
	return out
}

func (t *RebootTracker) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.peers))
	for peer := range t.peers {
		out = append(out, peer)
	}
	sort.Strings(out)
	return out
}
