package sd

import (
	"testing"
	"time"

	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/danmuck/someip/internal/testutil/testlog"
)

func TestSessionFirstMessageHasRebootFlag(t *testing.T) {
	testlog.Start(t)
	s := NewSession()
	msg, err := s.Next(Payload{Entries: []Entry{NewFindService(testRef, 3)}})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if msg.Payload[0]&0x80 == 0 {
		t.Fatalf("first SD message must carry the reboot flag")
	}
	if !msg.Header.IsSD() || msg.Header.MessageType != someip.TypeNotification || msg.Header.ClientID != 0 {
		t.Fatalf("unexpected SD header: %+v", msg.Header)
	}
	if msg.Header.SessionID != 1 {
		t.Fatalf("first session id=%d", msg.Header.SessionID)
	}
	if msg.Header.Length != uint32(8+len(msg.Payload)) {
		t.Fatalf("length=%d payload=%d", msg.Header.Length, len(msg.Payload))
	}
}

func TestSessionRebootFlagClearsAfterWrap(t *testing.T) {
	testlog.Start(t)
	s := NewSession()
	s.nextID = 0xFFFF
	last, err := s.Next(Payload{})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if last.Header.SessionID != 0xFFFF || !Flags(last.Payload[0]).Reboot() {
		t.Fatalf("pre-wrap message: session=%d flags=%02x", last.Header.SessionID, last.Payload[0])
	}
	wrapped, err := s.Next(Payload{Flags: FlagReboot})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if wrapped.Header.SessionID != 1 {
		t.Fatalf("session id must skip 0, got %d", wrapped.Header.SessionID)
	}
	if Flags(wrapped.Payload[0]).Reboot() {
		t.Fatalf("reboot flag must clear after wrap")
	}

	s.Reset()
	again, err := s.Next(Payload{})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if again.Header.SessionID != 1 || !Flags(again.Payload[0]).Reboot() {
		t.Fatalf("reset must restore reboot state")
	}
}

func TestRebootTracker(t *testing.T) {
	testlog.Start(t)
	tr := NewRebootTracker()
	if obs := tr.Observe("10.0.0.1:30490", 1, FlagReboot); !obs.First || obs.Rebooted {
		t.Fatalf("first observation: %+v", obs)
	}
	if obs := tr.Observe("10.0.0.1:30490", 2, FlagReboot); obs.First || obs.Rebooted {
		t.Fatalf("increasing session: %+v", obs)
	}
	if obs := tr.Observe("10.0.0.1:30490", 1, FlagReboot); !obs.Rebooted {
		t.Fatalf("session went backwards with reboot flag: %+v", obs)
	}
	tr.Observe("10.0.0.2:30490", 9, 0)
	if obs := tr.Observe("10.0.0.2:30490", 1, FlagReboot); !obs.Rebooted {
		t.Fatalf("reboot flag reappeared: %+v", obs)
	}
	if peers := tr.Peers(); len(peers) != 2 || peers[0] != "10.0.0.1:30490" {
		t.Fatalf("unexpected peers: %v", peers)
	}
	tr.Forget("10.0.0.1:30490")
	if obs := tr.Observe("10.0.0.1:30490", 5, 0); !obs.First {
		t.Fatalf("forgotten peer must be new: %+v", obs)
	}
}

func TestRebootTrackerPruneIdlePeers(t *testing.T) {
	testlog.Start(t)
	now := time.Unix(1700000000, 0)
	tr := NewRebootTrackerWithClock(func() time.Time { return now })
	tr.Observe("10.0.0.1:30490", 1, FlagReboot)
	now = now.Add(time.Minute)
	tr.Observe("10.0.0.2:30490", 1, FlagReboot)
	now = now.Add(30 * time.Second)

	pruned := tr.Prune(time.Minute)
	if len(pruned) != 1 || pruned[0] != "10.0.0.1:30490" {
		t.Fatalf("unexpected pruned peers: %v", pruned)
	}
	if peers := tr.Peers(); len(peers) != 1 || peers[0] != "10.0.0.2:30490" {
		t.Fatalf("unexpected remaining peers: %v", peers)
	}
	if obs := tr.Observe("10.0.0.1:30490", 2, 0); !obs.First {
		t.Fatalf("pruned peer must be new: %+v", obs)
	}
}
