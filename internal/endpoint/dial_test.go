package endpoint

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/danmuck/someip/internal/testutil/testlog"
)

func TestNextBackoffDelay(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for i, w := range want {
		if got := NextBackoffDelay(cfg, i+1, nil); got != w {
			t.Fatalf("attempt %d delay=%v want %v", i+1, got, w)
		}
	}
	cfg.Jitter = true
	if got := NextBackoffDelay(cfg, 2, nil); got != 100*time.Millisecond {
		t.Fatalf("jitter without rng must halve the delay, got %v", got)
	}
	if got := NextBackoffDelay(BackoffConfig{}, 3, nil); got != 0 {
		t.Fatalf("zero config must not wait, got %v", got)
	}
}

func TestDialTCPAndSend(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	received := make(chan *someip.Message, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		msg, err := someip.ReadMessage(conn, someip.DefaultLimits())
		if err == nil {
			received <- msg
		}
	}()

	conn, err := DialTCP(context.Background(), ln.Addr().String(), DefaultBackoff())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := SendTCP(conn, someip.DefaultLimits(), testMessage([]byte("hello"))); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-received:
		if string(msg.Payload) != "hello" {
			t.Fatalf("payload=%q", msg.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}

func TestDialTCPGivesUp(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, MaxAttempts: 3}
	if _, err := DialTCP(context.Background(), addr, cfg); err == nil {
		t.Fatalf("expected dial to a closed port to fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg.MaxAttempts = 0
	if _, err := DialTCP(ctx, addr, cfg); err == nil {
		t.Fatalf("expected cancelled dial to fail")
	}
}
