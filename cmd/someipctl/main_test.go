package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/someip/internal/config"
	"github.com/danmuck/someip/internal/protocol/sd"
	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/danmuck/someip/internal/protocol/tp"
	"github.com/danmuck/someip/internal/testutil/testlog"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "off"}, args...))
	err := root.Execute()
	return out.String(), err
}

func requestHex(payload []byte, mutate func(*someip.Header)) string {
	h := someip.Header{
		ServiceID:        0x1234,
		MethodID:         0x0001,
		ClientID:         0x0010,
		SessionID:        0x0001,
		ProtocolVersion:  1,
		InterfaceVersion: 1,
		MessageType:      someip.TypeRequest,
	}
	if mutate != nil {
		mutate(&h)
	}
	return hex.EncodeToString(someip.Encode(h, payload))
}

func TestDecodeCommand(t *testing.T) {
	testlog.Start(t)
	out, err := runCLI(t, "decode", requestHex([]byte{0xde, 0xad}, nil))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(out, "service=0x1234") || !strings.Contains(out, "type=REQUEST") || !strings.Contains(out, "payload=2") {
		t.Fatalf("unexpected output: %q", out)
	}

	if _, err := runCLI(t, "decode", "00 01 02"); err == nil {
		t.Fatalf("expected error for short input")
	}
	if _, err := runCLI(t, "decode", "zz"); err == nil {
		t.Fatalf("expected error for bad hex")
	}
}

func TestDecodeCommandSD(t *testing.T) {
	testlog.Start(t)
	msg, err := sd.NewSession().Next(sd.Payload{
		Entries: []sd.Entry{sd.NewOfferService(sd.ServiceRef{ServiceID: 0x1234, InstanceID: 1, MajorVersion: 1}, 30).WithOptions(0, 1)},
		Options: []sd.Option{sd.NewLoadBalancing(1, 2)},
	})
	if err != nil {
		t.Fatalf("sd next: %v", err)
	}
	b, _ := msg.MarshalBinary()
	out, err := runCLI(t, "decode", hex.EncodeToString(b))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, want := range []string{"sd reboot=true", "OfferService service=0x1234", "priority=1 weight=2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	testlog.Start(t)
	out, err := runCLI(t, "validate", requestHex(nil, nil))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "ok messages=1") {
		t.Fatalf("unexpected output: %q", out)
	}

	bad := requestHex(nil, func(h *someip.Header) {
		h.ProtocolVersion = 2
		h.ReturnCode = 0xFF
		h.SessionID = 0
	})
	out, err = runCLI(t, "validate", bad)
	if err == nil || !strings.Contains(err.Error(), "3 violations") {
		t.Fatalf("expected violations error, got %v", err)
	}
	for _, want := range []string{"protocol_version", "return_code", "session_id"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}

	if _, err := runCLI(t, "validate", "--protocol-version", "2", requestHex(nil, func(h *someip.Header) { h.ProtocolVersion = 2 })); err != nil {
		t.Fatalf("expected configured version to pass: %v", err)
	}
}

func TestSegmentCommand(t *testing.T) {
	testlog.Start(t)
	payload := bytes.Repeat([]byte{0x42}, 100)
	out, err := runCLI(t, "segment", "--size", "32", requestHex(payload, nil))
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	lines := strings.Fields(out)
	if len(lines) != 4 {
		t.Fatalf("expected 4 segments, got %d: %q", len(lines), out)
	}
	r, err := tp.NewReassembler(tp.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("new reassembler: %v", err)
	}
	for i, line := range lines {
		b, err := hex.DecodeString(line)
		if err != nil {
			t.Fatalf("segment %d hex: %v", i, err)
		}
		msg, err := someip.Decode(b)
		if err != nil {
			t.Fatalf("segment %d decode: %v", i, err)
		}
		res, err := r.Feed(msg)
		if err != nil {
			t.Fatalf("segment %d feed: %v", i, err)
		}
		if i == len(lines)-1 && (!res.Complete || !bytes.Equal(res.Message.Payload, payload)) {
			t.Fatalf("segments did not reassemble")
		}
	}
}

func TestConfigCommands(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "someip.toml")
	if _, err := runCLI(t, "config", "init", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := runCLI(t, "config", "init", path); err == nil {
		t.Fatalf("expected init to refuse overwrite")
	}
	out, err := runCLI(t, "config", "check", path)
	if err != nil {
		t.Fatalf("config check: %v", err)
	}
	if !strings.Contains(out, "tp unit=16") || !strings.Contains(out, `listen=":30490"`) {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestListenStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultEngineConfig()
	cfg.Endpoint.Listen = "127.0.0.1:0"
	cfg.Endpoint.TCPListen = "127.0.0.1:0"
	cfg.Endpoint.MetricsAddr = "127.0.0.1:0"
	cfg.Endpoint.JoinSD = false

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listen(ctx, cfg, nil) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("listen did not stop")
	}
}

func TestSendCommandUDP(t *testing.T) {
	testlog.Start(t)
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	out, err := runCLI(t, "send", "--udp", conn.LocalAddr().String(), "--size", "32", requestHex(make([]byte, 100), nil))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out, "datagrams=4") {
		t.Fatalf("unexpected output: %q", out)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := someip.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Header.MessageType != someip.TypeTPRequest {
		t.Fatalf("unexpected type: %s", msg.Header.MessageType)
	}

	if _, err := runCLI(t, "send", requestHex(nil, nil)); err == nil {
		t.Fatalf("expected error without a destination")
	}
}
