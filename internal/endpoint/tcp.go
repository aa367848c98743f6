package endpoint

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/someip/internal/observability"
	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/rs/zerolog/log"
)

// ServeTCP accepts stream connections on ln until ctx is done. Each
// connection carries back to back SOME/IP messages.
func ServeTCP(ctx context.Context, ln net.Listener, p *Pipeline, handle Handler) error {
	var (
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
		wg    sync.WaitGroup
	)
	closeAll := func() {
		_ = ln.Close()
		mu.Lock()
		for c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeAll()
		case <-stop:
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("endpoint.ServeTCP listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			closeAll()
			wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("tcp accept: %w", err)
		}
		mu.Lock()
		conns[conn] = struct{}{}
		mu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(conns, conn)
				mu.Unlock()
			}()
			serveStream(conn, p, handle)
		}()
	}
}

func serveStream(conn net.Conn, p *Pipeline, handle Handler) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()
	defer p.ForgetPeer(peer)
	log.Debug().Str("peer", peer).Msg("endpoint.ServeTCP client connected")
	reader := bufio.NewReader(conn)
	for {
		msg, err := someip.ReadMessage(reader, p.cfg.Codec)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				observability.RecordDecodeError(decodeReason(err))
				log.Warn().Err(err).Str("peer", peer).Msg("endpoint.ServeTCP stream closed")
			}
			return
		}
		start := time.Now()
		d, ok := p.ProcessMessage(msg, peer)
		observability.RecordProcess("tcp", time.Since(start))
		if ok && handle != nil {
			handle(d)
		}
	}
}
