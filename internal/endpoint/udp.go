package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/someip/internal/observability"
	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/danmuck/someip/internal/protocol/tp"
	"github.com/rs/zerolog/log"
)

// MaxDatagramSize is the largest UDP payload read in one call.
const MaxDatagramSize = 65535

// Handler receives every delivery produced by a serve loop.
type Handler func(Delivery)

// ServeUDP reads datagrams from conn until ctx is done. conn is closed on
// return.
func ServeUDP(ctx context.Context, conn net.PacketConn, p *Pipeline, handle Handler) error {
	defer conn.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	log.Info().Str("addr", conn.LocalAddr().String()).Msg("endpoint.ServeUDP listening")

	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("udp read: %w", err)
		}
		start := time.Now()
		deliveries, err := p.Process(buf[:n], addr.String())
		observability.RecordProcess("udp", time.Since(start))
		if err != nil {
			log.Debug().Err(err).Str("peer", addr.String()).Msg("endpoint.ServeUDP datagram rejected")
		}
		for _, d := range deliveries {
			if handle != nil {
				handle(d)
			}
		}
	}
}

// SendUDP writes msg to addr, splitting it into TP segments when the payload
// does not fit one datagram.
func SendUDP(conn net.PacketConn, addr net.Addr, msg *someip.Message, cfg tp.Config) (int, error) {
	segments, err := tp.Split(msg, cfg)
	if err != nil {
		return 0, err
	}
	for i, b := range segments {
		if _, err := conn.WriteTo(b, addr); err != nil {
			return i, fmt.Errorf("udp write segment %d/%d: %w", i+1, len(segments), err)
		}
	}
	log.Debug().
		Str("peer", addr.String()).
		Uint32("message_id", msg.Header.MessageID()).
		Int("datagrams", len(segments)).
		Msg("endpoint.SendUDP")
	return len(segments), nil
}
