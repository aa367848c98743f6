package endpoint

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
)

// JoinSDGroup joins the IPv4 SD multicast group on conn. An empty iface lets
// the kernel pick the interface.
func JoinSDGroup(conn net.PacketConn, iface string, group netip.Addr) (*ipv4.PacketConn, error) {
	if !group.Is4() || !group.IsMulticast() {
		return nil, fmt.Errorf("sd group %s is not an IPv4 multicast address", group)
	}
	var ifi *net.Interface
	if name := strings.TrimSpace(iface); name != "" {
		var err error
		ifi, err = net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("sd interface %q: %w", name, err)
		}
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: net.IP(group.AsSlice())}); err != nil {
		return nil, fmt.Errorf("join sd group %s: %w", group, err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		log.Warn().Err(err).Msg("endpoint.JoinSDGroup loopback not enabled")
	}
	log.Info().Str("group", group.String()).Str("iface", iface).Msg("endpoint.JoinSDGroup joined")
	return pc, nil
}

// LeaveSDGroup undoes JoinSDGroup.
func LeaveSDGroup(pc *ipv4.PacketConn, iface string, group netip.Addr) error {
	var ifi *net.Interface
	if name := strings.TrimSpace(iface); name != "" {
		var err error
		ifi, err = net.InterfaceByName(name)
		if err != nil {
			return fmt.Errorf("sd interface %q: %w", name, err)
		}
	}
	return pc.LeaveGroup(ifi, &net.UDPAddr{IP: net.IP(group.AsSlice())})
}
