// Package icmpv6 opens and filters the raw ICMPv6 socket the daemon
// reads Router Advertisements from, the IPv6 counterpart of the
// teacher's multicast-join code for IPv4 mDNS (internal/network/socket.go
// in the reference corpus), built on the same golang.org/x/net/ipv4
// family's IPv6 sibling.
package icmpv6

import (
	"fmt"
	"net"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
)

// RouterAdvert is the ICMPv6 message type this daemon cares about; the
// filter below blocks every other type so the read loop never has to
// branch on message type itself.
const RouterAdvert = 134

// Socket wraps the raw ICMPv6 PacketConn with the IPv6-specific control
// surface (filtering, packet info) the daemon needs.
type Socket struct {
	conn *icmp.PacketConn
	pc   *ipv6.PacketConn
}

// Open creates a raw ICMPv6 socket bound to the wildcard address,
// installs a filter that passes only Router Advertisements, and enables
// packet info so each read reports its receiving interface.
func Open() (*Socket, error) {
	conn, err := icmp.ListenPacket("ip6:ipv6-icmp", "::")
	if err != nil {
		return nil, fmt.Errorf("icmpv6: listen: %w", err)
	}
	pc := conn.IPv6PacketConn()

	var filter ipv6.ICMPFilter
	filter.SetAll(true)
	filter.Accept(ipv6.ICMPType(RouterAdvert))
	if err := pc.SetICMPFilter(&filter); err != nil {
		conn.Close()
		return nil, fmt.Errorf("icmpv6: set filter: %w", err)
	}
	if err := pc.SetControlMessage(ipv6.FlagInterface|ipv6.FlagSrc, true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("icmpv6: set control message: %w", err)
	}
	return &Socket{conn: conn, pc: pc}, nil
}

// Close releases the socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// ReadRA blocks for one datagram, returning its ICMPv6 payload bytes,
// the source address, and the name of the interface it arrived on (used
// by the dispatcher to stamp the "interface" attribute, §4.4).
func (s *Socket) ReadRA(buf []byte) (data []byte, src net.IP, ifaceName string, err error) {
	n, cm, peer, err := s.pc.ReadFrom(buf)
	if err != nil {
		return nil, nil, "", fmt.Errorf("icmpv6: read: %w", err)
	}
	addr, ok := peer.(*net.IPAddr)
	if !ok {
		return nil, nil, "", fmt.Errorf("icmpv6: unexpected peer address type %T", peer)
	}
	name := ""
	if cm != nil && cm.IfIndex != 0 {
		if iface, err := net.InterfaceByIndex(cm.IfIndex); err == nil {
			name = iface.Name
		}
	}
	if !addr.IP.IsLinkLocalUnicast() {
		return nil, nil, "", fmt.Errorf("icmpv6: RA from non-link-local source %s", addr.IP)
	}
	return buf[:n], addr.IP, name, nil
}
