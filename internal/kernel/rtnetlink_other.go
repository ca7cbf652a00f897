//go:build !linux

package kernel

import "net"

// EventKind/Event/PVD*/RDNSS*/DNSSL* constants mirror the Linux build so
// daemon code can reference them unconditionally; they are simply never
// produced on a platform without the rtnetlink transport.
type EventKind int

const (
	EventPvdStatus EventKind = iota
	EventRdnss
	EventDnssl
)

const (
	PvdNew    = 0
	PvdUpdate = 1
	PvdDel    = 2

	RdnssNew = 0
	RdnssDel = 1

	DnsslNew = 0
	DnsslDel = 1
)

// Event mirrors the Linux build's decoded rtnetlink notification.
type Event struct {
	Kind    EventKind
	PvdName string
	State   int
	Addr    net.IP
	Suffix  string
}

// RtConn is the non-Linux stand-in; OpenRtNetlink always fails so the
// daemon skips rtnetlink subscription entirely on this platform.
type RtConn struct{}

// OpenRtNetlink always fails with ErrUnsupportedPlatform.
func OpenRtNetlink() (*RtConn, error) {
	return nil, ErrUnsupportedPlatform
}

// FD always returns -1.
func (c *RtConn) FD() int { return -1 }

// Close is a no-op.
func (c *RtConn) Close() error { return nil }

// Recv always fails.
func (c *RtConn) Recv() (*Event, error) {
	return nil, ErrUnsupportedPlatform
}
