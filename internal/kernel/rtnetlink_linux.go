//go:build linux

package kernel

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// RTM_* message type numbers and the RTNLGRP_PVD multicast group this
// daemon subscribes to. These are the out-of-tree PvD kernel patch's own
// numbers (spec.md explicitly scopes the kernel ABI as "specified by the
// messages consumed/emitted, not by their ABI"); golang.org/x/sys/unix
// has no binding for them, so this implementation assigns and documents
// its own, above RTM_MAX reserved by upstream rtnetlink.
const (
	rtmPvdStatus = 112
	rtmRdnss     = 113
	rtmDnssl     = 114

	rtnlGrpPvd = 21 // multicast group bit index, joined via SockaddrNetlink.Groups
)

// PVD_NEW/UPDATE/DEL, RDNSS_NEW/DEL, DNSSL_NEW/DEL state values, per
// include/linux/pvd-user.h's pvdmsg/rdnssmsg/dnsslmsg enums.
const (
	PvdNew    = 0
	PvdUpdate = 1
	PvdDel    = 2

	RdnssNew = 0
	RdnssDel = 1

	DnsslNew = 0
	DnsslDel = 1
)

// EventKind discriminates the three rtnetlink message types this daemon
// consumes.
type EventKind int

const (
	EventPvdStatus EventKind = iota
	EventRdnss
	EventDnssl
)

// Event is one decoded rtnetlink notification; which of State/Addr/
// Suffix is meaningful depends on Kind.
type Event struct {
	Kind    EventKind
	PvdName string
	State   int
	Addr    net.IP
	Suffix  string
}

const nlmsghdrLen = 16

// RtConn is a raw AF_NETLINK socket joined to the PvD multicast group.
type RtConn struct {
	fd int
}

// OpenRtNetlink opens and binds the netlink socket, joining RTNLGRP_PVD,
// following the raw-socket construction pattern used for other rtnetlink
// consumers in the retrieval pack (manual nlmsghdr framing over
// AF_NETLINK/NETLINK_ROUTE).
func OpenRtNetlink() (*RtConn, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
	if err != nil {
		return nil, fmt.Errorf("kernel: netlink socket: %w", err)
	}
	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: 1 << (rtnlGrpPvd - 1),
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("kernel: netlink bind: %w", err)
	}
	return &RtConn{fd: fd}, nil
}

// FD returns the underlying file descriptor.
func (c *RtConn) FD() int { return c.fd }

// Close releases the socket.
func (c *RtConn) Close() error { return unix.Close(c.fd) }

// Recv reads and decodes one rtnetlink message. Messages of a type this
// daemon does not consume are skipped (nil, nil is never returned;
// unrecognized types yield an error the caller logs and continues past).
func (c *RtConn) Recv() (*Event, error) {
	buf := make([]byte, 8192)
	n, _, err := unix.Recvfrom(c.fd, buf, 0)
	if err != nil {
		return nil, fmt.Errorf("kernel: netlink recv: %w", err)
	}
	if n < nlmsghdrLen {
		return nil, fmt.Errorf("kernel: netlink message shorter than header (%d bytes)", n)
	}
	msgLen := binary.LittleEndian.Uint32(buf[0:4])
	msgType := binary.LittleEndian.Uint16(buf[4:6])
	if int(msgLen) > n {
		return nil, fmt.Errorf("kernel: netlink message truncated")
	}
	body := buf[nlmsghdrLen:n]

	switch msgType {
	case rtmPvdStatus:
		return decodePvdStatus(body)
	case rtmRdnss:
		return decodeRdnss(body)
	case rtmDnssl:
		return decodeDnssl(body)
	default:
		return nil, fmt.Errorf("kernel: unrecognized netlink message type %d", msgType)
	}
}

func decodePvdStatus(body []byte) (*Event, error) {
	if len(body) < pvdNameSize+4 {
		return nil, fmt.Errorf("kernel: RTM_PVDSTATUS payload too short")
	}
	name := getName(body[:pvdNameSize])
	state, _ := getInt32(body, pvdNameSize)
	return &Event{Kind: EventPvdStatus, PvdName: name, State: int(state)}, nil
}

func decodeRdnss(body []byte) (*Event, error) {
	if len(body) < pvdNameSize+16+4 {
		return nil, fmt.Errorf("kernel: RTM_RDNSS payload too short")
	}
	name := getName(body[:pvdNameSize])
	ip := make(net.IP, 16)
	copy(ip, body[pvdNameSize:pvdNameSize+16])
	state, _ := getInt32(body, pvdNameSize+16)
	return &Event{Kind: EventRdnss, PvdName: name, Addr: ip, State: int(state)}, nil
}

func decodeDnssl(body []byte) (*Event, error) {
	if len(body) < pvdNameSize+pvdNameSize+4 {
		return nil, fmt.Errorf("kernel: RTM_DNSSL payload too short")
	}
	name := getName(body[:pvdNameSize])
	suffix := getName(body[pvdNameSize : pvdNameSize+pvdNameSize])
	state, _ := getInt32(body, pvdNameSize+pvdNameSize)
	return &Event{Kind: EventDnssl, PvdName: name, Suffix: suffix, State: int(state)}, nil
}
