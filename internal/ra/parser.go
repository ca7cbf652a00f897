// Package ra parses ICMPv6 Router Advertisement option TLVs into the
// fields the registry needs, per spec.md §4.4. It has no socket
// dependency of its own; callers hand it the ICMPv6 payload bytes
// received from golang.org/x/net/icmp and feed the result into the
// registry as one transaction.
package ra

import (
	"encoding/binary"
	"errors"
	"log"
	"net"
)

// Option type numbers, as carried in an RA's option TLVs (RFC 4861,
// plus the experimental PvD-ID option pending IANA assignment).
const (
	optSourceLinkAddr  = 1
	optTargetLinkAddr  = 2
	optPrefixInfo      = 3
	optRedirectedHdr   = 4
	optMTU             = 5
	optRouteInfo       = 24
	optRDNSS           = 25
	optDNSSL           = 31
	optRtrAdvInterval  = 7
	optHomeAgentInfo   = 8
	optPvdID           = 253
)

// raHeaderLen is the fixed portion of an ICMPv6 Router Advertisement
// preceding its options: type, code, checksum, cur hop limit, flags,
// router lifetime, reachable time, retrans timer.
const raHeaderLen = 16

// ErrNoPvdOption is returned when an RA carries no PvD-ID option; per
// §4.4 such an RA is dropped entirely (no registry mutation).
var ErrNoPvdOption = errors.New("ra: no PvD-ID option present")

// ErrUnsupportedOption is returned for TARGET_LINKADDR and
// REDIRECTED_HEADER, which §4.4 calls out as errors in this context.
var ErrUnsupportedOption = errors.New("ra: unsupported option in PvD context")

// Prefix is one PREFIX_INFORMATION entry.
type Prefix struct {
	Addr   net.IP
	Length int
}

// Info is everything extracted from one Router Advertisement.
type Info struct {
	RouterLifetime int // seconds, from the RA fixed header

	PvdName        string
	Sequence       int
	HFlag          bool
	LFlag          bool
	PvdLifetime    int // seconds, from the PvD-ID option itself

	MTU      uint32
	Prefixes []Prefix
	Rdnss    []net.IP
	Dnssl    []string
}

// Parse walks data (the ICMPv6 payload, type byte first) and extracts
// an Info. It returns ErrNoPvdOption if no PvD-ID option is present,
// ErrUnsupportedOption if a TARGET_LINKADDR/REDIRECTED_HEADER option is
// encountered, per §4.4.
func Parse(logger *log.Logger, data []byte) (*Info, error) {
	if len(data) < raHeaderLen {
		return nil, errors.New("ra: packet shorter than RA header")
	}
	info := &Info{
		RouterLifetime: int(binary.BigEndian.Uint16(data[6:8])),
	}

	pvdSeen := false
	off := raHeaderLen
	for off+8 <= len(data) {
		optType := data[off]
		optLenUnits := int(data[off+1])
		if optLenUnits == 0 {
			// Zero-length option: abort parsing the remainder of the RA.
			break
		}
		optLen := optLenUnits * 8
		if off+optLen > len(data) {
			// Over-length option: abort parsing the remainder of the RA.
			break
		}
		body := data[off+2 : off+optLen]

		switch optType {
		case optPrefixInfo:
			if p, ok := parsePrefix(body); ok {
				info.Prefixes = append(info.Prefixes, p)
			}
		case optRDNSS:
			info.Rdnss = append(info.Rdnss, parseRdnss(body)...)
		case optDNSSL:
			if names, err := parseLabelNames(body[6:]); err == nil {
				info.Dnssl = append(info.Dnssl, names...)
			} else if logger != nil {
				logger.Printf("ra: dropping malformed DNSSL option: %v", err)
			}
		case optPvdID:
			if !pvdSeen {
				if err := parsePvdID(info, body); err != nil {
					if logger != nil {
						logger.Printf("ra: dropping malformed PvD-ID option: %v", err)
					}
				} else {
					pvdSeen = true
				}
			}
			// First PvD option wins; later ones in the same RA are ignored.
		case optMTU:
			if len(body) >= 6 {
				info.MTU = binary.BigEndian.Uint32(body[2:6])
			}
		case optRouteInfo, optSourceLinkAddr, optRtrAdvInterval, optHomeAgentInfo:
			if logger != nil {
				logger.Printf("ra: ignoring known option type %d", optType)
			}
		case optTargetLinkAddr, optRedirectedHdr:
			return nil, ErrUnsupportedOption
		default:
			if logger != nil {
				logger.Printf("ra: ignoring unrecognized option type %d", optType)
			}
		}

		off += optLen
	}

	if !pvdSeen {
		return nil, ErrNoPvdOption
	}
	return info, nil
}

func parsePrefix(body []byte) (Prefix, bool) {
	if len(body) < 30 {
		return Prefix{}, false
	}
	prefixLen := int(body[0])
	addr := make(net.IP, 16)
	copy(addr, body[14:30])
	return Prefix{Addr: addr, Length: prefixLen}, true
}

// parseRdnss extracts up to three addresses from an RDNSS option body
// (reserved(2) + lifetime(4) + N*16-byte addresses), matching the
// original implementation's count-3/5/7 handling.
func parseRdnss(body []byte) []net.IP {
	if len(body) < 6 {
		return nil
	}
	addrs := body[6:]
	var out []net.IP
	for i := 0; i+16 <= len(addrs) && len(out) < 3; i += 16 {
		ip := make(net.IP, 16)
		copy(ip, addrs[i:i+16])
		out = append(out, ip)
	}
	return out
}

// parseLabelNames decodes a DNS label-sequence blob into one or more
// domain names; an empty label ends the current name and, if followed
// by more non-padding data, begins the next. An oversized label (>63
// bytes) aborts decoding of the option per §4.4.
func parseLabelNames(data []byte) ([]string, error) {
	var names []string
	var cur []byte
	i := 0
	for i < len(data) {
		n := int(data[i])
		if n == 0 {
			if len(cur) > 0 {
				names = append(names, string(cur))
				cur = nil
			}
			i++
			continue
		}
		if n > 63 {
			return nil, errors.New("ra: oversized DNSSL label")
		}
		i++
		if i+n > len(data) {
			return nil, errors.New("ra: truncated DNSSL label")
		}
		if len(cur) > 0 {
			cur = append(cur, '.')
		}
		cur = append(cur, data[i:i+n]...)
		i += n
	}
	if len(cur) > 0 {
		names = append(names, string(cur))
	}
	return names, nil
}

// parsePvdID decodes the experimental PvD-ID option body: sequence
// number, H/L flags, lifetime, and a label-encoded PvD name. The exact
// byte layout is this daemon's own choice (the option is explicitly
// "pending IANA" and carries no settled wire format in the upstream
// sources this was grounded on); it mirrors the DNSSL label encoding
// already used elsewhere in the same RA.
func parsePvdID(info *Info, body []byte) error {
	if len(body) < 6 {
		return errors.New("ra: PvD-ID option too short")
	}
	info.Sequence = int(body[0])
	flags := body[1]
	info.HFlag = flags&0x01 != 0
	info.LFlag = flags&0x02 != 0
	info.PvdLifetime = int(binary.BigEndian.Uint16(body[4:6]))
	names, err := parseLabelNames(body[6:])
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return errors.New("ra: PvD-ID option has no name")
	}
	info.PvdName = names[0]
	return nil
}
