// Package network filters the host's interfaces down to the ones a
// PvD daemon should actually listen for Router Advertisements on.
package network

import "net"

// CandidateInterfaces returns the interfaces eligible to carry Router
// Advertisements: up, multicast-capable, not loopback, and not one of
// the virtual interface families (VPN tunnels, container bridges) that
// never originate a real on-link RA and would otherwise cost the RA
// reader time filtering noise.
func CandidateInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]net.Interface, 0, len(all))
	for _, iface := range all {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isVPN(iface.Name) || isContainer(iface.Name) {
			continue
		}
		out = append(out, iface)
	}
	return out, nil
}

// IsCandidate reports whether a named interface passes the name-based
// part of CandidateInterfaces' filter (not a VPN tunnel or container
// bridge), for checking the interface an RA arrived on without a fresh
// net.Interfaces call. Interface flags (up, multicast, loopback) are not
// checked.
func IsCandidate(name string) bool {
	return !isVPN(name) && !isContainer(name)
}

var vpnPrefixes = []string{"utun", "tun", "ppp", "wg", "tailscale", "wireguard"}

func isVPN(name string) bool {
	for _, prefix := range vpnPrefixes {
		if hasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

var containerPrefixes = []string{"veth", "br-"}

func isContainer(name string) bool {
	if name == "docker0" {
		return true
	}
	for _, prefix := range containerPrefixes {
		if hasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func hasPrefix(name, prefix string) bool {
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}
