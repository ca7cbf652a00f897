// Package kernel talks to a PvD-aware kernel: the socket-option calls
// that probe for support, enumerate PvDs, fetch/create/update per-PvD
// attributes, and the rtnetlink subscriber that receives asynchronous
// PvD/RDNSS/DNSSL events. The wire layouts below are translated
// directly from the out-of-tree kernel module's uapi header
// (linux/pvd-user.h in the original sources this was grounded on); Go
// does not see that header, so these sizes and field orders are kept in
// lockstep with it by hand.
package kernel

import (
	"encoding/binary"
	"net"
)

// Size constants mirrored from linux/pvd-user.h.
const (
	pvdNameSize     = 256
	ifNameSize      = 16
	maxPvd          = 1024
	maxAddrPerPvd   = 32
	maxRoutesPerPvd = 32
	maxDnsslPerPvd  = 4
	maxRdnssPerPvd  = 4
)

// Attribute-update flag bits for struct create_pvd.flag: which fields of
// a kernel update actually carry a new value.
const (
	AttrSeqNumber  = 0x01
	AttrHFlag      = 0x02
	AttrLFlag      = 0x04
	AttrDeprecated = 0x08
)

// Bind scopes for SO_BINDTOPVD / the relaxed SO_GETPVDBIND getter.
const (
	ScopeSocket = 0
	ScopeThread = 1
	ScopeProcess = 2
)

// pvdList mirrors struct pvd_list: a kernel-assigned count and a fixed
// table of PvD names.
type pvdList struct {
	NPvd int32
	Pvds [maxPvd][pvdNameSize]byte
}

const pvdListSize = 4 + maxPvd*pvdNameSize

// route mirrors struct net_pvd_route.
type route struct {
	Dst     [16]byte
	Gateway [16]byte
	DevName [ifNameSize]byte
}

// pvdAttribute mirrors struct net_pvd_attribute, the payload returned by
// SO_GETPVDATTRIBUTES and refreshed on an RTM_PVDSTATUS event.
type pvdAttribute struct {
	Name           [pvdNameSize]byte
	Index          int32
	SequenceNumber int32
	HFlag          int32
	LFlag          int32
	ImplicitFlag   int32
	Lla            [16]byte
	Dev            [ifNameSize]byte
	NRoutes        int32
	Routes         [maxRoutesPerPvd]route
	NAddresses     int32
	Addresses      [maxAddrPerPvd][16]byte
	AddrPrefixLen  [maxAddrPerPvd]int32
	NDnssl         int32
	Dnssl          [maxDnsslPerPvd][pvdNameSize]byte
	NRdnss         int32
	Rdnss          [maxRdnssPerPvd][16]byte
}

const pvdAttributeSize = pvdNameSize + 4*5 + 16 + ifNameSize + 4 +
	maxRoutesPerPvd*(16+16+ifNameSize) + 4 + maxAddrPerPvd*16 + maxAddrPerPvd*4 +
	4 + maxDnsslPerPvd*pvdNameSize + 4 + maxRdnssPerPvd*16

// createPvd mirrors struct create_pvd, the payload for SO_CREATEPVD and
// for control-plane attribute forwarding (hFlag/lFlag/sequenceNumber/
// deprecation updates on a PvD-aware kernel).
type createPvd struct {
	Name           [pvdNameSize]byte
	Flag           int32
	SequenceNumber int32
	HFlag          int32
	LFlag          int32
	Deprecated     int32
}

const createPvdSize = pvdNameSize + 4*5

// bindToPvd mirrors struct bind_to_pvd, the payload for SO_BINDTOPVD and
// the relaxed getter.
type bindToPvd struct {
	Scope   int32
	NPvd    int32
	PvdName [pvdNameSize]byte
}

const bindToPvdSize = 4 + 4 + pvdNameSize

// Attrs is the daemon-facing, decoded form of pvdAttribute: the subset
// of kernel fields RegisterKernel actually uses.
type Attrs struct {
	Name           string
	Index          int
	SequenceNumber int
	HFlag          bool
	LFlag          bool
	Addresses      []net.IP
	Rdnss          []net.IP
	Dnssl          []string
}

func putName(dst []byte, name string) {
	n := copy(dst, name)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getName(src []byte) string {
	i := 0
	for i < len(src) && src[i] != 0 {
		i++
	}
	return string(src[:i])
}

func (p *pvdAttribute) marshal() []byte {
	buf := make([]byte, pvdAttributeSize)
	off := 0
	copy(buf[off:], p.Name[:])
	off += pvdNameSize
	off += putInt32(buf[off:], p.Index)
	off += putInt32(buf[off:], p.SequenceNumber)
	off += putInt32(buf[off:], p.HFlag)
	off += putInt32(buf[off:], p.LFlag)
	off += putInt32(buf[off:], p.ImplicitFlag)
	copy(buf[off:], p.Lla[:])
	off += 16
	copy(buf[off:], p.Dev[:])
	off += ifNameSize
	off += putInt32(buf[off:], p.NRoutes)
	for _, r := range p.Routes {
		copy(buf[off:], r.Dst[:])
		off += 16
		copy(buf[off:], r.Gateway[:])
		off += 16
		copy(buf[off:], r.DevName[:])
		off += ifNameSize
	}
	off += putInt32(buf[off:], p.NAddresses)
	for _, a := range p.Addresses {
		copy(buf[off:], a[:])
		off += 16
	}
	for _, l := range p.AddrPrefixLen {
		off += putInt32(buf[off:], l)
	}
	off += putInt32(buf[off:], p.NDnssl)
	for _, d := range p.Dnssl {
		copy(buf[off:], d[:])
		off += pvdNameSize
	}
	off += putInt32(buf[off:], p.NRdnss)
	for _, r := range p.Rdnss {
		copy(buf[off:], r[:])
		off += 16
	}
	return buf
}

func unmarshalPvdAttribute(buf []byte) (*pvdAttribute, bool) {
	if len(buf) < pvdAttributeSize {
		return nil, false
	}
	p := &pvdAttribute{}
	off := 0
	copy(p.Name[:], buf[off:off+pvdNameSize])
	off += pvdNameSize
	p.Index, off = getInt32(buf, off)
	p.SequenceNumber, off = getInt32(buf, off)
	p.HFlag, off = getInt32(buf, off)
	p.LFlag, off = getInt32(buf, off)
	p.ImplicitFlag, off = getInt32(buf, off)
	copy(p.Lla[:], buf[off:off+16])
	off += 16
	copy(p.Dev[:], buf[off:off+ifNameSize])
	off += ifNameSize
	p.NRoutes, off = getInt32(buf, off)
	for i := range p.Routes {
		copy(p.Routes[i].Dst[:], buf[off:off+16])
		off += 16
		copy(p.Routes[i].Gateway[:], buf[off:off+16])
		off += 16
		copy(p.Routes[i].DevName[:], buf[off:off+ifNameSize])
		off += ifNameSize
	}
	p.NAddresses, off = getInt32(buf, off)
	for i := range p.Addresses {
		copy(p.Addresses[i][:], buf[off:off+16])
		off += 16
	}
	for i := range p.AddrPrefixLen {
		p.AddrPrefixLen[i], off = getInt32(buf, off)
	}
	p.NDnssl, off = getInt32(buf, off)
	for i := range p.Dnssl {
		copy(p.Dnssl[i][:], buf[off:off+pvdNameSize])
		off += pvdNameSize
	}
	p.NRdnss, off = getInt32(buf, off)
	for i := range p.Rdnss {
		copy(p.Rdnss[i][:], buf[off:off+16])
		off += 16
	}
	return p, true
}

func putInt32(dst []byte, v int32) int {
	binary.LittleEndian.PutUint32(dst, uint32(v))
	return 4
}

func getInt32(buf []byte, off int) (int32, int) {
	return int32(binary.LittleEndian.Uint32(buf[off : off+4])), off + 4
}

// toAttrs converts the raw kernel struct into the decoded form used by
// the registry, truncating address/RDNSS/DNSSL lists to their reported
// counts (the fixed arrays are zero-padded beyond that).
func (p *pvdAttribute) toAttrs() Attrs {
	a := Attrs{
		Name:           getName(p.Name[:]),
		Index:          int(p.Index),
		SequenceNumber: int(p.SequenceNumber),
		HFlag:          p.HFlag != 0,
		LFlag:          p.LFlag != 0,
	}
	n := int(p.NAddresses)
	if n > len(p.Addresses) {
		n = len(p.Addresses)
	}
	for i := 0; i < n; i++ {
		ip := make(net.IP, 16)
		copy(ip, p.Addresses[i][:])
		a.Addresses = append(a.Addresses, ip)
	}
	n = int(p.NRdnss)
	if n > len(p.Rdnss) {
		n = len(p.Rdnss)
	}
	for i := 0; i < n; i++ {
		ip := make(net.IP, 16)
		copy(ip, p.Rdnss[i][:])
		a.Rdnss = append(a.Rdnss, ip)
	}
	n = int(p.NDnssl)
	if n > len(p.Dnssl) {
		n = len(p.Dnssl)
	}
	for i := 0; i < n; i++ {
		a.Dnssl = append(a.Dnssl, getName(p.Dnssl[i][:]))
	}
	return a
}
