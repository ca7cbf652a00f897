//go:build linux

package kernel

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Conn is a throwaway socket used only to carry PvD socket-option calls;
// it is never used for I/O. One Conn is opened at startup for the
// enumerate/probe sequence and reused for control-plane kernel writes.
type Conn struct {
	fd int
}

// Open creates the throwaway socket the PvD socket options are issued
// against, mirroring libpvd.c's use of an AF_INET6/SOCK_DGRAM socket for
// every kernel_* call.
func Open() (*Conn, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("kernel: socket: %w", err)
	}
	return &Conn{fd: fd}, nil
}

// Close releases the throwaway socket.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}

func getsockopt(fd, opt int, buf []byte) (int, error) {
	optlen := uint32(len(buf))
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(fd), uintptr(solPvd), uintptr(opt),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&optlen)), 0)
	if errno != 0 {
		return 0, errno
	}
	return int(optlen), nil
}

func setsockopt(fd, opt int, buf []byte) error {
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT,
		uintptr(fd), uintptr(solPvd), uintptr(opt),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Probe returns nil if the running kernel is PvD-aware. Otherwise the
// errno of the probe call is returned verbatim, so callers can match it
// with errors.Is against unix.ENOPROTOOPT to select the RA-only
// fallback path, per §4.5.
func (c *Conn) Probe() error {
	buf := make([]byte, pvdListSize)
	_, err := getsockopt(c.fd, optGetPvdList, buf)
	return err
}

// EnumeratePvds returns every PvD name the kernel currently knows about.
func (c *Conn) EnumeratePvds() ([]string, error) {
	buf := make([]byte, pvdListSize)
	n, err := getsockopt(c.fd, optGetPvdList, buf)
	if err != nil {
		return nil, fmt.Errorf("kernel: SO_GETPVDLIST: %w", err)
	}
	if n < 4 {
		return nil, nil
	}
	var list pvdList
	list.NPvd = int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16 | int32(buf[3])<<24
	count := int(list.NPvd)
	if count > maxPvd {
		count = maxPvd
	}
	names := make([]string, 0, count)
	off := 4
	for i := 0; i < count && off+pvdNameSize <= len(buf); i++ {
		names = append(names, getName(buf[off:off+pvdNameSize]))
		off += pvdNameSize
	}
	return names, nil
}

// GetAttributes fetches the full kernel attribute bundle for name.
func (c *Conn) GetAttributes(name string) (Attrs, error) {
	req := &pvdAttribute{}
	putName(req.Name[:], name)
	buf := req.marshal()
	n, err := getsockopt(c.fd, optGetPvdAttributes, buf)
	if err != nil {
		return Attrs{}, fmt.Errorf("kernel: SO_GETPVDATTRIBUTES(%s): %w", name, err)
	}
	got, ok := unmarshalPvdAttribute(buf[:n])
	if !ok {
		return Attrs{}, fmt.Errorf("kernel: SO_GETPVDATTRIBUTES(%s): short reply", name)
	}
	return got.toAttrs(), nil
}

// CreatePvd asks the kernel to create a new PvD record by name.
func (c *Conn) CreatePvd(name string) error {
	req := &createPvd{}
	putName(req.Name[:], name)
	buf := marshalCreatePvd(req)
	if err := setsockopt(c.fd, optCreatePvd, buf); err != nil {
		return fmt.Errorf("kernel: SO_CREATEPVD(%s): %w", name, err)
	}
	return nil
}

// UpdateAttr forwards an hFlag/lFlag/sequenceNumber/deprecation update
// to the kernel; flags selects which fields are meaningful, per the
// PVD_ATTR_* bitmask in types.go. §4.2 says the kernel's own rtnetlink
// event is the authoritative registry write, so this call's only job is
// to ask the kernel to make that write happen.
func (c *Conn) UpdateAttr(name string, flags int32, seq int, hFlag, lFlag, deprecated bool) error {
	req := &createPvd{
		Flag:           flags,
		SequenceNumber: int32(seq),
		HFlag:          boolInt32(hFlag),
		LFlag:          boolInt32(lFlag),
		Deprecated:     boolInt32(deprecated),
	}
	putName(req.Name[:], name)
	buf := marshalCreatePvd(req)
	if err := setsockopt(c.fd, optUpdatePvdAttr, buf); err != nil {
		return fmt.Errorf("kernel: update attr(%s): %w", name, err)
	}
	return nil
}

// Bind issues SO_BINDTOPVD for scope with the given bind type and name
// (name is ignored for BindInherit/BindNone).
func (c *Conn) Bind(scope int, bindType BindType, name string) error {
	req := &bindToPvd{Scope: int32(scope)}
	switch bindType {
	case BindInherit:
		req.NPvd = -1
	case BindNone:
		req.NPvd = 0
	case BindOne:
		req.NPvd = 1
		putName(req.PvdName[:], name)
	}
	buf := marshalBindToPvd(req)
	if err := setsockopt(c.fd, optBindToPvd, buf); err != nil {
		return fmt.Errorf("kernel: SO_BINDTOPVD: %w", err)
	}
	return nil
}

// GetBoundPvd is the relaxed getter from original_source/src/libpvd.c:
// ok is false (no error) when the scope is simply unbound, matching the
// "0 means unbound, -1 means error" convention translated into Go's
// idiomatic (value, ok, error) shape.
func (c *Conn) GetBoundPvd(scope int) (name string, ok bool, err error) {
	req := &bindToPvd{Scope: int32(scope)}
	buf := marshalBindToPvd(req)
	n, gerr := getsockopt(c.fd, optGetBoundPvd, buf)
	if gerr != nil {
		return "", false, fmt.Errorf("kernel: SO_GETPVDBIND: %w", gerr)
	}
	got, ok2 := unmarshalBindToPvd(buf[:n])
	if !ok2 || got.NPvd == 0 {
		return "", false, nil
	}
	return getName(got.PvdName[:]), true, nil
}

func boolInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func marshalCreatePvd(p *createPvd) []byte {
	buf := make([]byte, createPvdSize)
	off := 0
	copy(buf[off:], p.Name[:])
	off += pvdNameSize
	off += putInt32(buf[off:], p.Flag)
	off += putInt32(buf[off:], p.SequenceNumber)
	off += putInt32(buf[off:], p.HFlag)
	off += putInt32(buf[off:], p.LFlag)
	off += putInt32(buf[off:], p.Deprecated)
	return buf
}

func marshalBindToPvd(p *bindToPvd) []byte {
	buf := make([]byte, bindToPvdSize)
	off := 0
	off += putInt32(buf[off:], p.Scope)
	off += putInt32(buf[off:], p.NPvd)
	copy(buf[off:], p.PvdName[:])
	return buf
}

func unmarshalBindToPvd(buf []byte) (*bindToPvd, bool) {
	if len(buf) < bindToPvdSize {
		return nil, false
	}
	p := &bindToPvd{}
	off := 0
	p.Scope, off = getInt32(buf, off)
	p.NPvd, off = getInt32(buf, off)
	copy(p.PvdName[:], buf[off:off+pvdNameSize])
	return p, true
}
