package wire

import (
	"encoding/binary"
	"io"
	"unsafe"
)

// Mode selects how a Writer frames outbound payloads; it mirrors the
// three connection modes a client may be promoted through.
type Mode int

const (
	// General is the default line-oriented mode.
	General Mode = iota
	// Control is line-oriented like General but the connection is
	// write-capable (may issue transactions and CREATE_PVD/REMOVE_PVD).
	Control
	// Binary frames every outbound payload with a 4-byte length prefix.
	Binary
)

// nativeEndian is resolved once at package init and used for the binary
// framing length prefix, matching the daemon's historical behavior of
// writing the host's native integer representation rather than a fixed
// network byte order. Documented here because it is the one place this
// decision has any effect: a binary-mode client on a different-endian
// host must know this to decode the prefix.
var nativeEndian binary.ByteOrder = func() binary.ByteOrder {
	var i uint16 = 1
	b := (*[2]byte)(unsafe.Pointer(&i))
	if b[0] == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}()

// Writer frames outbound payloads for one client connection according
// to its current Mode.
type Writer struct {
	w    io.Writer
	mode Mode
}

// NewWriter returns a Writer in General mode.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, mode: General}
}

// SetMode changes the framing mode. Promotion is one-way at the
// dispatcher level; Writer itself does not enforce that, it only frames
// whatever mode it is told to use.
func (w *Writer) SetMode(m Mode) {
	w.mode = m
}

// Mode reports the writer's current framing mode.
func (w *Writer) Mode() Mode {
	return w.mode
}

// WriteLine sends a single \n-terminated line, framed per mode: in
// Binary mode the line (plus its newline) is length-prefixed; otherwise
// it is written as-is.
func (w *Writer) WriteLine(line string) error {
	return w.writePayload([]byte(line + "\n"))
}

// WriteMultiLine sends body as a multi-line payload: sandwiched between
// BEGIN_MULTILINE/END_MULTILINE in General/Control mode, or the raw
// length-prefixed body (without the sentinels) in Binary mode, matching
// §4.1's binary framing rule that the sentinels never appear on the
// wire in Binary mode.
func (w *Writer) WriteMultiLine(body string) error {
	if w.mode == Binary {
		return w.writePayload([]byte(body))
	}
	var buf []byte
	buf = append(buf, BeginMultiLine+"\n"...)
	buf = append(buf, body...)
	if len(body) == 0 || body[len(body)-1] != '\n' {
		buf = append(buf, '\n')
	}
	buf = append(buf, EndMultiLine+"\n"...)
	return w.writePayload(buf)
}

// writePayload writes raw bytes as-is in line modes, or length-prefixed
// in Binary mode.
func (w *Writer) writePayload(payload []byte) error {
	if w.mode != Binary {
		_, err := w.w.Write(payload)
		return err
	}
	var lenBuf [4]byte
	nativeEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.w.Write(payload)
	return err
}
