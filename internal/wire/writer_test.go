package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWriterGeneralLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteLine("LIST a b"); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "LIST a b\n" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestWriterGeneralMultiLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteMultiLine("ATTRIBUTES foo\n{\"name\":\"foo\"}"); err != nil {
		t.Fatal(err)
	}
	want := "BEGIN_MULTILINE\nATTRIBUTES foo\n{\"name\":\"foo\"}\nEND_MULTILINE\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestWriterBinaryFraming(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetMode(Binary)
	payload := "ATTRIBUTES foo\n{\"name\":\"foo\"}\n"
	if err := w.WriteMultiLine(payload); err != nil {
		t.Fatal(err)
	}
	got := buf.Bytes()
	if len(got) < 4 {
		t.Fatalf("frame too short: %d bytes", len(got))
	}
	n := nativeEndian.Uint32(got[:4])
	if int(n) != len(payload) {
		t.Fatalf("length prefix = %d, want %d", n, len(payload))
	}
	if string(got[4:]) != payload {
		t.Fatalf("body = %q, want %q", got[4:], payload)
	}
	// Sentinels must never appear in binary framing.
	if bytes.Contains(got, []byte(BeginMultiLine)) {
		t.Fatalf("binary frame contains BEGIN_MULTILINE sentinel: %q", got)
	}
}

func TestWriterBinaryLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetMode(Binary)
	if err := w.WriteLine("NEW_PVD foo"); err != nil {
		t.Fatal(err)
	}
	got := buf.Bytes()
	n := binary.Size(uint32(0))
	if len(got) < n {
		t.Fatalf("frame too short")
	}
	prefix := nativeEndian.Uint32(got[:4])
	if int(prefix) != len("NEW_PVD foo\n") {
		t.Fatalf("prefix = %d, want %d", prefix, len("NEW_PVD foo\n"))
	}
}
