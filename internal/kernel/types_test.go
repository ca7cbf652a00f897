package kernel

import (
	"net"
	"testing"
)

func TestPvdAttributeRoundTrip(t *testing.T) {
	p := &pvdAttribute{
		Index:          7,
		SequenceNumber: 3,
		HFlag:          1,
		NAddresses:     2,
		NRdnss:         1,
		NDnssl:         1,
	}
	putName(p.Name[:], "test.example")
	copy(p.Addresses[0][:], net.ParseIP("2001:db8::1").To16())
	copy(p.Addresses[1][:], net.ParseIP("2001:db8::2").To16())
	copy(p.Rdnss[0][:], net.ParseIP("2001:db8::53").To16())
	putName(p.Dnssl[0][:], "a.example")

	buf := p.marshal()
	if len(buf) != pvdAttributeSize {
		t.Fatalf("marshal produced %d bytes, want %d", len(buf), pvdAttributeSize)
	}

	got, ok := unmarshalPvdAttribute(buf)
	if !ok {
		t.Fatal("unmarshalPvdAttribute failed")
	}
	if getName(got.Name[:]) != "test.example" {
		t.Errorf("Name = %q", getName(got.Name[:]))
	}
	if got.Index != 7 || got.SequenceNumber != 3 || got.HFlag != 1 {
		t.Errorf("scalars = %+v", got)
	}

	attrs := got.toAttrs()
	if attrs.Name != "test.example" {
		t.Errorf("Attrs.Name = %q", attrs.Name)
	}
	if len(attrs.Addresses) != 2 {
		t.Fatalf("got %d addresses, want 2", len(attrs.Addresses))
	}
	if !attrs.Addresses[0].Equal(net.ParseIP("2001:db8::1")) {
		t.Errorf("Addresses[0] = %v", attrs.Addresses[0])
	}
	if len(attrs.Rdnss) != 1 || !attrs.Rdnss[0].Equal(net.ParseIP("2001:db8::53")) {
		t.Errorf("Rdnss = %v", attrs.Rdnss)
	}
	if len(attrs.Dnssl) != 1 || attrs.Dnssl[0] != "a.example" {
		t.Errorf("Dnssl = %v", attrs.Dnssl)
	}
}

func TestUnmarshalRejectsShortBuffer(t *testing.T) {
	if _, ok := unmarshalPvdAttribute(make([]byte, 4)); ok {
		t.Fatal("expected failure on short buffer")
	}
}

func TestPutNameZeroPads(t *testing.T) {
	var buf [16]byte
	for i := range buf {
		buf[i] = 0xff
	}
	putName(buf[:], "ab")
	if getName(buf[:]) != "ab" {
		t.Fatalf("getName = %q", getName(buf[:]))
	}
	for i := 2; i < len(buf); i++ {
		if buf[i] != 0 {
			t.Fatalf("byte %d not zeroed: %x", i, buf[i])
		}
	}
}
