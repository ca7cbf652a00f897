package registry

import (
	"net"
	"strings"
	"testing"
)

type recordingNotifier struct {
	newPvds []string
	delPvds []string
	attrs   []string
}

func (n *recordingNotifier) NotifyNewPvd(name string)           { n.newPvds = append(n.newPvds, name) }
func (n *recordingNotifier) NotifyDelPvd(name string)           { n.delPvds = append(n.delPvds, name) }
func (n *recordingNotifier) NotifyAttributes(name, json string) { n.attrs = append(n.attrs, name+":"+json) }

func TestBeginTransactionCreatesWellKnownAttrs(t *testing.T) {
	reg := New(nil, nil, 1024, 128)
	p := reg.BeginTransaction("test.example")
	if p == nil {
		t.Fatal("BeginTransaction returned nil")
	}
	for _, key := range []string{"name", "id", "sequenceNumber", "hFlag", "lFlag"} {
		if _, ok := p.Attr(key); !ok {
			t.Errorf("missing well-known attribute %q", key)
		}
	}
	if v, _ := p.Attr("name"); v != `"test.example"` {
		t.Errorf("name = %s, want quoted", v)
	}
}

func TestBeginTransactionNotifiesNewOnlyOnce(t *testing.T) {
	n := &recordingNotifier{}
	reg := New(nil, n, 1024, 128)
	reg.BeginTransaction("test.example")
	reg.BeginTransaction("test.example")
	if len(n.newPvds) != 1 {
		t.Fatalf("got %d NEW_PVD notifications, want 1", len(n.newPvds))
	}
}

func TestEndTransactionNoChangeNoNotification(t *testing.T) {
	n := &recordingNotifier{}
	reg := New(nil, n, 1024, 128)
	p := reg.BeginTransaction("test.example")
	reg.EndTransaction(p)
	if len(n.attrs) != 0 {
		t.Fatalf("got %d ATTRIBUTES notifications, want 0", len(n.attrs))
	}

	p = reg.BeginTransaction("test.example")
	reg.SetAttr(p, "extra", "42")
	reg.SetAttr(p, "extra", "42")
	reg.EndTransaction(p)
	if len(n.attrs) != 1 {
		t.Fatalf("got %d ATTRIBUTES notifications, want 1 (idempotent set must not re-fire)", len(n.attrs))
	}
}

func TestSetAttrRejectsReservedKey(t *testing.T) {
	reg := New(nil, nil, 1024, 128)
	p := reg.BeginTransaction("test.example")
	if reg.SetAttr(p, AttrDeprecated, "1") {
		t.Fatal("SetAttr accepted reserved key")
	}
	if _, ok := p.Attr(AttrDeprecated); ok {
		t.Fatal("reserved key was stored")
	}
}

func TestSetAttrRejectsLifetimeButSystemAttrAccepts(t *testing.T) {
	reg := New(nil, nil, 1024, 128)
	p := reg.BeginTransaction("test.example")
	if reg.SetAttr(p, AttrLifetime, "1800") {
		t.Fatal("SetAttr accepted reserved lifetime key")
	}
	if _, ok := p.Attr(AttrLifetime); ok {
		t.Fatal("lifetime was stored via SetAttr")
	}
	if !reg.SetSystemAttr(p, AttrLifetime, "1800") {
		t.Fatal("SetSystemAttr rejected lifetime")
	}
	v, ok := p.Attr(AttrLifetime)
	if !ok || v != "1800" {
		t.Fatalf("lifetime = %q, %v; want 1800, true", v, ok)
	}
}

func TestSetAttrEnforcesCap(t *testing.T) {
	reg := New(nil, nil, 1024, 5) // 5 well-known already fill the cap
	p := reg.BeginTransaction("test.example")
	if reg.SetAttr(p, "extra", "1") {
		t.Fatal("SetAttr should have been dropped at cap")
	}
}

func TestUnsetAttrNotifiesImmediately(t *testing.T) {
	n := &recordingNotifier{}
	reg := New(nil, n, 1024, 128)
	p := reg.BeginTransaction("test.example")
	reg.SetAttr(p, "extra", "42")
	reg.EndTransaction(p)
	before := len(n.attrs)

	reg.UnsetAttr("test.example", "extra")
	if len(n.attrs) != before+1 {
		t.Fatalf("UnsetAttr did not notify immediately")
	}
	if _, ok := p.Attr("extra"); ok {
		t.Fatal("attribute still present after UnsetAttr")
	}
}

func TestUnsetAttrNoopIfAbsent(t *testing.T) {
	n := &recordingNotifier{}
	reg := New(nil, n, 1024, 128)
	reg.BeginTransaction("test.example")
	reg.UnsetAttr("test.example", "missing")
	if len(n.attrs) != 0 {
		t.Fatalf("UnsetAttr on absent key notified")
	}
	reg.UnsetAttr("unknown.example", "k")
}

func TestRdnssDnsslAggregationOrderAndDedup(t *testing.T) {
	reg := New(nil, nil, 1024, 128)
	p := reg.BeginTransaction("test.example")

	kernelIP := net.ParseIP("2001:db8::1")
	userIP := net.ParseIP("2001:db8::2")
	dupIP := net.ParseIP("2001:db8::1")

	reg.ReplaceKernelLists(p, []net.IP{kernelIP}, []string{"kernel.example"})
	reg.AddUserRdnss(p, userIP)
	reg.AddUserRdnss(p, dupIP) // duplicate of kernel entry, must not appear twice
	reg.AddUserDnssl(p, "user.example")
	reg.AddUserDnssl(p, "kernel.example") // duplicate of kernel entry

	// User-sourced lists are mutated directly (AddUserRdnss/AddUserDnssl
	// have no transactional recompute of their own, unlike
	// ReplaceKernelLists), so the aggregates must be recomputed once more
	// to pick up the user additions before asserting on them.
	if !p.recomputeAggregates() {
		t.Fatal("expected aggregates to change")
	}

	rdnss, _ := p.Attr("rdnss")
	if rdnss != `["2001:db8::1","2001:db8::2"]` {
		t.Fatalf("rdnss = %s", rdnss)
	}
	dnssl, _ := p.Attr("dnssl")
	if dnssl != `["kernel.example","user.example"]` {
		t.Fatalf("dnssl = %s", dnssl)
	}
}

func TestDeleteKernelRdnssNotifiesOnChange(t *testing.T) {
	n := &recordingNotifier{}
	reg := New(nil, n, 1024, 128)
	p := reg.BeginTransaction("test.example")
	addr := net.ParseIP("2001:db8::1")
	reg.ReplaceKernelLists(p, []net.IP{addr}, nil)
	reg.EndTransaction(p)

	before := len(n.attrs)
	if !reg.DeleteKernelRdnss("test.example", addr) {
		t.Fatal("expected removal")
	}
	if len(n.attrs) != before+1 {
		t.Fatal("expected a notification on removal")
	}
	if reg.DeleteKernelRdnss("test.example", addr) {
		t.Fatal("second delete of same address should be a no-op")
	}
}

func TestUnregisterNotifiesAndNoops(t *testing.T) {
	n := &recordingNotifier{}
	reg := New(nil, n, 1024, 128)
	reg.BeginTransaction("test.example")
	reg.Unregister("test.example")
	if len(n.delPvds) != 1 {
		t.Fatalf("got %d DEL_PVD notifications, want 1", len(n.delPvds))
	}
	if _, ok := reg.Get("test.example"); ok {
		t.Fatal("PvD still present after Unregister")
	}
	reg.Unregister("test.example") // no-op, must not panic or re-notify
	if len(n.delPvds) != 1 {
		t.Fatalf("Unregister on absent PvD re-notified")
	}
}

func TestListPreservesInsertionOrder(t *testing.T) {
	reg := New(nil, nil, 1024, 128)
	reg.BeginTransaction("b.example")
	reg.BeginTransaction("a.example")
	got := reg.List()
	want := []string{"b.example", "a.example"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("List() = %v, want %v", got, want)
	}
}

func TestRegisterKernelAggregatesAndNotifies(t *testing.T) {
	n := &recordingNotifier{}
	reg := New(nil, n, 1024, 128)
	p := reg.RegisterKernel(KernelAttrs{
		Name:           "test.example",
		Index:          7,
		SequenceNumber: 3,
		HFlag:          true,
		Rdnss:          []net.IP{net.ParseIP("2001:db8::1")},
		Dnssl:          []string{"a.example"},
	})
	if p == nil {
		t.Fatal("RegisterKernel returned nil")
	}
	if len(n.newPvds) != 1 || len(n.attrs) != 1 {
		t.Fatalf("newPvds=%d attrs=%d, want 1/1", len(n.newPvds), len(n.attrs))
	}
	js := n.attrs[0]
	for _, want := range []string{`"sequenceNumber":3`, `"hFlag":1`, `"rdnss":["2001:db8::1"]`, `"dnssl":["a.example"]`} {
		if !strings.Contains(js, want) {
			t.Errorf("attributes JSON %s missing %s", js, want)
		}
	}
}

func TestBeginTransactionRespectsPvdCap(t *testing.T) {
	reg := New(nil, nil, 1, 128)
	if reg.BeginTransaction("a.example") == nil {
		t.Fatal("first PvD should be accepted")
	}
	if reg.BeginTransaction("b.example") != nil {
		t.Fatal("second PvD should be dropped at cap")
	}
}

func TestAttributesJSONTrailingNewline(t *testing.T) {
	reg := New(nil, nil, 1024, 128)
	p := reg.BeginTransaction("test.example")
	js := p.AttributesJSON()
	if !strings.HasSuffix(js, "}\n") {
		t.Fatalf("AttributesJSON() = %q, want trailing newline", js)
	}
}
