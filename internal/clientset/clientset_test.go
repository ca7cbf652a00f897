package clientset

import (
	"net"
	"testing"

	"github.com/mpvd-tools/pvdd/internal/wire"
)

func pipeClient(id int) (*Client, net.Conn) {
	a, b := net.Pipe()
	return New(id, a), b
}

func TestSubscribeWildcardMatchesAny(t *testing.T) {
	c, peer := pipeClient(1)
	defer peer.Close()
	c.Subscribe("*")
	if !c.Matches("anything.example") {
		t.Fatal("wildcard subscription did not match")
	}
}

func TestSubscribeSpecificNameOnly(t *testing.T) {
	c, peer := pipeClient(1)
	defer peer.Close()
	c.Subscribe("a.example")
	if !c.Matches("a.example") {
		t.Fatal("expected match on subscribed name")
	}
	if c.Matches("b.example") {
		t.Fatal("unexpected match on unsubscribed name")
	}
}

func TestSubscribeDuplicateIsNoop(t *testing.T) {
	c, peer := pipeClient(1)
	defer peer.Close()
	c.Subscribe("a.example")
	c.Subscribe("a.example")
	if !c.Matches("a.example") {
		t.Fatal("expected match")
	}
	c.Unsubscribe("a.example")
	if c.Matches("a.example") {
		t.Fatal("expected no match after unsubscribe")
	}
}

func TestMaskDefaultsToAllWhenZero(t *testing.T) {
	c, peer := pipeClient(1)
	defer peer.Close()
	c.SetMask(0)
	if !c.HasMask(SubList) || !c.HasMask(SubNewPvd) || !c.HasMask(SubDelPvd) {
		t.Fatal("SetMask(0) did not set all bits")
	}
}

func TestTransactionNestingRefused(t *testing.T) {
	c, peer := pipeClient(1)
	defer peer.Close()
	if !c.BeginTx("a.example") {
		t.Fatal("first BeginTx should succeed")
	}
	if c.BeginTx("b.example") {
		t.Fatal("nested BeginTx should be refused")
	}
	if c.TxName() != "a.example" {
		t.Fatalf("TxName() = %s, want a.example", c.TxName())
	}
}

func TestEndTxMismatchFails(t *testing.T) {
	c, peer := pipeClient(1)
	defer peer.Close()
	c.BeginTx("a.example")
	if c.EndTx("b.example") {
		t.Fatal("EndTx with mismatched name should fail")
	}
	if !c.EndTx("a.example") {
		t.Fatal("EndTx with matching name should succeed")
	}
	if c.TxName() != "" {
		t.Fatal("transaction should be cleared")
	}
}

func TestPromoteChangesMode(t *testing.T) {
	c, peer := pipeClient(1)
	defer peer.Close()
	if c.Mode() != wire.General {
		t.Fatal("new client should start in General mode")
	}
	c.Promote(wire.Binary)
	if c.Mode() != wire.Binary {
		t.Fatal("Promote did not change mode")
	}
}

func TestMarkDeadClosesConnOnce(t *testing.T) {
	c, peer := pipeClient(1)
	defer peer.Close()
	c.MarkDead()
	if !c.Dead() {
		t.Fatal("expected Dead() true")
	}
	c.MarkDead() // must not panic on double release
}

func TestTableCapEnforced(t *testing.T) {
	table := NewTable(1)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c1 := table.Add(a)
	if c1 == nil {
		t.Fatal("expected first Add to succeed")
	}
	c2 := table.Add(b)
	if c2 != nil {
		t.Fatal("expected second Add to be refused at cap")
	}
}

func TestTableCompactRemovesDead(t *testing.T) {
	table := NewTable(10)
	conns := make([]net.Conn, 0, 3)
	for i := 0; i < 3; i++ {
		a, b := net.Pipe()
		conns = append(conns, b)
		c := table.Add(a)
		if i == 1 {
			c.MarkDead()
		}
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	table.Compact()
	if table.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", table.Len())
	}
	for _, c := range table.All() {
		if c.Dead() {
			t.Fatal("dead client survived Compact")
		}
	}
}
