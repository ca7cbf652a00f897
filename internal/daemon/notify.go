package daemon

import (
	"github.com/mpvd-tools/pvdd/internal/clientset"
	"github.com/mpvd-tools/pvdd/internal/wire"
)

// verbPrefix is this implementation's chosen dialect tag (see
// SPEC_FULL.md's dialect resolution): every wire verb, in both
// directions, carries it.
const verbPrefix = "PVD_"

// NotifyNewPvd implements registry.Notifier: every client, including
// CONTROL connections, whose mask has the NEW_PVD bit set receives
// NEW_PVD regardless of per-PvD subscription (§9 Open Question #1; only
// NotifyAttributes is gated by per-PvD subscription, matching the
// original daemon's NotifyPvdState/NotifyPvdAttributes split), and any
// LIST-subscribed client gets a fresh list since membership changed.
func (d *Dispatcher) NotifyNewPvd(name string) {
	for _, c := range d.clients.All() {
		if c.Dead() {
			continue
		}
		if c.HasMask(clientset.SubNewPvd) {
			c.WriteLine(verbPrefix + "NEW_PVD " + name)
		}
	}
	d.notifyList()
}

// NotifyDelPvd implements registry.Notifier, symmetric to NotifyNewPvd.
func (d *Dispatcher) NotifyDelPvd(name string) {
	for _, c := range d.clients.All() {
		if c.Dead() {
			continue
		}
		if c.HasMask(clientset.SubDelPvd) {
			c.WriteLine(verbPrefix + "DEL_PVD " + name)
		}
	}
	d.notifyList()
}

// notifyList sends a fresh PvD name list to every client subscribed to
// LIST changes, per §4.3's LIST mask bit.
func (d *Dispatcher) notifyList() {
	names := d.reg.List()
	line := verbPrefix + "LIST"
	for _, n := range names {
		line += " " + n
	}
	line += " " // trailing space reserved, per §6
	for _, c := range d.clients.All() {
		if c.Dead() || !c.HasMask(clientset.SubList) {
			continue
		}
		c.WriteLine(line)
	}
}

// NotifyAttributes implements registry.Notifier. CONTROL connections
// never receive attribute-change fan-out (§4.3, §9 Open Question #1).
func (d *Dispatcher) NotifyAttributes(name, attrJSON string) {
	for _, c := range d.clients.All() {
		if c.Dead() || c.Mode() == wire.Control {
			continue
		}
		if !c.Matches(name) {
			continue
		}
		body := verbPrefix + "ATTRIBUTES " + name + "\n" + attrJSON
		c.WriteMultiLine(body)
	}
}
