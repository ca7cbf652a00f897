package daemon

import (
	"net"
	"strconv"
	"strings"

	"github.com/mpvd-tools/pvdd/internal/clientset"
	"github.com/mpvd-tools/pvdd/internal/jsonutil"
	"github.com/mpvd-tools/pvdd/internal/kernel"
	"github.com/mpvd-tools/pvdd/internal/network"
	"github.com/mpvd-tools/pvdd/internal/perrors"
	"github.com/mpvd-tools/pvdd/internal/ra"
	"github.com/mpvd-tools/pvdd/internal/registry"
	"github.com/mpvd-tools/pvdd/internal/wire"
)

// kernelAttrKeys are forwarded to the kernel instead of stored locally
// when the kernel is PvD-aware; the authoritative write comes back as an
// rtnetlink RTM_PVDSTATUS event (§4.2).
var kernelAttrKeys = map[string]bool{
	"hFlag":          true,
	"lFlag":          true,
	"sequenceNumber": true,
}

// dispatchFrame applies one wire frame to the client's in-progress
// multi-line state and then to the verb dispatcher.
func (d *Dispatcher) dispatchFrame(c *clientset.Client, f wire.Frame) {
	if f.MultiLine {
		d.dispatchMultiLine(c, f.Line)
		return
	}
	d.dispatchLine(c, f.Line)
}

// dispatchLine handles a single-line frame: either a bare verb, a
// promotion request, or a SET_ATTRIBUTE whose value occupies the rest
// of the line.
func (d *Dispatcher) dispatchLine(c *clientset.Client, line string) {
	verb, rest, ok := splitVerb(line)
	if !ok {
		d.protocolError(c, line, "malformed line")
		return
	}

	switch verb {
	case "CONNECTION_PROMOTE_CONTROL":
		c.Promote(wire.Control)
	case "CONNECTION_PROMOTE_BINARY":
		c.Promote(wire.Binary)
	case "GET_LIST":
		d.cmdGetList(c)
	case "GET_ATTRIBUTES":
		d.cmdGetAttributes(c, strings.TrimSpace(rest))
	case "GET_ATTRIBUTE":
		name, key, ok := splitTwo(rest)
		if !ok {
			d.protocolError(c, line, "GET_ATTRIBUTE requires <name> <key>")
			return
		}
		d.cmdGetAttribute(c, name, key)
	case "SUBSCRIBE_NOTIFICATIONS":
		d.cmdSubscribeNotifications(c, strings.TrimSpace(rest))
	case "UNSUBSCRIBE_NOTIFICATIONS":
		c.ClearMask()
	case "SUBSCRIBE":
		c.Subscribe(strings.TrimSpace(rest))
	case "UNSUBSCRIBE":
		c.Unsubscribe(strings.TrimSpace(rest))
	case "BEGIN_TRANSACTION":
		d.cmdBeginTransaction(c, strings.TrimSpace(rest))
	case "END_TRANSACTION":
		d.cmdEndTransaction(c, strings.TrimSpace(rest))
	case "SET_ATTRIBUTE":
		name, key, value, ok := splitThree(rest)
		if !ok {
			d.protocolError(c, line, "SET_ATTRIBUTE requires <name> <key> <value>")
			return
		}
		d.cmdSetAttribute(c, name, key, value)
	case "UNSET_ATTRIBUTE":
		name, key, ok := splitTwo(rest)
		if !ok {
			d.protocolError(c, line, "UNSET_ATTRIBUTE requires <name> <key>")
			return
		}
		d.reg.UnsetAttr(name, key)
	case "CREATE_PVD":
		id, name, ok := splitTwo(rest)
		if !ok {
			d.protocolError(c, line, "CREATE_PVD requires <id> <name>")
			return
		}
		d.cmdCreatePvd(c, id, name)
	case "REMOVE_PVD":
		d.cmdRemovePvd(c, strings.TrimSpace(rest))
	default:
		d.protocolError(c, line, "unknown verb")
	}
}

// dispatchMultiLine handles the multi-line SET_ATTRIBUTE form: the
// first line of the reassembled body is "SET_ATTRIBUTE <name> <key>",
// everything after the first \n is the value verbatim.
func (d *Dispatcher) dispatchMultiLine(c *clientset.Client, body string) {
	firstNL := strings.IndexByte(body, '\n')
	var header, value string
	if firstNL < 0 {
		header, value = body, ""
	} else {
		header, value = body[:firstNL], body[firstNL+1:]
	}
	verb, rest, ok := splitVerb(header)
	if !ok || verb != "SET_ATTRIBUTE" {
		d.protocolError(c, header, "multi-line frame must open with SET_ATTRIBUTE")
		return
	}
	name, key, ok := splitTwo(rest)
	if !ok {
		d.protocolError(c, header, "SET_ATTRIBUTE requires <name> <key>")
		return
	}
	d.cmdSetAttribute(c, name, key, value)
}

func (d *Dispatcher) protocolError(c *clientset.Client, line, msg string) {
	verb, _, _ := splitVerb(line)
	err := &perrors.ProtocolError{Verb: verb, Line: line, Message: msg}
	d.logf("daemon: %v", err)
}

func splitVerb(line string) (verb, rest string, ok bool) {
	if !strings.HasPrefix(line, verbPrefix) {
		return "", "", false
	}
	line = line[len(verbPrefix):]
	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return line, "", true
	}
	return line[:sp], line[sp+1:], true
}

func splitTwo(rest string) (a, b string, ok bool) {
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func splitThree(rest string) (a, b, c string, ok bool) {
	parts := strings.SplitN(rest, " ", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func (d *Dispatcher) cmdGetList(c *clientset.Client) {
	names := d.reg.List()
	line := verbPrefix + "LIST"
	for _, n := range names {
		line += " " + n
	}
	line += " "
	c.WriteLine(line)
}

func (d *Dispatcher) cmdGetAttributes(c *clientset.Client, target string) {
	if target == "*" {
		for _, name := range d.reg.List() {
			d.sendAttributes(c, name)
		}
		return
	}
	d.sendAttributes(c, target)
}

func (d *Dispatcher) sendAttributes(c *clientset.Client, name string) {
	p, ok := d.reg.Get(name)
	if !ok {
		c.WriteMultiLine(verbPrefix + "ATTRIBUTES " + name + "\nnull\n")
		return
	}
	c.WriteMultiLine(verbPrefix + "ATTRIBUTES " + name + "\n" + p.AttributesJSON())
}

func (d *Dispatcher) cmdGetAttribute(c *clientset.Client, name, key string) {
	header := verbPrefix + "ATTRIBUTE " + name + " " + key + "\n"
	p, ok := d.reg.Get(name)
	if !ok {
		c.WriteMultiLine(header + "null\n")
		return
	}
	v, ok := p.Attr(key)
	if !ok {
		c.WriteMultiLine(header + "null\n")
		return
	}
	c.WriteMultiLine(header + v + "\n")
}

func (d *Dispatcher) cmdSubscribeNotifications(c *clientset.Client, arg string) {
	if arg == "" {
		c.SetMask(0)
		return
	}
	mask, err := strconv.Atoi(arg)
	if err != nil {
		c.SetMask(0)
		return
	}
	c.SetMask(mask)
}

func (d *Dispatcher) cmdBeginTransaction(c *clientset.Client, name string) {
	if !c.BeginTx(name) {
		d.logf("daemon: client attempted nested BEGIN_TRANSACTION on %q while %q open", name, c.TxName())
		return
	}
	d.reg.BeginTransaction(name)
}

func (d *Dispatcher) cmdEndTransaction(c *clientset.Client, name string) {
	if !c.EndTx(name) {
		err := &perrors.TransactionError{PvdName: name, Message: "END_TRANSACTION name does not match open transaction"}
		d.logf("daemon: %v, releasing client", err)
		c.MarkDead()
		return
	}
	if p, ok := d.reg.Get(name); ok {
		d.reg.EndTransaction(p)
	}
}

func (d *Dispatcher) cmdSetAttribute(c *clientset.Client, name, key, value string) {
	if c.TxName() != name {
		d.logf("daemon: dropping SET_ATTRIBUTE %s %s: no matching open transaction", name, key)
		return
	}
	if d.kernelAware && kernelAttrKeys[key] && d.kconn != nil {
		d.forwardAttrToKernel(name, key, value)
		return
	}
	p, ok := d.reg.Get(name)
	if !ok {
		return
	}
	d.reg.SetAttr(p, key, value)
}

func (d *Dispatcher) forwardAttrToKernel(name, key, value string) {
	var flags int32
	var hFlag, lFlag bool
	var seq int
	switch key {
	case "hFlag":
		flags = kernel.AttrHFlag
		hFlag = value == "1"
	case "lFlag":
		flags = kernel.AttrLFlag
		lFlag = value == "1"
	case "sequenceNumber":
		flags = kernel.AttrSeqNumber
		seq, _ = strconv.Atoi(value)
	}
	if err := d.kconn.UpdateAttr(name, flags, seq, hFlag, lFlag, false); err != nil {
		d.logf("daemon: kernel update of %s.%s failed: %v", name, key, err)
	}
}

func (d *Dispatcher) cmdCreatePvd(c *clientset.Client, idStr, name string) {
	id, _ := strconv.Atoi(idStr)
	if d.kernelAware && d.kconn != nil {
		if err := d.kconn.CreatePvd(name); err != nil {
			d.logf("daemon: kernel CREATE_PVD %s failed: %v", name, err)
		}
		return
	}
	p := d.reg.BeginTransaction(name)
	if p == nil {
		return
	}
	p.Index = id
	d.reg.SetAttr(p, "id", strconv.Itoa(id))
	d.reg.EndTransaction(p)
}

// cmdRemovePvd implements §9 Open Question #3: on a PvD-aware kernel,
// REMOVE_PVD forwards a .deprecated=1 kernel update rather than
// unregistering locally; the kernel's own rtnetlink DEL event is the
// authoritative removal.
func (d *Dispatcher) cmdRemovePvd(c *clientset.Client, name string) {
	if d.kernelAware && d.kconn != nil {
		if err := d.kconn.UpdateAttr(name, kernel.AttrDeprecated, 0, false, false, true); err != nil {
			d.logf("daemon: kernel REMOVE_PVD %s failed: %v", name, err)
		}
		return
	}
	d.reg.Unregister(name)
}

func (d *Dispatcher) handleRA(rr raResult) {
	if rr.err != nil {
		d.logf("daemon: icmpv6 read error: %v", rr.err)
		return
	}
	if rr.iface != "" && !network.IsCandidate(rr.iface) {
		d.logf("daemon: dropping RA for %s arriving on non-candidate interface %s", rr.info.PvdName, rr.iface)
		return
	}
	d.applyRA(rr.info, rr.src, rr.iface)
}

// applyRA turns a parsed RA into a registry transaction, per §4.4: a
// zero router lifetime unregisters the named PvD; otherwise a
// transaction carries sequence, flags, lifetime, interface, source
// address, DNSSL, RDNSS and prefixes into the registry.
func (d *Dispatcher) applyRA(info *ra.Info, src net.IP, iface string) {
	if info.RouterLifetime == 0 {
		if _, ok := d.reg.Get(info.PvdName); ok {
			d.reg.Unregister(info.PvdName)
		}
		return
	}
	p := d.reg.BeginTransaction(info.PvdName)
	if p == nil {
		return
	}
	d.reg.SetAttr(p, "sequenceNumber", strconv.Itoa(info.Sequence))
	d.reg.SetAttr(p, "hFlag", boolAttr(info.HFlag))
	d.reg.SetAttr(p, "lFlag", boolAttr(info.LFlag))
	d.reg.SetSystemAttr(p, registry.AttrLifetime, strconv.Itoa(info.PvdLifetime))
	if src != nil {
		d.reg.SetAttr(p, "srcAddress", quoteJSON(src.String()))
	}
	if iface != "" {
		d.reg.SetAttr(p, "interface", quoteJSON(iface))
	}
	if len(info.Prefixes) > 0 {
		d.reg.SetAttr(p, "prefixes", prefixesJSON(info.Prefixes))
	}
	d.reg.ReplaceKernelLists(p, info.Rdnss, info.Dnssl)
	d.reg.EndTransaction(p)
}

func prefixesJSON(prefixes []ra.Prefix) string {
	b := jsonutil.NewBuffer(32 * len(prefixes))
	b.WriteByte('[')
	for i, p := range prefixes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('{')
		b.WriteString(`"prefix":`)
		b.QuoteJSONString(p.Addr.String())
		b.WriteString(`,"length":`)
		b.WriteString(jsonutil.Itoa(p.Length))
		b.WriteByte('}')
	}
	b.WriteByte(']')
	return b.String()
}

func boolAttr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func quoteJSON(s string) string {
	return "\"" + s + "\""
}

func (d *Dispatcher) handleRtEvent(rr rtResult) {
	if rr.err != nil {
		d.logf("daemon: rtnetlink read error: %v", rr.err)
		return
	}
	ev := rr.ev
	switch ev.Kind {
	case kernel.EventPvdStatus:
		d.handlePvdStatus(ev)
	case kernel.EventRdnss:
		if ev.State == kernel.RdnssDel {
			d.reg.DeleteKernelRdnss(ev.PvdName, ev.Addr)
		}
	case kernel.EventDnssl:
		if ev.State == kernel.DnsslDel {
			d.reg.DeleteKernelDnssl(ev.PvdName, ev.Suffix)
		}
	}
}

func (d *Dispatcher) handlePvdStatus(ev *kernel.Event) {
	if ev.State == kernel.PvdDel {
		d.reg.Unregister(ev.PvdName)
		return
	}
	if d.kconn == nil {
		return
	}
	attrs, err := d.kconn.GetAttributes(ev.PvdName)
	if err != nil {
		d.logf("daemon: refreshing kernel attributes for %s failed: %v", ev.PvdName, err)
		return
	}
	d.reg.RegisterKernel(registry.KernelAttrs{
		Name:           attrs.Name,
		Index:          attrs.Index,
		SequenceNumber: attrs.SequenceNumber,
		HFlag:          attrs.HFlag,
		LFlag:          attrs.LFlag,
		Addresses:      attrs.Addresses,
		Rdnss:          attrs.Rdnss,
		Dnssl:          attrs.Dnssl,
	})
}
