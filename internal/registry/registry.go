// Package registry implements the in-memory PvD registry: the set of
// known Provisioning Domains, their attribute stores, and the kernel-
// versus-user RDNSS/DNSSL aggregation rule. The registry owns all PvD
// state; callers (the RA parser, kernel ingestion, the dispatcher) never
// hold their own copy of a record, matching the single-owner-loop
// concurrency model described for this daemon.
package registry

import (
	"log"
	"net"

	"github.com/mpvd-tools/pvdd/internal/jsonutil"
)

// Reserved attribute keys are silently rejected by SetAttr; they are
// kernel-owned or used internally and must never be overwritten by a
// control-plane SET_ATTRIBUTE.
const (
	AttrDeprecated = ".deprecated"
	// AttrLifetime is populated only by RA ingestion (the PvD-ID option's
	// lifetime in seconds); control-plane writes are rejected the same
	// way AttrDeprecated is.
	AttrLifetime = "lifetime"
)

var reservedAttrs = map[string]bool{
	AttrDeprecated: true,
	AttrLifetime:   true,
}

// Notifier receives the registry's fan-out events. The dispatcher
// implements this to turn registry mutations into wire-protocol
// notifications; the registry itself never touches a socket.
type Notifier interface {
	NotifyNewPvd(name string)
	NotifyDelPvd(name string)
	NotifyAttributes(name, attrJSON string)
}

type attrEntry struct {
	key   string
	value string
}

// Pvd is one Provisioning Domain record.
type Pvd struct {
	Name  string
	Index int
	dirty bool

	attrs     []attrEntry
	attrIndex map[string]int

	kernelRdnss []net.IP
	userRdnss   []net.IP
	kernelDnssl []string
	userDnssl   []string
}

// newPvd creates a record with the well-known attributes spec.md §3
// requires to exist immediately after registration.
func newPvd(name string, index int) *Pvd {
	p := &Pvd{
		Name:      name,
		Index:     index,
		attrIndex: make(map[string]int),
	}
	p.setRaw("name", jsonutil.QuoteJSONString(name))
	p.setRaw("id", jsonutil.Itoa(index))
	p.setRaw("sequenceNumber", "0")
	p.setRaw("hFlag", "0")
	p.setRaw("lFlag", "0")
	return p
}

// setRaw stores key=value unconditionally (bypassing the reserved-key
// check), used for internal/well-known attributes and kernel ingestion.
// Reports whether the stored value differs from any prior value for key.
func (p *Pvd) setRaw(key, value string) bool {
	if i, ok := p.attrIndex[key]; ok {
		if p.attrs[i].value == value {
			return false
		}
		p.attrs[i].value = value
		return true
	}
	p.attrIndex[key] = len(p.attrs)
	p.attrs = append(p.attrs, attrEntry{key: key, value: value})
	return true
}

// Attr returns the raw JSON fragment stored for key, if any.
func (p *Pvd) Attr(key string) (string, bool) {
	i, ok := p.attrIndex[key]
	if !ok {
		return "", false
	}
	return p.attrs[i].value, true
}

// AttrCount reports how many attributes (including well-known ones) are
// currently stored, used to enforce the per-PvD attribute cap.
func (p *Pvd) AttrCount() int {
	return len(p.attrs)
}

// AttributesJSON serializes the attribute map as a JSON object in
// insertion order, each value inserted verbatim (it is already a JSON
// fragment), terminated by a newline per §4.2.
func (p *Pvd) AttributesJSON() string {
	b := jsonutil.NewBuffer(64 * len(p.attrs))
	b.WriteByte('{')
	for i, e := range p.attrs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.QuoteJSONString(e.key)
		b.WriteByte(':')
		b.WriteString(e.value)
	}
	b.WriteByte('}')
	b.WriteByte('\n')
	return b.String()
}

// recomputeAggregates rebuilds the visible "rdnss" and "dnssl"
// attributes from the kernel/user lists, per the ordered-deduplicated
// concatenation rule in §4.2. Returns whether either aggregate changed.
func (p *Pvd) recomputeAggregates() bool {
	rdnss := dedupeIPs(p.kernelRdnss, p.userRdnss)
	strs := make([]string, len(rdnss))
	for i, ip := range rdnss {
		strs[i] = ip.String()
	}
	changed := p.setRaw("rdnss", jsonutil.JSONArray(strs))

	dnssl := dedupeStrings(p.kernelDnssl, p.userDnssl)
	if p.setRaw("dnssl", jsonutil.JSONArray(dnssl)) {
		changed = true
	}
	return changed
}

func dedupeIPs(kernel, user []net.IP) []net.IP {
	seen := make(map[string]bool, len(kernel)+len(user))
	out := make([]net.IP, 0, len(kernel)+len(user))
	for _, list := range [][]net.IP{kernel, user} {
		for _, ip := range list {
			k := string(ip.To16())
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, ip)
		}
	}
	return out
}

func dedupeStrings(kernel, user []string) []string {
	seen := make(map[string]bool, len(kernel)+len(user))
	out := make([]string, 0, len(kernel)+len(user))
	for _, list := range [][]string{kernel, user} {
		for _, s := range list {
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Registry holds every known PvD, keyed by name, plus the insertion
// order LIST reports.
type Registry struct {
	logger   *log.Logger
	notifier Notifier

	order []string
	pvds  map[string]*Pvd

	maxPvds         int
	maxAttrsPerPvd  int
}

// New returns an empty Registry. notifier may be nil in tests that do
// not care about fan-out.
func New(logger *log.Logger, notifier Notifier, maxPvds, maxAttrsPerPvd int) *Registry {
	return &Registry{
		logger:         logger,
		notifier:       notifier,
		pvds:           make(map[string]*Pvd),
		maxPvds:        maxPvds,
		maxAttrsPerPvd: maxAttrsPerPvd,
	}
}

func (r *Registry) notifyNew(name string) {
	if r.notifier != nil {
		r.notifier.NotifyNewPvd(name)
	}
}

func (r *Registry) notifyDel(name string) {
	if r.notifier != nil {
		r.notifier.NotifyDelPvd(name)
	}
}

func (r *Registry) notifyAttrs(p *Pvd) {
	if r.notifier != nil {
		r.notifier.NotifyAttributes(p.Name, p.AttributesJSON())
	}
}

// Get returns the record for name, if any.
func (r *Registry) Get(name string) (*Pvd, bool) {
	p, ok := r.pvds[name]
	return p, ok
}

// List returns PvD names in insertion order (head-first).
func (r *Registry) List() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// BeginTransaction returns the record for name, creating it (and
// notifying NEW_PVD) if absent. The record's dirty flag is cleared so
// EndTransaction can detect whether this transaction changed anything.
// Returns nil if the registry is at its PvD cap and name is not already
// known.
func (r *Registry) BeginTransaction(name string) *Pvd {
	p, ok := r.pvds[name]
	if !ok {
		if len(r.pvds) >= r.maxPvds {
			r.logf("registry: PvD table full (%d), dropping new PvD %q", r.maxPvds, name)
			return nil
		}
		p = newPvd(name, 0)
		r.pvds[name] = p
		r.order = append(r.order, name)
		r.notifyNew(name)
	}
	p.dirty = false
	return p
}

// SetAttr stores key=value on p, rejecting reserved keys and enforcing
// the per-PvD attribute cap. Returns false (and drops the write) if the
// key is reserved or the cap is already reached for a new key.
func (r *Registry) SetAttr(p *Pvd, key, value string) bool {
	if reservedAttrs[key] {
		r.logf("registry: rejected write to reserved attribute %q on %q", key, p.Name)
		return false
	}
	if _, exists := p.attrIndex[key]; !exists && p.AttrCount() >= r.maxAttrsPerPvd {
		r.logf("registry: attribute table full (%d) for PvD %q, dropping %q", r.maxAttrsPerPvd, p.Name, key)
		return false
	}
	if p.setRaw(key, value) {
		p.dirty = true
	}
	return true
}

// SetSystemAttr stores key=value on p without the reserved-key check
// SetAttr applies, for attributes only RA ingestion or kernel ingestion
// populate (AttrLifetime, AttrDeprecated). The per-PvD attribute cap
// still applies.
func (r *Registry) SetSystemAttr(p *Pvd, key, value string) bool {
	if _, exists := p.attrIndex[key]; !exists && p.AttrCount() >= r.maxAttrsPerPvd {
		r.logf("registry: attribute table full (%d) for PvD %q, dropping %q", r.maxAttrsPerPvd, p.Name, key)
		return false
	}
	if p.setRaw(key, value) {
		p.dirty = true
	}
	return true
}

// UnsetAttr removes key from name's attributes, emitting an immediate
// out-of-transaction ATTRIBUTES notification per §4.2 and the Open
// Question resolution recorded in SPEC_FULL.md: unlike SET_ATTRIBUTE,
// this does not wait for END_TRANSACTION. No-op if the PvD or key is
// absent.
func (r *Registry) UnsetAttr(name, key string) {
	p, ok := r.pvds[name]
	if !ok {
		return
	}
	i, ok := p.attrIndex[key]
	if !ok {
		return
	}
	p.attrs = append(p.attrs[:i], p.attrs[i+1:]...)
	delete(p.attrIndex, key)
	for k, idx := range p.attrIndex {
		if idx > i {
			p.attrIndex[k] = idx - 1
		}
	}
	r.notifyAttrs(p)
}

// EndTransaction fans out one ATTRIBUTES notification if p was modified
// since BeginTransaction, and clears the dirty flag. No-op, no
// notification, if nothing changed (§8: idempotent SET_ATTRIBUTE calls
// must not produce a notification).
func (r *Registry) EndTransaction(p *Pvd) {
	if p == nil || !p.dirty {
		return
	}
	p.dirty = false
	r.notifyAttrs(p)
}

// Unregister removes name from the registry and notifies DEL_PVD.
// No-op if unknown.
func (r *Registry) Unregister(name string) {
	if _, ok := r.pvds[name]; !ok {
		return
	}
	delete(r.pvds, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.notifyDel(name)
}

// KernelAttrs is the attribute bundle delivered by a kernel PvD-aware
// getsockopt call or an rtnetlink RTM_PVDSTATUS refresh, mirroring
// struct net_pvd_attribute from the kernel ABI this daemon talks to.
type KernelAttrs struct {
	Name           string
	Index          int
	SequenceNumber int
	HFlag          bool
	LFlag          bool
	Addresses      []net.IP
	Rdnss          []net.IP
	Dnssl          []string
}

// RegisterKernel creates or updates name's record from a kernel
// attribute bundle, recomputing the visible rdnss/dnssl aggregates and
// notifying as appropriate.
func (r *Registry) RegisterKernel(a KernelAttrs) *Pvd {
	p, existed := r.pvds[a.Name]
	if !existed {
		if len(r.pvds) >= r.maxPvds {
			r.logf("registry: PvD table full (%d), dropping kernel PvD %q", r.maxPvds, a.Name)
			return nil
		}
		p = newPvd(a.Name, a.Index)
		r.pvds[a.Name] = p
		r.order = append(r.order, a.Name)
		r.notifyNew(a.Name)
	}
	p.dirty = false
	p.Index = a.Index
	p.setRaw("id", jsonutil.Itoa(a.Index))
	if p.setRaw("sequenceNumber", jsonutil.Itoa(a.SequenceNumber)) {
		p.dirty = true
	}
	if p.setRaw("hFlag", boolAttr(a.HFlag)) {
		p.dirty = true
	}
	if p.setRaw("lFlag", boolAttr(a.LFlag)) {
		p.dirty = true
	}
	if len(a.Addresses) > 0 {
		strs := make([]string, len(a.Addresses))
		for i, ip := range a.Addresses {
			strs[i] = ip.String()
		}
		if p.setRaw("addresses", jsonutil.JSONArray(strs)) {
			p.dirty = true
		}
	}
	p.kernelRdnss = a.Rdnss
	p.kernelDnssl = a.Dnssl
	if p.recomputeAggregates() {
		p.dirty = true
	}
	r.EndTransaction(p)
	return p
}

func boolAttr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// DeleteKernelRdnss removes addr from name's kernel (and, if absent
// there, user) RDNSS list, recomputing the aggregate and notifying if
// it changed. Returns whether anything was removed.
func (r *Registry) DeleteKernelRdnss(name string, addr net.IP) bool {
	p, ok := r.pvds[name]
	if !ok {
		return false
	}
	removed := removeIP(&p.kernelRdnss, addr) || removeIP(&p.userRdnss, addr)
	if !removed {
		return false
	}
	if p.recomputeAggregates() {
		r.notifyAttrs(p)
	}
	return true
}

// DeleteKernelDnssl is the DNSSL-suffix symmetric counterpart of
// DeleteKernelRdnss.
func (r *Registry) DeleteKernelDnssl(name string, suffix string) bool {
	p, ok := r.pvds[name]
	if !ok {
		return false
	}
	removed := removeString(&p.kernelDnssl, suffix) || removeString(&p.userDnssl, suffix)
	if !removed {
		return false
	}
	if p.recomputeAggregates() {
		r.notifyAttrs(p)
	}
	return true
}

// AddUserRdnss/AddUserDnssl are exposed for completeness of the RA and
// control-plane ingestion paths (the source's user-sourced lists are
// populated the same way as kernel lists, just from a different caller).

// AddUserRdnss appends addr to p's user RDNSS list unless either list
// already holds it. It does not recompute the visible aggregates.
func (r *Registry) AddUserRdnss(p *Pvd, addr net.IP) {
	if containsIP(p.userRdnss, addr) || containsIP(p.kernelRdnss, addr) {
		return
	}
	p.userRdnss = append(p.userRdnss, addr)
}

// AddUserDnssl appends suffix to p's user DNSSL list unless either list
// already holds it. It does not recompute the visible aggregates.
func (r *Registry) AddUserDnssl(p *Pvd, suffix string) {
	for _, s := range p.userDnssl {
		if s == suffix {
			return
		}
	}
	for _, s := range p.kernelDnssl {
		if s == suffix {
			return
		}
	}
	p.userDnssl = append(p.userDnssl, suffix)
}

// ReplaceKernelLists overwrites the kernel-sourced RDNSS/DNSSL lists
// wholesale (used by RA ingestion, which supplies a fresh option set per
// advertisement rather than incremental add/remove), recomputing the
// visible rdnss/dnssl aggregates and marking the record dirty if either
// changed, per §3/§4.2.
func (r *Registry) ReplaceKernelLists(p *Pvd, rdnss []net.IP, dnssl []string) {
	p.kernelRdnss = rdnss
	p.kernelDnssl = dnssl
	if p.recomputeAggregates() {
		p.dirty = true
	}
}

func removeIP(list *[]net.IP, addr net.IP) bool {
	for i, ip := range *list {
		if ip.Equal(addr) {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

func removeString(list *[]string, s string) bool {
	for i, v := range *list {
		if v == s {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

func containsIP(list []net.IP, addr net.IP) bool {
	for _, ip := range list {
		if ip.Equal(addr) {
			return true
		}
	}
	return false
}

func (r *Registry) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
