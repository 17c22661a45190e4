package dnsmgr

import (
	"net"

	"github.com/miekg/dns"
)

// Family groups RR types into the logical query families used by the
// merge-vs-replace decision (spec.md §9, Open Question 2, decided in
// SPEC_FULL.md §9): A and AAAA answers for the same key merge with each
// other; PTR and TXT answers never merge, even with a second answer of
// their own kind.
type Family int

const (
	familyOther Family = iota
	familyAddr         // A, AAAA
	familyPTR
	familyTXT
)

// Purpose records which public Manager method produced a Request. It
// decides which LookupCallback overload an async result is delivered
// through (spec.md §4.G: "LookupHost/LookupAddr use their dedicated
// overloads; the generic Lookup() always uses the generic overload"),
// independently of the RR type being queried.
type Purpose int

const (
	// PurposeForward backs LookupHost (A/AAAA).
	PurposeForward Purpose = iota
	// PurposeReverse backs LookupAddr (PTR).
	PurposeReverse
	// PurposeGeneric backs Lookup(name, rrType) for any RR type.
	PurposeGeneric
)

// Request represents one query submitted to the Resolver Channel
// (spec.md §4.D). Key is the name to query for forward/text lookups, or
// the ARPA-form name for reverse lookups; Addr carries the original
// address for reverse lookups so the Manager can store the reply Mapping
// under the right key.
type Request struct {
	Key     string // query name as sent on the wire
	Addr    net.IP // original address, set only for reverse requests
	RRType  uint16 // github.com/miekg/dns RR type constant
	Purpose Purpose
}

// Kind classifies the request by the Mapping kind its answer will produce.
func (r *Request) Kind() Kind {
	switch r.RRType {
	case dns.TypePTR:
		return KindAddrReverse
	case dns.TypeTXT:
		return KindText
	default:
		return KindAddrForward
	}
}

// cacheable reports whether this request's answer fits one of the three
// Mapping kinds the Cache models. Generic Lookup() calls for RR types
// outside {A, AAAA, PTR, TXT} fall outside the three-cache data model
// described in spec.md §3 and are served directly from the Resolver
// Channel without touching the Cache (see DESIGN.md, Open Question
// decision 5).
func (r *Request) cacheable() bool {
	switch r.RRType {
	case dns.TypeA, dns.TypeAAAA, dns.TypePTR, dns.TypeTXT:
		return true
	default:
		return false
	}
}

// Family classifies the request into the logical query family used for
// the merge-vs-replace decision.
func (r *Request) Family() Family {
	switch r.RRType {
	case dns.TypeA, dns.TypeAAAA:
		return familyAddr
	case dns.TypePTR:
		return familyPTR
	case dns.TypeTXT:
		return familyTXT
	default:
		return familyOther
	}
}

// cacheKey returns the key under which this request's answer is cached:
// the hostname for forward/text requests, the presentation-form address
// for reverse requests.
func (r *Request) cacheKey() string {
	if r.Kind() == KindAddrReverse && r.Addr != nil {
		return r.Addr.String()
	}
	return r.Key
}

// NewForwardRequest builds a Request for an A or AAAA lookup of host.
func NewForwardRequest(host string, rrType uint16) *Request {
	return &Request{Key: dns.Fqdn(host), RRType: rrType, Purpose: PurposeForward}
}

// NewReverseRequest builds a PTR Request for addr.
func NewReverseRequest(addr net.IP) *Request {
	return &Request{Key: arpaReverse(addr), Addr: addr, RRType: dns.TypePTR, Purpose: PurposeReverse}
}

// NewTextRequest builds a TXT Request for name.
func NewTextRequest(name string) *Request {
	return &Request{Key: dns.Fqdn(name), RRType: dns.TypeTXT, Purpose: PurposeGeneric}
}

// NewRequest builds a generic Request for name/rrType, per spec.md's
// Lookup(name, rr_type). If the name looks like an ARPA reverse name it is
// used verbatim; callers that have a raw address should use
// NewReverseRequest instead so the Mapping ends up keyed by address.
func NewRequest(name string, rrType uint16) *Request {
	return &Request{Key: dns.Fqdn(name), RRType: rrType, Purpose: PurposeGeneric}
}
