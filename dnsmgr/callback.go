package dnsmgr

import "net"

// LookupCallback receives the result of one asynchronous lookup
// (spec.md §4.G). Exactly one of the Resolved* methods or Timeout is
// invoked, exactly once, per registered callback (spec.md §8 invariant 3).
// Callers own their LookupCallback; the Coordinator holds only a
// non-owning reference for the duration between registration and
// notification (spec.md §9 "Callback ownership").
type LookupCallback interface {
	// ResolvedAddr is called when a LookupAddr (PTR) request completes,
	// with the resulting hostname.
	ResolvedAddr(hostname string)

	// ResolvedHost is called when a LookupHost (A/AAAA) request
	// completes, with the resulting address set.
	ResolvedHost(addrs []net.IP)

	// ResolvedValue is called when a generic Lookup request completes,
	// carrying the raw value strings and the RR type that was queried.
	ResolvedValue(values []string, rrType uint16)

	// Timeout is called when the request did not resolve before
	// ASYNC_TIMEOUT, when the manager is flushed with the request still
	// outstanding, or when a ModeForce lookup misses the cache.
	Timeout()
}

// CallbackFuncs adapts plain closures to LookupCallback, so callers don't
// need to implement every method of the interface. Unset fields are no-ops.
type CallbackFuncs struct {
	OnResolvedAddr  func(hostname string)
	OnResolvedHost  func(addrs []net.IP)
	OnResolvedValue func(values []string, rrType uint16)
	OnTimeout       func()
}

// ResolvedAddr implements LookupCallback.
func (f CallbackFuncs) ResolvedAddr(hostname string) {
	if f.OnResolvedAddr != nil {
		f.OnResolvedAddr(hostname)
	}
}

// ResolvedHost implements LookupCallback.
func (f CallbackFuncs) ResolvedHost(addrs []net.IP) {
	if f.OnResolvedHost != nil {
		f.OnResolvedHost(addrs)
	}
}

// ResolvedValue implements LookupCallback.
func (f CallbackFuncs) ResolvedValue(values []string, rrType uint16) {
	if f.OnResolvedValue != nil {
		f.OnResolvedValue(values, rrType)
	}
}

// Timeout implements LookupCallback.
func (f CallbackFuncs) Timeout() {
	if f.OnTimeout != nil {
		f.OnTimeout()
	}
}
