package dnsmgr

import "time"

// Kind identifies which of the three logical query types a Mapping or
// Request belongs to.
type Kind int

const (
	// KindAddrForward is a hostname -> address(es) mapping (A/AAAA).
	KindAddrForward Kind = iota
	// KindAddrReverse is an address -> hostname mapping (PTR).
	KindAddrReverse
	// KindText is a name -> text record(s) mapping (TXT).
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindAddrForward:
		return "ADDR_FORWARD"
	case KindAddrReverse:
		return "ADDR_REVERSE"
	case KindText:
		return "TEXT"
	default:
		return "UNKNOWN"
	}
}

// fileTag is the single-letter tag used in the cache file format, see
// CacheFile in cachefile.go.
func (k Kind) fileTag() string {
	switch k {
	case KindAddrForward:
		return "H"
	case KindAddrReverse:
		return "A"
	case KindText:
		return "T"
	default:
		return "?"
	}
}

func kindFromFileTag(tag string) (Kind, bool) {
	switch tag {
	case "H":
		return KindAddrForward, true
	case "A":
		return KindAddrReverse, true
	case "T":
		return KindText, true
	default:
		return 0, false
	}
}

// Mapping is an immutable-once-built record of a single resolved query. A
// Mapping is created by the Manager when a completion arrives, owned
// exclusively by the Cache, and replaced (never mutated in place) when a
// fresh answer supersedes it.
type Mapping struct {
	kind Kind
	// key is the hostname for KindAddrForward/KindText, or the presentation
	// form of the binary address for KindAddrReverse.
	key string

	// values holds the ordered result set: addresses for KindAddrForward,
	// [canonical, aliases...] for KindAddrReverse, text strings for
	// KindText.
	values []string

	ttl          uint32
	creationTime time.Time
	failed       bool
}

// NewMapping builds a Mapping from a completed lookup. ttl of 0 is
// permitted and means "do not expire this entry by clock" (see
// SPEC_FULL.md §9 on the ttl=0 open question).
func NewMapping(kind Kind, key string, values []string, ttl uint32, now time.Time) *Mapping {
	cp := make([]string, len(values))
	copy(cp, values)
	return &Mapping{
		kind:         kind,
		key:          key,
		values:       cp,
		ttl:          ttl,
		creationTime: now,
	}
}

// NewFailedMapping builds a Mapping that records an authoritative
// no-such-record (or an error the Manager chooses to remember) rather than
// a value. It carries no values.
func NewFailedMapping(kind Kind, key string, ttl uint32, now time.Time) *Mapping {
	m := NewMapping(kind, key, nil, ttl, now)
	m.failed = true
	return m
}

// Kind returns the query kind this mapping answers.
func (m *Mapping) Kind() Kind { return m.kind }

// Key returns the lookup key: a hostname for forward/text mappings, the
// presentation-form address for reverse mappings.
func (m *Mapping) Key() string { return m.key }

// Values returns a copy of the mapping's result values. Callers must not
// rely on mutating the returned slice affecting the Mapping.
func (m *Mapping) Values() []string {
	cp := make([]string, len(m.values))
	copy(cp, m.values)
	return cp
}

// TTL returns the TTL reported by the authoritative answer, in seconds.
func (m *Mapping) TTL() uint32 { return m.ttl }

// CreationTime returns the wall-clock time this mapping was inserted.
func (m *Mapping) CreationTime() time.Time { return m.creationTime }

// Failed reports whether this mapping records a no-such-record or
// remembered error rather than an actual answer.
func (m *Mapping) Failed() bool { return m.failed }

// MarkFailed flags the mapping as failed. This is the one permitted
// mutation after construction (spec.md §4.A: "no mutation after
// construction except marking failed").
func (m *Mapping) MarkFailed() { m.failed = true }

// Expired reports whether the mapping has aged out as of now. A ttl of 0
// never expires by clock (cache-until-Flush semantics, see
// SPEC_FULL.md §9).
func (m *Mapping) Expired(now time.Time) bool {
	if m.ttl == 0 {
		return false
	}
	return now.Sub(m.creationTime) >= time.Duration(m.ttl)*time.Second
}

// valueSet returns the mapping's values as a set for delta comparisons.
func (m *Mapping) valueSet() map[string]struct{} {
	set := make(map[string]struct{}, len(m.values))
	for _, v := range m.values {
		set[v] = struct{}{}
	}
	return set
}

// sameValues reports whether two mappings carry the same value set,
// ignoring order.
func sameValues(a, b *Mapping) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.values) != len(b.values) {
		return false
	}
	as := a.valueSet()
	for _, v := range b.values {
		if _, ok := as[v]; !ok {
			return false
		}
	}
	return true
}
