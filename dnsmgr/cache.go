package dnsmgr

import (
	"sync"
	"time"
)

// hostEntry is the (current, previous) pair kept for HostMap entries. The
// previous slot exists solely so a single change-event can be fired
// comparing old vs new (spec.md §3).
type hostEntry struct {
	current  *Mapping
	previous *Mapping
}

// InsertOutcome reports what Cache.Insert actually did, so the Manager
// façade can decide which Host-Runtime events to fire without the Cache
// needing to know anything about events itself.
type InsertOutcome struct {
	Kind     Kind
	Key      string
	Current  *Mapping
	Previous *Mapping // the mapping this one superseded, if any; for a HostMap merge, the entry's unchanged previous slot
	Merged   bool
}

// Cache holds the three indexed stores described in spec.md §4.B: HostMap,
// AddrMap and TextMap. All operations are safe for concurrent use, though
// spec.md §5 only requires this for a single Host Runtime thread calling in
// from Manager methods.
type Cache struct {
	mu sync.RWMutex

	hosts map[string]*hostEntry
	addrs map[string]*Mapping
	texts map[string]*Mapping

	// now is a time seam for deterministic TTL tests (SPEC_FULL.md §8).
	now func() time.Time
}

// NewCache builds an empty Cache.
func NewCache() *Cache {
	return &Cache{
		hosts: make(map[string]*hostEntry),
		addrs: make(map[string]*Mapping),
		texts: make(map[string]*Mapping),
		now:   time.Now,
	}
}

// LookupAddr implements spec.md §4.B lookup_addr: returns the canonical
// hostname for an address, or ("", false) on miss, expiry (with
// cleanupExpired), or a failed entry (without checkFailed).
func (c *Cache) LookupAddr(addr string, cleanupExpired, checkFailed bool) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.addrs[addr]
	if !ok {
		return "", false
	}
	if cleanupExpired && m.Expired(c.now()) {
		delete(c.addrs, addr)
		return "", false
	}
	if m.Failed() && !checkFailed {
		return "", false
	}
	if len(m.values) == 0 {
		return "", false
	}
	return m.values[0], true
}

// LookupName implements spec.md §4.B lookup_name: returns the address set
// for a hostname.
func (c *Cache) LookupName(host string, cleanupExpired, checkFailed bool) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.hosts[host]
	if !ok || entry.current == nil {
		return nil, false
	}
	m := entry.current
	if cleanupExpired && m.Expired(c.now()) {
		delete(c.hosts, host)
		return nil, false
	}
	if m.Failed() && !checkFailed {
		return nil, false
	}
	return m.Values(), true
}

// LookupText implements spec.md §4.B lookup_text.
func (c *Cache) LookupText(name string, cleanupExpired bool) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.texts[name]
	if !ok {
		return nil, false
	}
	if cleanupExpired && m.Expired(c.now()) {
		delete(c.texts, name)
		return nil, false
	}
	if m.Failed() {
		return nil, false
	}
	return m.Values(), true
}

// Insert is the Cache's canonical mutation (spec.md §4.B "Insert
// semantics"). When merge is false, any existing entry for mapping.Key()
// is replaced; for HostMap the replaced entry becomes `previous`. When
// merge is true, the existing entry (if any) and mapping are unioned: the
// value sets are merged, the TTL becomes the maximum of the two, the
// creation time is reset to now, and the result is non-failed iff either
// side is non-failed.
func (c *Cache) Insert(mapping *Mapping, merge bool) InsertOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch mapping.Kind() {
	case KindAddrForward:
		return c.insertHost(mapping, merge)
	case KindAddrReverse:
		return c.insertAddr(mapping, merge)
	case KindText:
		return c.insertText(mapping, merge)
	default:
		return InsertOutcome{Kind: mapping.Kind(), Key: mapping.Key(), Current: mapping}
	}
}

func (c *Cache) insertHost(mapping *Mapping, merge bool) InsertOutcome {
	key := mapping.Key()
	existing := c.hosts[key]

	if existing == nil || existing.current == nil {
		c.hosts[key] = &hostEntry{current: mapping}
		return InsertOutcome{Kind: KindAddrForward, Key: key, Current: mapping}
	}

	if merge {
		merged := mergeMappings(existing.current, mapping, c.now())
		c.hosts[key] = &hostEntry{current: merged, previous: existing.previous}
		return InsertOutcome{Kind: KindAddrForward, Key: key, Current: merged, Previous: existing.previous, Merged: true}
	}

	previous := existing.current
	c.hosts[key] = &hostEntry{current: mapping, previous: previous}
	return InsertOutcome{Kind: KindAddrForward, Key: key, Current: mapping, Previous: previous}
}

func (c *Cache) insertAddr(mapping *Mapping, merge bool) InsertOutcome {
	key := mapping.Key()
	existing, had := c.addrs[key]

	if !had {
		c.addrs[key] = mapping
		return InsertOutcome{Kind: KindAddrReverse, Key: key, Current: mapping}
	}

	if merge {
		merged := mergeMappings(existing, mapping, c.now())
		c.addrs[key] = merged
		return InsertOutcome{Kind: KindAddrReverse, Key: key, Current: merged, Previous: existing, Merged: true}
	}

	c.addrs[key] = mapping
	return InsertOutcome{Kind: KindAddrReverse, Key: key, Current: mapping, Previous: existing}
}

func (c *Cache) insertText(mapping *Mapping, merge bool) InsertOutcome {
	key := mapping.Key()
	existing, had := c.texts[key]

	if !had {
		c.texts[key] = mapping
		return InsertOutcome{Kind: KindText, Key: key, Current: mapping}
	}

	if merge {
		merged := mergeMappings(existing, mapping, c.now())
		c.texts[key] = merged
		return InsertOutcome{Kind: KindText, Key: key, Current: merged, Previous: existing, Merged: true}
	}

	c.texts[key] = mapping
	return InsertOutcome{Kind: KindText, Key: key, Current: mapping, Previous: existing}
}

// mergeMappings implements the merge half of spec.md §4.B Insert semantics.
func mergeMappings(existing, incoming *Mapping, now time.Time) *Mapping {
	seen := make(map[string]struct{}, len(existing.values)+len(incoming.values))
	merged := make([]string, 0, len(existing.values)+len(incoming.values))
	for _, v := range existing.values {
		if _, dup := seen[v]; !dup {
			seen[v] = struct{}{}
			merged = append(merged, v)
		}
	}
	for _, v := range incoming.values {
		if _, dup := seen[v]; !dup {
			seen[v] = struct{}{}
			merged = append(merged, v)
		}
	}

	ttl := existing.ttl
	if incoming.ttl > ttl {
		ttl = incoming.ttl
	}

	m := NewMapping(existing.kind, existing.key, merged, ttl, now)
	m.failed = existing.failed && incoming.failed
	return m
}

// Get returns the raw mapping stored for (kind, key), without applying
// expiry or failed-entry filtering. Used internally once a completion
// has just been inserted and the caller needs to see exactly what
// landed, failed or not.
func (c *Cache) Get(kind Kind, key string) (*Mapping, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch kind {
	case KindAddrReverse:
		m, ok := c.addrs[key]
		return m, ok
	case KindText:
		m, ok := c.texts[key]
		return m, ok
	default:
		entry, ok := c.hosts[key]
		if !ok || entry.current == nil {
			return nil, false
		}
		return entry.current, true
	}
}

// GetFresh is like Get but treats an expired entry as absent, without
// removing it. The entry stays until Expire, a Lookup* call with
// cleanupExpired, or a later Insert for the same key replaces or merges
// with it.
func (c *Cache) GetFresh(kind Kind, key string, now time.Time) (*Mapping, bool) {
	m, ok := c.Get(kind, key)
	if !ok || m.Expired(now) {
		return nil, false
	}
	return m, true
}

// Expire removes every expired entry from all three maps and returns the
// number removed. Nothing in this package calls it; individual lookups
// with cleanupExpired=true remove lazily instead.
func (c *Cache) Expire() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0

	for key, entry := range c.hosts {
		if entry.current != nil && entry.current.Expired(now) {
			delete(c.hosts, key)
			removed++
		}
	}
	for key, m := range c.addrs {
		if m.Expired(now) {
			delete(c.addrs, key)
			removed++
		}
	}
	for key, m := range c.texts {
		if m.Expired(now) {
			delete(c.texts, key)
			removed++
		}
	}
	return removed
}

// Clear empties all three maps. Used by Manager.Flush.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hosts = make(map[string]*hostEntry)
	c.addrs = make(map[string]*Mapping)
	c.texts = make(map[string]*Mapping)
}

// CacheCounts is the cache-size portion of Stats (spec.md §6).
type CacheCounts struct {
	Hosts     int
	Addresses int
	Texts     int
}

// Counts returns the current size of each of the three maps.
func (c *Cache) Counts() CacheCounts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheCounts{
		Hosts:     len(c.hosts),
		Addresses: len(c.addrs),
		Texts:     len(c.texts),
	}
}

// forEach walks every mapping in the cache, used by CacheFile.Save. Order
// is unspecified, matching spec.md §8 invariant 6 ("modulo... ordering
// within value sets").
func (c *Cache) forEach(fn func(kind Kind, m *Mapping)) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, entry := range c.hosts {
		if entry.current != nil {
			fn(KindAddrForward, entry.current)
		}
	}
	for _, m := range c.addrs {
		fn(KindAddrReverse, m)
	}
	for _, m := range c.texts {
		fn(KindText, m)
	}
}
