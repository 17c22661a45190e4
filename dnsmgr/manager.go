package dnsmgr

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/miekg/dns"
	"github.com/tevino/abool"
)

// Tag identifies this component to a Host Runtime that multiplexes
// several IOSources, mirroring the original's iosource_mgr tag scheme.
const Tag = "DNS_MGR"

// Manager is the façade described in spec.md §4.A: it owns the Cache,
// the Async Coordinator and the Resolver Bridge, and exposes both a
// blocking and a non-blocking lookup API plus the Host I/O-source
// contract (InitSource/GetNextTimeout/Process) the embedding event loop
// drives it through. There is no process-wide singleton: every caller
// builds its own Manager with New (see SPEC_FULL.md REDESIGN FLAGS).
type Manager struct {
	cfg Config

	cache *Cache
	coord *Coordinator
	bridge *Bridge
	cacheFile *CacheFile

	ctx    context.Context
	cancel context.CancelFunc

	closed abool.AtomicBool
}

// New builds a Manager, loading any existing on-disk cache file and
// opening its Resolver Channel. The returned Manager owns the channel
// and must be shut down with Flush when no longer needed.
func New(opts ...Option) (*Manager, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	cache := NewCache()
	cache.now = cfg.Now

	var cacheFile *CacheFile
	if cfg.CacheFile != "" {
		cacheFile = NewCacheFile(filepath.Dir(cfg.CacheFile), filepath.Base(cfg.CacheFile))
		if err := cacheFile.Load(cache, cfg.Now()); err != nil {
			logWarnf("dnsmgr: failed loading cache file: %s", err)
		}
	}

	channel := cfg.Channel
	if channel == nil {
		channel = NewUDPResolverChannel(cfg.Server)
	}
	bridge := NewBridge(channel)

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:       cfg,
		cache:     cache,
		bridge:    bridge,
		cacheFile: cacheFile,
		ctx:       ctx,
		cancel:    cancel,
	}
	m.coord = NewCoordinator(cfg, m.finalLookup)
	return m, nil
}

// finalLookup is the Coordinator's cacheLookup dependency: it reads back
// the authoritative, already-merged result for (kind, key) once every
// sub-request of an AsyncRequest has completed.
func (m *Manager) finalLookup(kind Kind, key string) (values []string, failed, ok bool) {
	mapping, found := m.cache.Get(kind, key)
	if !found {
		return nil, false, false
	}
	return mapping.Values(), mapping.Failed(), true
}

// Tag implements the Host I/O-source contract's identity method.
func (m *Manager) Tag() string { return Tag }

// InitSource implements the Host I/O-source contract's setup hook.
// The Manager has no additional setup beyond New, so this only exists to
// satisfy embedders that expect the method.
func (m *Manager) InitSource() error { return nil }

// GetNextTimeout implements the Host I/O-source contract: the Host
// Runtime should not block longer than this before calling Process
// again (spec.md §4.G).
func (m *Manager) GetNextTimeout() time.Duration {
	now := m.cfg.Now()
	return m.bridge.NextTimeout(m.coord.NextTimeout(now, m.cfg.AsyncTimeout))
}

// Process implements the Host I/O-source contract: admits queued
// submissions, drains completions from the Resolver Channel, and times
// out anything overdue. Call this whenever GetNextTimeout elapses or
// the Bridge's WakeChannel fires.
func (m *Manager) Process() {
	now := m.cfg.Now()
	m.coord.IssuePending(m.ctx, m.bridge, now)
	m.bridge.Process(m.handleCompletion)
	m.coord.ProcessTimeouts(now)
	m.coord.IssuePending(m.ctx, m.bridge, now)
}

// WakeChannel exposes the Bridge's readiness channel so a Host Runtime
// can select on it alongside its other event sources.
func (m *Manager) WakeChannel() <-chan struct{} { return m.bridge.WakeChannel() }

// handleCompletion is the single place a Resolver Channel result turns
// into a cache mutation, an event, and a Coordinator notification
// (spec.md §4.G "on completion").
func (m *Manager) handleCompletion(c Completion) {
	req := c.Request
	now := m.cfg.Now()

	if req.cacheable() {
		var mapping *Mapping
		switch {
		case c.Err != nil:
			// Transient failure: no cache update at all, matching
			// spec.md §7 ("resolver failure... never written to cache").
		case c.Failed:
			mapping = NewFailedMapping(req.Kind(), req.cacheKey(), 0, now)
		default:
			mapping = NewMapping(req.Kind(), req.cacheKey(), c.Values, c.TTL, now)
		}

		if mapping != nil {
			merge := req.Family() == familyAddr
			outcome := m.cache.Insert(mapping, merge)
			m.emitEvent(outcome)
		}
	}

	m.coord.HandleCompletion(c)
}

// emitEvent classifies an insertion and forwards it to the configured
// EventSink, per spec.md §4.G / §6.
func (m *Manager) emitEvent(outcome InsertOutcome) {
	event, added, lost := classifyMappingEvent(outcome.Previous, outcome.Current)
	m.cfg.EventSink.OnMapping(event, outcome.Current)
	if event == EventMappingAltered {
		m.cfg.EventSink.OnMapping(EventMappingNameChange, outcome.Current)
		m.cfg.EventSink.OnAddrDelta(outcome.Current, added, lost)
	}
}

// pump drains one full cycle of admission/completion/timeout handling,
// used by the blocking lookup path to make progress without waiting for
// an external Host Runtime to call Process.
func (m *Manager) pump() {
	m.Process()
}

// LookupHost resolves host to its forward address set, blocking until an
// answer is available, the cache already holds a fresh one, or
// SyncTimeout elapses (spec.md §4.A "Lookup (synchronous)").
func (m *Manager) LookupHost(ctx context.Context, host string) ([]net.IP, error) {
	if m.cfg.Mode == ModeFake {
		return []net.IP{}, nil
	}
	req := NewForwardRequest(host, dns.TypeA)
	values, err := m.lookupSync(ctx, req)
	if err != nil {
		return nil, err
	}
	return parseIPs(values), nil
}

// LookupAddr resolves addr to its canonical hostname, blocking per the
// same rules as LookupHost.
func (m *Manager) LookupAddr(ctx context.Context, addr net.IP) (string, error) {
	if m.cfg.Mode == ModeFake {
		return FakeHostname, nil
	}
	req := NewReverseRequest(addr)
	values, err := m.lookupSync(ctx, req)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", ErrNoSuchRecord
	}
	return values[0], nil
}

// Lookup resolves name for the given RR type, blocking per the same
// rules as LookupHost. It is the generic escape hatch for RR types
// outside {A, AAAA, PTR, TXT}; those bypass the cache entirely.
func (m *Manager) Lookup(ctx context.Context, name string, rrType uint16) ([]string, error) {
	if m.cfg.Mode == ModeFake {
		return []string{}, nil
	}
	req := NewRequest(name, rrType)
	return m.lookupSync(ctx, req)
}

// lookupSync is the shared blocking-lookup implementation for all three
// public sync entry points.
func (m *Manager) lookupSync(ctx context.Context, req *Request) ([]string, error) {
	if m.closed.IsSet() {
		return nil, ErrClosed
	}

	now := m.cfg.Now()
	if req.cacheable() {
		if mapping, ok := m.cache.GetFresh(req.Kind(), req.cacheKey(), now); ok && !mapping.Failed() {
			return mapping.Values(), nil
		}
	}

	if m.cfg.Mode == ModeForce {
		return nil, ErrForceMiss
	}
	if m.cfg.Mode == ModePrime {
		m.installPlaceholder(req, now)
	}

	done := make(chan struct{})
	var (
		result    []string
		resultErr error
	)
	cb := CallbackFuncs{
		OnResolvedHost: func(addrs []net.IP) {
			result = make([]string, len(addrs))
			for i, ip := range addrs {
				result[i] = ip.String()
			}
			close(done)
		},
		OnResolvedAddr: func(hostname string) {
			if hostname != "" {
				result = []string{hostname}
			}
			close(done)
		},
		OnResolvedValue: func(values []string, _ uint16) {
			result = values
			close(done)
		},
		OnTimeout: func() {
			resultErr = ErrTimeout
			close(done)
		},
	}

	m.coord.Lookup(req, cb, now)

	deadline := now.Add(m.cfg.SyncTimeout)
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			if m.cacheFile != nil {
				_ = m.cacheFile.Save(m.cache)
			}
			return result, resultErr
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			m.pump()
			if m.cfg.Now().After(deadline) {
				select {
				case <-done:
					return result, resultErr
				default:
					return nil, ErrTimeout
				}
			}
		}
	}
}

// AsyncLookupHost registers cb to be notified when host resolves,
// coalescing with any identical outstanding request (spec.md §4.A
// "Lookup (asynchronous)"). Progress is made only as the embedding Host
// Runtime calls Process/GetNextTimeout.
func (m *Manager) AsyncLookupHost(host string, cb LookupCallback) error {
	return m.asyncLookup(NewForwardRequest(host, dns.TypeA), cb)
}

// AsyncLookupAddr is the non-blocking counterpart to LookupAddr.
func (m *Manager) AsyncLookupAddr(addr net.IP, cb LookupCallback) error {
	return m.asyncLookup(NewReverseRequest(addr), cb)
}

// AsyncLookup is the non-blocking counterpart to Lookup.
func (m *Manager) AsyncLookup(name string, rrType uint16, cb LookupCallback) error {
	return m.asyncLookup(NewRequest(name, rrType), cb)
}

func (m *Manager) asyncLookup(req *Request, cb LookupCallback) error {
	if m.closed.IsSet() {
		return ErrClosed
	}
	if m.cfg.Mode == ModeFake {
		go deliverFake(req, cb)
		return nil
	}

	now := m.cfg.Now()
	if req.cacheable() {
		if mapping, ok := m.cache.GetFresh(req.Kind(), req.cacheKey(), now); ok && !mapping.Failed() {
			go deliverResolved(cb, &AsyncRequest{purpose: req.Purpose}, mapping.Values())
			return nil
		}
	}

	if m.cfg.Mode == ModeForce {
		go cb.Timeout()
		return ErrForceMiss
	}
	if m.cfg.Mode == ModePrime {
		m.installPlaceholder(req, now)
	}

	m.coord.Lookup(req, cb, now)
	return nil
}

// installPlaceholder records a failed, never-expiring Mapping for req so
// the key is present in the Cache the moment a ModePrime miss is
// observed, per spec.md §4.G ("cache misses record a placeholder and
// still issue"). The live answer, once it arrives, replaces or merges
// over this placeholder exactly as it would over any other entry.
func (m *Manager) installPlaceholder(req *Request, now time.Time) {
	if !req.cacheable() {
		return
	}
	placeholder := NewFailedMapping(req.Kind(), req.cacheKey(), 0, now)
	m.cache.Insert(placeholder, false)
}

func deliverFake(req *Request, cb LookupCallback) {
	switch req.Purpose {
	case PurposeReverse:
		cb.ResolvedAddr(FakeHostname)
	case PurposeForward:
		cb.ResolvedHost(nil)
	default:
		cb.ResolvedValue(nil, req.RRType)
	}
}

// Flush tears down the Manager: every still-pending async request
// receives a Timeout notification, the on-disk cache file (if any) is
// saved, the Resolver Channel is closed, and the Cache is emptied
// (spec.md §5 "Flush").
func (m *Manager) Flush() error {
	if !m.closed.SetToIf(false, true) {
		return nil
	}
	m.coord.FlushPending()

	var err error
	if m.cacheFile != nil {
		if saveErr := m.cacheFile.Save(m.cache); saveErr != nil {
			err = fmt.Errorf("dnsmgr: saving cache on flush: %w", saveErr)
		}
	}
	m.cache.Clear()

	m.cancel()
	if closeErr := m.bridge.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("dnsmgr: closing resolver channel: %w", closeErr)
	}
	return err
}

// Stats returns a snapshot of manager activity (spec.md §6).
func (m *Manager) Stats() Stats {
	requests, successful, failed, pending := m.coord.Stats()
	counts := m.cache.Counts()
	return Stats{
		Requests:        requests,
		Successful:      successful,
		Failed:          failed,
		Pending:         pending,
		CachedHosts:     counts.Hosts,
		CachedAddresses: counts.Addresses,
		CachedTexts:     counts.Texts,
	}
}

// SaveCache forces an out-of-band write of the on-disk cache file. A
// no-op if persistence was disabled with WithCacheFile("").
func (m *Manager) SaveCache() error {
	if m.cacheFile == nil {
		return nil
	}
	return m.cacheFile.Save(m.cache)
}
