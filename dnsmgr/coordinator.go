package dnsmgr

import (
	"container/heap"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"github.com/tevino/abool"
	"golang.org/x/sync/semaphore"
)

// AsyncRequest is an outstanding, possibly coalesced, non-blocking lookup
// plus its pending callbacks (spec.md §3). The Async Coordinator
// exclusively owns AsyncRequests; a Request submitted to the Resolver
// Channel holds only a borrow whose lifetime is bounded by the
// completion callback (spec.md §9).
type AsyncRequest struct {
	kind Kind
	key  string // cache key: hostname, or presentation-form address
	addr net.IP // set for KindAddrReverse
	// purpose carries the public-API entry point this request was made
	// through, which decides the LookupCallback overload fired on
	// completion (see Request.Purpose).
	purpose Purpose

	submitted time.Time // when created; becomes "submission time" at admission
	deadline  time.Time // submitted + ASYNC_TIMEOUT, set at first admission
	heapIndex int

	mu        sync.Mutex
	callbacks []LookupCallback
	outstanding int // number of sub-requests issued but not yet completed
	total       int // total number of sub-requests (2 for forward host lookups, 1 otherwise)

	processed abool.AtomicBool
}

// pendingCount returns how many callbacks are registered, used only for
// diagnostics/tests.
func (ar *AsyncRequest) pendingCount() int {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return len(ar.callbacks)
}

// submission pairs an AsyncRequest with one of its underlying Requests,
// so the FIFO admission queue can account for inflight slots per Request
// even when one AsyncRequest (a host lookup) fans out into several
// (A and AAAA).
type submission struct {
	ar  *AsyncRequest
	req *Request
}

// Coordinator is the Async Coordinator described in spec.md §4.E: a
// dedup table, a FIFO admission queue, inflight slot accounting, and a
// deadline-ordered timeout heap.
type Coordinator struct {
	cfg Config

	mu          sync.Mutex
	addrPending map[string]*AsyncRequest
	namePending map[string]*AsyncRequest
	textPending map[string]*AsyncRequest
	queue       []*submission
	timeouts    timeoutHeap

	slots    *semaphore.Weighted
	inflight atomic.Int64

	statsRequests   atomic.Uint64
	statsSuccessful atomic.Uint64
	statsFailed     atomic.Uint64

	// cacheLookup fetches the final, already-merged result for (kind, key)
	// from the Manager's Cache once every sub-request of an AsyncRequest
	// has completed. Injected rather than depending on *Cache directly so
	// the Coordinator stays decoupled from cache internals.
	cacheLookup func(kind Kind, key string) (values []string, failed, ok bool)
}

// NewCoordinator builds a Coordinator. cacheLookup must not be nil.
func NewCoordinator(cfg Config, cacheLookup func(kind Kind, key string) (values []string, failed, ok bool)) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		addrPending: make(map[string]*AsyncRequest),
		namePending: make(map[string]*AsyncRequest),
		textPending: make(map[string]*AsyncRequest),
		slots:       semaphore.NewWeighted(int64(cfg.MaxInflight)),
		cacheLookup: cacheLookup,
	}
}

func (co *Coordinator) pendingMapFor(kind Kind) map[string]*AsyncRequest {
	switch kind {
	case KindAddrReverse:
		return co.addrPending
	case KindText:
		return co.textPending
	default:
		return co.namePending
	}
}

// Lookup registers cb against req, coalescing into an existing
// AsyncRequest if one is already pending for the same (kind, key), or
// creating and enqueuing a new one otherwise. It returns true if the
// callback was coalesced onto an existing request (no new submission was
// made).
func (co *Coordinator) Lookup(req *Request, cb LookupCallback, now time.Time) bool {
	key := req.cacheKey()
	kind := req.Kind()

	co.mu.Lock()
	defer co.mu.Unlock()

	pending := co.pendingMapFor(kind)
	if ar, ok := pending[key]; ok {
		ar.mu.Lock()
		ar.callbacks = append(ar.callbacks, cb)
		ar.mu.Unlock()
		return true
	}

	ar := &AsyncRequest{
		kind:      kind,
		key:       key,
		addr:      req.Addr,
		purpose:   req.Purpose,
		submitted: now,
		callbacks: []LookupCallback{cb},
		heapIndex: -1,
	}

	var subs []*Request
	if kind == KindAddrForward && req.Purpose == PurposeForward {
		// LookupHost fans out into an A and an AAAA query; the two
		// complete independently but resolve the single AsyncRequest
		// together once both are done.
		subs = []*Request{
			{Key: req.Key, RRType: dns.TypeA, Purpose: req.Purpose},
			{Key: req.Key, RRType: dns.TypeAAAA, Purpose: req.Purpose},
		}
	} else {
		subs = []*Request{req}
	}
	ar.total = len(subs)
	ar.outstanding = 0

	pending[key] = ar
	for _, sub := range subs {
		co.queue = append(co.queue, &submission{ar: ar, req: sub})
	}
	co.statsRequests.Add(1)
	return false
}

// IssuePending moves as many queued submissions to the Resolver Bridge as
// available slots allow (spec.md §4.E "Admission"). Submission failures
// are fed straight back into HandleCompletion as an error completion.
func (co *Coordinator) IssuePending(ctx context.Context, bridge *Bridge, now time.Time) {
	for {
		co.mu.Lock()
		if len(co.queue) == 0 {
			co.mu.Unlock()
			return
		}
		sub := co.queue[0]

		if sub.ar.processed.IsSet() {
			co.queue = co.queue[1:]
			co.mu.Unlock()
			continue
		}

		if !co.slots.TryAcquire(1) {
			co.mu.Unlock()
			return
		}
		co.queue = co.queue[1:]
		co.mu.Unlock()

		co.inflight.Add(1)

		sub.ar.mu.Lock()
		sub.ar.outstanding++
		if sub.ar.deadline.IsZero() {
			sub.ar.submitted = now
			sub.ar.deadline = now.Add(co.cfg.AsyncTimeout)
		}
		sub.ar.mu.Unlock()

		co.mu.Lock()
		if sub.ar.heapIndex < 0 {
			heap.Push(&co.timeouts, sub.ar)
		}
		co.mu.Unlock()

		if err := bridge.Submit(ctx, sub.req); err != nil {
			co.HandleCompletion(Completion{Request: sub.req, Err: fmt.Errorf("%w: %s", ErrSubmitFailed, err)})
		}
	}
}

// inHeap reports whether ar currently has a valid heap slot.
func (co *Coordinator) inHeap(ar *AsyncRequest) bool {
	return ar.heapIndex >= 0 && ar.heapIndex < len(co.timeouts) && co.timeouts[ar.heapIndex] == ar
}

// HandleCompletion accounts for one sub-request finishing — successfully,
// with a no-such-record result, or with an error — releasing its inflight
// slot and, once every sub-request of the owning AsyncRequest has
// completed, finalizing the request: firing callbacks exactly once and
// removing it from the dedup table and timeout heap (spec.md §4.E
// "Resolution").
func (co *Coordinator) HandleCompletion(c Completion) {
	kind := c.Request.Kind()
	key := c.Request.cacheKey()

	co.mu.Lock()
	pending := co.pendingMapFor(kind)
	ar, ok := pending[key]
	co.mu.Unlock()
	if !ok {
		// The owning request already timed out or was flushed; its slots
		// were released then.
		return
	}

	co.slots.Release(1)
	co.inflight.Add(-1)

	ar.mu.Lock()
	ar.outstanding--
	done := ar.outstanding <= 0
	ar.mu.Unlock()

	if done {
		// Sub-requests still waiting for admission have not completed.
		co.mu.Lock()
		for _, sub := range co.queue {
			if sub.ar == ar {
				done = false
				break
			}
		}
		co.mu.Unlock()
	}

	if !done || !ar.processed.SetToIf(false, true) {
		return
	}

	co.finalize(ar)
}

// finalize removes ar from the dedup table and timeout heap, and fires
// every registered callback exactly once with the final cache state.
func (co *Coordinator) finalize(ar *AsyncRequest) {
	co.mu.Lock()
	delete(co.pendingMapFor(ar.kind), ar.key)
	if co.inHeap(ar) {
		heap.Remove(&co.timeouts, ar.heapIndex)
	}
	co.mu.Unlock()

	ar.mu.Lock()
	callbacks := ar.callbacks
	ar.callbacks = nil
	ar.mu.Unlock()

	values, failed, found := co.cacheLookup(ar.kind, ar.key)
	if !found || failed {
		co.statsFailed.Add(1)
		for _, cb := range callbacks {
			deliverEmptyResolved(cb, ar)
		}
		return
	}

	co.statsSuccessful.Add(1)
	for _, cb := range callbacks {
		deliverResolved(cb, ar, values)
	}
}

// deliverResolved fires the appropriate Resolved* overload for a
// successful result, chosen by the request's Purpose (spec.md §4.G).
func deliverResolved(cb LookupCallback, ar *AsyncRequest, values []string) {
	switch ar.purpose {
	case PurposeReverse:
		hostname := ""
		if len(values) > 0 {
			hostname = values[0]
		}
		cb.ResolvedAddr(hostname)
	case PurposeForward:
		cb.ResolvedHost(parseIPs(values))
	default:
		cb.ResolvedValue(values, 0)
	}
}

// deliverEmptyResolved fires the appropriate Resolved* overload for a
// no-such-record result (spec.md §7: "NXDOMAIN/NODATA: ... callbacks
// receive an empty-result Resolved, not Timeout").
func deliverEmptyResolved(cb LookupCallback, ar *AsyncRequest) {
	switch ar.purpose {
	case PurposeReverse:
		cb.ResolvedAddr("")
	case PurposeForward:
		cb.ResolvedHost(nil)
	default:
		cb.ResolvedValue(nil, 0)
	}
}

func parseIPs(values []string) []net.IP {
	ips := make([]net.IP, 0, len(values))
	for _, v := range values {
		if ip := net.ParseIP(v); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}

// ProcessTimeouts pops every AsyncRequest whose deadline has passed,
// fires Timeout on all of their callbacks (spec.md §4.E "Timeout"), and
// releases any slots they were still holding.
func (co *Coordinator) ProcessTimeouts(now time.Time) {
	for {
		co.mu.Lock()
		deadline, ok := co.timeouts.peekDeadline()
		if !ok || deadline.After(now) {
			co.mu.Unlock()
			return
		}
		ar := heap.Pop(&co.timeouts).(*AsyncRequest)
		delete(co.pendingMapFor(ar.kind), ar.key)
		co.mu.Unlock()

		if !ar.processed.SetToIf(false, true) {
			continue
		}

		ar.mu.Lock()
		outstanding := ar.outstanding
		callbacks := ar.callbacks
		ar.callbacks = nil
		ar.mu.Unlock()

		if outstanding > 0 {
			co.slots.Release(int64(outstanding))
			co.inflight.Add(-int64(outstanding))
		}

		co.statsFailed.Add(1)
		for _, cb := range callbacks {
			cb.Timeout()
		}
	}
}

// NextTimeout returns the duration until the earliest pending deadline,
// or the given fallback if nothing is pending. Never negative (spec.md
// §4.G: "must never return a value smaller than 0").
func (co *Coordinator) NextTimeout(now time.Time, fallback time.Duration) time.Duration {
	co.mu.Lock()
	deadline, ok := co.timeouts.peekDeadline()
	co.mu.Unlock()
	if !ok {
		return fallback
	}
	d := deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// FlushPending cancels every still-pending AsyncRequest, firing Timeout
// on all of their callbacks, and releases their slots (spec.md §5
// "Flush... outstanding async callbacks receive a timeout notification").
func (co *Coordinator) FlushPending() {
	co.mu.Lock()
	all := make([]*AsyncRequest, 0, len(co.namePending)+len(co.addrPending)+len(co.textPending))
	for _, ar := range co.namePending {
		all = append(all, ar)
	}
	for _, ar := range co.addrPending {
		all = append(all, ar)
	}
	for _, ar := range co.textPending {
		all = append(all, ar)
	}
	co.namePending = make(map[string]*AsyncRequest)
	co.addrPending = make(map[string]*AsyncRequest)
	co.textPending = make(map[string]*AsyncRequest)
	co.queue = nil
	co.timeouts = nil
	co.mu.Unlock()

	for _, ar := range all {
		if !ar.processed.SetToIf(false, true) {
			continue
		}
		ar.mu.Lock()
		outstanding := ar.outstanding
		callbacks := ar.callbacks
		ar.callbacks = nil
		ar.mu.Unlock()

		if outstanding > 0 {
			co.slots.Release(int64(outstanding))
			co.inflight.Add(-int64(outstanding))
		}
		co.statsFailed.Add(1)
		for _, cb := range callbacks {
			cb.Timeout()
		}
	}
}

// Stats returns the Coordinator's contribution to the Stats snapshot.
func (co *Coordinator) Stats() (requests, successful, failed, pending uint64) {
	co.mu.Lock()
	queued := len(co.queue)
	co.mu.Unlock()
	inflight := co.inflight.Load()
	if inflight < 0 {
		inflight = 0
	}
	return co.statsRequests.Load(), co.statsSuccessful.Load(), co.statsFailed.Load(), uint64(queued) + uint64(inflight)
}

// Inflight returns the number of slots currently held, for the slot
// safety invariant (spec.md §8 invariant 4).
func (co *Coordinator) Inflight() int64 { return co.inflight.Load() }
