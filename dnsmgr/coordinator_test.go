package dnsmgr

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel is a fully in-memory ResolverChannel for deterministic
// coordinator/bridge tests: completions are only produced when the test
// explicitly calls complete.
type fakeChannel struct {
	mu        sync.Mutex
	submitted []*Request
	results   []Completion
	wake      chan struct{}
	closed    bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{wake: make(chan struct{}, 1)}
}

func (f *fakeChannel) Submit(_ context.Context, req *Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.submitted = append(f.submitted, req)
	return nil
}

func (f *fakeChannel) Readable() <-chan struct{} { return f.wake }

func (f *fakeChannel) Drain() []Completion {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.results
	f.results = nil
	return out
}

func (f *fakeChannel) NextDeadline() (time.Time, bool) { return time.Time{}, false }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) complete(c Completion) {
	f.mu.Lock()
	f.results = append(f.results, c)
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *fakeChannel) submittedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func noopCacheLookup(values []string, failed bool) func(Kind, string) ([]string, bool, bool) {
	return func(Kind, string) ([]string, bool, bool) { return values, failed, true }
}

func TestCoordinatorLookupCoalesces(t *testing.T) {
	t.Parallel()

	co := NewCoordinator(defaultConfig(), noopCacheLookup([]string{"1.1.1.1"}, false))
	now := time.Now()

	var fired int
	cb := CallbackFuncs{OnResolvedAddr: func(string) { fired++ }}

	req := NewReverseRequest(net.ParseIP("1.2.3.4"))
	coalesced1 := co.Lookup(req, cb, now)
	coalesced2 := co.Lookup(req, cb, now)

	assert.False(t, coalesced1)
	assert.True(t, coalesced2)

	requests, _, _, _ := co.Stats()
	assert.Equal(t, uint64(1), requests)
}

func TestCoordinatorForwardHostFansOutToTwoSubRequests(t *testing.T) {
	t.Parallel()

	co := NewCoordinator(defaultConfig(), noopCacheLookup([]string{"1.1.1.1"}, false))
	now := time.Now()
	req := NewForwardRequest("example.com", dns.TypeA)
	co.Lookup(req, CallbackFuncs{}, now)

	assert.Len(t, co.queue, 2)
}

func TestCoordinatorIssuePendingRespectsMaxInflight(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.MaxInflight = 1
	co := NewCoordinator(cfg, noopCacheLookup(nil, true))
	bridge := NewBridge(newFakeChannel())
	now := time.Now()

	co.Lookup(NewReverseRequest(net.ParseIP("1.1.1.1")), CallbackFuncs{}, now)
	co.Lookup(NewReverseRequest(net.ParseIP("2.2.2.2")), CallbackFuncs{}, now)

	co.IssuePending(context.Background(), bridge, now)
	assert.Equal(t, int64(1), co.Inflight())
	assert.Len(t, co.queue, 1)
}

func TestCoordinatorHandleCompletionFinalizesOnceAllSubRequestsDone(t *testing.T) {
	t.Parallel()

	co := NewCoordinator(defaultConfig(), noopCacheLookup([]string{"1.1.1.1", "::1"}, false))
	channel := newFakeChannel()
	bridge := NewBridge(channel)
	now := time.Now()

	done := make(chan struct{})
	var addrs []net.IP
	cb := CallbackFuncs{OnResolvedHost: func(a []net.IP) { addrs = a; close(done) }}

	req := NewForwardRequest("example.com", dns.TypeA)
	co.Lookup(req, cb, now)
	co.IssuePending(context.Background(), bridge, now)
	require.Equal(t, 2, channel.submittedCount())

	co.HandleCompletion(Completion{Request: channel.submitted[0], Values: []string{"1.1.1.1"}, TTL: 60})

	select {
	case <-done:
		t.Fatal("callback fired before both sub-requests completed")
	default:
	}

	co.HandleCompletion(Completion{Request: channel.submitted[1], Values: []string{"::1"}, TTL: 60})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
	assert.ElementsMatch(t, []net.IP{net.ParseIP("1.1.1.1"), net.ParseIP("::1")}, addrs)
}

func TestCoordinatorProcessTimeoutsFiresTimeout(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.AsyncTimeout = 10 * time.Millisecond
	co := NewCoordinator(cfg, noopCacheLookup(nil, true))
	bridge := NewBridge(newFakeChannel())
	now := time.Now()

	var timedOut bool
	co.Lookup(NewReverseRequest(net.ParseIP("1.1.1.1")), CallbackFuncs{OnTimeout: func() { timedOut = true }}, now)
	co.IssuePending(context.Background(), bridge, now)

	co.ProcessTimeouts(now.Add(5 * time.Millisecond))
	assert.False(t, timedOut)

	co.ProcessTimeouts(now.Add(20 * time.Millisecond))
	assert.True(t, timedOut)
	assert.Equal(t, int64(0), co.Inflight())
}

func TestCoordinatorFlushPendingTimesOutEverything(t *testing.T) {
	t.Parallel()

	co := NewCoordinator(defaultConfig(), noopCacheLookup(nil, true))
	bridge := NewBridge(newFakeChannel())
	now := time.Now()

	var calls int
	co.Lookup(NewReverseRequest(net.ParseIP("1.1.1.1")), CallbackFuncs{OnTimeout: func() { calls++ }}, now)
	co.Lookup(NewTextRequest("example.com"), CallbackFuncs{OnTimeout: func() { calls++ }}, now)
	co.IssuePending(context.Background(), bridge, now)

	co.FlushPending()
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(0), co.Inflight())
}

func TestCoordinatorNextTimeoutNeverNegative(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.AsyncTimeout = time.Millisecond
	co := NewCoordinator(cfg, noopCacheLookup(nil, true))
	bridge := NewBridge(newFakeChannel())
	now := time.Now()

	co.Lookup(NewReverseRequest(net.ParseIP("1.1.1.1")), CallbackFuncs{}, now)
	co.IssuePending(context.Background(), bridge, now)

	d := co.NextTimeout(now.Add(time.Hour), time.Second)
	assert.Equal(t, time.Duration(0), d)
}
