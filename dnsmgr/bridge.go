package dnsmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Completion is what a ResolverChannel delivers for one submitted
// Request: either a value set with a TTL, a no-such-record result
// (Failed=true, Err nil), or a transient error (Err non-nil).
type Completion struct {
	Request *Request
	Values  []string
	TTL     uint32
	Failed  bool
	Err     error
}

// ResolverChannel is the abstraction over the external asynchronous DNS
// library referenced by spec.md as the "Resolver Channel." Rather than
// exposing raw socket file descriptors the way c-ares does — which Go's
// net package does not portably hand out for UDP sockets — readiness is
// signalled through a single notification channel (the self-pipe idiom
// translated to Go channels); see SPEC_FULL.md §4.F.
type ResolverChannel interface {
	// Submit starts resolving req in the background. The completion will
	// eventually appear in a call to Drain, after Readable has signalled.
	Submit(ctx context.Context, req *Request) error

	// Readable is signalled (non-blockingly, best-effort) whenever Drain
	// would return at least one Completion. The Host Runtime is expected
	// to poll this the way it would poll a socket fd.
	Readable() <-chan struct{}

	// Drain returns, and clears, every Completion collected so far.
	Drain() []Completion

	// NextDeadline returns the channel's own next internal deadline, if it
	// has one independent of any particular Request. The default
	// implementation has none.
	NextDeadline() (time.Time, bool)

	// Close releases the channel's resources. Submit after Close returns
	// ErrClosed.
	Close() error
}

// queryTimeout bounds how long a single background exchange is allowed to
// run, independent of the Async Coordinator's own timeout bookkeeping;
// it exists purely so a dead or black-holing upstream can't leak
// goroutines forever.
const queryTimeout = 10 * time.Second

// udpResolverChannel is the default ResolverChannel: one goroutine per
// outstanding query, built on github.com/miekg/dns's dns.Client exactly as
// service/resolver/resolver-plain.go's PlainResolver.Query does.
type udpResolverChannel struct {
	client *dns.Client
	server string

	mu      sync.Mutex
	closed  bool
	results []Completion

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewUDPResolverChannel returns the default ResolverChannel, issuing plain
// UDP queries against server (host:port).
func NewUDPResolverChannel(server string) ResolverChannel {
	return &udpResolverChannel{
		client: &dns.Client{
			Net:     "udp",
			Timeout: queryTimeout,
		},
		server: server,
		wake:   make(chan struct{}, 1),
	}
}

func (u *udpResolverChannel) Submit(ctx context.Context, req *Request) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.mu.Unlock()

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	u.wg.Add(1)
	go func() {
		defer cancel()
		defer u.wg.Done()
		u.exchange(queryCtx, req)
	}()
	return nil
}

func (u *udpResolverChannel) exchange(ctx context.Context, req *Request) {
	msg := new(dns.Msg)
	msg.SetQuestion(req.Key, req.RRType)
	msg.RecursionDesired = true

	reply, _, err := u.client.ExchangeContext(ctx, msg, u.server)
	completion := Completion{Request: req}
	switch {
	case err != nil:
		completion.Err = fmt.Errorf("%w: %s", ErrResolverFailure, err)
	case reply.Rcode == dns.RcodeNameError || (reply.Rcode == dns.RcodeSuccess && len(reply.Answer) == 0):
		completion.Failed = true
	case reply.Rcode != dns.RcodeSuccess:
		completion.Err = fmt.Errorf("%w: rcode %s", ErrResolverFailure, dns.RcodeToString[reply.Rcode])
	default:
		values, ttl := extractAnswer(req, reply.Answer)
		if len(values) == 0 {
			completion.Failed = true
		} else {
			completion.Values = values
			completion.TTL = ttl
		}
	}

	u.deliver(completion)
}

func extractAnswer(req *Request, rrs []dns.RR) (values []string, ttl uint32) {
	ttl = ^uint32(0)
	for _, rr := range rrs {
		var v string
		switch rec := rr.(type) {
		case *dns.A:
			v = rec.A.String()
		case *dns.AAAA:
			v = rec.AAAA.String()
		case *dns.PTR:
			v = rec.Ptr
		case *dns.TXT:
			for _, chunk := range rec.Txt {
				values = append(values, chunk)
			}
			if rr.Header().Ttl < ttl {
				ttl = rr.Header().Ttl
			}
			continue
		default:
			continue
		}
		if v != "" {
			values = append(values, v)
		}
		if rr.Header().Ttl < ttl {
			ttl = rr.Header().Ttl
		}
	}
	if ttl == ^uint32(0) {
		ttl = 0
	}
	_ = req
	return values, ttl
}

func (u *udpResolverChannel) deliver(c Completion) {
	u.mu.Lock()
	u.results = append(u.results, c)
	u.mu.Unlock()

	select {
	case u.wake <- struct{}{}:
	default:
	}
}

func (u *udpResolverChannel) Readable() <-chan struct{} { return u.wake }

func (u *udpResolverChannel) Drain() []Completion {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.results) == 0 {
		return nil
	}
	out := u.results
	u.results = nil
	return out
}

func (u *udpResolverChannel) NextDeadline() (time.Time, bool) { return time.Time{}, false }

func (u *udpResolverChannel) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()
	u.wg.Wait()
	return nil
}

// Bridge is the thin adapter over a ResolverChannel described in
// spec.md §4.F: it submits Requests, exposes the channel's readiness to
// the Host Runtime, and drives completions back into the Manager.
type Bridge struct {
	channel ResolverChannel
}

// NewBridge wraps channel in a Bridge.
func NewBridge(channel ResolverChannel) *Bridge {
	return &Bridge{channel: channel}
}

// Submit translates req into the channel's query primitive.
func (b *Bridge) Submit(ctx context.Context, req *Request) error {
	if err := b.channel.Submit(ctx, req); err != nil {
		return fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}
	return nil
}

// WakeChannel returns the readiness channel the Host Runtime should poll
// in place of a raw socket fd set (spec.md §4.F socket registration,
// collapsed per SPEC_FULL.md §4.F).
func (b *Bridge) WakeChannel() <-chan struct{} { return b.channel.Readable() }

// Process calls the channel's "service ready sockets" primitive — here,
// Drain — so completion callbacks fire synchronously inside this call, as
// required by spec.md §4.F/§5.
func (b *Bridge) Process(handle func(Completion)) {
	for _, c := range b.channel.Drain() {
		handle(c)
	}
}

// NextTimeout returns min(channel_deadline, coordinatorDeadline), per
// spec.md §4.F.
func (b *Bridge) NextTimeout(coordinatorDeadline time.Duration) time.Duration {
	deadline, ok := b.channel.NextDeadline()
	if !ok {
		return coordinatorDeadline
	}
	untilChannel := time.Until(deadline)
	if untilChannel < 0 {
		untilChannel = 0
	}
	if untilChannel < coordinatorDeadline {
		return untilChannel
	}
	return coordinatorDeadline
}

// Close tears down the underlying channel.
func (b *Bridge) Close() error { return b.channel.Close() }
