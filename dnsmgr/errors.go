package dnsmgr

import "errors"

// Sentinel errors returned by the manager's public API. Callers should use
// errors.Is/errors.As rather than comparing strings.
var (
	// ErrTimeout is returned by a synchronous lookup that did not complete
	// within SyncTimeout, and delivered to async callbacks as a Timeout
	// notification (never returned directly from the async API itself).
	ErrTimeout = errors.New("dnsmgr: query timed out")

	// ErrNoSuchRecord means the resolver answered authoritatively that the
	// name or record does not exist (NXDOMAIN and NODATA collapsed, per
	// spec). The Manager records this as a failed Mapping.
	ErrNoSuchRecord = errors.New("dnsmgr: no such record")

	// ErrResolverFailure is a transient failure from the Resolver Channel
	// (network error, malformed reply, etc). Treated identically to a
	// timeout: no cache update, callbacks receive Timeout.
	ErrResolverFailure = errors.New("dnsmgr: resolver failure")

	// ErrSubmitFailed means the Resolver Channel refused to accept a query.
	ErrSubmitFailed = errors.New("dnsmgr: submission to resolver channel failed")

	// ErrForceMiss is returned by a lookup in ModeForce when the requested
	// key is not already cached. The Manager never terminates the process
	// itself; it is the embedding Host Runtime's responsibility to treat
	// this as a fatal configuration error.
	ErrForceMiss = errors.New("dnsmgr: cache miss in force mode")

	// ErrClosed is returned by any operation attempted after Flush has torn
	// down the manager.
	ErrClosed = errors.New("dnsmgr: manager is closed")
)
