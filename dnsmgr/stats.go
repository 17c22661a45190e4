package dnsmgr

// Stats is a read-only snapshot of manager activity (spec.md §6). All
// counts are monotonic except Pending, which tracks current inflight plus
// queued async requests.
type Stats struct {
	Requests   uint64 // async submissions (not counting coalesced callbacks)
	Successful uint64 // resolved with an answer
	Failed     uint64 // timed out or errored

	Pending uint64 // current inflight + queued

	CachedHosts     int
	CachedAddresses int
	CachedTexts     int
}
