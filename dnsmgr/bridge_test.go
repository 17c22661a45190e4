package dnsmgr

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAnswerA(t *testing.T) {
	t.Parallel()

	rrs := []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Ttl: 30}, A: net.ParseIP("1.1.1.1")},
		&dns.A{Hdr: dns.RR_Header{Ttl: 60}, A: net.ParseIP("2.2.2.2")},
	}
	values, ttl := extractAnswer(&Request{}, rrs)
	assert.Equal(t, []string{"1.1.1.1", "2.2.2.2"}, values)
	assert.Equal(t, uint32(30), ttl)
}

func TestExtractAnswerTXT(t *testing.T) {
	t.Parallel()

	rrs := []dns.RR{
		&dns.TXT{Hdr: dns.RR_Header{Ttl: 15}, Txt: []string{"v=spf1", "include:_spf"}},
	}
	values, ttl := extractAnswer(&Request{}, rrs)
	assert.Equal(t, []string{"v=spf1", "include:_spf"}, values)
	assert.Equal(t, uint32(15), ttl)
}

func TestBridgeProcessDeliversCompletions(t *testing.T) {
	t.Parallel()

	channel := newFakeChannel()
	bridge := NewBridge(channel)

	req := NewTextRequest("example.com")
	channel.complete(Completion{Request: req, Values: []string{"v=spf1"}, TTL: 30})

	var got []Completion
	bridge.Process(func(c Completion) { got = append(got, c) })
	require.Len(t, got, 1)
	assert.Equal(t, []string{"v=spf1"}, got[0].Values)
}

func TestBridgeNextTimeoutFallsBackToCoordinatorDeadline(t *testing.T) {
	t.Parallel()

	bridge := NewBridge(newFakeChannel())
	d := bridge.NextTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, d)
}
