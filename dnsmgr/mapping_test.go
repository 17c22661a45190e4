package dnsmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMappingExpired(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	m := NewMapping(KindAddrForward, "example.com.", []string{"1.2.3.4"}, 60, base)
	assert.False(t, m.Expired(base))
	assert.False(t, m.Expired(base.Add(59*time.Second)))
	assert.True(t, m.Expired(base.Add(60*time.Second)))
	assert.True(t, m.Expired(base.Add(time.Hour)))
}

func TestMappingTTLZeroNeverExpires(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMapping(KindAddrForward, "example.com.", []string{"1.2.3.4"}, 0, base)
	assert.False(t, m.Expired(base.Add(100*365*24*time.Hour)))
}

func TestMappingMarkFailed(t *testing.T) {
	t.Parallel()

	base := time.Now()
	m := NewMapping(KindText, "example.com.", []string{"v=spf1"}, 30, base)
	assert.False(t, m.Failed())
	m.MarkFailed()
	assert.True(t, m.Failed())
}

func TestMappingValuesReturnsCopy(t *testing.T) {
	t.Parallel()

	m := NewMapping(KindAddrForward, "h.", []string{"1.1.1.1"}, 10, time.Now())
	values := m.Values()
	values[0] = "9.9.9.9"
	assert.Equal(t, "1.1.1.1", m.Values()[0])
}

func TestSameValues(t *testing.T) {
	t.Parallel()

	now := time.Now()
	a := NewMapping(KindAddrForward, "h.", []string{"1.1.1.1", "2.2.2.2"}, 10, now)
	b := NewMapping(KindAddrForward, "h.", []string{"2.2.2.2", "1.1.1.1"}, 10, now)
	c := NewMapping(KindAddrForward, "h.", []string{"1.1.1.1"}, 10, now)

	assert.True(t, sameValues(a, b))
	assert.False(t, sameValues(a, c))
}

func TestKindFileTagRoundTrip(t *testing.T) {
	t.Parallel()

	for _, k := range []Kind{KindAddrForward, KindAddrReverse, KindText} {
		tag := k.fileTag()
		got, ok := kindFromFileTag(tag)
		assert.True(t, ok)
		assert.Equal(t, k, got)
	}

	_, ok := kindFromFileTag("Z")
	assert.False(t, ok)
}
