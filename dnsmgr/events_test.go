package dnsmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMappingEventNewName(t *testing.T) {
	t.Parallel()

	now := time.Now()
	current := NewMapping(KindAddrForward, "h.", []string{"1.1.1.1"}, 60, now)

	event, added, lost := classifyMappingEvent(nil, current)
	assert.Equal(t, EventMappingNewName, event)
	assert.Nil(t, added)
	assert.Nil(t, lost)
}

func TestClassifyMappingEventUnverified(t *testing.T) {
	t.Parallel()

	now := time.Now()
	current := NewFailedMapping(KindAddrForward, "h.", 0, now)

	event, _, _ := classifyMappingEvent(nil, current)
	assert.Equal(t, EventMappingUnverified, event)
}

func TestClassifyMappingEventLostName(t *testing.T) {
	t.Parallel()

	now := time.Now()
	previous := NewMapping(KindAddrForward, "h.", []string{"1.1.1.1"}, 60, now)
	current := NewFailedMapping(KindAddrForward, "h.", 0, now)

	event, _, _ := classifyMappingEvent(previous, current)
	assert.Equal(t, EventMappingLostName, event)
}

func TestClassifyMappingEventValid(t *testing.T) {
	t.Parallel()

	now := time.Now()
	previous := NewMapping(KindAddrForward, "h.", []string{"1.1.1.1"}, 60, now)
	current := NewMapping(KindAddrForward, "h.", []string{"1.1.1.1"}, 60, now)

	event, _, _ := classifyMappingEvent(previous, current)
	assert.Equal(t, EventMappingValid, event)
}

func TestClassifyMappingEventAlteredWithDelta(t *testing.T) {
	t.Parallel()

	now := time.Now()
	previous := NewMapping(KindAddrForward, "h.", []string{"1.1.1.1", "2.2.2.2"}, 60, now)
	current := NewMapping(KindAddrForward, "h.", []string{"2.2.2.2", "3.3.3.3"}, 60, now)

	event, added, lost := classifyMappingEvent(previous, current)
	assert.Equal(t, EventMappingAltered, event)
	assert.Equal(t, []string{"3.3.3.3"}, added)
	assert.Equal(t, []string{"1.1.1.1"}, lost)
}

type recordingSink struct {
	events []string
	deltas int
}

func (s *recordingSink) OnMapping(event string, _ *Mapping) { s.events = append(s.events, event) }
func (s *recordingSink) OnAddrDelta(_ *Mapping, _, _ []string) { s.deltas++ }

func TestAddrListDelta(t *testing.T) {
	t.Parallel()

	added, lost := addrListDelta([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"a"}, lost)
}
