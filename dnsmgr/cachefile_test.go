package dnsmgr

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheFileSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cf := NewCacheFile(dir, "cache.txt")

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache()
	c.now = func() time.Time { return now }
	c.Insert(NewMapping(KindAddrForward, "h.", []string{"1.1.1.1"}, 60, now), false)
	c.Insert(NewMapping(KindAddrReverse, "1.2.3.4", []string{"h."}, 60, now), false)
	c.Insert(NewFailedMapping(KindText, "h.", 0, now), false)

	require.NoError(t, cf.Save(c))

	loaded := NewCache()
	loaded.now = func() time.Time { return now }
	require.NoError(t, cf.Load(loaded, now))

	assert.Equal(t, c.Counts(), loaded.Counts())

	values, ok := loaded.LookupName("h.", false, false)
	require.True(t, ok)
	assert.Equal(t, []string{"1.1.1.1"}, values)

	host, ok := loaded.LookupAddr("1.2.3.4", false, false)
	require.True(t, ok)
	assert.Equal(t, "h.", host)
}

func TestCacheFileLoadMissingFileIsNotError(t *testing.T) {
	t.Parallel()

	cf := NewCacheFile(t.TempDir(), "does-not-exist.txt")
	c := NewCache()
	assert.NoError(t, cf.Load(c, time.Now()))
	assert.Equal(t, CacheCounts{}, c.Counts())
}

func TestCacheFileLoadDiscardsExpiredEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "cache.txt")
	old := time.Now().Add(-time.Hour).Unix()
	line := formatCacheLine(KindAddrForward, NewMapping(KindAddrForward, "h.", []string{"1.1.1.1"}, 5, time.Unix(old, 0)))
	require.NoError(t, os.WriteFile(path, []byte(line), 0o644))

	c := NewCache()
	cf := NewCacheFile(dir, "cache.txt")
	require.NoError(t, cf.Load(c, time.Now()))
	assert.Equal(t, CacheCounts{}, c.Counts())
}

func TestCacheFileLoadSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "cache.txt")
	content := "not enough fields\n" + formatCacheLine(KindText, NewMapping(KindText, "h.", []string{"v=spf1"}, 0, time.Now()))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c := NewCache()
	cf := NewCacheFile(dir, "cache.txt")
	err := cf.Load(c, time.Now())
	assert.Error(t, err)
	assert.Equal(t, 1, c.Counts().Texts)
}

func TestParseCacheLineUnknownKind(t *testing.T) {
	t.Parallel()

	_, _, err := parseCacheLine("0\t0\tZ\t0\th.\tv", time.Now())
	assert.Error(t, err)
}
