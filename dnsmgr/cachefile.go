package dnsmgr

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// CacheFile persists a Cache to a single text file, per spec.md §4.C /
// §6. Line format (tab-separated):
//
//	<creation_time>\t<ttl>\t<kind>\t<failed?>\t<key>\t<value1>[,<value2>...]
//
// kind is one of H (HostMap), A (AddrMap), T (TextMap). Addresses are
// stored in presentation form. Loading tolerates and skips malformed
// lines and unknown trailing fields; saving is best-effort, one write per
// line, with no required fsync.
type CacheFile struct {
	// Dir is the directory the cache file lives in. Defaults to the
	// current working directory, matching spec.md §6.
	Dir string
	// Name is the file's base name, fixed at construction by the caller.
	Name string
}

// NewCacheFile returns a CacheFile rooted at dir (or the working
// directory, if dir is empty) with the given fixed name.
func NewCacheFile(dir, name string) *CacheFile {
	return &CacheFile{Dir: dir, Name: name}
}

// Path returns the full path to the cache file.
func (cf *CacheFile) Path() string {
	dir := cf.Dir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, cf.Name)
}

const cacheFileFieldCount = 6

// Load reads the cache file at Path() into c, restoring every persisted
// mapping whose creation_time+ttl > now (or ttl == 0, which never expires
// by clock). Entries that are already expired are discarded rather than
// loaded. A missing file is not an error — it simply yields an empty
// cache, matching a first-run startup.
//
// Malformed lines are logged and skipped; per spec.md §7 this is never
// fatal, but the set of skipped lines is returned as a *multierror.Error
// so callers that want visibility into it can inspect it.
func (cf *CacheFile) Load(c *Cache, now time.Time) error {
	f, err := os.Open(cf.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("dnsmgr: open cache file: %w", err)
	}
	defer f.Close()

	var errs *multierror.Error
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		mapping, kind, err := parseCacheLine(line, now)
		if err != nil {
			logWarnf("dnsmgr: cache file %s: skipping malformed line %d: %s", cf.Path(), lineNo, err)
			errs = multierror.Append(errs, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		if mapping == nil {
			// Parsed fine but already expired: discard silently.
			continue
		}

		c.Insert(mapping, false)
		_ = kind
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("dnsmgr: read cache file: %w", err)
	}

	return errs.ErrorOrNil()
}

// parseCacheLine parses one line of the cache file format. It returns a
// nil mapping (with no error) if the line parsed correctly but described
// an already-expired entry.
func parseCacheLine(line string, now time.Time) (*Mapping, Kind, error) {
	fields := strings.SplitN(line, "\t", cacheFileFieldCount)
	if len(fields) < cacheFileFieldCount {
		return nil, 0, fmt.Errorf("expected %d tab-separated fields, got %d", cacheFileFieldCount, len(fields))
	}

	creationUnix, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("bad creation_time: %w", err)
	}
	ttl64, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("bad ttl: %w", err)
	}
	kind, ok := kindFromFileTag(fields[2])
	if !ok {
		return nil, 0, fmt.Errorf("unknown kind tag %q", fields[2])
	}
	failed := fields[3] == "1"
	key := fields[4]
	if key == "" {
		return nil, 0, fmt.Errorf("empty key")
	}

	// fields[5] may itself contain trailing tab-separated fields written by
	// a newer version of this format; tolerate and ignore them, keeping
	// only the comma-separated value list that precedes the first
	// additional tab.
	valueField := fields[5]
	if idx := strings.IndexByte(valueField, '\t'); idx >= 0 {
		valueField = valueField[:idx]
	}

	var values []string
	if valueField != "" {
		values = strings.Split(valueField, ",")
	}

	creation := time.Unix(creationUnix, 0)
	m := NewMapping(kind, key, values, uint32(ttl64), creation)
	if failed {
		m.MarkFailed()
	}

	if m.Expired(now) {
		return nil, kind, nil
	}
	return m, kind, nil
}

// Save writes every mapping currently in c to Path(), overwriting any
// existing file. Save is invoked explicitly by the caller (not on a
// timer).
func (cf *CacheFile) Save(c *Cache) error {
	path := cf.Path()
	if cf.Dir != "" {
		if err := os.MkdirAll(cf.Dir, 0o755); err != nil {
			return fmt.Errorf("dnsmgr: create cache dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dnsmgr: create cache file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var writeErr error
	c.forEach(func(kind Kind, m *Mapping) {
		if writeErr != nil {
			return
		}
		line := formatCacheLine(kind, m)
		if _, err := w.WriteString(line); err != nil {
			writeErr = err
		}
	})
	if writeErr != nil {
		return fmt.Errorf("dnsmgr: write cache file: %w", writeErr)
	}

	return w.Flush()
}

func formatCacheLine(kind Kind, m *Mapping) string {
	failedFlag := "0"
	if m.Failed() {
		failedFlag = "1"
	}
	return fmt.Sprintf("%d\t%d\t%s\t%s\t%s\t%s\n",
		m.CreationTime().Unix(),
		m.TTL(),
		kind.fileTag(),
		failedFlag,
		m.Key(),
		strings.Join(m.Values(), ","),
	)
}
