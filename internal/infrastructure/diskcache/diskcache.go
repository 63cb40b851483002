// Package diskcache keeps downloaded blobs on local disk, keyed by remote id.
// Entries are written by the caller through a pending file and renamed into
// place, so a path returned by Lookup always holds a complete file.
package diskcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config holds cache settings.
type Config struct {
	Dir      string
	TTL      time.Duration
	MaxBytes int64 // 0 disables the size bound
}

// DefaultTTL is how long a downloaded segment is served from disk.
const DefaultTTL = 7 * 24 * time.Hour

// Cache maps remote ids to files under Dir. Freshness is the file mtime.
type Cache struct {
	dir      string
	ttl      time.Duration
	maxBytes int64
	now      func() time.Time

	sweepMu sync.Mutex
}

// SweepStats reports what a sweep removed.
type SweepStats struct {
	Expired   int
	Evicted   int
	FreedSize int64
	Remaining int64
}

// New creates the cache directory if needed.
func New(cfg Config) (*Cache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{
		dir:      cfg.Dir,
		ttl:      cfg.TTL,
		maxBytes: cfg.MaxBytes,
		now:      time.Now,
	}, nil
}

// Path returns where the entry for remoteID lives, present or not.
func (c *Cache) Path(remoteID string) string {
	sum := sha256.Sum256([]byte(remoteID))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:]))
}

// Lookup returns the entry path if it exists and is younger than the TTL.
func (c *Cache) Lookup(remoteID string) (string, bool) {
	path := c.Path(remoteID)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	if c.expired(info.ModTime()) {
		return "", false
	}
	return path, true
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) expired(modTime time.Time) bool {
	return c.now().Sub(modTime) >= c.ttl
}

type entry struct {
	path    string
	size    int64
	modTime time.Time
}

// Sweep removes expired entries, then the oldest entries until the total
// size fits MaxBytes. Abandoned pending files past the TTL are removed too.
func (c *Cache) Sweep() (SweepStats, error) {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	var stats SweepStats
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return stats, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var live []entry
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue // removed concurrently
		}
		e := entry{path: filepath.Join(c.dir, de.Name()), size: info.Size(), modTime: info.ModTime()}

		if c.expired(e.modTime) {
			if err := os.Remove(e.path); err == nil {
				stats.Expired++
				stats.FreedSize += e.size
			}
			continue
		}
		// In-flight pending files do not count against the bound.
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		live = append(live, e)
		stats.Remaining += e.size
	}

	if c.maxBytes <= 0 || stats.Remaining <= c.maxBytes {
		return stats, nil
	}

	sort.Slice(live, func(i, j int) bool { return live[i].modTime.Before(live[j].modTime) })
	for _, e := range live {
		if stats.Remaining <= c.maxBytes {
			break
		}
		if err := os.Remove(e.path); err != nil {
			continue
		}
		stats.Evicted++
		stats.FreedSize += e.size
		stats.Remaining -= e.size
	}

	return stats, nil
}
