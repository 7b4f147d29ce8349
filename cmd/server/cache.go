package main

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/elastic/go-freelru"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"

	"profsnap/internal/snapshot"
)

var errNotLoaded = errors.New("snapshot not loaded. Use load_snapshot tool first")

// cachedSnapshot serializes closing a snapshot against tool handlers that
// are still reading from it. Readers hold mu for reading; closing takes it
// for writing, so memory is never unmapped under a running analysis.
type cachedSnapshot struct {
	mu   sync.RWMutex
	snap *snapshot.Snapshot
}

func (c *cachedSnapshot) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.snap.Close(); err != nil {
		log.Errorf("Failed to close snapshot %s: %v", c.snap.Path(), err)
		return
	}
	log.Infof("Closed snapshot %s", c.snap.Path())
}

// snapshotCache keeps recently used snapshots open.
type snapshotCache struct {
	snapshots *lru.SyncedLRU[string, *cachedSnapshot]
	open      func(path string) (*snapshot.Snapshot, error)
	loadMu    sync.Mutex
}

func hashString(s string) uint32 {
	return uint32(xxh3.HashString(s))
}

func newSnapshotCache(size uint32) (*snapshotCache, error) {
	snapshots, err := lru.NewSynced[string, *cachedSnapshot](size, hashString)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}
	snapshots.SetOnEvict(func(_ string, c *cachedSnapshot) {
		c.close()
	})
	return &snapshotCache{snapshots: snapshots, open: snapshot.Open}, nil
}

// load opens path unless it is already open. It reports whether the
// snapshot was opened by this call.
func (c *snapshotCache) load(path string) (*cachedSnapshot, bool, error) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if cs, ok := c.snapshots.Get(path); ok {
		return cs, false, nil
	}
	snap, err := c.open(path)
	if err != nil {
		return nil, false, err
	}
	cs := &cachedSnapshot{snap: snap}
	c.snapshots.Add(path, cs)
	return cs, true, nil
}

// with runs fn while holding a read lock on the snapshot at path.
func (c *snapshotCache) with(path string, fn func(*snapshot.Snapshot) error) error {
	cs, ok := c.snapshots.Get(path)
	if !ok {
		return errNotLoaded
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return fn(cs.snap)
}

// unload closes the snapshot at path. It reports whether it was loaded.
func (c *snapshotCache) unload(path string) bool {
	cs, ok := c.snapshots.Peek(path)
	if !ok {
		return false
	}
	c.snapshots.Remove(path)
	// Remove may already have closed it through the eviction callback;
	// closing twice is harmless.
	cs.close()
	return true
}

// closeAll closes every cached snapshot.
func (c *snapshotCache) closeAll() {
	for _, path := range c.snapshots.Keys() {
		c.unload(path)
	}
}

func (c *snapshotCache) len() int {
	return c.snapshots.Len()
}
