package testutil

import "sync"

// RecordingCache records derived-cache invalidations for assertions.
type RecordingCache struct {
	mu          sync.Mutex
	Invalidated []string
}

func NewRecordingCache() *RecordingCache {
	return &RecordingCache{}
}

func (c *RecordingCache) Invalidate(metaDir string, paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Invalidated = append(c.Invalidated, paths...)
}

// Paths returns a copy of all invalidated paths so far.
func (c *RecordingCache) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Invalidated))
	copy(out, c.Invalidated)
	return out
}
