package gateway

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/KevinKickass/OpenRVCore/internal/types"
)

// LatestFrame is the newest frame seen for one name and instance.
type LatestFrame struct {
	Key      string              `json:"key"`
	Received time.Time           `json:"received_at"`
	Frame    *types.DecodedFrame `json:"frame"`
}

// LatestCache keeps the most recent frame per (name, instance).
type LatestCache struct {
	mu     sync.RWMutex
	frames map[string]LatestFrame
}

func NewLatestCache() *LatestCache {
	return &LatestCache{frames: make(map[string]LatestFrame)}
}

func cacheKey(f *types.DecodedFrame) string {
	if inst, ok := f.Instance(); ok {
		return f.Name + "/" + strconv.Itoa(inst)
	}
	return f.Name
}

func (c *LatestCache) Put(f *types.DecodedFrame, at time.Time) {
	key := cacheKey(f)
	c.mu.Lock()
	c.frames[key] = LatestFrame{Key: key, Received: at, Frame: f}
	c.mu.Unlock()
}

func (c *LatestCache) Get(key string) (LatestFrame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lf, ok := c.frames[key]
	return lf, ok
}

// Snapshot returns all entries sorted by key.
func (c *LatestCache) Snapshot() []LatestFrame {
	c.mu.RLock()
	out := make([]LatestFrame, 0, len(c.frames))
	for _, lf := range c.frames {
		out = append(out, lf)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (c *LatestCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.frames)
}
