package validator

import (
	"fmt"
	"time"

	"github.com/KevinKickass/OpenRVCore/internal/types"
)

const (
	rateWindow       = time.Second
	globalHistoryCap = 100
	entityHistoryCap = 10
)

type RateConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	GlobalPerSecond int           `mapstructure:"global_per_second"`
	EntityPerSecond int           `mapstructure:"entity_per_second"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
}

func DefaultRateConfig() RateConfig {
	return RateConfig{
		Enabled:         true,
		GlobalPerSecond: 10,
		EntityPerSecond: 2,
		Cooldown:        500 * time.Millisecond,
	}
}

// history is a bounded, time-ordered list of accept timestamps.
type history struct {
	times []time.Time
	cap   int
}

func (h *history) add(t time.Time) {
	if len(h.times) == h.cap {
		copy(h.times, h.times[1:])
		h.times = h.times[:len(h.times)-1]
	}
	h.times = append(h.times, t)
}

// prune drops timestamps at least keep old.
func (h *history) prune(now time.Time, keep time.Duration) {
	i := 0
	for i < len(h.times) && now.Sub(h.times[i]) >= keep {
		i++
	}
	if i > 0 {
		h.times = append(h.times[:0], h.times[i:]...)
	}
}

func (h *history) countSince(now time.Time) int {
	n := 0
	for _, t := range h.times {
		if now.Sub(t) < rateWindow {
			n++
		}
	}
	return n
}

func (h *history) last() (time.Time, bool) {
	if len(h.times) == 0 {
		return time.Time{}, false
	}
	return h.times[len(h.times)-1], true
}

// RateLimiter admits commands against a one-second sliding window. It is
// not safe for concurrent use; the Validator serializes access.
type RateLimiter struct {
	cfg    RateConfig
	global history
	entity map[string]*history
}

func NewRateLimiter(cfg RateConfig) *RateLimiter {
	return &RateLimiter{
		cfg:    cfg,
		global: history{cap: globalHistoryCap},
		entity: make(map[string]*history),
	}
}

// Check reports the first limit entityID would exceed at now, or nil.
func (r *RateLimiter) Check(entityID string, now time.Time) *types.ValidationError {
	if !r.cfg.Enabled {
		return nil
	}
	r.prune(now)

	if r.global.countSince(now) >= r.cfg.GlobalPerSecond {
		return &types.ValidationError{
			Code:    types.CodeGlobalRateLimit,
			Message: fmt.Sprintf("Global rate limit exceeded (%d commands/sec)", r.cfg.GlobalPerSecond),
		}
	}

	h := r.entity[entityID]
	if h == nil {
		return nil
	}

	if h.countSince(now) >= r.cfg.EntityPerSecond {
		return &types.ValidationError{
			Code:    types.CodeEntityRateLimit,
			Message: fmt.Sprintf("Entity rate limit exceeded (%d commands/sec)", r.cfg.EntityPerSecond),
			Field:   "entity_id",
		}
	}

	if last, ok := h.last(); ok {
		if since := now.Sub(last); since < r.cfg.Cooldown {
			return &types.ValidationError{
				Code:    types.CodeEntityCooldown,
				Message: fmt.Sprintf("Entity cooldown active (%dms remaining)", (r.cfg.Cooldown - since).Milliseconds()),
				Field:   "entity_id",
			}
		}
	}

	return nil
}

func (r *RateLimiter) prune(now time.Time) {
	keep := max(rateWindow, r.cfg.Cooldown)
	r.global.prune(now, keep)
	for id, h := range r.entity {
		h.prune(now, keep)
		if len(h.times) == 0 {
			delete(r.entity, id)
		}
	}
}

// Record appends an accepted command at now.
func (r *RateLimiter) Record(entityID string, now time.Time) {
	if !r.cfg.Enabled {
		return
	}
	r.global.add(now)
	h := r.entity[entityID]
	if h == nil {
		h = &history{cap: entityHistoryCap}
		r.entity[entityID] = h
	}
	h.add(now)
}

// Sizes returns the global history length and the number of tracked entities.
func (r *RateLimiter) Sizes() (global, entities int) {
	return len(r.global.times), len(r.entity)
}
