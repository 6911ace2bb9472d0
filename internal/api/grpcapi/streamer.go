package grpcapi

import (
	"sync"

	"github.com/KevinKickass/OpenRVCore/internal/types"
)

const subscriberBuffer = 100

// FrameStreamer fans decoded frames out to StreamFrames subscribers.
type FrameStreamer struct {
	mu          sync.RWMutex
	subscribers map[chan *types.DecodedFrame]map[string]bool
}

func NewFrameStreamer() *FrameStreamer {
	return &FrameStreamer{
		subscribers: make(map[chan *types.DecodedFrame]map[string]bool),
	}
}

// Subscribe returns a channel of frames whose name is in names, or of all
// frames when names is empty.
func (s *FrameStreamer) Subscribe(names []string) chan *types.DecodedFrame {
	var filter map[string]bool
	if len(names) > 0 {
		filter = make(map[string]bool, len(names))
		for _, n := range names {
			filter[n] = true
		}
	}

	ch := make(chan *types.DecodedFrame, subscriberBuffer)
	s.mu.Lock()
	s.subscribers[ch] = filter
	s.mu.Unlock()
	return ch
}

func (s *FrameStreamer) Unsubscribe(ch chan *types.DecodedFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// Broadcast never blocks; a subscriber that is behind misses the frame.
func (s *FrameStreamer) Broadcast(f *types.DecodedFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch, filter := range s.subscribers {
		if filter != nil && !filter[f.Name] {
			continue
		}
		select {
		case ch <- f:
		default:
		}
	}
}

func (s *FrameStreamer) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
