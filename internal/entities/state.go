package entities

import (
	"strings"
	"sync"

	"github.com/KevinKickass/OpenRVCore/internal/types"
)

const (
	MessageThermostatStatus = "THERMOSTAT_STATUS_1"
	fieldOperatingMode      = "operating mode definition"
)

// ClimateState remembers the last reported operating mode per thermostat
// instance.
type ClimateState struct {
	mu    sync.RWMutex
	modes map[int]string
}

func NewClimateState() *ClimateState {
	return &ClimateState{modes: make(map[int]string)}
}

// Observe records the mode carried by a thermostat status frame. Other
// frames are ignored.
func (s *ClimateState) Observe(f *types.DecodedFrame) bool {
	if f == nil || f.Name != MessageThermostatStatus {
		return false
	}
	instance, ok := f.Instance()
	if !ok {
		return false
	}
	v, ok := LookupField(f, fieldOperatingMode)
	if !ok {
		return false
	}
	mode, ok := v.(string)
	if !ok || mode == "" {
		return false
	}
	s.Set(instance, mode)
	return true
}

func (s *ClimateState) Set(instance int, mode string) {
	s.mu.Lock()
	s.modes[instance] = strings.ToLower(mode)
	s.mu.Unlock()
}

func (s *ClimateState) Mode(instance int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modes[instance]
	return m, ok
}
