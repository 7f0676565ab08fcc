package gardener

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrValveOpen is returned when turning on an opened valve.
	ErrValveOpen = errors.New("gardener: Valve already open")
)

// Simulation is an in-memory Sensor and Valve: the soil dries by Decay each
// reading and gains GainPerSecond while the valve is open.
type Simulation struct {
	Decay         float64
	GainPerSecond float64

	mu        sync.Mutex
	moisture  float64
	open      bool
	openedAt  time.Time
	waterings int
}

var (
	_ Sensor = (*Simulation)(nil)
	_ Valve  = (*Simulation)(nil)
)

// NewSimulation creates a Simulation starting at moisture.
func NewSimulation(moisture, decay, gainPerSecond float64) *Simulation {
	return &Simulation{
		Decay:         decay,
		GainPerSecond: gainPerSecond,
		moisture:      clamp(moisture),
	}
}

func (s *Simulation) SoilMoisture(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moisture = clamp(s.moisture - s.Decay)
	return s.moisture, nil
}

func (s *Simulation) TurnOn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return ErrValveOpen
	}
	s.open = true
	s.openedAt = time.Now()
	s.waterings++
	return nil
}

func (s *Simulation) TurnOff(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	s.moisture = clamp(s.moisture + time.Since(s.openedAt).Seconds()*s.GainPerSecond)
	return nil
}

// Open reports whether the valve is open.
func (s *Simulation) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Waterings returns how many times the valve was opened.
func (s *Simulation) Waterings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waterings
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
