// Package window implements the fixed-capacity sliding windows that hold the
// most recent acceleration, sound, power and spectrum samples.
package window

import "fmt"

// Channel names accepted by ResetChannel.
const (
	Acc      = "acc"
	Sound    = "sound"
	Power    = "power"
	Spectrum = "spectrum"
)

// Sample is one tick worth of conditioned values, pushed to every channel at once.
type Sample struct {
	Acc      float64
	Sound    float64
	Power    float64
	Spectrum []float64
}

// Snapshot is a copy of all channels in time order, oldest first.
type Snapshot struct {
	Acc      []float64
	Sound    []float64
	Power    []float64
	Spectrum [][]float64
}

// Len returns the number of ticks in the acceleration channel.
func (s Snapshot) Len() int { return len(s.Acc) }

// Store is a set of lock-step ring buffers of capacity W.
type Store struct {
	capacity int
	acc      ring[float64]
	sound    ring[float64]
	power    ring[float64]
	spectrum ring[[]float64]
}

// New creates a Store holding at most capacity ticks per channel.
func New(capacity int) (*Store, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("window capacity must be positive, got %d", capacity)
	}
	return &Store{
		capacity: capacity,
		acc:      newRing[float64](capacity),
		sound:    newRing[float64](capacity),
		power:    newRing[float64](capacity),
		spectrum: newRing[[]float64](capacity),
	}, nil
}

// Capacity returns W.
func (s *Store) Capacity() int { return s.capacity }

// Push appends one sample to every channel, evicting the oldest tick when full.
func (s *Store) Push(v Sample) {
	s.acc.push(v.Acc)
	s.sound.push(v.Sound)
	s.power.push(v.Power)
	s.spectrum.push(append([]float64(nil), v.Spectrum...))
}

// SetLastPower overwrites the power value of the newest tick. The ingestion
// pipeline fuses power from the window after acc and sound have been pushed.
func (s *Store) SetLastPower(p float64) {
	s.power.setLast(p)
}

// Reset clears every channel.
func (s *Store) Reset() {
	s.acc.reset()
	s.sound.reset()
	s.power.reset()
	s.spectrum.reset()
}

// ResetChannel clears a single channel by name.
func (s *Store) ResetChannel(name string) error {
	switch name {
	case Acc:
		s.acc.reset()
	case Sound:
		s.sound.reset()
	case Power:
		s.power.reset()
	case Spectrum:
		s.spectrum.reset()
	default:
		return fmt.Errorf("unknown window channel %q", name)
	}
	return nil
}

// Len returns the number of ticks in the acceleration channel.
func (s *Store) Len() int { return s.acc.len() }

// IsFull reports whether the acceleration channel holds exactly W ticks.
func (s *Store) IsFull() bool { return s.acc.len() == s.capacity }

func (s *Store) Acc() []float64   { return s.acc.slice() }
func (s *Store) Sound() []float64 { return s.sound.slice() }
func (s *Store) Power() []float64 { return s.power.slice() }

// Spectrum returns the spectrum frames, oldest first.
func (s *Store) Spectrum() [][]float64 { return s.spectrum.slice() }

// Snapshot copies every channel.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Acc:      s.Acc(),
		Sound:    s.Sound(),
		Power:    s.Power(),
		Spectrum: s.Spectrum(),
	}
}

// PowerTail returns the n most recent power samples, or nil when fewer exist.
func (s *Store) PowerTail(n int) []float64 {
	if s.power.len() < n {
		return nil
	}
	p := s.power.slice()
	return p[len(p)-n:]
}

// ring is a FIFO-evicting circular buffer.
type ring[T any] struct {
	data  []T
	head  int
	count int
}

func newRing[T any](capacity int) ring[T] {
	return ring[T]{data: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	r.data[r.head] = v
	r.head = (r.head + 1) % len(r.data)
	if r.count < len(r.data) {
		r.count++
	}
}

func (r *ring[T]) setLast(v T) {
	if r.count == 0 {
		return
	}
	r.data[(r.head-1+len(r.data))%len(r.data)] = v
}

func (r *ring[T]) reset() {
	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.head = 0
	r.count = 0
}

func (r *ring[T]) len() int { return r.count }

// slice returns the contents oldest first.
func (r *ring[T]) slice() []T {
	out := make([]T, r.count)
	start := (r.head - r.count + len(r.data)) % len(r.data)
	for i := 0; i < r.count; i++ {
		out[i] = r.data[(start+i)%len(r.data)]
	}
	return out
}
