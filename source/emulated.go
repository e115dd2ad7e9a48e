package source

import (
	"context"
	"math"
	"time"

	"punch-power/clock"
)

// emulatedGain scales the fed-back sound into a fake acceleration.
const emulatedGain = 0.6

// Emulated synthesises acceleration from the session's own sound channel so the
// pipeline can run on a microphone alone.
type Emulated struct {
	tick     time.Duration
	clock    clock.Clock
	feedback func() float64
}

// NewEmulated ticks every tick and reads the sound sample one tick behind the
// newest from feedback.
func NewEmulated(tick time.Duration, clk clock.Clock, feedback func() float64) *Emulated {
	return &Emulated{tick: tick, clock: clk, feedback: feedback}
}

func (e *Emulated) Name() string             { return "emulated" }
func (e *Emulated) HasHardwareSensor() bool { return false }

// Run emits one reading per tick until ctx is done.
func (e *Emulated) Run(ctx context.Context, out chan<- Reading) error {
	ticker := e.clock.NewTicker(e.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			// the fake sensor reports the value on a single axis
			acc := math.Abs(emulatedGain * e.feedback())
			if !send(ctx, out, Reading{Acceleration: acc, OK: true, Time: now}) {
				return ctx.Err()
			}
		}
	}
}
