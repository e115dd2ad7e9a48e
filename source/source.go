// Package source delivers acceleration readings and spectrum snapshots to the
// training session. Hardware variants read the glove over UDP, serial or BLE;
// the emulated variant synthesises acceleration from the sound channel when no
// sensor answers at startup.
package source

import (
	"context"
	"errors"
	"math"
	"time"
)

// timeNow stamps hardware readings.
var timeNow = time.Now

// ErrNoSensor is returned by Probe when no hardware reading arrives in time.
var ErrNoSensor = errors.New("no hardware sensor")

// Reading is one acceleration tick. OK is false for a tick that carried no
// acceleration data.
type Reading struct {
	Acceleration float64
	OK           bool
	Time         time.Time
}

// Source produces readings until ctx is cancelled.
type Source interface {
	// Run sends readings to out and returns when ctx is done or the
	// underlying transport fails.
	Run(ctx context.Context, out chan<- Reading) error
	// HasHardwareSensor reports whether readings come from a real sensor.
	HasHardwareSensor() bool
	Name() string
}

// Spectrum exposes the latest magnitude spectrum, sampled at the same logical
// tick as the readings.
type Spectrum interface {
	Snapshot() []float64
}

// Magnitude returns the Euclidean norm of an acceleration vector.
func Magnitude(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}

// send delivers r unless ctx is cancelled first.
func send(ctx context.Context, out chan<- Reading, r Reading) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
