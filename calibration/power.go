package calibration

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"punch-power/window"
)

// PowerOutcome classifies a power calibration attempt.
type PowerOutcome int

const (
	PowerNotReady PowerOutcome = iota
	PowerAccepted
	// PowerRejected means the window held no fused signal.
	PowerRejected
)

func (o PowerOutcome) String() string {
	switch o {
	case PowerAccepted:
		return "accepted"
	case PowerRejected:
		return "rejected"
	default:
		return "not-ready"
	}
}

// Scale holds the display multipliers that fit each series to the chart.
type Scale struct {
	Acc   float64 `json:"acc"`
	Sound float64 `json:"sound"`
	Power float64 `json:"power"`
}

// UnitScale leaves every series untouched.
var UnitScale = Scale{Acc: 1, Sound: 1, Power: 1}

// PowerResult describes one power calibration attempt.
type PowerResult struct {
	Outcome  PowerOutcome
	MaxPower float64
	Scale    Scale
}

// PowerCalibrator derives the reference punch power from a full window.
type PowerCalibrator struct {
	Capacity    int
	ChartHeight float64
	// Gap is the fraction of ChartHeight each series peak is scaled to.
	Gap float64
}

// Calibrate takes the peak of the window's stored power channel as the
// reference. That channel is smoothed the same way it is during training, so a
// replayed calibration punch grades as full strength.
func (c PowerCalibrator) Calibrate(s window.Snapshot) PowerResult {
	if s.Len() < c.Capacity || s.Len() == 0 || len(s.Power) == 0 {
		return PowerResult{Outcome: PowerNotReady}
	}

	maxPower := floats.Max(s.Power)
	if !(maxPower > 0) || math.IsInf(maxPower, 0) {
		return PowerResult{Outcome: PowerRejected, MaxPower: maxPower}
	}

	return PowerResult{
		Outcome:  PowerAccepted,
		MaxPower: maxPower,
		Scale: Scale{
			Acc:   c.multiplier(floats.Max(s.Acc)),
			Sound: c.multiplier(floats.Max(s.Sound)),
			Power: c.multiplier(maxPower),
		},
	}
}

func (c PowerCalibrator) multiplier(channelMax float64) float64 {
	if !(channelMax > 0) {
		return 1
	}
	return c.Gap * c.ChartHeight / channelMax
}
