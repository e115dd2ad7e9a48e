// Package calibration estimates the inter-sensor delay and the reference punch
// power from full sliding windows.
package calibration

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"punch-power/dsp"
	"punch-power/window"
)

// DelayOutcome classifies a delay calibration attempt.
type DelayOutcome int

const (
	DelayNotReady DelayOutcome = iota
	DelayAccepted
	// DelayInconclusive means the peaks did not stand out from the window average.
	DelayInconclusive
	// DelayInvalid means sound peaked before acceleration on a real sensor.
	DelayInvalid
)

func (o DelayOutcome) String() string {
	switch o {
	case DelayAccepted:
		return "accepted"
	case DelayInconclusive:
		return "inconclusive"
	case DelayInvalid:
		return "invalid"
	default:
		return "not-ready"
	}
}

// DelayResult describes one delay calibration attempt.
type DelayResult struct {
	Outcome     DelayOutcome
	Delay       int
	Candidate   int
	PeakRatio   float64
	AccMaxIdx   int
	SoundMaxIdx int
	// FreqWeights is the normalized spectrum frame at the sound peak.
	FreqWeights []float64
}

// DelayCalibrator finds the sample offset between the acc and sound peaks of a
// single impulsive event.
type DelayCalibrator struct {
	Capacity      int
	PeakThreshold float64
}

// Estimate evaluates a window. The caller resets the window after every
// attempt that is not DelayNotReady.
func (c DelayCalibrator) Estimate(s window.Snapshot, hasHardwareSensor bool) DelayResult {
	if s.Len() < c.Capacity || len(s.Sound) < s.Len() || s.Len() == 0 {
		return DelayResult{Outcome: DelayNotReady}
	}

	accIdx, accMax := peak(s.Acc)
	soundIdx, soundMax := peak(s.Sound)
	res := DelayResult{
		AccMaxIdx:   accIdx,
		SoundMaxIdx: soundIdx,
		Candidate:   soundIdx - accIdx,
	}

	denom := dsp.Mean(s.Sound) * dsp.Mean(s.Acc)
	if denom > 0 {
		res.PeakRatio = soundMax * accMax / denom
	}
	if denom <= 0 || math.IsNaN(res.PeakRatio) || math.IsInf(res.PeakRatio, 0) || res.PeakRatio < c.PeakThreshold {
		res.Outcome = DelayInconclusive
		return res
	}

	if res.Candidate <= 0 && hasHardwareSensor {
		res.Outcome = DelayInvalid
		return res
	}

	res.Outcome = DelayAccepted
	res.Delay = abs(res.Candidate)
	if soundIdx < len(s.Spectrum) {
		res.FreqWeights = dsp.Normalize(s.Spectrum[soundIdx])
	}
	return res
}

// peak returns the index of the first maximum of v. Windows that never rise
// above zero report index 0 with a zero peak.
func peak(v []float64) (int, float64) {
	idx := floats.MaxIdx(v)
	if v[idx] <= 0 {
		return 0, 0
	}
	return idx, v[idx]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
