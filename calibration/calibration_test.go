package calibration

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"punch-power/window"
)

func snapshot(acc, sound []float64) window.Snapshot {
	spec := make([][]float64, len(acc))
	for i := range spec {
		spec[i] = []float64{float64(i), 1}
	}
	return window.Snapshot{Acc: acc, Sound: sound, Power: make([]float64, len(acc)), Spectrum: spec}
}

// impulse builds a window of low noise with one peak per channel.
func impulse(n, accAt, soundAt int) window.Snapshot {
	acc := make([]float64, n)
	sound := make([]float64, n)
	for i := range acc {
		acc[i], sound[i] = 0.1, 0.1
	}
	acc[accAt] = 50
	sound[soundAt] = 40
	return snapshot(acc, sound)
}

// series fuses every tick of s.
func series(f Fuser, s window.Snapshot) []float64 {
	out := make([]float64, min(len(s.Acc), len(s.Sound)))
	for t := range out {
		out[t] = f.At(s.Acc, s.Sound, s.Spectrum, t)
	}
	return out
}

// fused fills the power channel the way ingestion does with no smoothing.
func fused(s window.Snapshot, f Fuser) window.Snapshot {
	s.Power = series(f, s)
	return s
}

func TestDelayAcceptedWhenSoundLags(t *testing.T) {
	c := DelayCalibrator{Capacity: 40, PeakThreshold: 120}
	res := c.Estimate(impulse(40, 10, 17), true)

	require.Equal(t, DelayAccepted, res.Outcome, "ratio %.2f", res.PeakRatio)
	assert.Equal(t, 7, res.Delay)
	assert.Equal(t, 10, res.AccMaxIdx)
	assert.Equal(t, 17, res.SoundMaxIdx)
	assert.InDelta(t, 17.0/18.0, res.FreqWeights[0], 1e-12)
}

func TestDelayRejectedWhenSoundLeadsOnRealSensor(t *testing.T) {
	c := DelayCalibrator{Capacity: 40, PeakThreshold: 120}
	res := c.Estimate(impulse(40, 17, 10), true)
	assert.Equal(t, DelayInvalid, res.Outcome)

	res = c.Estimate(impulse(40, 12, 12), true)
	assert.Equal(t, DelayInvalid, res.Outcome, "zero delay is implausible on a real sensor")
}

func TestDelayAbsoluteWithoutSensor(t *testing.T) {
	c := DelayCalibrator{Capacity: 40, PeakThreshold: 120}
	res := c.Estimate(impulse(40, 17, 10), false)
	require.Equal(t, DelayAccepted, res.Outcome)
	assert.Equal(t, -7, res.Candidate)
	assert.Equal(t, 7, res.Delay)
}

func TestDelayInconclusive(t *testing.T) {
	c := DelayCalibrator{Capacity: 4, PeakThreshold: 120}

	flat := snapshot([]float64{1, 1.2, 1, 1}, []float64{1, 1, 1.1, 1})
	assert.Equal(t, DelayInconclusive, c.Estimate(flat, true).Outcome)

	silent := snapshot([]float64{0, 0, 0, 0}, []float64{0, 0, 0, 0})
	assert.Equal(t, DelayInconclusive, c.Estimate(silent, true).Outcome)

	negative := snapshot([]float64{1, 2, 9, 1}, []float64{-1, -2, -1, -3})
	assert.Equal(t, DelayInconclusive, c.Estimate(negative, true).Outcome)
}

func TestDelayNotReady(t *testing.T) {
	c := DelayCalibrator{Capacity: 5, PeakThreshold: 1}
	res := c.Estimate(snapshot([]float64{0, 9}, []float64{0, 9}), true)
	assert.Equal(t, DelayNotReady, res.Outcome)
}

func TestFuserPairing(t *testing.T) {
	acc := []float64{1, 2, 3, 4}
	sound := []float64{10, 20, 30, 40}
	s := snapshot(acc, sound)

	present := Fuser{Delay: 1, Pairing: PairingSensorPresent, SearchArea: 1}
	if diff := cmp.Diff([]float64{0, 20, 60, 120}, series(present, s)); diff != "" {
		t.Errorf("sensor-present mismatch (-want +got):\n%s", diff)
	}

	emulated := Fuser{Delay: 1, Pairing: PairingEmulated, SearchArea: 1}
	// sound is now looked up in the past: acc[t] * sound[t-1]
	assert.Equal(t, 2.0*10, emulated.At(acc, sound, nil, 1))
	assert.Equal(t, 4.0*30, emulated.At(acc, sound, nil, 3))
}

func TestFuserSearchArea(t *testing.T) {
	acc := []float64{5, 1, 1, 1, 1}
	sound := []float64{0, 0, 0, 2, 0}
	f := Fuser{Delay: 1, Pairing: PairingSensorPresent, SearchArea: 3}
	// t=3: max(acc[0..2]) * max(sound[1..3]) = 5 * 2
	assert.Equal(t, 10.0, f.At(acc, sound, nil, 3))
	// t=2 lacks history: 2 - 1 - 3 + 1 < 0
	assert.Equal(t, 0.0, f.At(acc, sound, nil, 2))
}

func TestFuserSpectralGate(t *testing.T) {
	acc := []float64{2, 2}
	sound := []float64{3, 3}
	spectrum := [][]float64{{1, 0}, {0, 1}}
	f := Fuser{Pairing: PairingSensorPresent, SearchArea: 1, FreqWeights: []float64{1, 0}, Gate: true}

	assert.InDelta(t, 6.0, f.At(acc, sound, spectrum, 0), 1e-12)
	assert.InDelta(t, 0.0, f.At(acc, sound, spectrum, 1), 1e-12)

	f.Gate = false
	assert.Equal(t, 6.0, f.At(acc, sound, spectrum, 1))
}

func TestPowerCalibratorSinglePeak(t *testing.T) {
	const p = 7.5
	// acc is 1 everywhere, sound is non-zero at a single tick: only that tick fuses.
	acc := []float64{1, 1, 1, 1, 1, 1}
	sound := []float64{0, 0, 0, p, 0, 0}
	c := PowerCalibrator{Capacity: 6, ChartHeight: 100, Gap: 0.75}

	res := c.Calibrate(fused(snapshot(acc, sound), Fuser{Delay: 2, Pairing: PairingSensorPresent, SearchArea: 1}))
	require.Equal(t, PowerAccepted, res.Outcome)
	assert.Equal(t, p, res.MaxPower)
	assert.InDelta(t, 75.0/p, res.Scale.Power, 1e-12)
	assert.InDelta(t, 75.0, res.Scale.Acc, 1e-12)
}

func TestPowerCalibratorRejectsSilence(t *testing.T) {
	c := PowerCalibrator{Capacity: 3, ChartHeight: 100, Gap: 0.75}
	res := c.Calibrate(fused(snapshot([]float64{0, 0, 0}, []float64{1, 1, 1}), Fuser{Pairing: PairingSensorPresent, SearchArea: 1}))
	assert.Equal(t, PowerRejected, res.Outcome)

	res = c.Calibrate(snapshot([]float64{1}, []float64{1}))
	assert.Equal(t, PowerNotReady, res.Outcome)
}

func TestPowerCalibratorUsesStoredPower(t *testing.T) {
	c := PowerCalibrator{Capacity: 4, ChartHeight: 100, Gap: 0.75}
	s := snapshot([]float64{0, 3, 3, 9}, []float64{0, 0, 3, 3})
	// smoothed with memory 0.5, the raw products 0, 0, 9, 9 never reach 9
	s.Power = []float64{0, 0, 4.5, 6.75}

	res := c.Calibrate(s)
	require.Equal(t, PowerAccepted, res.Outcome)
	assert.Equal(t, 6.75, res.MaxPower)
	assert.InDelta(t, 75.0/6.75, res.Scale.Power, 1e-12)
}

func TestStateLifecycle(t *testing.T) {
	s := NewState()
	assert.False(t, s.DelayCalibrated())
	assert.False(t, s.PowerCalibrated())
	assert.Equal(t, UnitScale, s.Scale())

	s.AcceptDelay(DelayResult{Outcome: DelayAccepted, Delay: -3, FreqWeights: []float64{0.5, 0.5}})
	d, ok := s.Delay()
	require.True(t, ok)
	assert.Equal(t, 3, d)

	assert.False(t, s.AcceptPower(PowerResult{Outcome: PowerRejected}))
	assert.False(t, s.AcceptPower(PowerResult{Outcome: PowerAccepted, MaxPower: 0}))
	assert.True(t, s.AcceptPower(PowerResult{Outcome: PowerAccepted, MaxPower: 9, Scale: Scale{1, 2, 3}}))
	assert.Equal(t, 9.0, s.MaxPower())

	f := s.Fuser(PairingEmulated, 1, true)
	assert.Equal(t, 3, f.Delay)
	assert.Equal(t, []float64{0.5, 0.5}, f.FreqWeights)

	s.ClearDelay()
	s.ClearPower()
	assert.False(t, s.DelayCalibrated())
	assert.False(t, s.PowerCalibrated())
}

func TestParsePairing(t *testing.T) {
	p, err := ParsePairing("Emulated")
	require.NoError(t, err)
	assert.Equal(t, PairingEmulated, p)

	p, err = ParsePairing("")
	require.NoError(t, err)
	assert.Equal(t, PairingSensorPresent, p.Resolve(true))
	assert.Equal(t, PairingEmulated, p.Resolve(false))
	assert.Equal(t, PairingEmulated, PairingEmulated.Resolve(true))

	_, err = ParsePairing("sideways")
	assert.Error(t, err)
}

func TestEndToEndScenario(t *testing.T) {
	delay := DelayCalibrator{Capacity: 4, PeakThreshold: 10}
	res := delay.Estimate(snapshot([]float64{0, 1, 9, 1}, []float64{0, 0, 1, 9}), true)
	require.Equal(t, DelayAccepted, res.Outcome)
	require.Equal(t, 1, res.Delay)

	f := Fuser{Delay: res.Delay, Pairing: PairingSensorPresent, SearchArea: 1}
	powerWindow := snapshot([]float64{0, 3, 3, 9}, []float64{0, 0, 3, 3})
	if diff := cmp.Diff([]float64{0, 0, 9, 9}, series(f, powerWindow)); diff != "" {
		t.Fatalf("aligned products mismatch (-want +got):\n%s", diff)
	}

	power := PowerCalibrator{Capacity: 4, ChartHeight: 100, Gap: 0.75}
	pr := power.Calibrate(fused(powerWindow, f))
	require.Equal(t, PowerAccepted, pr.Outcome)
	assert.Equal(t, 9.0, pr.MaxPower)
}
