package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

func started(t *testing.T, maxPower float64) *Analyzer {
	t.Helper()
	a := NewAnalyzer(DefaultNoiseFloor, 0.5)
	a.SetMaxPower(maxPower)
	a.StartSession(t0)
	require.NotEmpty(t, a.SessionID())
	return a
}

func TestProcessPowerLocalMaximum(t *testing.T) {
	a := started(t, 10)

	det := a.ProcessPower([]float64{1, 5, 3}, t0)
	require.True(t, det.Accepted)
	assert.InDelta(t, 0.5, det.Punch.RelStrength, 1e-12)
	assert.True(t, det.Punch.Strong)
	assert.Equal(t, 1, det.Punch.Count)
	assert.NotEmpty(t, det.Punch.ID)

	assert.False(t, a.ProcessPower([]float64{1, 2, 3}, t0).Accepted, "rising edge")
	assert.False(t, a.ProcessPower([]float64{5, 5, 3}, t0).Accepted, "plateau start")
	assert.True(t, a.ProcessPower([]float64{1, 5, 5}, t0).Accepted, "plateau end counts")
}

func TestProcessPowerClampsAndFilters(t *testing.T) {
	a := started(t, 10)

	det := a.ProcessPower([]float64{0, 40, 0}, t0)
	require.True(t, det.Accepted)
	assert.Equal(t, 1.0, det.Punch.RelStrength)

	assert.False(t, a.ProcessPower([]float64{0, 1, 0}, t0).Accepted, "at noise floor")
	assert.True(t, a.ProcessPower([]float64{0, 1.5, 0}, t0).Accepted)
}

func TestProcessPowerRequiresCalibrationAndRunning(t *testing.T) {
	a := NewAnalyzer(DefaultNoiseFloor, 0.5)
	a.StartSession(t0)
	assert.False(t, a.ProcessPower([]float64{1, 5, 3}, t0).Accepted, "uncalibrated")

	a.SetMaxPower(-4)
	assert.False(t, a.ProcessPower([]float64{1, 5, 3}, t0).Accepted)

	a.SetMaxPower(10)
	a.PauseSession(t0)
	assert.False(t, a.ProcessPower([]float64{1, 5, 3}, t0).Accepted, "paused")

	a.ResumeSession(t0)
	assert.False(t, a.ProcessPower([]float64{5, 3}, t0).Accepted, "short tail")
	assert.True(t, a.ProcessPower([]float64{1, 5, 3}, t0).Accepted)
}

func TestStatsPartitionStrongAndWeak(t *testing.T) {
	a := started(t, 10)
	for _, p := range []float64{2, 6, 3, 9, 4, 7} {
		a.ProcessPower([]float64{0, p, 0}, t0)
	}

	s := a.Stats(t0.Add(2 * time.Minute))
	assert.Equal(t, 6, s.TotalPunches)
	assert.Equal(t, 3, s.StrongPunches)
	assert.Equal(t, s.TotalPunches, s.StrongPunches+s.WeakPunches)
	assert.InDelta(t, 3.1/6, s.AvgStrength, 1e-12)
	assert.InDelta(t, 0.9, s.MaxStrength, 1e-12)
	assert.InDelta(t, 50.0, s.StrongPercent, 1e-12)
	assert.InDelta(t, 3.0, s.PunchesPerMin, 1e-12)

	before := a.Punches()
	a.SetStrongThreshold(0.3)
	s = a.Stats(t0)
	assert.Equal(t, 5, s.StrongPunches)
	assert.Equal(t, s.TotalPunches, s.StrongPunches+s.WeakPunches)
	assert.Equal(t, before, a.Punches(), "records keep their original grade")
	assert.False(t, a.Punches()[2].Strong)
}

func TestStrongMilestone(t *testing.T) {
	a := started(t, 10)
	var milestones []int
	for i := 0; i < 2*milestoneEvery; i++ {
		det := a.ProcessPower([]float64{0, 8, 0}, t0)
		require.True(t, det.Accepted)
		if det.Milestone > 0 {
			milestones = append(milestones, det.Milestone)
		}
		// weak punches never advance the milestone counter
		a.ProcessPower([]float64{0, 2, 0}, t0)
	}
	assert.Equal(t, []int{25, 50}, milestones)
}

func TestElapsedExcludesPauses(t *testing.T) {
	a := started(t, 10)

	a.PauseSession(t0.Add(30 * time.Second))
	assert.Equal(t, 30*time.Second, a.Elapsed(t0.Add(10*time.Minute)))

	a.ResumeSession(t0.Add(10 * time.Minute))
	assert.Equal(t, 45*time.Second, a.Elapsed(t0.Add(10*time.Minute+15*time.Second)))

	_, elapsed := a.FinishSession(t0.Add(11 * time.Minute))
	assert.Equal(t, 90*time.Second, elapsed)
	assert.Equal(t, StatusStopped, a.Status())
}

func TestMinuteMilestoneOncePerMinute(t *testing.T) {
	a := started(t, 10)

	_, ok := a.MinuteMilestone(t0.Add(59 * time.Second))
	assert.False(t, ok)

	m, ok := a.MinuteMilestone(t0.Add(61 * time.Second))
	require.True(t, ok)
	assert.Equal(t, 1, m)

	_, ok = a.MinuteMilestone(t0.Add(62 * time.Second))
	assert.False(t, ok)

	m, ok = a.MinuteMilestone(t0.Add(3*time.Minute + time.Second))
	require.True(t, ok)
	assert.Equal(t, 3, m)
}

func TestStartSessionResets(t *testing.T) {
	a := started(t, 10)
	first := a.SessionID()
	a.ProcessPower([]float64{0, 8, 0}, t0)

	a.StartSession(t0.Add(time.Hour))
	assert.NotEqual(t, first, a.SessionID())
	assert.Empty(t, a.Punches())
	assert.Zero(t, a.Stats(t0.Add(time.Hour)).TotalPunches)
}

func TestGetStateSnapshot(t *testing.T) {
	a := started(t, 10)
	for i := 0; i < maxRecentPunches+5; i++ {
		a.ProcessPower([]float64{0, 8, 0}, t0)
	}

	st := a.GetState(t0.Add(time.Minute))
	assert.Equal(t, StatusStarted, st.Status)
	assert.Len(t, st.RecentPunches, maxRecentPunches)
	assert.Equal(t, maxRecentPunches+5, st.RecentPunches[len(st.RecentPunches)-1].Count)
	assert.Equal(t, 10.0, st.MaxPower)
	assert.InDelta(t, 60.0, st.ElapsedSec, 1e-9)
}

func TestStrongThresholdPresets(t *testing.T) {
	v, err := StrongThreshold("advanced", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.7, v)

	v, err = StrongThreshold("advanced", map[string]float64{"advanced": 0.8})
	require.NoError(t, err)
	assert.Equal(t, 0.8, v)

	_, err = StrongThreshold("olympic", nil)
	assert.ErrorIs(t, err, ErrUnknownPreset)

	assert.Equal(t, []string{"advanced", "beginner", "intermediate", "pro"},
		PresetNames(map[string]float64{"pro": 0.9}))
}
