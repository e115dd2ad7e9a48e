// Package analytics provides punch detection and grading on the fused power stream.
package analytics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ─── Constants ───────────────────────────────────────────────────────────────

const (
	// DefaultNoiseFloor drops punches at or below this relative strength.
	DefaultNoiseFloor = 0.1

	// milestoneEvery strong punches triggers an announcement.
	milestoneEvery = 25

	// maxRecentPunches kept in the broadcast state.
	maxRecentPunches = 50
)

// StrongPresets maps a named level to the relative strength at which a punch
// counts as strong.
var StrongPresets = map[string]float64{
	"beginner":     0.3,
	"intermediate": 0.5,
	"advanced":     0.7,
}

// DefaultPreset is the strong-punch level used when none is configured.
const DefaultPreset = "beginner"

// ErrUnknownPreset is returned when a strong-punch level is not in the table.
var ErrUnknownPreset = errors.New("unknown strong-punch preset")

// StrongThreshold looks a preset up in table, falling back to StrongPresets.
func StrongThreshold(name string, table map[string]float64) (float64, error) {
	if v, ok := table[name]; ok {
		return v, nil
	}
	if v, ok := StrongPresets[name]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}

// PresetNames returns the known preset names in sorted order.
func PresetNames(table map[string]float64) []string {
	seen := make(map[string]struct{}, len(StrongPresets)+len(table))
	for k := range StrongPresets {
		seen[k] = struct{}{}
	}
	for k := range table {
		seen[k] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ─── Types ───────────────────────────────────────────────────────────────────

// Status is the training status of a session.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusPaused  Status = "paused"
	StatusStarted Status = "started"
)

// PunchEvent is an accepted punch. It is never modified after creation.
type PunchEvent struct {
	ID          string    `json:"id"`
	RelStrength float64   `json:"rel_strength"` // (0,1]
	Strong      bool      `json:"strong"`
	Timestamp   time.Time `json:"ts"`
	Count       int       `json:"count"` // punch number in session
}

// Stats are the running statistics recomputed after every accepted punch.
type Stats struct {
	TotalPunches  int     `json:"total_punches"`
	StrongPunches int     `json:"strong_punches"`
	WeakPunches   int     `json:"weak_punches"`
	AvgStrength   float64 `json:"avg_strength"`
	MaxStrength   float64 `json:"max_strength"`
	StrongPercent float64 `json:"strong_percent"`
	PunchesPerMin float64 `json:"ppm"`
}

// SessionState is the snapshot broadcast to dashboards and telemetry.
type SessionState struct {
	SessionID       string       `json:"session_id"`
	Status          Status       `json:"status"`
	ElapsedSec      float64      `json:"elapsed_sec"`
	StrongThreshold float64      `json:"strong_threshold"`
	MaxPower        float64      `json:"max_power"`
	Stats           Stats        `json:"stats"`
	RecentPunches   []PunchEvent `json:"recent_punches"`
}

// Detection is the outcome of feeding one power tail to the analyzer.
type Detection struct {
	Punch    PunchEvent
	Accepted bool
	// Milestone is the strong-punch count when it reached a multiple of 25.
	Milestone int
}

// ─── Analyzer ────────────────────────────────────────────────────────────────

// Analyzer detects punches on the live power window and keeps the training
// session aggregate. It is owned by the session loop and not safe for
// concurrent use.
type Analyzer struct {
	noiseFloor      float64
	strongThreshold float64
	maxPower        float64

	sessionID  string
	status     Status
	startedAt  time.Time
	elapsed    time.Duration
	lastMinute int

	punches     []PunchEvent
	strengthSum float64
	strong      int
	maxStrength float64
}

// NewAnalyzer creates an Analyzer with the given thresholds.
func NewAnalyzer(noiseFloor, strongThreshold float64) *Analyzer {
	return &Analyzer{
		noiseFloor:      noiseFloor,
		strongThreshold: strongThreshold,
		status:          StatusStopped,
		punches:         make([]PunchEvent, 0, maxRecentPunches),
	}
}

// SetMaxPower sets the calibrated reference. Non-positive values disable
// detection until a valid calibration arrives.
func (a *Analyzer) SetMaxPower(p float64) {
	if !(p > 0) || math.IsInf(p, 0) {
		a.maxPower = 0
		return
	}
	a.maxPower = p
}

// SetStrongThreshold changes the strong-punch threshold and recounts the
// session's strong punches against it. Recorded punches keep the grade they
// were given when detected.
func (a *Analyzer) SetStrongThreshold(v float64) {
	a.strongThreshold = v
	a.strong = 0
	for _, p := range a.punches {
		if p.RelStrength >= v {
			a.strong++
		}
	}
}

// StrongThreshold returns the active strong-punch threshold.
func (a *Analyzer) StrongThreshold() float64 { return a.strongThreshold }

// Status returns the training status.
func (a *Analyzer) Status() Status { return a.status }

// SessionID returns the id of the current or last session.
func (a *Analyzer) SessionID() string { return a.sessionID }

// StartSession begins a new training session, dropping previous punches.
func (a *Analyzer) StartSession(now time.Time) {
	a.sessionID = uuid.NewString()
	a.status = StatusStarted
	a.startedAt = now
	a.elapsed = 0
	a.lastMinute = 0
	a.punches = a.punches[:0]
	a.strengthSum = 0
	a.strong = 0
	a.maxStrength = 0
}

// PauseSession stops the clock of a started session.
func (a *Analyzer) PauseSession(now time.Time) {
	if a.status != StatusStarted {
		return
	}
	a.elapsed += now.Sub(a.startedAt)
	a.status = StatusPaused
}

// ResumeSession restarts the clock of a paused session.
func (a *Analyzer) ResumeSession(now time.Time) {
	if a.status != StatusPaused {
		return
	}
	a.startedAt = now
	a.status = StatusStarted
}

// FinishSession stops the session and returns its final statistics.
func (a *Analyzer) FinishSession(now time.Time) (Stats, time.Duration) {
	a.PauseSession(now)
	a.status = StatusStopped
	return a.statsAt(a.elapsed), a.elapsed
}

// Elapsed returns the accumulated training time.
func (a *Analyzer) Elapsed(now time.Time) time.Duration {
	if a.status == StatusStarted {
		return a.elapsed + now.Sub(a.startedAt)
	}
	return a.elapsed
}

// MinuteMilestone reports a newly completed whole minute, once per minute.
func (a *Analyzer) MinuteMilestone(now time.Time) (int, bool) {
	minutes := int(a.Elapsed(now) / time.Minute)
	if minutes <= a.lastMinute {
		return 0, false
	}
	a.lastMinute = minutes
	return minutes, true
}

// ProcessPower examines the three most recent power samples for a local
// maximum p[n-2] < p[n-1] >= p[n] and records it as a punch.
func (a *Analyzer) ProcessPower(tail []float64, now time.Time) Detection {
	if a.status != StatusStarted || a.maxPower <= 0 || len(tail) < 3 {
		return Detection{}
	}
	n := len(tail) - 1
	if !(tail[n-2] < tail[n-1] && tail[n-1] >= tail[n]) {
		return Detection{}
	}

	rel := math.Min(tail[n-1]/a.maxPower, 1)
	if rel <= a.noiseFloor {
		return Detection{}
	}

	event := PunchEvent{
		ID:          uuid.NewString(),
		RelStrength: rel,
		Strong:      rel >= a.strongThreshold,
		Timestamp:   now,
		Count:       len(a.punches) + 1,
	}
	a.punches = append(a.punches, event)
	a.strengthSum += rel
	if rel > a.maxStrength {
		a.maxStrength = rel
	}

	det := Detection{Punch: event, Accepted: true}
	if event.Strong {
		a.strong++
		if a.strong%milestoneEvery == 0 {
			det.Milestone = a.strong
		}
	}
	return det
}

// Punches returns a copy of the session's punch records.
func (a *Analyzer) Punches() []PunchEvent {
	return append([]PunchEvent(nil), a.punches...)
}

// Stats returns the running statistics.
func (a *Analyzer) Stats(now time.Time) Stats {
	return a.statsAt(a.Elapsed(now))
}

func (a *Analyzer) statsAt(elapsed time.Duration) Stats {
	total := len(a.punches)
	s := Stats{
		TotalPunches:  total,
		StrongPunches: a.strong,
		WeakPunches:   total - a.strong,
		MaxStrength:   a.maxStrength,
	}
	if total > 0 {
		s.AvgStrength = a.strengthSum / float64(total)
		s.StrongPercent = 100 * float64(a.strong) / float64(total)
		if minutes := elapsed.Minutes(); minutes > 0 {
			s.PunchesPerMin = float64(total) / minutes
		}
	}
	return s
}

// GetState builds a SessionState snapshot safe to hand to other goroutines.
func (a *Analyzer) GetState(now time.Time) *SessionState {
	recent := a.punches
	if len(recent) > maxRecentPunches {
		recent = recent[len(recent)-maxRecentPunches:]
	}
	return &SessionState{
		SessionID:       a.sessionID,
		Status:          a.status,
		ElapsedSec:      a.Elapsed(now).Seconds(),
		StrongThreshold: a.strongThreshold,
		MaxPower:        a.maxPower,
		Stats:           a.Stats(now),
		RecentPunches:   append([]PunchEvent(nil), recent...),
	}
}
