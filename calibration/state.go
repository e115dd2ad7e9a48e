package calibration

// State holds the calibrated scalars shared between ingestion and the workflow.
type State struct {
	delay       *int
	maxPower    float64
	freqWeights []float64
	scale       Scale
}

// NewState returns an uncalibrated State.
func NewState() *State {
	return &State{scale: UnitScale}
}

// Delay returns the calibrated delay and whether it is set.
func (s *State) Delay() (int, bool) {
	if s.delay == nil {
		return 0, false
	}
	return *s.delay, true
}

// DelayCalibrated reports whether a delay has been accepted.
func (s *State) DelayCalibrated() bool { return s.delay != nil }

// AcceptDelay stores the absolute delay and the reference spectrum.
func (s *State) AcceptDelay(r DelayResult) {
	d := abs(r.Delay)
	s.delay = &d
	s.freqWeights = append([]float64(nil), r.FreqWeights...)
}

// ClearDelay forgets the delay and reference spectrum.
func (s *State) ClearDelay() {
	s.delay = nil
	s.freqWeights = nil
}

// MaxPower returns the calibrated reference, zero when uncalibrated.
func (s *State) MaxPower() float64 { return s.maxPower }

// PowerCalibrated reports whether a positive reference power is known.
func (s *State) PowerCalibrated() bool { return s.maxPower > 0 }

// AcceptPower stores an accepted power calibration. Non-positive results are
// ignored.
func (s *State) AcceptPower(r PowerResult) bool {
	if r.Outcome != PowerAccepted || !(r.MaxPower > 0) {
		return false
	}
	s.maxPower = r.MaxPower
	s.scale = r.Scale
	return true
}

// ClearPower forgets the reference power and display scale.
func (s *State) ClearPower() {
	s.maxPower = 0
	s.scale = UnitScale
}

// FreqWeights returns the reference spectrum recorded with the delay.
func (s *State) FreqWeights() []float64 { return s.freqWeights }

// Scale returns the display multipliers.
func (s *State) Scale() Scale { return s.scale }

// Fuser builds the power fuser for the current calibration.
func (s *State) Fuser(pairing Pairing, searchArea int, gate bool) Fuser {
	d, _ := s.Delay()
	return Fuser{
		Delay:       d,
		Pairing:     pairing,
		SearchArea:  searchArea,
		FreqWeights: s.freqWeights,
		Gate:        gate,
	}
}
