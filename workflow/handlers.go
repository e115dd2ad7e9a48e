package workflow

import (
	"fmt"
	"time"

	"punch-power/calibration"
	"punch-power/rules"
)

const (
	sayDelayInstructions = "Hit one single punch after the beep. 5, 4, 3, 2, 1 - ready!"
	sayPowerInstructions = "Hit 3 power punch after the beep. 3, 2, 1 - ready!"
	sayStartInstructions = "Start keep punching in 3, 2, 1 - ready!"
	sayAgain             = "Again"
	sayGoAhead           = "Go ahead!"
	sayPaused            = "Waiting for continue."
	sayContinue          = "Continue training!"
)

func (s *Session) registerRules() {
	r := s.rules
	r.Register(RuleCalibrationTriggered, s.onCalibrationTriggered, 0)
	r.Register(RuleDelayCalibrationStarted, s.onDelayCalibrationStarted, 0)
	r.Register(RuleDelayCalibrated, s.onDelayCalibrated, 0)
	r.Register(RulePowerCalibrationStarted, s.onPowerCalibrationStarted, 0)
	r.Register(RulePowerCalibrated, s.onPowerCalibrated, 0)
	r.Register(RuleTrainStart, s.onTrainStart, 0)
	r.Register(RuleTrainPause, s.onTrainPause, 0)
	r.Register(RuleTrainContinue, s.onTrainContinue, 0)
	r.Register(RuleTrainFinish, s.onTrainFinish, 0)
	r.Register(RuleRecalibrate, s.onRecalibrate, 0)

	// A listening tick redraws the charts, then goes to whichever stage owns
	// the window. Calibration stages consume the tick.
	r.Register(RuleListening, s.onListeningChart, 30)
	r.Register(RuleListening, s.onListeningDelay, 20)
	r.Register(RuleListening, s.onListeningPower, 10)
	r.Register(RuleListening, s.onListeningTraining, 0)
}

// enterPhase moves to p and invalidates pending prompt continuations.
func (s *Session) enterPhase(p Phase) {
	if p != s.phase {
		s.logger.Info("phase", "from", s.phase, "to", p)
	}
	s.phase = p
	s.gen++
	s.armed = false
	s.dirty = true
}

// ─── Calibration ─────────────────────────────────────────────────────────────

func (s *Session) onCalibrationTriggered(string, rules.Params) rules.Result {
	if s.phase != PhaseStoppedPre {
		s.logger.Debug("calibration trigger ignored", "phase", s.phase)
		return rules.Handled
	}
	s.startDelayCalibration()
	return rules.Handled
}

func (s *Session) onRecalibrate(string, rules.Params) rules.Result {
	switch s.phase {
	case PhaseStarted, PhasePaused:
		s.logger.Debug("recalibration ignored while training", "phase", s.phase)
		return rules.Handled
	}
	s.cal.ClearPower()
	s.analyzer.SetMaxPower(0)
	s.startDelayCalibration()
	return rules.Handled
}

func (s *Session) startDelayCalibration() {
	s.cal.ClearDelay()
	s.enterPhase(PhaseDelayCalibrating)
	s.charts = true
	s.setStatus("Calibrating sound delay...")
	s.prompt(s.fire(RuleDelayCalibrationStarted), speak(sayDelayInstructions), beep(DefaultBeep))
}

func (s *Session) onDelayCalibrationStarted(string, rules.Params) rules.Result {
	if s.phase != PhaseDelayCalibrating {
		return rules.Handled
	}
	s.arm()
	return rules.Handled
}

func (s *Session) onDelayCalibrated(string, rules.Params) rules.Result {
	if s.phase != PhaseDelayCalibrating || !s.cal.DelayCalibrated() {
		return rules.Handled
	}
	s.startPowerCalibration()
	return rules.Handled
}

func (s *Session) startPowerCalibration() {
	s.cal.ClearPower()
	s.analyzer.SetMaxPower(0)
	s.enterPhase(PhasePowerCalibrating)
	s.setStatus("Calibrating punch power...")
	s.prompt(s.fire(RulePowerCalibrationStarted), speak(sayPowerInstructions), beep(DefaultBeep))
}

func (s *Session) onPowerCalibrationStarted(string, rules.Params) rules.Result {
	if s.phase != PhasePowerCalibrating {
		return rules.Handled
	}
	s.arm()
	return rules.Handled
}

func (s *Session) onPowerCalibrated(string, rules.Params) rules.Result {
	if s.phase != PhasePowerCalibrating || !s.cal.PowerCalibrated() {
		return rules.Handled
	}
	s.enterPhase(PhaseStoppedReady)
	s.charts = false
	s.setStatus("Ready")
	s.prompt(s.fire(RuleTrainStart), speak(sayStartInstructions))
	return rules.Handled
}

// arm starts evaluating windows for the current calibration phase.
func (s *Session) arm() {
	s.resetWindow()
	s.armed = true
	s.logger.Debug("calibration armed", "phase", s.phase)
}

// retry discards the window and repeats the phase after a spoken prompt.
func (s *Session) retry() {
	s.armed = false
	s.resetWindow()
	s.prompt(s.arm, speak(sayAgain))
}

// ─── Listening ───────────────────────────────────────────────────────────────

func (s *Session) onListeningChart(string, rules.Params) rules.Result {
	s.updateChart()
	return rules.Pass
}

func (s *Session) onListeningDelay(string, rules.Params) rules.Result {
	if s.phase != PhaseDelayCalibrating {
		return rules.Pass
	}
	if !s.armed || !s.win.IsFull() {
		return rules.Handled
	}

	res := s.delayCal.Estimate(s.win.Snapshot(), s.hardware)
	switch res.Outcome {
	case calibration.DelayNotReady:
		return rules.Handled
	case calibration.DelayAccepted:
		s.cal.AcceptDelay(res)
		s.armed = false
		s.resetWindow()
		s.dirty = true
		s.logger.Info("delay calibrated",
			"delay", res.Delay,
			"peak_ratio", res.PeakRatio,
			"acc_idx", res.AccMaxIdx,
			"sound_idx", res.SoundMaxIdx)
		s.rules.Fire(nil, RuleDelayCalibrated)
	default:
		s.cal.ClearDelay()
		s.logger.Info("delay calibration failed",
			"outcome", res.Outcome,
			"candidate", res.Candidate,
			"peak_ratio", res.PeakRatio)
		s.retry()
	}
	return rules.Handled
}

func (s *Session) onListeningPower(string, rules.Params) rules.Result {
	if s.phase != PhasePowerCalibrating {
		return rules.Pass
	}
	if !s.armed || !s.win.IsFull() {
		return rules.Handled
	}

	res := s.powerCal.Calibrate(s.win.Snapshot())
	if res.Outcome == calibration.PowerNotReady {
		return rules.Handled
	}
	if !s.cal.AcceptPower(res) {
		s.logger.Info("power calibration rejected", "max_power", res.MaxPower)
		s.retry()
		return rules.Handled
	}

	s.analyzer.SetMaxPower(res.MaxPower)
	s.armed = false
	s.resetWindow()
	s.dirty = true
	s.logger.Info("power calibrated", "max_power", res.MaxPower, "scale", res.Scale)
	s.rules.Fire(nil, RulePowerCalibrated)
	return rules.Handled
}

func (s *Session) onListeningTraining(string, rules.Params) rules.Result {
	if s.phase != PhaseStarted {
		return rules.Pass
	}
	s.processTraining()
	return rules.Handled
}

// ─── Training ────────────────────────────────────────────────────────────────

func (s *Session) onTrainStart(string, rules.Params) rules.Result {
	switch s.phase {
	case PhaseStoppedReady:
		s.startTraining()
	case PhasePaused:
		s.continueTraining()
	default:
		s.logger.Debug("start ignored", "phase", s.phase)
	}
	return rules.Handled
}

func (s *Session) onTrainContinue(string, rules.Params) rules.Result {
	if s.phase == PhasePaused {
		s.continueTraining()
	}
	return rules.Handled
}

func (s *Session) onTrainPause(string, rules.Params) rules.Result {
	if s.phase != PhaseStarted {
		return rules.Handled
	}
	s.charts = false
	s.analyzer.PauseSession(s.clock.Now())
	s.enterPhase(PhasePaused)
	s.setStatus("Paused")
	s.say(sayPaused)
	return rules.Handled
}

func (s *Session) onTrainFinish(string, rules.Params) rules.Result {
	if s.phase != PhaseStarted && s.phase != PhasePaused {
		return rules.Handled
	}
	stats, elapsed := s.analyzer.FinishSession(s.clock.Now())
	s.charts = false
	s.enterPhase(PhaseStoppedReady)
	s.setStatus("Finished")
	s.logger.Info("training finished",
		"session", s.analyzer.SessionID(),
		"punches", stats.TotalPunches,
		"strong", stats.StrongPunches,
		"elapsed", elapsed)
	s.say(summary(stats.StrongPunches, elapsed))
	return rules.Handled
}

func (s *Session) startTraining() {
	s.enterPhase(PhaseStarted)
	s.resetWindow()
	s.analyzer.StartSession(s.clock.Now())
	s.refreshCards()
	s.display.SetField(FieldTime, formatClock(0))
	s.charts = true
	s.setStatus("Training")
	s.logger.Info("training started", "session", s.analyzer.SessionID())
	s.say(sayGoAhead)
}

func (s *Session) continueTraining() {
	s.charts = true
	s.analyzer.ResumeSession(s.clock.Now())
	s.enterPhase(PhaseStarted)
	s.setStatus("Training")
	s.say(sayContinue)
}

// processTraining runs once per listening tick while training.
func (s *Session) processTraining() {
	now := s.clock.Now()
	if m, ok := s.analyzer.MinuteMilestone(now); ok {
		s.say(fmt.Sprintf("%d minutes elapsed", m))
	}
	s.display.SetField(FieldTime, formatClock(s.analyzer.Elapsed(now)))

	det := s.analyzer.ProcessPower(s.win.PowerTail(3), now)
	if !det.Accepted {
		return
	}
	s.refreshCards()
	s.dirty = true
	if det.Milestone > 0 {
		s.say(fmt.Sprintf("%d strong punches!", det.Milestone))
	}
	s.logger.Debug("punch",
		"count", det.Punch.Count,
		"rel_strength", det.Punch.RelStrength,
		"strong", det.Punch.Strong,
		"threshold", s.analyzer.StrongThreshold())
	for _, o := range s.observers {
		o.OnPunch(det.Punch)
	}
}

func (s *Session) refreshCards() {
	st := s.analyzer.Stats(s.clock.Now())
	s.display.SetField(FieldAveragePower, fmt.Sprintf("%.1f", 100*st.AvgStrength))
	s.display.SetField(FieldStrongPercent, fmt.Sprintf("%.1f", st.StrongPercent))
	s.display.SetField(FieldPunches, fmt.Sprint(st.TotalPunches))
	s.display.SetField(FieldStrongPunches, fmt.Sprint(st.StrongPunches))
	s.display.SetField(FieldWeakPunches, fmt.Sprint(st.WeakPunches))
}

// formatClock renders d as mm:ss.
func formatClock(d time.Duration) string {
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func summary(strong int, elapsed time.Duration) string {
	total := int(elapsed / time.Second)
	return fmt.Sprintf("Nice job: %d strong punches in %d minutes %d seconds.", strong, total/60, total%60)
}
