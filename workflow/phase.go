package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Phase is the position of the session in the calibrate-then-train protocol.
type Phase int

const (
	// PhaseStoppedPre waits for the user to start calibration.
	PhaseStoppedPre Phase = iota
	PhaseDelayCalibrating
	PhasePowerCalibrating
	// PhaseStoppedReady is calibrated and not training.
	PhaseStoppedReady
	PhaseStarted
	PhasePaused
)

var phaseNames = map[Phase]string{
	PhaseStoppedPre:       "stopped-pre",
	PhaseDelayCalibrating: "delay-calibrating",
	PhasePowerCalibrating: "power-calibrating",
	PhaseStoppedReady:     "stopped-ready",
	PhaseStarted:          "started",
	PhasePaused:           "paused",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText encodes the phase name.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Rule ids registered on the session dispatcher.
const (
	RuleListening               = "listening"
	RuleCalibrationTriggered    = "calibrate_button_clicked"
	RuleDelayCalibrationStarted = "delay_calibration_process_started"
	RuleDelayCalibrated         = "delay_variable_calibrated"
	RulePowerCalibrationStarted = "power_calibration_process_started"
	RulePowerCalibrated         = "power_variable_calibrated"
	RuleTrainStart              = "train-start"
	RuleTrainPause              = "train-pause"
	RuleTrainContinue           = "train-continue"
	RuleTrainFinish             = "train-finish"
	RuleRecalibrate             = "recalibrate_button_clicked"
)

// Command is a user request delivered to the session.
type Command string

const (
	CmdCalibrate   Command = "calibrate"
	CmdStart       Command = "start"
	CmdPause       Command = "pause"
	CmdContinue    Command = "continue"
	CmdFinish      Command = "finish"
	CmdRecalibrate Command = "recalibrate"
)

var commandRules = map[Command]string{
	CmdCalibrate:   RuleCalibrationTriggered,
	CmdStart:       RuleTrainStart,
	CmdPause:       RuleTrainPause,
	CmdContinue:    RuleTrainContinue,
	CmdFinish:      RuleTrainFinish,
	CmdRecalibrate: RuleRecalibrate,
}

// ErrUnknownCommand is returned for command names outside the command table.
var ErrUnknownCommand = errors.New("unknown command")

// ParseCommand resolves a command name case-insensitively.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := commandRules[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return c, nil
}

// Commands lists the accepted command names.
func Commands() []Command {
	return []Command{CmdCalibrate, CmdStart, CmdPause, CmdContinue, CmdFinish, CmdRecalibrate}
}
