package main

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"punch-power/analytics"
	"punch-power/config"
	"punch-power/source"
	"punch-power/workflow"
)

type fakeDevice struct {
	sent []string
	err  error
}

func (d *fakeDevice) SendCommand(cmd string) error {
	d.sent = append(d.sent, cmd)
	return d.err
}

func training(id string, status analytics.Status) workflow.State {
	return workflow.State{Training: &analytics.SessionState{SessionID: id, Status: status}}
}

func TestDeviceNotifier(t *testing.T) {
	dev := &fakeDevice{}
	n := newDeviceNotifier(dev, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n.OnState(training("", analytics.StatusStopped))
	n.OnState(training("a", analytics.StatusStarted))
	n.OnState(training("a", analytics.StatusStarted))
	n.OnState(training("a", analytics.StatusPaused))
	n.OnState(training("a", analytics.StatusStarted))
	n.OnState(training("a", analytics.StatusStopped))
	n.OnState(workflow.State{})
	n.OnState(training("b", analytics.StatusStarted))

	assert.Equal(t, []string{"session_start", "session_reset", "session_start"}, dev.sent)
}

func TestDeviceNotifierToleratesMissingDevice(t *testing.T) {
	dev := &fakeDevice{err: errors.New("udp: no device connected")}
	n := newDeviceNotifier(dev, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.OnState(training("a", analytics.StatusStarted))
	assert.Equal(t, analytics.StatusStarted, n.status)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug")
	require.NoError(t, err)
	_, err = newLogger("loud")
	assert.Error(t, err)
}

func TestHardwareSource(t *testing.T) {
	tuning := config.Empty()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	src, udp, err := hardwareSource(options{udpAddr: ":0"}, tuning, nil, logger)
	require.NoError(t, err)
	assert.NotNil(t, udp)
	assert.IsType(t, &source.UDP{}, src)

	src, udp, err = hardwareSource(options{serialPort: "/dev/ttyUSB0"}, tuning, nil, logger)
	require.NoError(t, err)
	assert.Nil(t, udp)
	assert.IsType(t, &source.Serial{}, src)

	_, _, err = hardwareSource(options{bleHand: "middle"}, tuning, nil, logger)
	assert.Error(t, err)
}
