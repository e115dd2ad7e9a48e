// punch-power: punch-power training server.
//
// Responsibilities:
//   - read the glove over UDP, serial or BLE (or emulate it from sound)
//   - calibrate delay and power, then detect and grade punches
//   - push charts, cards and session state to the dashboard over WebSocket
//   - accept session commands over REST, mirror the session onto MQTT
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"punch-power/analytics"
	"punch-power/ble"
	"punch-power/clock"
	"punch-power/config"
	"punch-power/hub"
	"punch-power/prompt"
	"punch-power/source"
	"punch-power/telemetry"
	"punch-power/workflow"
)

var version = "dev"

const (
	shutdownTimeout = 5 * time.Second
	lossInterval    = 10 * time.Second
)

type options struct {
	configPath string
	logLevel   string
	udpAddr    string
	httpAddr   string
	serialPort string
	bleHand    string
	mqttBroker string
	mqttID     string
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "punch-power",
		Short: "Punch power training server",
		Long: `punch-power fuses glove acceleration with microphone sound to measure
punch power. It calibrates the delay between both channels and the strongest
punch, then counts and grades punches during training.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "tuning JSON file")
	f.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	f.StringVar(&opts.udpAddr, "udp", ":4210", "UDP listen address for the glove")
	f.StringVar(&opts.httpAddr, "http", ":8080", "HTTP and WebSocket listen address")
	f.StringVar(&opts.serialPort, "serial", "", "read the glove from this serial port instead of UDP")
	f.StringVar(&opts.bleHand, "ble", "", "read the glove over BLE (left or right) instead of UDP")
	f.StringVar(&opts.mqttBroker, "mqtt", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	f.StringVar(&opts.mqttID, "mqtt-client-id", "", "MQTT client id (random when empty)")
	cmd.MarkFlagsMutuallyExclusive("serial", "ble")

	cmd.AddCommand(&cobra.Command{
		Use:   "presets [config]",
		Short: "List strong-punch presets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tuning := config.Empty()
			if len(args) == 1 {
				var err error
				if tuning, err = config.Load(args[0]); err != nil {
					return err
				}
			}
			for _, name := range analytics.PresetNames(tuning.StrongPresets) {
				v, _ := analytics.StrongThreshold(name, tuning.StrongPresets)
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %.2f\n", name, v)
			}
			return nil
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: l, TimeFormat: time.TimeOnly})), nil
}

func run(ctx context.Context, opts options) error {
	logger, err := newLogger(opts.logLevel)
	if err != nil {
		return err
	}

	tuning := config.Empty()
	if opts.configPath != "" {
		if tuning, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}
	cfg, err := tuning.Workflow()
	if err != nil {
		return err
	}

	analyser, err := source.NewAnalyser(tuning.GetFFTSize(), tuning.GetSpectrumGroup())
	if err != nil {
		return err
	}

	hw, udp, err := hardwareSource(opts, tuning, analyser, logger)
	if err != nil {
		return err
	}

	clk := clock.Real{}
	stream, err := source.Probe(ctx, hw, tuning.GetProbeTimeout(), clk)
	hardware := err == nil
	switch {
	case errors.Is(err, source.ErrNoSensor):
		logger.Warn("no acceleration from sensor, emulating it from sound", "source", hw.Name(), "error", err)
	case err != nil:
		return err
	}

	// sinks
	dash := hub.New(logger)
	observers := []workflow.Observer{dash}
	var prompter workflow.Prompter = prompt.NewLog(clk, logger)

	if opts.mqttBroker != "" {
		id := opts.mqttID
		if id == "" {
			id = "punch-power-" + uuid.NewString()[:8]
		}
		client, err := telemetry.Connect(opts.mqttBroker, id)
		if err != nil {
			return err
		}
		defer telemetry.Disconnect(client)
		pub := telemetry.NewPublisher(client, telemetry.NewTopics(tuning.GetTopicPrefix()), logger)
		go pub.Run(ctx)
		observers = append(observers, pub)
		prompter = prompt.Fanout{prompter, prompt.NewMQTT(pub, clk)}
		logger.Info("mqtt connected", "broker", opts.mqttBroker, "client_id", id)
	}
	if udp != nil {
		observers = append(observers, newDeviceNotifier(udp, logger))
	}

	session, err := workflow.New(cfg, hardware, workflow.Deps{
		Clock:     clk,
		Logger:    logger,
		Spectrum:  analyser,
		Presenter: dash,
		Prompter:  prompter,
		Display:   dash,
		Observers: observers,
	})
	if err != nil {
		return err
	}

	if !hardware {
		if _, isBLE := hw.(*source.BLE); !isBLE {
			// keep the device streaming for its microphone frames
			audio := source.Start(ctx, hw)
			go discard(ctx, audio.Readings)
		}
		stream = source.Start(ctx, source.NewEmulated(tuning.GetEmulatedTick(), clk, session.Feedback))
	}
	defer stream.Stop()
	go watchSource(ctx, stream, logger)
	if b, ok := hw.(*source.BLE); ok && hardware {
		go logPacketLoss(ctx, b, logger)
	}

	srv := &http.Server{Addr: opts.httpAddr, Handler: dash.Handler(session, tuning.StrongPresets)}
	go func() {
		logger.Info("http listening", "addr", opts.httpAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http", "error", err)
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	logger.Info("session running", "source", stream.Source.Name(), "hardware_sensor", hardware)
	if err := session.Run(ctx, stream.Readings); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

// hardwareSource picks the glove transport. udp is non-nil when the glove is
// read over UDP, which is the only transport that accepts commands.
func hardwareSource(opts options, tuning *config.Tuning, pcm source.PCMSink, logger *slog.Logger) (src source.Source, udp *source.UDP, err error) {
	switch {
	case opts.serialPort != "":
		return source.NewSerial(opts.serialPort, source.PortOptions{BaudRate: tuning.GetSerialBaud()}, pcm, logger), nil, nil
	case opts.bleHand != "":
		hand, err := ble.ParseHand(opts.bleHand)
		if err != nil {
			return nil, nil, err
		}
		return source.NewBLE(hand, ble.DefaultScanConfig(), logger), nil, nil
	}
	udp = source.NewUDP(opts.udpAddr, pcm, logger)
	return udp, udp, nil
}

func discard(ctx context.Context, readings <-chan source.Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-readings:
		}
	}
}

func watchSource(ctx context.Context, s *source.Stream, logger *slog.Logger) {
	select {
	case <-ctx.Done():
	case err := <-s.Done:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("source stopped", "source", s.Source.Name(), "error", err)
		}
	}
}

func logPacketLoss(ctx context.Context, b *source.BLE, logger *slog.Logger) {
	ticker := time.NewTicker(lossInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if loss, battery, ok := b.PacketLoss(); ok {
				logger.Info("glove link", "loss", fmt.Sprintf("%.1f%%", 100*loss), "battery", battery)
			}
		}
	}
}

// commander sends a command to the glove.
type commander interface {
	SendCommand(cmd string) error
}

// deviceNotifier tells the glove when a training session starts and ends.
type deviceNotifier struct {
	device  commander
	logger  *slog.Logger
	session string
	status  analytics.Status
}

func newDeviceNotifier(device commander, logger *slog.Logger) *deviceNotifier {
	return &deviceNotifier{device: device, logger: logger.With("component", "device"), status: analytics.StatusStopped}
}

func (d *deviceNotifier) OnPunch(analytics.PunchEvent) {}

func (d *deviceNotifier) OnState(s workflow.State) {
	if s.Training == nil {
		return
	}
	t := s.Training
	var cmd string
	switch {
	case t.Status == analytics.StatusStarted && t.SessionID != d.session:
		cmd = "session_start"
	case t.Status == analytics.StatusStopped && d.status != analytics.StatusStopped:
		cmd = "session_reset"
	}
	d.session, d.status = t.SessionID, t.Status
	if cmd == "" {
		return
	}
	if err := d.device.SendCommand(cmd); err != nil {
		d.logger.Warn("command not sent", "command", cmd, "error", err)
		return
	}
	d.logger.Info("command sent", "command", cmd)
}
