// Package workflow sequences delay calibration, power calibration and training
// on top of the signal pipeline. A single Session goroutine owns the window,
// the conditioner, the calibration state and the dispatcher.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"punch-power/analytics"
	"punch-power/calibration"
	"punch-power/clock"
	"punch-power/dsp"
	"punch-power/rules"
	"punch-power/source"
	"punch-power/window"
)

const (
	inboxSize  = 64
	promptSize = 16
)

// Config tunes the pipeline.
type Config struct {
	WindowSize int
	// Smoothing memory per channel, each in [0,1).
	AccMass   float64
	FreqMass  float64
	PowerMass float64

	PeakThreshold   float64
	SearchArea      int
	ChartHeight     float64
	Gap             float64
	NoiseFloor      float64
	StrongThreshold float64
	Pairing         calibration.Pairing
	SpectralGate    bool
	// Presets overrides or extends analytics.StrongPresets.
	Presets map[string]float64
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		WindowSize:      100,
		AccMass:         0.5,
		FreqMass:        0.5,
		PowerMass:       0,
		PeakThreshold:   120,
		SearchArea:      1,
		ChartHeight:     100,
		Gap:             0.75,
		NoiseFloor:      analytics.DefaultNoiseFloor,
		StrongThreshold: analytics.StrongPresets[analytics.DefaultPreset],
		Pairing:         calibration.PairingAuto,
	}
}

// Deps are the collaborators of a Session. Only Prompter is required.
type Deps struct {
	Clock     clock.Clock
	Logger    *slog.Logger
	Spectrum  source.Spectrum
	Presenter Presenter
	Prompter  Prompter
	Display   Display
	Observers []Observer
}

// State is the published view of a Session.
type State struct {
	Phase          Phase                   `json:"phase"`
	Listening      bool                    `json:"listening"`
	HardwareSensor bool                    `json:"hardware_sensor"`
	Pairing        string                  `json:"pairing"`
	Delay          *int                    `json:"delay,omitempty"`
	MaxPower       float64                 `json:"max_power"`
	Scale          calibration.Scale       `json:"scale"`
	Training       *analytics.SessionState `json:"training"`
}

// Session is the calibrate-then-train state machine.
type Session struct {
	cfg       Config
	clock     clock.Clock
	logger    *slog.Logger
	hardware  bool
	pairing   calibration.Pairing
	spectrum  source.Spectrum
	presenter Presenter
	prompter  Prompter
	display   Display
	observers []Observer

	rules    *rules.Dispatcher
	cond     *dsp.Conditioner
	win      *window.Store
	cal      *calibration.State
	analyzer *analytics.Analyzer
	delayCal calibration.DelayCalibrator
	powerCal calibration.PowerCalibrator

	phase  Phase
	armed  bool // the calibration phase evaluates full windows
	charts bool
	gen    uint64
	dirty  bool

	inbox    chan func()
	prompts  chan promptJob
	state    atomic.Pointer[State]
	feedback atomic.Uint64
}

// New builds a Session. hardware tells the calibrators whether readings come
// from a real sensor.
func New(cfg Config, hardware bool, deps Deps) (*Session, error) {
	if deps.Prompter == nil {
		return nil, fmt.Errorf("workflow: prompter is required")
	}
	win, err := window.New(cfg.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Spectrum == nil {
		deps.Spectrum = silence{}
	}
	if deps.Presenter == nil {
		deps.Presenter = nopPresenter{}
	}
	if deps.Display == nil {
		deps.Display = nopDisplay{}
	}
	if cfg.SearchArea < 1 {
		cfg.SearchArea = 1
	}

	logger := deps.Logger.With("component", "workflow")
	s := &Session{
		cfg:       cfg,
		clock:     deps.Clock,
		logger:    logger,
		hardware:  hardware,
		pairing:   cfg.Pairing.Resolve(hardware),
		spectrum:  deps.Spectrum,
		presenter: deps.Presenter,
		prompter:  deps.Prompter,
		display:   deps.Display,
		observers: deps.Observers,
		rules:     rules.New(deps.Logger),
		cond:      dsp.NewConditioner(),
		win:       win,
		cal:       calibration.NewState(),
		analyzer:  analytics.NewAnalyzer(cfg.NoiseFloor, cfg.StrongThreshold),
		delayCal:  calibration.DelayCalibrator{Capacity: win.Capacity(), PeakThreshold: cfg.PeakThreshold},
		powerCal:  calibration.PowerCalibrator{Capacity: win.Capacity(), ChartHeight: cfg.ChartHeight, Gap: cfg.Gap},
		phase:     PhaseStoppedPre,
		charts:    true,
		inbox:     make(chan func(), inboxSize),
		prompts:   make(chan promptJob, promptSize),
	}
	s.registerRules()
	s.setStatus("Press calibrate to start")
	s.publish()

	logger.Info("session ready",
		"hardware_sensor", hardware,
		"pairing", s.pairing,
		"window", win.Capacity())
	return s, nil
}

// Run processes readings, commands and prompt completions until ctx is done.
func (s *Session) Run(ctx context.Context, readings <-chan source.Reading) error {
	go s.runPrompts(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			s.ingest(r)
		case fn := <-s.inbox:
			fn()
		}
		s.settle()
	}
}

// settle drains the dispatcher and publishes the resulting state.
func (s *Session) settle() {
	s.rules.Drain()
	st := s.publish()
	if !s.dirty {
		return
	}
	s.dirty = false
	for _, o := range s.observers {
		o.OnState(st)
	}
}

// Submit queues a user command.
func (s *Session) Submit(ctx context.Context, cmd Command) error {
	id, ok := commandRules[cmd]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	return s.post(ctx, func() {
		s.logger.Info("command", "command", cmd)
		s.rules.Fire(nil, id)
	})
}

// SetPreset switches the strong-punch threshold to a named preset.
func (s *Session) SetPreset(ctx context.Context, name string) error {
	v, err := analytics.StrongThreshold(name, s.cfg.Presets)
	if err != nil {
		return err
	}
	return s.post(ctx, func() {
		s.logger.Info("strong threshold changed", "preset", name, "threshold", v)
		s.analyzer.SetStrongThreshold(v)
		s.refreshCards()
		s.dirty = true
	})
}

func (s *Session) post(ctx context.Context, fn func()) error {
	select {
	case s.inbox <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the latest published snapshot. Safe for concurrent use.
func (s *Session) State() State {
	if st := s.state.Load(); st != nil {
		return *st
	}
	return State{}
}

// Feedback returns the sound sample one tick behind the newest. The emulated
// source derives its acceleration from it. Safe for concurrent use.
func (s *Session) Feedback() float64 {
	return math.Float64frombits(s.feedback.Load())
}

// Listening reports whether readings are ingested.
func (s *Session) Listening() bool {
	return s.charts && (!s.cal.PowerCalibrated() || s.phase == PhaseStarted)
}

func (s *Session) publish() State {
	st := State{
		Phase:          s.phase,
		Listening:      s.Listening(),
		HardwareSensor: s.hardware,
		Pairing:        s.pairing.String(),
		MaxPower:       s.cal.MaxPower(),
		Scale:          s.cal.Scale(),
		Training:       s.analyzer.GetState(s.clock.Now()),
	}
	if d, ok := s.cal.Delay(); ok {
		st.Delay = &d
	}
	s.state.Store(&st)
	return st
}

// ingest runs one reading through the conditioner, the window and the fuser,
// then fires the listening rules.
func (s *Session) ingest(r source.Reading) {
	if !s.Listening() {
		return
	}
	if !r.OK {
		s.logger.Debug("reading without acceleration skipped")
		return
	}

	acc := s.cond.Smooth(dsp.ChannelAcc, s.cfg.AccMass, []float64{r.Acceleration})[0]
	spectrum := s.spectrum.Snapshot()
	der := s.cond.Derivative(dsp.ChannelSoundDer, []float64{dsp.Mean(spectrum)})[0]
	snd := s.cond.Smooth(dsp.ChannelSound, s.cfg.FreqMass, []float64{der})[0]
	s.win.Push(window.Sample{Acc: acc, Sound: snd, Spectrum: spectrum})

	accs, sounds := s.win.Acc(), s.win.Sound()
	var frames [][]float64
	if s.cfg.SpectralGate {
		frames = s.win.Spectrum()
	}
	power := s.fuser().At(accs, sounds, frames, len(accs)-1)
	power = s.cond.Smooth(dsp.ChannelPower, s.cfg.PowerMass, []float64{power})[0]
	s.win.SetLastPower(power)

	if n := len(sounds); n >= 2 {
		s.feedback.Store(math.Float64bits(sounds[n-2]))
	}
	s.rules.Fire(nil, RuleListening)
}

func (s *Session) fuser() calibration.Fuser {
	return s.cal.Fuser(s.pairing, s.cfg.SearchArea, s.cfg.SpectralGate)
}

// resetWindow clears the window together with the smoothing state.
func (s *Session) resetWindow() {
	s.win.Reset()
	s.cond.Reset()
	s.feedback.Store(0)
	s.updateChart()
}

func (s *Session) updateChart() {
	scale := s.cal.Scale()
	delay, _ := s.cal.Delay()
	s.presenter.Update(map[string][]Point{
		SeriesPower: chartData(s.win.Power(), 0, scale.Power),
		SeriesSound: chartData(s.win.Sound(), 0, scale.Sound),
		// acc is drawn shifted by the delay so both peaks line up
		SeriesAcc: chartData(s.win.Acc(), float64(delay), scale.Acc),
	})
}

func chartData(v []float64, offsetX, multY float64) []Point {
	pts := make([]Point, len(v))
	for x, y := range v {
		pts[x] = Point{X: float64(x) + offsetX, Y: multY * y}
	}
	return pts
}

func (s *Session) setStatus(text string) {
	s.display.SetField(FieldStatus, text)
}

type silence struct{}

func (silence) Snapshot() []float64 { return nil }
