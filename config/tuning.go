// Package config loads the JSON tuning file. Every field is optional; the Get*
// accessors return the built-in default for fields the file leaves out.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"punch-power/analytics"
	"punch-power/calibration"
	"punch-power/workflow"
)

const maxFileSize = 1 << 20

// Defaults.
const (
	DefaultWindowSize     = 100
	DefaultAccMass        = 0.5
	DefaultFreqMass       = 0.5
	DefaultPowerMass      = 0.0
	DefaultFFTSize        = 512
	DefaultSpectrumGroup  = 4
	DefaultPeakThreshold  = 120.0
	DefaultSearchArea     = 1
	DefaultChartHeight    = 100.0
	DefaultGap            = 0.75
	DefaultEmulatedTick   = 20 * time.Millisecond
	DefaultProbeTimeout   = 500 * time.Millisecond
	DefaultPairingOrder   = "auto"
	DefaultTopicPrefix    = "punch"
	DefaultSerialBaudRate = 115200
)

// Tuning is the root of the tuning file.
type Tuning struct {
	// Window and smoothing
	WindowSize *int     `json:"window_size,omitempty"`
	AccMass    *float64 `json:"acc_mass,omitempty"`
	FreqMass   *float64 `json:"freq_mass,omitempty"`
	PowerMass  *float64 `json:"power_mass,omitempty"`

	// Spectrum analyser
	FFTSize       *int `json:"fft_size,omitempty"`
	SpectrumGroup *int `json:"spectrum_group,omitempty"`

	// Calibration
	PeakThreshold *float64 `json:"peak_threshold,omitempty"`
	SearchArea    *int     `json:"search_area,omitempty"`
	ChartHeight   *float64 `json:"chart_height,omitempty"`
	Gap           *float64 `json:"gap,omitempty"`
	PairingOrder  *string  `json:"pairing_order,omitempty"` // auto | sensor-present | emulated
	SpectralGate  *bool    `json:"spectral_gate,omitempty"`

	// Training
	NoiseFloor    *float64           `json:"noise_floor,omitempty"`
	StrongPreset  *string            `json:"strong_preset,omitempty"`
	StrongPresets map[string]float64 `json:"strong_presets,omitempty"`

	// Sources
	EmulatedTick *string `json:"emulated_tick,omitempty"` // duration string like "20ms"
	ProbeTimeout *string `json:"probe_timeout,omitempty"`
	SerialBaud   *int    `json:"serial_baud,omitempty"`

	// Telemetry
	TopicPrefix *string `json:"topic_prefix,omitempty"`
}

// Empty returns a Tuning with every field unset.
func Empty() *Tuning { return &Tuning{} }

// Load reads and validates a tuning file. Omitted fields keep their defaults.
func Load(path string) (*Tuning, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	t := Empty()
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return t, nil
}

// Validate checks the values that are set.
func (t *Tuning) Validate() error {
	if t.WindowSize != nil && *t.WindowSize < 3 {
		return fmt.Errorf("window_size must be at least 3, got %d", *t.WindowSize)
	}
	for name, m := range map[string]*float64{"acc_mass": t.AccMass, "freq_mass": t.FreqMass, "power_mass": t.PowerMass} {
		if m != nil && (*m < 0 || *m >= 1) {
			return fmt.Errorf("%s must be in [0,1), got %g", name, *m)
		}
	}
	if t.FFTSize != nil && (*t.FFTSize < 2 || *t.FFTSize%2 != 0) {
		return fmt.Errorf("fft_size must be even and at least 2, got %d", *t.FFTSize)
	}
	if t.SpectrumGroup != nil && *t.SpectrumGroup < 1 {
		return fmt.Errorf("spectrum_group must be positive, got %d", *t.SpectrumGroup)
	}
	if t.PeakThreshold != nil && *t.PeakThreshold <= 0 {
		return fmt.Errorf("peak_threshold must be positive, got %g", *t.PeakThreshold)
	}
	if t.SearchArea != nil && *t.SearchArea < 1 {
		return fmt.Errorf("search_area must be at least 1, got %d", *t.SearchArea)
	}
	if t.ChartHeight != nil && *t.ChartHeight <= 0 {
		return fmt.Errorf("chart_height must be positive, got %g", *t.ChartHeight)
	}
	if t.Gap != nil && (*t.Gap <= 0 || *t.Gap > 1) {
		return fmt.Errorf("gap must be in (0,1], got %g", *t.Gap)
	}
	if t.PairingOrder != nil {
		if _, err := calibration.ParsePairing(*t.PairingOrder); err != nil {
			return err
		}
	}
	if t.NoiseFloor != nil && (*t.NoiseFloor < 0 || *t.NoiseFloor >= 1) {
		return fmt.Errorf("noise_floor must be in [0,1), got %g", *t.NoiseFloor)
	}
	for name, v := range t.StrongPresets {
		if v <= 0 || v > 1 {
			return fmt.Errorf("strong preset %q must be in (0,1], got %g", name, v)
		}
	}
	if t.StrongPreset != nil {
		if _, err := analytics.StrongThreshold(*t.StrongPreset, t.StrongPresets); err != nil {
			return err
		}
	}
	for name, d := range map[string]*string{"emulated_tick": t.EmulatedTick, "probe_timeout": t.ProbeTimeout} {
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, v)
		}
	}
	if t.SerialBaud != nil && *t.SerialBaud <= 0 {
		return fmt.Errorf("serial_baud must be positive, got %d", *t.SerialBaud)
	}
	return nil
}

func (t *Tuning) GetWindowSize() int {
	if t.WindowSize == nil {
		return DefaultWindowSize
	}
	return *t.WindowSize
}

func (t *Tuning) GetAccMass() float64 {
	if t.AccMass == nil {
		return DefaultAccMass
	}
	return *t.AccMass
}

func (t *Tuning) GetFreqMass() float64 {
	if t.FreqMass == nil {
		return DefaultFreqMass
	}
	return *t.FreqMass
}

func (t *Tuning) GetPowerMass() float64 {
	if t.PowerMass == nil {
		return DefaultPowerMass
	}
	return *t.PowerMass
}

func (t *Tuning) GetFFTSize() int {
	if t.FFTSize == nil {
		return DefaultFFTSize
	}
	return *t.FFTSize
}

func (t *Tuning) GetSpectrumGroup() int {
	if t.SpectrumGroup == nil {
		return DefaultSpectrumGroup
	}
	return *t.SpectrumGroup
}

func (t *Tuning) GetPeakThreshold() float64 {
	if t.PeakThreshold == nil {
		return DefaultPeakThreshold
	}
	return *t.PeakThreshold
}

func (t *Tuning) GetSearchArea() int {
	if t.SearchArea == nil {
		return DefaultSearchArea
	}
	return *t.SearchArea
}

func (t *Tuning) GetChartHeight() float64 {
	if t.ChartHeight == nil {
		return DefaultChartHeight
	}
	return *t.ChartHeight
}

func (t *Tuning) GetGap() float64 {
	if t.Gap == nil {
		return DefaultGap
	}
	return *t.Gap
}

// GetPairing returns the parsed pairing order. Validate has already rejected
// unknown values.
func (t *Tuning) GetPairing() calibration.Pairing {
	if t.PairingOrder == nil {
		return calibration.PairingAuto
	}
	p, _ := calibration.ParsePairing(*t.PairingOrder)
	return p
}

func (t *Tuning) GetSpectralGate() bool {
	return t.SpectralGate != nil && *t.SpectralGate
}

func (t *Tuning) GetNoiseFloor() float64 {
	if t.NoiseFloor == nil {
		return analytics.DefaultNoiseFloor
	}
	return *t.NoiseFloor
}

func (t *Tuning) GetStrongPreset() string {
	if t.StrongPreset == nil {
		return analytics.DefaultPreset
	}
	return *t.StrongPreset
}

func (t *Tuning) GetEmulatedTick() time.Duration {
	return parseDurationOr(t.EmulatedTick, DefaultEmulatedTick)
}

func (t *Tuning) GetProbeTimeout() time.Duration {
	return parseDurationOr(t.ProbeTimeout, DefaultProbeTimeout)
}

func (t *Tuning) GetSerialBaud() int {
	if t.SerialBaud == nil {
		return DefaultSerialBaudRate
	}
	return *t.SerialBaud
}

func (t *Tuning) GetTopicPrefix() string {
	if t.TopicPrefix == nil || *t.TopicPrefix == "" {
		return DefaultTopicPrefix
	}
	return *t.TopicPrefix
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// Workflow builds the session configuration.
func (t *Tuning) Workflow() (workflow.Config, error) {
	strong, err := analytics.StrongThreshold(t.GetStrongPreset(), t.StrongPresets)
	if err != nil {
		return workflow.Config{}, err
	}
	return workflow.Config{
		WindowSize:      t.GetWindowSize(),
		AccMass:         t.GetAccMass(),
		FreqMass:        t.GetFreqMass(),
		PowerMass:       t.GetPowerMass(),
		PeakThreshold:   t.GetPeakThreshold(),
		SearchArea:      t.GetSearchArea(),
		ChartHeight:     t.GetChartHeight(),
		Gap:             t.GetGap(),
		NoiseFloor:      t.GetNoiseFloor(),
		StrongThreshold: strong,
		Pairing:         t.GetPairing(),
		SpectralGate:    t.GetSpectralGate(),
		Presets:         t.StrongPresets,
	}, nil
}
