package calibration

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"

	"punch-power/dsp"
)

// Pairing decides which channel is looked up in the past when fusing power.
type Pairing int

const (
	// PairingAuto resolves to SensorPresent or Emulated from the active source.
	PairingAuto Pairing = iota
	// PairingSensorPresent pairs sound[t] with acc[t-delay].
	PairingSensorPresent
	// PairingEmulated pairs acc[t] with sound[t-delay].
	PairingEmulated
)

func (p Pairing) String() string {
	switch p {
	case PairingSensorPresent:
		return "sensor-present"
	case PairingEmulated:
		return "emulated"
	default:
		return "auto"
	}
}

// ParsePairing parses the pairing_order configuration value.
func ParsePairing(s string) (Pairing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return PairingAuto, nil
	case "sensor-present":
		return PairingSensorPresent, nil
	case "emulated":
		return PairingEmulated, nil
	}
	return PairingAuto, fmt.Errorf("unknown pairing order %q", s)
}

// Resolve turns PairingAuto into a concrete pairing.
func (p Pairing) Resolve(hasHardwareSensor bool) Pairing {
	if p != PairingAuto {
		return p
	}
	if hasHardwareSensor {
		return PairingSensorPresent
	}
	return PairingEmulated
}

// Fuser computes the fused power signal from time-aligned acc and sound.
type Fuser struct {
	Delay   int
	Pairing Pairing
	// SearchArea is the number of ticks each channel's peak is searched over.
	// One gives the plain per-tick product.
	SearchArea int
	// FreqWeights, when non-empty and Gate is set, scale the power by how
	// closely the current spectrum frame matches the calibrated punch spectrum.
	FreqWeights []float64
	Gate        bool
}

// At returns the fused power at tick t. Ticks without enough history fuse to 0.
func (f Fuser) At(acc, sound []float64, spectrum [][]float64, t int) float64 {
	lead, lag := acc, sound
	if f.Pairing == PairingEmulated {
		lead, lag = sound, acc
	}
	area := max(f.SearchArea, 1)
	delay := max(f.Delay, 0)

	from := t - delay - area + 1
	if from < 0 || t >= len(lead) || t >= len(lag) {
		return 0
	}
	p := floats.Max(lead[from:t-delay+1]) * floats.Max(lag[t-area+1:t+1])

	if f.Gate && len(f.FreqWeights) > 0 && t < len(spectrum) {
		p *= dsp.Similarity(spectrum[t], f.FreqWeights)
	}
	return p
}
