// Package dsp holds the streaming transforms applied to every sensor channel
// before it enters the sliding window.
package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Channel ids used by the ingestion pipeline.
const (
	ChannelAcc      = "acc"
	ChannelSoundDer = "sound-der"
	ChannelSound    = "freq"
	ChannelPower    = "power"
)

// Conditioner keeps per-channel smoothing and derivative state.
// It is not safe for concurrent use; the session loop is its only writer.
type Conditioner struct {
	heavy map[string][]float64
	last  map[string][]float64
}

// NewConditioner returns a Conditioner with no channel state.
func NewConditioner() *Conditioner {
	return &Conditioner{
		heavy: make(map[string][]float64),
		last:  make(map[string][]float64),
	}
}

// Reset drops the state of every channel.
func (c *Conditioner) Reset() {
	clear(c.heavy)
	clear(c.last)
}

// Smooth applies an exponential moving average per element:
//
//	state = state*memory + v*(1-memory)
//
// The first call for a channel seeds the state with v. A memory of zero passes
// v through and keeps no state.
func (c *Conditioner) Smooth(id string, memory float64, v []float64) []float64 {
	if memory == 0 {
		delete(c.heavy, id)
		return append([]float64(nil), v...)
	}
	state, ok := c.heavy[id]
	if !ok || len(state) != len(v) {
		state = append([]float64(nil), v...)
		c.heavy[id] = state
		return append([]float64(nil), state...)
	}
	for i := range state {
		state[i] = state[i]*memory + v[i]*(1-memory)
	}
	return append([]float64(nil), state...)
}

// Derivative returns v minus the previous vector seen on the channel. The first
// call returns zeros.
func (c *Conditioner) Derivative(id string, v []float64) []float64 {
	prev, ok := c.last[id]
	if !ok || len(prev) != len(v) {
		prev = v
	}
	out := make([]float64, len(v))
	floats.SubTo(out, v, prev)
	c.last[id] = append([]float64(nil), v...)
	return out
}

// GroupAverage reduces v to the means of contiguous runs of group elements.
// A trailing partial run is dropped; group <= 1 returns a copy of v.
func GroupAverage(v []float64, group int, takeAbs bool) []float64 {
	if group <= 1 {
		return append([]float64(nil), v...)
	}
	out := make([]float64, len(v)/group)
	for i := range out {
		var sum float64
		for _, x := range v[i*group : (i+1)*group] {
			if takeAbs {
				x = math.Abs(x)
			}
			sum += x
		}
		out[i] = sum / float64(group)
	}
	return out
}

// Normalize divides every element by the L1 norm of v. A zero vector is
// returned when the norm is zero.
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	norm := floats.Norm(v, 1)
	if norm == 0 || math.IsNaN(norm) {
		return out
	}
	floats.ScaleTo(out, 1/norm, v)
	return out
}

// Distance is the sum of absolute differences between a and b. Vectors of
// different length are infinitely far apart.
func Distance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	if len(a) == 0 {
		return 0
	}
	return floats.Distance(a, b, 1)
}

// Similarity maps the L1 distance of the normalized vectors into [0,1], where
// 1 means identical spectral shape.
func Similarity(a, b []float64) float64 {
	d := Distance(Normalize(a), Normalize(b))
	if math.IsInf(d, 1) {
		return 0
	}
	return math.Max(0, 1-d/2)
}

// Mean returns the arithmetic mean of v, or zero for an empty slice.
func Mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Sum(v) / float64(len(v))
}
