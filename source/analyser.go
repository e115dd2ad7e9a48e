package source

import (
	"fmt"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"punch-power/dsp"
)

// Analyser turns microphone frames into a decimated magnitude spectrum. Feed
// and Snapshot may be called from different goroutines.
type Analyser struct {
	size  int
	group int
	fft   *fourier.FFT

	mu     sync.Mutex
	buf    []float64 // last size samples, oldest first
	coeffs []complex128
	latest []float64
}

// NewAnalyser creates an analyser with an FFT of size samples; size/2 bins are
// averaged in runs of group.
func NewAnalyser(size, group int) (*Analyser, error) {
	if size < 2 || size%2 != 0 {
		return nil, fmt.Errorf("fft size %d must be even and at least 2", size)
	}
	if group < 1 {
		group = 1
	}
	return &Analyser{
		size:   size,
		group:  group,
		fft:    fourier.NewFFT(size),
		buf:    make([]float64, size),
		coeffs: make([]complex128, size/2+1),
		latest: make([]float64, (size/2)/group),
	}, nil
}

// Bins returns the length of a snapshot.
func (a *Analyser) Bins() int { return (a.size / 2) / a.group }

// Feed appends samples and recomputes the spectrum over the newest window.
func (a *Analyser) Feed(pcm []float64) {
	if len(pcm) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(pcm) >= a.size {
		copy(a.buf, pcm[len(pcm)-a.size:])
	} else {
		copy(a.buf, a.buf[len(pcm):])
		copy(a.buf[a.size-len(pcm):], pcm)
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, a.buf)
	mags := make([]float64, a.size/2)
	for i := range mags {
		mags[i] = cmplx.Abs(a.coeffs[i]) / float64(a.size)
	}
	a.latest = dsp.GroupAverage(mags, a.group, true)
}

// Snapshot returns a copy of the latest spectrum.
func (a *Analyser) Snapshot() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.latest...)
}
