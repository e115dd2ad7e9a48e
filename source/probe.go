package source

import (
	"context"
	"fmt"
	"time"

	"punch-power/clock"
)

const streamBuffer = 64

// ConnectTimeout bounds how long Probe waits for a Connector to reach its
// device before the probe timeout starts.
const ConnectTimeout = 15 * time.Second

// Connector is a Source that has to connect to the glove before readings flow.
type Connector interface {
	Source
	WaitConnected(ctx context.Context) bool
}

// Stream is a running source.
type Stream struct {
	Source   Source
	Readings <-chan Reading
	// Done yields the Run error once the source stops.
	Done   <-chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// Stop cancels the source.
func (s *Stream) Stop() { s.cancel() }

// Start runs src in the background.
func Start(ctx context.Context, src Source) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Reading, streamBuffer)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()
	return &Stream{Source: src, Readings: out, Done: done, ctx: ctx, cancel: cancel}
}

// Probe starts hw and waits up to timeout for a reading that carries
// acceleration. For a Connector the timeout starts once it is connected. On
// success the stream keeps running; otherwise hw is stopped and an error
// wrapping ErrNoSensor is returned.
func Probe(ctx context.Context, hw Source, timeout time.Duration, clk clock.Clock) (*Stream, error) {
	s := Start(ctx, hw)
	var (
		expired   <-chan time.Time
		connected <-chan bool
	)
	if c, ok := hw.(Connector); ok {
		ch := make(chan bool, 1)
		go func() { ch <- c.WaitConnected(s.ctx) }()
		connected, expired = ch, clk.After(ConnectTimeout)
	} else {
		expired = clk.After(timeout)
	}
	for {
		select {
		case ok := <-connected:
			connected = nil
			if ok {
				expired = clk.After(timeout)
			}
		case r := <-s.Readings:
			if r.OK {
				return s, nil
			}
		case err := <-s.Done:
			s.Stop()
			return nil, fmt.Errorf("%w: %s: %v", ErrNoSensor, hw.Name(), err)
		case <-expired:
			s.Stop()
			<-s.Done
			if connected != nil {
				return nil, fmt.Errorf("%w: %s not connected within %s", ErrNoSensor, hw.Name(), ConnectTimeout)
			}
			return nil, fmt.Errorf("%w: %s silent for %s", ErrNoSensor, hw.Name(), timeout)
		case <-ctx.Done():
			s.Stop()
			return nil, ctx.Err()
		}
	}
}
