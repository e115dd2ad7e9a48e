// Package prompt provides workflow.Prompter sinks. None of them produce audio
// locally: the log sink stands in for a speaker, the MQTT sink forwards prompts
// to the device that plays them. Both hold the caller for the prompt's
// expected duration so calibration arms only after the user heard it.
package prompt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"punch-power/clock"
	"punch-power/telemetry"
	"punch-power/workflow"
)

// WordDuration is the assumed speaking time per word.
const WordDuration = 350 * time.Millisecond

// SpeechDuration estimates how long text takes to say.
func SpeechDuration(text string) time.Duration {
	return time.Duration(len(strings.Fields(text))) * WordDuration
}

func wait(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Log writes prompts to the logger.
type Log struct {
	clock  clock.Clock
	logger *slog.Logger
}

func NewLog(clk clock.Clock, logger *slog.Logger) *Log {
	return &Log{clock: clk, logger: logger.With("component", "prompt")}
}

func (l *Log) Speak(ctx context.Context, text string) error {
	l.logger.Info("speak", "text", text)
	return wait(ctx, l.clock, SpeechDuration(text))
}

func (l *Log) Beep(ctx context.Context, b workflow.Beep) error {
	l.logger.Info("beep", "frequency", b.Frequency, "volume", b.Volume, "duration", b.Duration)
	return wait(ctx, l.clock, b.Duration)
}

// PromptPublisher sends prompt events to the broker.
type PromptPublisher interface {
	PublishPrompt(ctx context.Context, e telemetry.PromptEvent) error
}

// MQTT forwards prompts to the glove or a companion speaker over MQTT.
type MQTT struct {
	pub   PromptPublisher
	clock clock.Clock
}

func NewMQTT(pub PromptPublisher, clk clock.Clock) *MQTT {
	return &MQTT{pub: pub, clock: clk}
}

func (m *MQTT) Speak(ctx context.Context, text string) error {
	if err := m.pub.PublishPrompt(ctx, telemetry.PromptEvent{Type: "speak", Text: text}); err != nil {
		return err
	}
	return wait(ctx, m.clock, SpeechDuration(text))
}

func (m *MQTT) Beep(ctx context.Context, b workflow.Beep) error {
	if err := m.pub.PublishPrompt(ctx, telemetry.PromptEvent{Type: "beep", Beep: &b}); err != nil {
		return err
	}
	return wait(ctx, m.clock, b.Duration)
}

// Fanout plays each prompt on every sink at once and returns when all finish.
type Fanout []workflow.Prompter

func (f Fanout) Speak(ctx context.Context, text string) error {
	return f.each(func(p workflow.Prompter) error { return p.Speak(ctx, text) })
}

func (f Fanout) Beep(ctx context.Context, b workflow.Beep) error {
	return f.each(func(p workflow.Prompter) error { return p.Beep(ctx, b) })
}

func (f Fanout) each(fn func(workflow.Prompter) error) error {
	if len(f) == 1 {
		return fn(f[0])
	}
	errs := make([]error, len(f))
	var wg sync.WaitGroup
	for i, p := range f {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(p)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
