package workflow

import (
	"context"
)

type promptStep struct {
	text string
	beep *Beep
}

func speak(text string) promptStep { return promptStep{text: text} }
func beep(b Beep) promptStep       { return promptStep{beep: &b} }

// promptJob is a prompt sequence. then runs on the session goroutine after the
// sequence completes, unless the phase changed in the meantime.
type promptJob struct {
	gen   uint64
	steps []promptStep
	then  func()
}

// prompt queues steps without blocking ingestion.
func (s *Session) prompt(then func(), steps ...promptStep) {
	job := promptJob{gen: s.gen, steps: steps, then: then}
	select {
	case s.prompts <- job:
	default:
		s.logger.Warn("prompt queue full, prompt dropped", "steps", len(steps))
		if then != nil {
			then()
		}
	}
}

func (s *Session) say(text string) {
	s.prompt(nil, speak(text))
}

// fire returns a continuation that triggers id.
func (s *Session) fire(id string) func() {
	return func() { s.rules.Fire(nil, id) }
}

// runPrompts plays queued prompts in order and posts their continuations back
// to the session loop.
func (s *Session) runPrompts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.prompts:
			s.play(ctx, job)
			if job.then == nil {
				continue
			}
			if err := s.post(ctx, func() { s.resume(job.gen, job.then) }); err != nil {
				return
			}
		}
	}
}

func (s *Session) play(ctx context.Context, job promptJob) {
	for _, step := range job.steps {
		var err error
		if step.beep != nil {
			err = s.prompter.Beep(ctx, *step.beep)
		} else {
			err = s.prompter.Speak(ctx, step.text)
		}
		if err != nil {
			s.logger.Warn("prompt failed", "text", step.text, "error", err)
		}
	}
}

// resume runs a continuation if its phase is still current.
func (s *Session) resume(gen uint64, then func()) {
	if gen != s.gen {
		s.logger.Debug("stale prompt continuation dropped", "gen", gen, "current", s.gen)
		return
	}
	then()
}
