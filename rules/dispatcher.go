// Package rules implements the prioritised event dispatcher that sequences the
// training workflow.
package rules

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Result tells the dispatcher how to continue after a handler ran.
type Result int

const (
	// Pass lets the remaining matching handlers of the trigger run.
	Pass Result = iota
	// Handled stops the current trigger.
	Handled
	// Abort stops the current trigger and drops the rest of the batch.
	Abort
)

// Params carries trigger arguments to handlers.
type Params map[string]any

// Handler reacts to a trigger.
type Handler func(id string, params Params) Result

type rule struct {
	id       string
	priority int
	seq      int
	handler  Handler
}

// Pattern selects rule ids. Build one with Match or Regexp.
type Pattern struct {
	re *regexp.Regexp
}

// Match compiles s as a case-insensitive regular expression matched anywhere
// in the id. An invalid expression yields a pattern that matches nothing.
func Match(s string) Pattern {
	re, err := regexp.Compile("(?i)" + s)
	if err != nil {
		return Pattern{}
	}
	return Pattern{re: re}
}

// Exact matches one id literally.
func Exact(id string) Pattern {
	return Pattern{re: regexp.MustCompile("^" + regexp.QuoteMeta(id) + "$")}
}

// Regexp wraps a compiled expression.
func Regexp(re *regexp.Regexp) Pattern { return Pattern{re: re} }

func (p Pattern) matches(id string) bool {
	return p.re != nil && p.re.MatchString(id)
}

func (p Pattern) String() string {
	if p.re == nil {
		return "<invalid>"
	}
	return p.re.String()
}

// Trigger is a queued dispatch request.
type Trigger struct {
	Include []Pattern // nil matches every rule
	Exclude []Pattern
	Params  Params
}

func (t Trigger) selects(id string) bool {
	for _, p := range t.Exclude {
		if p.matches(id) {
			return false
		}
	}
	if t.Include == nil {
		return true
	}
	for _, p := range t.Include {
		if p.matches(id) {
			return true
		}
	}
	return false
}

func (t Trigger) describe() string {
	if t.Include == nil {
		return "*"
	}
	parts := make([]string, len(t.Include))
	for i, p := range t.Include {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}

// Dispatcher runs registered handlers for queued triggers. It is owned by a
// single goroutine and not safe for concurrent use.
type Dispatcher struct {
	rules  []rule
	queue  []Trigger
	seq    int
	logger *slog.Logger
}

// New creates an empty Dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger.With("component", "rules")}
}

// Register adds a handler. Higher priorities run first; equal priorities run in
// registration order.
func (d *Dispatcher) Register(id string, h Handler, priority int) {
	d.seq++
	d.rules = append(d.rules, rule{id: id, priority: priority, seq: d.seq, handler: h})
	sort.SliceStable(d.rules, func(i, j int) bool {
		if d.rules[i].priority != d.rules[j].priority {
			return d.rules[i].priority > d.rules[j].priority
		}
		return d.rules[i].seq < d.rules[j].seq
	})
}

// Unregister removes every handler registered under id.
func (d *Dispatcher) Unregister(id string) {
	kept := d.rules[:0]
	for _, r := range d.rules {
		if r.id != id {
			kept = append(kept, r)
		}
	}
	d.rules = kept
}

// IDs returns the registered ids in firing order.
func (d *Dispatcher) IDs() []string {
	ids := make([]string, len(d.rules))
	for i, r := range d.rules {
		ids[i] = r.id
	}
	return ids
}

// Trigger queues a dispatch. Nothing runs until Flush or Drain.
func (d *Dispatcher) Trigger(include, exclude []Pattern, params Params) {
	d.queue = append(d.queue, Trigger{Include: include, Exclude: exclude, Params: params})
}

// Fire queues a trigger for the given exact ids.
func (d *Dispatcher) Fire(params Params, ids ...string) {
	include := make([]Pattern, len(ids))
	for i, id := range ids {
		include[i] = Exact(id)
	}
	d.Trigger(include, nil, params)
}

// Pending reports the number of queued triggers.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Flush runs the triggers queued so far in enqueue order. Triggers queued by
// handlers during the flush are left for the next batch. It reports whether
// the batch was aborted.
func (d *Dispatcher) Flush() bool {
	batch := d.queue
	d.queue = nil
	for i, t := range batch {
		if d.run(t) == Abort {
			d.logger.Debug("batch aborted", "trigger", t.describe(), "dropped", len(batch)-i-1)
			return true
		}
	}
	return false
}

// Drain flushes batches until nothing is queued.
func (d *Dispatcher) Drain() {
	for len(d.queue) > 0 {
		d.Flush()
	}
}

func (d *Dispatcher) run(t Trigger) Result {
	// Handlers may register or unregister rules; scan a stable copy.
	rules := append([]rule(nil), d.rules...)
	for _, r := range rules {
		if !t.selects(r.id) {
			continue
		}
		switch res := r.handler(r.id, t.Params); res {
		case Handled, Abort:
			d.logger.Debug("trigger stopped", "trigger", t.describe(), "rule", r.id, "abort", res == Abort)
			return res
		}
	}
	return Pass
}
