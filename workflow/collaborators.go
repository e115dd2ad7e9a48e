package workflow

import (
	"context"
	"time"

	"punch-power/analytics"
)

// Point is one chart sample.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Chart series ids sent to the Presenter.
const (
	SeriesAcc   = "acc"
	SeriesSound = "sound"
	SeriesPower = "result"
)

// Presenter receives the scaled window contents once per tick.
type Presenter interface {
	Update(series map[string][]Point)
}

// Beep describes a reference tone.
type Beep struct {
	Volume    float64       `json:"volume"` // 0..1
	Duration  time.Duration `json:"duration"`
	Frequency float64       `json:"frequency"` // Hz
}

// DefaultBeep is the calibration reference tone.
var DefaultBeep = Beep{Volume: 0.5, Duration: 500 * time.Millisecond, Frequency: 2000}

// Prompter plays spoken and audible prompts. Both calls block until the prompt
// has finished or ctx is done.
type Prompter interface {
	Speak(ctx context.Context, text string) error
	Beep(ctx context.Context, b Beep) error
}

// Field names a display card.
type Field string

const (
	FieldStatus        Field = "status"
	FieldTime          Field = "time"
	FieldPunches       Field = "punches"
	FieldStrongPunches Field = "strong_punches"
	FieldWeakPunches   Field = "weak_punches"
	FieldAveragePower  Field = "average_power"
	FieldStrongPercent Field = "strong_percent"
)

// Display shows named text fields.
type Display interface {
	SetField(f Field, value string)
}

// Observer is notified from the session goroutine. Implementations must not
// block.
type Observer interface {
	OnPunch(p analytics.PunchEvent)
	OnState(s State)
}

type nopPresenter struct{}

func (nopPresenter) Update(map[string][]Point) {}

type nopDisplay struct{}

func (nopDisplay) SetField(Field, string) {}
