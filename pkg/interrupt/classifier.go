// Package interrupt classifies detected user speech during assistant
// playback into a typed, confidence-scored interruption decision with a
// recommended action.
//
// Classification must make an irrevocable call within tens of milliseconds
// under partial information: the transcript may be empty or stale, and the
// only other signals are burst energy and playback timing.
package interrupt

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/duplex-go/pkg/engine"
	"github.com/voicewire/duplex-go/pkg/lang"
)

// Type is the classified interruption kind.
type Type int

const (
	TypeUrgent Type = iota
	TypeClarification
	TypeCorrection
	TypeBargeIn
	TypeAccidental
)

func (t Type) String() string {
	switch t {
	case TypeUrgent:
		return "urgent"
	case TypeClarification:
		return "clarification"
	case TypeCorrection:
		return "correction"
	case TypeBargeIn:
		return "barge_in"
	case TypeAccidental:
		return "accidental"
	default:
		return "unknown"
	}
}

// Action is the recommended handling for an interruption.
type Action int

const (
	ActionStopImmediately Action = iota
	ActionFadeOutAndListen
	ActionPauseAndAcknowledge
	ActionStopAndListen
	ActionFinishAndListen
	ActionIgnore
)

func (a Action) String() string {
	switch a {
	case ActionStopImmediately:
		return "stop_immediately"
	case ActionFadeOutAndListen:
		return "fade_out_and_listen"
	case ActionPauseAndAcknowledge:
		return "pause_and_acknowledge"
	case ActionStopAndListen:
		return "stop_and_listen"
	case ActionFinishAndListen:
		return "finish_and_listen"
	case ActionIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// Event is one classified interruption. Events are immutable after
// creation and appended to a capped rolling history.
type Event struct {
	Timestamp                 time.Time
	AssistantSpeakingDuration time.Duration
	PlaybackProgress          float64
	Type                      Type
	Confidence                float64
	Action                    Action
	PartialText               string
}

// Trigger carries the signals that accompany a detected speech burst.
type Trigger struct {
	Timestamp         time.Time
	AudioIntensity    float64       // activation level of the burst, [0,1]
	BurstDuration     time.Duration // how long the burst has lasted
	PartialTranscript string        // possibly empty
}

// AssistantState is the playback scheduler's view at classification time.
type AssistantState struct {
	Speaking         bool
	SpeakingDuration time.Duration
	Progress         float64 // [0,1]
}

const (
	// DefaultDebounce is the hard floor between classifications. A second
	// trigger inside the window is silently dropped, not low-confidence.
	DefaultDebounce = 200 * time.Millisecond

	// DefaultHistorySize caps the rolling interruption history.
	DefaultHistorySize = 10

	// MinBurstDuration is the floor below which a burst cannot carry
	// deliberate intent; shorter triggers classify as accidental. Callers
	// that classify repeatedly during an ongoing burst should wait this
	// long before the first call, so the burst duration is meaningful.
	MinBurstDuration = 100 * time.Millisecond

	accidentalIntensity = 0.01
)

// Options configures a Classifier.
type Options struct {
	Debounce    time.Duration
	Language    lang.Language
	HistorySize int
	Clock       engine.Clock
	Logger      *slog.Logger
}

// Classifier turns speech triggers into interruption decisions.
type Classifier struct {
	debounce time.Duration
	language lang.Language
	registry *lang.Registry
	clock    engine.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	lastAt  time.Time
	history []*Event
	count   int
	histCap int
}

// NewClassifier creates a classifier. The debounce floor is never lowered
// below DefaultDebounce.
func NewClassifier(opts Options) *Classifier {
	if opts.Debounce < DefaultDebounce {
		opts.Debounce = DefaultDebounce
	}
	if opts.Language == "" {
		opts.Language = lang.English
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Clock == nil {
		opts.Clock = engine.SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Classifier{
		debounce: opts.Debounce,
		language: opts.Language,
		registry: lang.Default(),
		clock:    opts.Clock,
		logger:   opts.Logger,
		histCap:  opts.HistorySize,
	}
}

// Classify produces an interruption decision for a speech trigger, or nil
// when the trigger is short-circuited: the assistant is not speaking, or
// the debounce window swallows it.
func (c *Classifier) Classify(trig Trigger, assistant AssistantState) *Event {
	// An interruption needs something to interrupt.
	if !assistant.Speaking {
		return nil
	}

	now := c.clock.Now()

	c.mu.Lock()
	if !c.lastAt.IsZero() && now.Sub(c.lastAt) < c.debounce {
		// Silent drop: nothing logged, nothing recorded.
		c.mu.Unlock()
		return nil
	}
	c.lastAt = now
	c.mu.Unlock()

	ev := &Event{
		Timestamp:                 now,
		AssistantSpeakingDuration: assistant.SpeakingDuration,
		PlaybackProgress:          assistant.Progress,
		PartialText:               trig.PartialTranscript,
	}

	if trig.AudioIntensity < accidentalIntensity || trig.BurstDuration < MinBurstDuration {
		ev.Type = TypeAccidental
		ev.Confidence = 0.3
		ev.Action = ActionIgnore
		c.logger.Debug("accidental trigger ignored",
			slog.Float64("intensity", trig.AudioIntensity),
			slog.Duration("burst", trig.BurstDuration))
		c.record(ev)
		return ev
	}

	c.classifyIntent(ev, trig, assistant)
	c.record(ev)

	c.logger.Info("interruption classified",
		slog.String("type", ev.Type.String()),
		slog.String("action", ev.Action.String()),
		slog.Float64("confidence", ev.Confidence),
		slog.Float64("progress", ev.PlaybackProgress))
	return ev
}

// classifyIntent fills in type, action and confidence. Keyword matches win
// over timing; the timing fallback is exhaustive over [0,1].
func (c *Classifier) classifyIntent(ev *Event, trig Trigger, assistant AssistantState) {
	text := trig.PartialTranscript

	switch {
	case c.registry.Match(c.language, lang.KeywordUrgency, text):
		ev.Type = TypeUrgent
		ev.Action = ActionStopImmediately
		ev.Confidence = 0.95
	case c.registry.Match(c.language, lang.KeywordClarification, text):
		ev.Type = TypeClarification
		ev.Action = ActionPauseAndAcknowledge
		ev.Confidence = 0.85
	case c.registry.Match(c.language, lang.KeywordCorrection, text):
		ev.Type = TypeCorrection
		ev.Action = ActionStopAndListen
		ev.Confidence = 0.90
	case assistant.Progress < 0.3:
		// Interrupting this early usually means the whole response is
		// off-target.
		ev.Type = TypeUrgent
		ev.Action = ActionStopImmediately
		ev.Confidence = 0.70
	case assistant.Progress < 0.7:
		ev.Type = TypeBargeIn
		ev.Action = ActionFadeOutAndListen
		ev.Confidence = 0.75
	case trig.AudioIntensity > 0.6:
		ev.Type = TypeBargeIn
		ev.Action = ActionFadeOutAndListen
		ev.Confidence = 0.80
	default:
		ev.Type = TypeBargeIn
		ev.Action = ActionFinishAndListen
		ev.Confidence = 0.50
	}
}

// record appends to the capped rolling history and bumps the session
// counter.
func (c *Classifier) record(ev *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, ev)
	if len(c.history) > c.histCap {
		c.history = c.history[len(c.history)-c.histCap:]
	}
	c.count++
}

// History returns a copy of the rolling interruption history, oldest
// first.
func (c *Classifier) History() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Event, len(c.history))
	copy(out, c.history)
	return out
}

// Count returns the total classifications this session, including those
// evicted from the rolling history.
func (c *Classifier) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
