// Package cancel drives the playback scheduler's active audio through the
// action recommended by the interruption classifier: immediate stop,
// fade-and-listen, pause-with-acknowledgment, and the rest, producing a
// resumable cancellation result.
//
// Fades are cooperative, time-sliced tasks: a sequence of short volume
// steps scheduled on the engine clock, never a blocking loop on the audio
// path. A new interruption arriving mid-fade aborts the in-flight fade in
// place; there is exactly one active fade per source.
package cancel

import (
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/voicewire/duplex-go/pkg/engine"
	"github.com/voicewire/duplex-go/pkg/interrupt"
	"github.com/voicewire/duplex-go/pkg/lang"
)

const (
	// FadeSteps is the number of discrete volume steps in a fade. The
	// final step always forces the exact target volume to eliminate
	// floating-point residue.
	FadeSteps = 20

	// MinFadeDuration and MaxFadeDuration bound the configurable fade.
	// Out-of-range values are clamped, never rejected.
	MinFadeDuration = 50 * time.Millisecond
	MaxFadeDuration = 1000 * time.Millisecond

	// DefaultFadeDuration is used when no fade duration is configured.
	DefaultFadeDuration = 180 * time.Millisecond

	// finishThreshold is the remaining playback time under which
	// finish_and_listen lets the utterance complete.
	finishThreshold = 1000 * time.Millisecond
)

// Target is the active audio the controller drives. *playback.Scheduler
// satisfies it.
type Target interface {
	Speaking() bool
	Progress() float64
	Remaining() time.Duration
	SetVolume(v float64)
	Pause()
	ResetPosition()
}

// PartialText splits the utterance text at the cancellation point.
//
// The cut is floor(wordCount x progress): an approximation, since word
// count is not time-aligned with the synthesized audio. Callers should
// treat Spoken/Remaining as an estimate.
type PartialText struct {
	Spoken    []string
	Remaining []string
	Progress  float64
}

// Result reports how a cancellation was carried out.
type Result struct {
	Action      interrupt.Action
	Interrupted bool

	// CanResume marks whether playback can continue from ResumePoint.
	CanResume   bool
	ResumePoint float64

	// WillListenAfter is set when finish_and_listen lets the utterance
	// complete: the host should start listening after this long.
	WillListenAfter time.Duration

	// AckText is the acknowledgment phrase chosen for
	// pause_and_acknowledge.
	AckText string

	PartialText *PartialText
}

// Options configures a Controller.
type Options struct {
	Target       Target
	Clock        engine.Clock
	Logger       *slog.Logger
	Language     lang.Language
	FadeDuration time.Duration

	// Rand drives acknowledgment phrase selection. Inject a seeded source
	// for deterministic tests; nil uses a time-seeded one.
	Rand *rand.Rand

	// OnAck is invoked with the chosen acknowledgment phrase so the host
	// can synthesize and play it.
	OnAck func(text string)
}

// Controller executes cancellation actions against a Target.
type Controller struct {
	target   Target
	clock    engine.Clock
	logger   *slog.Logger
	language lang.Language
	fadeDur  time.Duration
	rng      *rand.Rand
	onAck    func(string)

	mu         sync.Mutex
	activeFade *fade
	closed     bool
}

// NewController creates a controller. The fade duration is clamped to
// [MinFadeDuration, MaxFadeDuration].
func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = engine.SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Language == "" {
		opts.Language = lang.English
	}
	if opts.FadeDuration == 0 {
		opts.FadeDuration = DefaultFadeDuration
	}
	opts.FadeDuration = clampFade(opts.FadeDuration)
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Controller{
		target:   opts.Target,
		clock:    opts.Clock,
		logger:   opts.Logger,
		language: opts.Language,
		fadeDur:  opts.FadeDuration,
		rng:      opts.Rand,
		onAck:    opts.OnAck,
	}
}

func clampFade(d time.Duration) time.Duration {
	if d < MinFadeDuration {
		return MinFadeDuration
	}
	if d > MaxFadeDuration {
		return MaxFadeDuration
	}
	return d
}

// Apply executes the recommended action for a classified interruption.
// utteranceText, when known, is the full text of the playing utterance
// used for partial-text extraction. Apply with no active playback is a
// no-op returning an uninterrupted result.
func (c *Controller) Apply(ev *interrupt.Event, utteranceText string) *Result {
	if ev == nil {
		return &Result{Interrupted: false}
	}
	res := &Result{Action: ev.Action}

	if ev.Action == interrupt.ActionIgnore {
		return res
	}
	if c.target == nil || !c.target.Speaking() {
		return res
	}

	progress := c.target.Progress()
	if utteranceText != "" {
		res.PartialText = splitAtProgress(utteranceText, progress)
	}

	switch ev.Action {
	case interrupt.ActionStopImmediately:
		res.Interrupted = true
		c.startFade(50*time.Millisecond, func() {
			c.target.Pause()
			c.target.ResetPosition()
		})

	case interrupt.ActionFadeOutAndListen:
		res.Interrupted = true
		res.CanResume = true
		res.ResumePoint = progress
		c.startFade(c.fadeDur, c.target.Pause)

	case interrupt.ActionPauseAndAcknowledge:
		res.Interrupted = true
		res.CanResume = true
		res.ResumePoint = progress
		res.AckText = c.pickAck(ev.Type)
		ack := res.AckText
		c.startFade(100*time.Millisecond, func() {
			c.target.Pause()
			if c.onAck != nil && ack != "" {
				c.onAck(ack)
			}
		})

	case interrupt.ActionStopAndListen:
		res.Interrupted = true
		c.startFade(100*time.Millisecond, func() {
			c.target.Pause()
			c.target.ResetPosition()
		})

	case interrupt.ActionFinishAndListen:
		remaining := c.target.Remaining()
		if remaining < finishThreshold {
			// Close enough to the end: let it finish and listen after.
			res.Interrupted = false
			res.WillListenAfter = remaining
			c.logger.Debug("letting utterance finish",
				slog.Duration("remaining", remaining))
		} else {
			res.Action = interrupt.ActionFadeOutAndListen
			res.Interrupted = true
			res.CanResume = true
			res.ResumePoint = progress
			c.startFade(c.fadeDur, c.target.Pause)
		}
	}

	return res
}

// Close aborts any in-flight fade.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.activeFade != nil {
		c.activeFade.abort()
		c.activeFade = nil
	}
}

// pickAck selects a random acknowledgment phrase for the interruption
// type, falling back through English to the generic clarification set.
func (c *Controller) pickAck(t interrupt.Type) string {
	phrases := lang.AckPhrases(c.language, t.String())
	if len(phrases) == 0 {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return phrases[c.rng.Intn(len(phrases))]
}

// startFade begins a linear volume ramp to zero, aborting any fade already
// in flight (last-writer-wins). onDone runs once after the final step.
func (c *Controller) startFade(d time.Duration, onDone func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.activeFade != nil {
		c.activeFade.abort()
	}
	f := &fade{
		ctrl:    c,
		stepDur: d / FadeSteps,
		delta:   1.0 / FadeSteps,
		onDone:  onDone,
	}
	c.activeFade = f
	c.mu.Unlock()

	f.timerMu.Lock()
	f.timer = c.clock.AfterFunc(f.stepDur, f.step)
	f.timerMu.Unlock()
}

// fade is one cooperative volume ramp. Steps run on the engine clock so
// the audio-processing context is never blocked.
type fade struct {
	ctrl    *Controller
	stepDur time.Duration
	delta   float64
	onDone  func()

	timerMu sync.Mutex
	timer   engine.Timer
	i       int
	aborted bool
}

func (f *fade) step() {
	f.timerMu.Lock()
	if f.aborted {
		f.timerMu.Unlock()
		return
	}
	f.i++
	last := f.i >= FadeSteps
	vol := 1.0 - f.delta*float64(f.i)
	if !last {
		f.timer = f.ctrl.clock.AfterFunc(f.stepDur, f.step)
	}
	f.timerMu.Unlock()

	if last {
		// Force the exact target on the final step.
		f.ctrl.target.SetVolume(0)
		f.ctrl.mu.Lock()
		if f.ctrl.activeFade == f {
			f.ctrl.activeFade = nil
		}
		f.ctrl.mu.Unlock()
		if f.onDone != nil {
			f.onDone()
		}
		return
	}
	f.ctrl.target.SetVolume(vol)
}

// abort cancels the fade in place. The superseding action owns the source
// from here; volume is left wherever the last step put it.
func (f *fade) abort() {
	f.timerMu.Lock()
	defer f.timerMu.Unlock()
	f.aborted = true
	if f.timer != nil {
		f.timer.Stop()
	}
}

// splitAtProgress cuts the utterance text at floor(wordCount x progress).
func splitAtProgress(text string, progress float64) *PartialText {
	words := strings.Fields(text)
	cut := int(float64(len(words)) * progress)
	if cut < 0 {
		cut = 0
	}
	if cut > len(words) {
		cut = len(words)
	}
	return &PartialText{
		Spoken:    words[:cut],
		Remaining: words[cut:],
		Progress:  progress,
	}
}
