package vad

import (
	"time"

	"github.com/voicewire/duplex-go/pkg/engine"
	"github.com/voicewire/duplex-go/pkg/rtc"
)

// Activation computes a per-frame activation level in [0,1].
// The default is normalized RMS energy; a model-backed detector can
// substitute its probability output.
type Activation func(*rtc.AudioFrame) float64

// Options configures the energy tracker.
type Options struct {
	// SpeechThreshold is the activation level above which a frame counts
	// as speech.
	SpeechThreshold float64

	// MinSpeechDuration gates speech-end emission: a burst shorter than
	// this produces no event even though the state returns to Silent.
	MinSpeechDuration time.Duration

	// MinSilenceDuration is how long activation must stay below threshold
	// before a Speaking -> Silent transition.
	MinSilenceDuration time.Duration

	// Activation overrides the default RMS activation.
	Activation Activation
}

// DefaultOptions returns sensible defaults for 16kHz capture.
func DefaultOptions() Options {
	return Options{
		SpeechThreshold:    0.015,
		MinSpeechDuration:  300 * time.Millisecond,
		MinSilenceDuration: 500 * time.Millisecond,
	}
}

// EnergyTracker is the speech activity state machine. It is not safe for
// concurrent use; the session feeds it from a single audio-processing
// goroutine.
type EnergyTracker struct {
	opts  Options
	clock engine.Clock

	state          State
	speechStart    time.Time
	lastTransition time.Time
	silenceSince   time.Time
	haveSilence    bool
	lastActivation float64
}

// NewEnergyTracker creates a tracker with the given options and clock.
func NewEnergyTracker(opts Options, clock engine.Clock) *EnergyTracker {
	if opts.SpeechThreshold <= 0 {
		opts.SpeechThreshold = DefaultOptions().SpeechThreshold
	}
	if opts.MinSpeechDuration <= 0 {
		opts.MinSpeechDuration = DefaultOptions().MinSpeechDuration
	}
	if opts.MinSilenceDuration <= 0 {
		opts.MinSilenceDuration = DefaultOptions().MinSilenceDuration
	}
	if opts.Activation == nil {
		opts.Activation = func(f *rtc.AudioFrame) float64 { return f.RMS() }
	}
	if clock == nil {
		clock = engine.SystemClock()
	}
	return &EnergyTracker{opts: opts, clock: clock, state: StateSilent}
}

// OnFrame processes one capture frame and returns a transition event, or
// nil when the state did not change observably.
func (t *EnergyTracker) OnFrame(frame *rtc.AudioFrame) *Event {
	if frame == nil || len(frame.Data) == 0 {
		return nil
	}

	now := t.clock.Now()
	activation := t.opts.Activation(frame)
	t.lastActivation = activation
	voiced := activation > t.opts.SpeechThreshold

	switch t.state {
	case StateSilent:
		if !voiced {
			return nil
		}
		// Rising edge fires immediately, no debounce.
		t.state = StateSpeaking
		t.speechStart = now
		t.lastTransition = now
		t.haveSilence = false
		return &Event{Type: EventSpeechStart, Timestamp: now, Activation: activation}

	case StateSpeaking:
		if voiced {
			t.haveSilence = false
			return nil
		}
		if !t.haveSilence {
			t.haveSilence = true
			t.silenceSince = now
			return nil
		}
		if now.Sub(t.silenceSince) < t.opts.MinSilenceDuration {
			return nil
		}

		// Speaking duration excludes the trailing silence window.
		duration := t.silenceSince.Sub(t.speechStart)
		t.state = StateSilent
		t.lastTransition = now
		t.haveSilence = false

		// Bursts below the minimum return to Silent without an event; the
		// burst is treated as noise.
		if duration < t.opts.MinSpeechDuration {
			return nil
		}
		return &Event{Type: EventSpeechEnd, Timestamp: now, Duration: duration, Activation: activation}
	}

	return nil
}

// State returns the current speech state.
func (t *EnergyTracker) State() State {
	return t.state
}

// Speaking reports whether the tracker currently detects user speech.
func (t *EnergyTracker) Speaking() bool {
	return t.state == StateSpeaking
}

// SpeechStart returns when the current speech burst began. Zero when
// silent.
func (t *EnergyTracker) SpeechStart() time.Time {
	if t.state != StateSpeaking {
		return time.Time{}
	}
	return t.speechStart
}

// LastTransition returns the time of the most recent state change.
func (t *EnergyTracker) LastTransition() time.Time {
	return t.lastTransition
}

// LastActivation returns the activation level of the most recent frame.
func (t *EnergyTracker) LastActivation() float64 {
	return t.lastActivation
}
