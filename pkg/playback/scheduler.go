// Package playback owns the single timeline of outbound assistant audio.
// Arriving chunks are scheduled against a monotonic next-play time so that
// back-to-back chunks play gaplessly; a stale timeline (gap above the
// threshold) is reset rather than queued, trading a small audible
// discontinuity for freshness.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/duplex-go/pkg/engine"
	"github.com/voicewire/duplex-go/pkg/rtc"
)

const (
	// DefaultGapThreshold is the arrival gap beyond which the timeline is
	// considered unrecoverable and reset to now.
	DefaultGapThreshold = 100 * time.Millisecond

	// DefaultEndCheckEpsilon pads the deferred end-of-utterance check past
	// the last chunk's scheduled end.
	DefaultEndCheckEpsilon = 200 * time.Millisecond
)

// Sink is the output device path consuming scheduled assistant audio.
// Implementations must not block; device errors are handled inside the
// adapter and surfaced as error events, not returned here.
type Sink interface {
	// Play schedules a chunk to begin at the given time.
	Play(chunk *rtc.AudioChunk, at time.Time)

	// SetVolume sets the output volume in [0,1].
	SetVolume(v float64)

	// Pause halts output at the current position.
	Pause()

	// Stop halts output and discards any scheduled audio.
	Stop()
}

// NopSink discards all audio. Useful for headless and degraded no-audio
// sessions.
type NopSink struct{}

func (NopSink) Play(*rtc.AudioChunk, time.Time) {}
func (NopSink) SetVolume(float64)               {}
func (NopSink) Pause()                          {}
func (NopSink) Stop()                           {}

// Events allows the host to react to assistant speaking transitions.
type Events struct {
	// OnSpeechStart fires when the first chunk of an utterance is
	// scheduled.
	OnSpeechStart func(ts time.Time)

	// OnSpeechEnd fires when the deferred check confirms no further chunk
	// extended the timeline, or when playback is paused by a cancellation.
	OnSpeechEnd func(ts time.Time, spoke time.Duration)
}

// Options configures a Scheduler.
type Options struct {
	Sink            Sink
	Clock           engine.Clock
	Logger          *slog.Logger
	Events          Events
	GapThreshold    time.Duration
	EndCheckEpsilon time.Duration
}

// Scheduler schedules assistant audio chunks on a single monotonic
// timeline. The timeline is single-writer state: the mutex is held only
// across the read-modify-write of the timeline, never across audio
// transfer.
type Scheduler struct {
	sink    Sink
	clock   engine.Clock
	logger  *slog.Logger
	events  Events
	gap     time.Duration
	epsilon time.Duration

	mu             sync.Mutex
	nextPlayTime   time.Time
	speaking       bool
	utteranceStart time.Time
	scheduled      time.Duration // total scheduled this utterance
	volume         float64
	endTimer       engine.Timer
	closed         bool
}

// NewScheduler creates a scheduler. A nil sink discards audio.
func NewScheduler(opts Options) *Scheduler {
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Clock == nil {
		opts.Clock = engine.SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.GapThreshold <= 0 {
		opts.GapThreshold = DefaultGapThreshold
	}
	if opts.EndCheckEpsilon <= 0 {
		opts.EndCheckEpsilon = DefaultEndCheckEpsilon
	}
	return &Scheduler{
		sink:    opts.Sink,
		clock:   opts.Clock,
		logger:  opts.Logger,
		events:  opts.Events,
		gap:     opts.GapThreshold,
		epsilon: opts.EndCheckEpsilon,
		volume:  1.0,
	}
}

// Enqueue schedules a chunk against the timeline and returns its scheduled
// start time. Enqueue on a closed scheduler is a no-op returning the zero
// time, not an error.
func (s *Scheduler) Enqueue(chunk *rtc.AudioChunk) time.Time {
	if chunk == nil || chunk.IsEmpty() {
		return time.Time{}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return time.Time{}
	}

	now := s.clock.Now()
	firstOfUtterance := !s.speaking

	// A gap beyond the threshold means the timeline is stale; prefer a
	// small discontinuity over queueing against an out-of-date deadline.
	if now.After(s.nextPlayTime.Add(s.gap)) {
		if !s.nextPlayTime.IsZero() && s.speaking {
			s.logger.Debug("playback gap reset",
				slog.Duration("gap", now.Sub(s.nextPlayTime)))
		}
		s.nextPlayTime = now
	}

	start := s.nextPlayTime
	if now.After(start) {
		start = now
	}
	s.nextPlayTime = start.Add(chunk.Duration())
	s.scheduled += chunk.Duration()

	if firstOfUtterance {
		s.speaking = true
		s.utteranceStart = now
		s.scheduled = chunk.Duration()
		s.volume = 1.0
	}

	// Re-arm the single deferred end-of-utterance check.
	if s.endTimer != nil {
		s.endTimer.Stop()
	}
	s.endTimer = s.clock.AfterFunc(s.nextPlayTime.Sub(now)+s.epsilon, s.checkUtteranceEnd)
	s.mu.Unlock()

	// Audio transfer happens outside the timeline lock.
	if firstOfUtterance {
		s.sink.SetVolume(1.0)
		if s.events.OnSpeechStart != nil {
			s.events.OnSpeechStart(now)
		}
	}
	s.sink.Play(chunk, start)
	return start
}

// checkUtteranceEnd fires after the last scheduled chunk plus epsilon. If
// no later enqueue pushed the timeline further, the utterance is over.
func (s *Scheduler) checkUtteranceEnd() {
	s.mu.Lock()
	if s.closed || !s.speaking {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	if now.Before(s.nextPlayTime) {
		// A later enqueue extended the timeline; its own timer will
		// re-check.
		s.mu.Unlock()
		return
	}
	s.speaking = false
	spoke := now.Sub(s.utteranceStart)
	s.mu.Unlock()

	if s.events.OnSpeechEnd != nil {
		s.events.OnSpeechEnd(now, spoke)
	}
}

// Speaking reports whether an assistant utterance is in flight.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// SpeakingDuration returns how long the current utterance has been
// playing. Zero when idle.
func (s *Scheduler) SpeakingDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.speaking {
		return 0
	}
	return s.clock.Now().Sub(s.utteranceStart)
}

// Progress returns elapsed playback over total scheduled so far, in [0,1].
func (s *Scheduler) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.speaking || s.scheduled <= 0 {
		return 0
	}
	p := float64(s.clock.Now().Sub(s.utteranceStart)) / float64(s.scheduled)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Remaining returns the scheduled playback time left, zero when idle.
func (s *Scheduler) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.speaking {
		return 0
	}
	left := s.nextPlayTime.Sub(s.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// ScheduledDuration returns the total duration scheduled for the current
// utterance.
func (s *Scheduler) ScheduledDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

// Volume returns the current output volume.
func (s *Scheduler) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// SetVolume forwards a volume change to the sink.
func (s *Scheduler) SetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.volume = v
	s.mu.Unlock()
	s.sink.SetVolume(v)
}

// Pause halts the active utterance at its current position and emits
// assistant-speech-end. Pause with no active playback is a no-op.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if s.closed || !s.speaking {
		s.mu.Unlock()
		return
	}
	if s.endTimer != nil {
		s.endTimer.Stop()
		s.endTimer = nil
	}
	s.speaking = false
	now := s.clock.Now()
	spoke := now.Sub(s.utteranceStart)
	s.nextPlayTime = now
	s.mu.Unlock()

	s.sink.Pause()
	if s.events.OnSpeechEnd != nil {
		s.events.OnSpeechEnd(now, spoke)
	}
}

// ResetPosition discards the active utterance entirely, returning the
// source position to the start.
func (s *Scheduler) ResetPosition() {
	s.mu.Lock()
	closed := s.closed
	s.nextPlayTime = time.Time{}
	s.scheduled = 0
	s.mu.Unlock()

	if !closed {
		s.sink.Stop()
	}
}

// Close tears the scheduler down. Subsequent Enqueue calls are no-ops.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.endTimer != nil {
		s.endTimer.Stop()
		s.endTimer = nil
	}
	s.speaking = false
	s.mu.Unlock()

	s.sink.Stop()
}
