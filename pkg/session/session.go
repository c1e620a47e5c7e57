// Package session assembles the duplex engine: speech activity tracking,
// playback scheduling, interruption classification, cancellation and
// quality monitoring, one instance of each per session. Components never
// cross session boundaries.
//
// Cross-component communication is asynchronous, best-effort event
// delivery. If the host does not drain Events(), new events are dropped
// rather than queued without bound.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicewire/duplex-go/pkg/cancel"
	"github.com/voicewire/duplex-go/pkg/engine"
	"github.com/voicewire/duplex-go/pkg/interrupt"
	"github.com/voicewire/duplex-go/pkg/lang"
	"github.com/voicewire/duplex-go/pkg/playback"
	"github.com/voicewire/duplex-go/pkg/quality"
	"github.com/voicewire/duplex-go/pkg/rtc"
	"github.com/voicewire/duplex-go/pkg/stt"
	"github.com/voicewire/duplex-go/pkg/vad"
)

const (
	// silenceCheckInterval drives the periodic long-pause evaluation.
	silenceCheckInterval = 500 * time.Millisecond

	// burstFrameCap bounds the buffered speech burst (3 s of 10 ms
	// frames).
	burstFrameCap = 300

	defaultEventBuffer = 32
)

// Config is the recognized tuning surface. Out-of-range values are
// clamped by the components, never rejected.
type Config struct {
	SpeechThreshold      float64
	MinSpeechDuration    time.Duration
	MinSilenceDuration   time.Duration
	InterruptionDebounce time.Duration
	FadeOutDuration      time.Duration
	PauseThreshold       time.Duration
	SilenceThreshold     time.Duration
	NoiseRatio           float64
	Language             lang.Language
}

// Options configures a Session.
type Options struct {
	Config      Config
	Sink        playback.Sink
	Transcriber stt.Transcriber
	Activation  vad.Activation
	Clock       engine.Clock
	Logger      *slog.Logger
	Rand        *rand.Rand
	EventBuffer int
}

// Session owns one conversation's engine components.
//
// PushFrame must be called from a single goroutine, the audio-processing
// context. All other methods are safe for concurrent use.
type Session struct {
	id       string
	clock    engine.Clock
	logger   *slog.Logger
	language lang.Language

	tracker     *vad.EnergyTracker
	scheduler   *playback.Scheduler
	classifier  *interrupt.Classifier
	controller  *cancel.Controller
	monitor     *quality.Monitor
	transcriber stt.Transcriber

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	burst         []*rtc.AudioFrame
	partial       string
	utteranceText string
	closed        bool

	silenceTimer engine.Timer
}

// New creates a session and starts its periodic silence check.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = engine.SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Transcriber == nil {
		opts.Transcriber = stt.Nop{}
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}

	id := uuid.NewString()
	logger := opts.Logger.With(slog.String("session_id", id))
	ctx, cancelFn := context.WithCancel(context.Background())

	language := opts.Config.Language
	if language == "" {
		language = lang.English
	}

	s := &Session{
		id:          id,
		clock:       opts.Clock,
		logger:      logger,
		language:    language,
		transcriber: opts.Transcriber,
		events:      make(chan Event, opts.EventBuffer),
		ctx:         ctx,
		cancel:      cancelFn,
	}

	s.tracker = vad.NewEnergyTracker(vad.Options{
		SpeechThreshold:    opts.Config.SpeechThreshold,
		MinSpeechDuration:  opts.Config.MinSpeechDuration,
		MinSilenceDuration: opts.Config.MinSilenceDuration,
		Activation:         opts.Activation,
	}, opts.Clock)

	s.scheduler = playback.NewScheduler(playback.Options{
		Sink:   opts.Sink,
		Clock:  opts.Clock,
		Logger: logger,
		Events: playback.Events{
			OnSpeechStart: func(ts time.Time) {
				s.emit(Event{Type: EventAssistantSpeechStart, Timestamp: ts})
			},
			OnSpeechEnd: func(ts time.Time, spoke time.Duration) {
				s.emit(Event{Type: EventAssistantSpeechEnd, Timestamp: ts, Duration: spoke})
			},
		},
	})

	s.classifier = interrupt.NewClassifier(interrupt.Options{
		Debounce: opts.Config.InterruptionDebounce,
		Language: language,
		Clock:    opts.Clock,
		Logger:   logger,
	})

	s.controller = cancel.NewController(cancel.Options{
		Target:       s.scheduler,
		Clock:        opts.Clock,
		Logger:       logger,
		Language:     language,
		FadeDuration: opts.Config.FadeOutDuration,
		Rand:         opts.Rand,
	})

	s.monitor = quality.NewMonitor(quality.Options{
		Clock:            opts.Clock,
		Logger:           logger,
		PauseThreshold:   opts.Config.PauseThreshold,
		SilenceThreshold: opts.Config.SilenceThreshold,
		NoiseRatio:       opts.Config.NoiseRatio,
		OnIssue: func(iss *quality.Issue) {
			s.emit(Event{Type: EventConversationIssue, Timestamp: iss.Timestamp, Issue: iss})
		},
	})

	s.silenceTimer = opts.Clock.AfterFunc(silenceCheckInterval, s.checkSilence)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events returns the host-facing event channel. It is closed by Close.
func (s *Session) Events() <-chan Event { return s.events }

// PushFrame feeds one captured microphone frame through speech tracking
// and, while the assistant is speaking, interruption handling. Any
// internal panic is contained here and surfaced as an error event; it
// never propagates to the capture path.
func (s *Session) PushFrame(frame *rtc.AudioFrame) {
	defer func() {
		if r := recover(); r != nil {
			err := engine.NewRecoverableError("session", fmt.Errorf("frame processing panic: %v", r))
			s.logger.Error("frame processing failed", slog.String("error", err.Error()))
			s.emit(Event{Type: EventError, Timestamp: s.clock.Now(), Err: err})
		}
	}()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	ev := s.tracker.OnFrame(frame)

	if s.tracker.Speaking() {
		s.monitor.OnSpeechActivity()
		s.bufferBurstFrame(frame)
	}

	if ev != nil {
		switch ev.Type {
		case vad.EventSpeechStart:
			s.emit(Event{Type: EventSpeechStart, Timestamp: ev.Timestamp})
		case vad.EventSpeechEnd:
			// The partial transcript belonged to the burst that just
			// ended; it must not steer the next one.
			s.mu.Lock()
			s.partial = ""
			s.mu.Unlock()
			s.emit(Event{Type: EventSpeechEnd, Timestamp: ev.Timestamp, Duration: ev.Duration})
			s.finishBurst()
		}
	}

	// Hold classification until the burst clears the accidental floor, so
	// the first decision carries a meaningful burst duration instead of a
	// guaranteed accidental at onset.
	if s.tracker.Speaking() && s.scheduler.Speaking() &&
		s.clock.Now().Sub(s.tracker.SpeechStart()) >= interrupt.MinBurstDuration {
		s.classifyInterruption()
	}
}

// EnqueueAssistantAudio schedules a chunk of synthesized assistant audio.
func (s *Session) EnqueueAssistantAudio(chunk *rtc.AudioChunk) {
	s.scheduler.Enqueue(chunk)
}

// SetUtteranceText records the full text of the utterance now playing,
// enabling partial-text extraction on cancellation.
func (s *Session) SetUtteranceText(text string) {
	s.mu.Lock()
	s.utteranceText = text
	s.mu.Unlock()
}

// PushTranscript feeds a completed user transcript from the upstream
// recognizer into quality monitoring and interruption keyword matching.
func (s *Session) PushTranscript(text string) {
	s.mu.Lock()
	s.partial = text
	s.mu.Unlock()
	s.monitor.OnTranscript(text)
}

// PushSpectrum feeds frequency-bin energies into background-noise
// detection.
func (s *Session) PushSpectrum(bins []float64) {
	s.monitor.OnSpectrum(bins)
}

// EnvironmentScore reports the rolling conversation-environment score.
func (s *Session) EnvironmentScore() float64 {
	return s.monitor.EnvironmentScore()
}

// Interruptions returns the rolling classified-interruption history.
func (s *Session) Interruptions() []*interrupt.Event {
	return s.classifier.History()
}

// Close tears the session down: timers stopped, playback closed, event
// channel closed. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	s.controller.Close()
	s.scheduler.Close()

	s.mu.Lock()
	close(s.events)
	s.mu.Unlock()

	s.logger.Info("session closed")
}

// classifyInterruption runs the classifier against the current burst and
// executes any resulting cancellation. The classifier's debounce floor
// bounds how often this produces events.
func (s *Session) classifyInterruption() {
	now := s.clock.Now()

	s.mu.Lock()
	partial := s.partial
	utterance := s.utteranceText
	s.mu.Unlock()

	trig := interrupt.Trigger{
		Timestamp:         now,
		AudioIntensity:    s.tracker.LastActivation(),
		BurstDuration:     now.Sub(s.tracker.SpeechStart()),
		PartialTranscript: partial,
	}
	state := interrupt.AssistantState{
		Speaking:         true,
		SpeakingDuration: s.scheduler.SpeakingDuration(),
		Progress:         s.scheduler.Progress(),
	}

	iev := s.classifier.Classify(trig, state)
	if iev == nil {
		return
	}
	s.emit(Event{Type: EventInterruption, Timestamp: iev.Timestamp, Interruption: iev})

	res := s.controller.Apply(iev, utterance)
	s.emit(Event{Type: EventCancellation, Timestamp: now, Cancellation: res})
}

// bufferBurstFrame retains the speaking frames for post-hoc
// transcription, bounded to the most recent burstFrameCap frames.
func (s *Session) bufferBurstFrame(frame *rtc.AudioFrame) {
	if frame == nil {
		return
	}
	s.mu.Lock()
	s.burst = append(s.burst, frame.Clone())
	if len(s.burst) > burstFrameCap {
		s.burst = s.burst[len(s.burst)-burstFrameCap:]
	}
	s.mu.Unlock()
}

// finishBurst hands the completed burst to the transcriber off the audio
// path. The transcript feeds quality monitoring only; keyword
// classification runs on live partials pushed while the burst is still
// open.
func (s *Session) finishBurst() {
	s.mu.Lock()
	burst := s.burst
	s.burst = nil
	s.mu.Unlock()

	if len(burst) == 0 {
		return
	}

	go func() {
		res, err := s.transcriber.Transcribe(s.ctx, burst, s.language)
		if err != nil {
			s.logger.Warn("burst transcription failed", slog.String("error", err.Error()))
			return
		}
		if res.Text == "" {
			return
		}
		s.monitor.OnTranscript(res.Text)
	}()
}

// checkSilence runs the periodic long-pause evaluation and re-arms
// itself.
func (s *Session) checkSilence() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.monitor.CheckSilence()

	s.mu.Lock()
	if !s.closed {
		s.silenceTimer = s.clock.AfterFunc(silenceCheckInterval, s.checkSilence)
	}
	s.mu.Unlock()
}

// emit delivers an event to the host without blocking. A full buffer
// drops the event.
func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("event dropped, host not draining",
			slog.String("type", ev.Type.String()))
	}
}
