// Package quality tracks rolling conversational-health signals: repeated
// questions, misunderstanding phrases, long silences, and background
// noise, rolled up into a 60-second environment score.
//
// The monitor runs on transcript and timing data only. It keeps working
// when the audio output path is degraded or lost entirely.
package quality

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voicewire/duplex-go/pkg/engine"
)

// IssueType identifies a detected conversation problem.
type IssueType int

const (
	IssueRepeatedQuestion IssueType = iota
	IssueMisunderstanding
	IssueLongPause
	IssueNoSpeech
	IssueBackgroundNoise
)

func (t IssueType) String() string {
	switch t {
	case IssueRepeatedQuestion:
		return "repeated_question"
	case IssueMisunderstanding:
		return "misunderstanding"
	case IssueLongPause:
		return "long_pause"
	case IssueNoSpeech:
		return "no_speech"
	case IssueBackgroundNoise:
		return "background_noise"
	default:
		return "unknown"
	}
}

// Severity grades an issue.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Issue is one detected conversation problem.
type Issue struct {
	Type      IssueType
	Severity  Severity
	Timestamp time.Time
	Detail    string
}

const (
	// DefaultPauseThreshold is the silence duration past which a pause is
	// flagged.
	DefaultPauseThreshold = 2 * time.Second

	// DefaultSilenceThreshold is the silence duration past which the user
	// is assumed to have stopped responding entirely.
	DefaultSilenceThreshold = 3 * time.Second

	// DefaultNoiseRatio is the high-band energy fraction above which the
	// environment counts as noisy.
	DefaultNoiseRatio = 0.7

	transcriptCap   = 20
	issueCap        = 10
	similarityDepth = 5
	repeatThreshold = 0.7
	noiseDebounce   = 5 * time.Second
	scoreWindow     = 60 * time.Second
	issuePenalty    = 0.1
	noisePenalty    = 0.15
)

// misunderstandingPhrases is the fixed case-insensitive substring list
// signalling the user did not follow the assistant.
var misunderstandingPhrases = []string{
	"i didn't understand",
	"what do you mean",
	"can you repeat",
	"sorry what",
	"huh",
	"pardon",
	"come again",
}

// Options configures a Monitor.
type Options struct {
	Clock            engine.Clock
	Logger           *slog.Logger
	PauseThreshold   time.Duration
	SilenceThreshold time.Duration
	NoiseRatio       float64

	// OnIssue fires for every detected issue. Must not block.
	OnIssue func(*Issue)
}

type transcriptEntry struct {
	text string
	at   time.Time
}

// Monitor detects conversation-quality issues from transcripts, silence
// timing and spectral energy. Safe for concurrent use.
type Monitor struct {
	clock      engine.Clock
	logger     *slog.Logger
	pauseThr   time.Duration
	silenceThr time.Duration
	noiseThr   float64
	onIssue    func(*Issue)

	mu            sync.Mutex
	transcripts   []transcriptEntry
	issues        []*Issue
	lastSpeech    time.Time
	pauseReported bool
	noSpeechSent  bool
	lastNoiseAt   time.Time
}

// NewMonitor creates a monitor. Zero thresholds take the defaults.
func NewMonitor(opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = engine.SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PauseThreshold <= 0 {
		opts.PauseThreshold = DefaultPauseThreshold
	}
	if opts.SilenceThreshold <= 0 {
		opts.SilenceThreshold = DefaultSilenceThreshold
	}
	if opts.NoiseRatio <= 0 || opts.NoiseRatio >= 1 {
		opts.NoiseRatio = DefaultNoiseRatio
	}
	return &Monitor{
		clock:      opts.Clock,
		logger:     opts.Logger,
		pauseThr:   opts.PauseThreshold,
		silenceThr: opts.SilenceThreshold,
		noiseThr:   opts.NoiseRatio,
		onIssue:    opts.OnIssue,
		lastSpeech: opts.Clock.Now(),
	}
}

// OnTranscript analyzes a completed user transcript and returns any issues
// it raised. Receiving a transcript counts as speech and resets the
// silence tracking.
func (m *Monitor) OnTranscript(text string) []*Issue {
	now := m.clock.Now()
	var raised []*Issue

	m.mu.Lock()
	m.lastSpeech = now
	m.pauseReported = false
	m.noSpeechSent = false

	if iss := m.checkRepeatedLocked(text, now); iss != nil {
		raised = append(raised, iss)
	}
	if iss := m.checkMisunderstandingLocked(text, now); iss != nil {
		raised = append(raised, iss)
	}

	m.transcripts = append(m.transcripts, transcriptEntry{text: text, at: now})
	if len(m.transcripts) > transcriptCap {
		m.transcripts = m.transcripts[len(m.transcripts)-transcriptCap:]
	}
	m.mu.Unlock()

	for _, iss := range raised {
		m.emit(iss)
	}
	return raised
}

// OnSpeechActivity marks that the user is speaking, resetting silence
// tracking without recording a transcript.
func (m *Monitor) OnSpeechActivity() {
	m.mu.Lock()
	m.lastSpeech = m.clock.Now()
	m.pauseReported = false
	m.noSpeechSent = false
	m.mu.Unlock()
}

// CheckSilence evaluates the current silence duration. Call it
// periodically while voice activity is false.
func (m *Monitor) CheckSilence() []*Issue {
	now := m.clock.Now()
	var raised []*Issue

	m.mu.Lock()
	silence := now.Sub(m.lastSpeech)

	if silence > m.pauseThr {
		sev := m.pauseSeverity(silence)
		// Repeat pauses in the same silence run are suppressed unless
		// critical.
		if !m.pauseReported || sev == SeverityCritical {
			m.pauseReported = true
			raised = append(raised, &Issue{
				Type:      IssueLongPause,
				Severity:  sev,
				Timestamp: now,
				Detail:    fmt.Sprintf("silence for %v", silence.Round(time.Millisecond)),
			})
		}
	}
	if silence > m.silenceThr && !m.noSpeechSent {
		m.noSpeechSent = true
		raised = append(raised, &Issue{
			Type:      IssueNoSpeech,
			Severity:  SeverityCritical,
			Timestamp: now,
			Detail:    fmt.Sprintf("no speech for %v", silence.Round(time.Millisecond)),
		})
	}
	m.mu.Unlock()

	for _, iss := range raised {
		m.emit(iss)
	}
	return raised
}

// OnSpectrum analyzes frequency-bin energies for background noise. The
// spectrum splits into low (0-40%), mid (40-60%) and high (60-100%) bands;
// a high-band share above the threshold is noise. Reports are debounced to
// one per 5 seconds.
func (m *Monitor) OnSpectrum(bins []float64) *Issue {
	if len(bins) == 0 {
		return nil
	}

	var total, high float64
	highStart := len(bins) * 60 / 100
	for i, e := range bins {
		total += e
		if i >= highStart {
			high += e
		}
	}
	if total <= 0 {
		return nil
	}
	ratio := high / total
	if ratio <= m.noiseThr {
		return nil
	}

	now := m.clock.Now()
	m.mu.Lock()
	if !m.lastNoiseAt.IsZero() && now.Sub(m.lastNoiseAt) < noiseDebounce {
		m.mu.Unlock()
		return nil
	}
	m.lastNoiseAt = now
	m.mu.Unlock()

	iss := &Issue{
		Type:      IssueBackgroundNoise,
		Severity:  noiseSeverity(ratio),
		Timestamp: now,
		Detail:    fmt.Sprintf("high-band energy ratio %.2f", ratio),
	}
	m.emit(iss)
	return iss
}

// EnvironmentScore rolls recent issues up into a [0,1] score. Only issues
// inside the 60-second window count; an empty window forces the score back
// to exactly 1.0, discarding older history.
func (m *Monitor) EnvironmentScore() float64 {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	score := 1.0
	any := false
	for _, iss := range m.issues {
		if now.Sub(iss.Timestamp) > scoreWindow {
			continue
		}
		any = true
		score -= issuePenalty
		if iss.Type == IssueBackgroundNoise {
			score -= noisePenalty
		}
	}
	if !any {
		return 1.0
	}
	if score < 0 {
		return 0
	}
	return score
}

// Issues returns a copy of the bounded issue history, oldest first.
func (m *Monitor) Issues() []*Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Issue, len(m.issues))
	copy(out, m.issues)
	return out
}

func (m *Monitor) checkRepeatedLocked(text string, now time.Time) *Issue {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	start := len(m.transcripts) - similarityDepth
	if start < 0 {
		start = 0
	}
	for _, prev := range m.transcripts[start:] {
		if sim := Similarity(text, prev.text); sim > repeatThreshold {
			return &Issue{
				Type:      IssueRepeatedQuestion,
				Severity:  SeverityMedium,
				Timestamp: now,
				Detail:    fmt.Sprintf("similarity %.2f to earlier transcript", sim),
			}
		}
	}
	return nil
}

func (m *Monitor) checkMisunderstandingLocked(text string, now time.Time) *Issue {
	lower := strings.ToLower(text)
	for _, phrase := range misunderstandingPhrases {
		if strings.Contains(lower, phrase) {
			return &Issue{
				Type:      IssueMisunderstanding,
				Severity:  SeverityHigh,
				Timestamp: now,
				Detail:    fmt.Sprintf("matched %q", phrase),
			}
		}
	}
	return nil
}

// pauseSeverity tiers a silence duration against the configured
// thresholds.
func (m *Monitor) pauseSeverity(silence time.Duration) Severity {
	switch {
	case silence < m.pauseThr:
		return SeverityLow
	case silence < m.pauseThr+m.pauseThr/2:
		return SeverityMedium
	case silence < m.silenceThr:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

func noiseSeverity(ratio float64) Severity {
	switch {
	case ratio < 0.7:
		return SeverityLow
	case ratio < 0.8:
		return SeverityMedium
	case ratio < 0.9:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// emit records the issue in the bounded history and notifies the host.
func (m *Monitor) emit(iss *Issue) {
	m.mu.Lock()
	m.issues = append(m.issues, iss)
	if len(m.issues) > issueCap {
		m.issues = m.issues[len(m.issues)-issueCap:]
	}
	m.mu.Unlock()

	m.logger.Debug("conversation issue",
		slog.String("type", iss.Type.String()),
		slog.String("severity", iss.Severity.String()),
		slog.String("detail", iss.Detail))
	if m.onIssue != nil {
		m.onIssue(iss)
	}
}
