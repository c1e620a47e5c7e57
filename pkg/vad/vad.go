// Package vad converts a stream of captured audio frames into discrete
// speech-start and speech-end events using energy thresholding with
// hysteresis.
//
// The debouncing is deliberately asymmetric: speech-start fires on the
// first frame above threshold with no debounce, favoring low-latency
// barge-in detection over false-positive suppression. Speech-end requires
// sustained silence and is suppressed entirely when the measured speech
// burst is shorter than MinSpeechDuration.
package vad

import (
	"time"
)

// EventType represents the type of speech activity event.
type EventType int

const (
	EventSpeechStart EventType = iota
	EventSpeechEnd
)

func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech-start"
	case EventSpeechEnd:
		return "speech-end"
	default:
		return "unknown"
	}
}

// Event is a discrete speech activity transition.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// Duration is the measured speech duration; set on speech-end only.
	Duration time.Duration

	// Activation is the activation level of the frame that produced the
	// event, in [0,1].
	Activation float64
}

// State is the tracker's speech state. Transitions strictly alternate.
type State int

const (
	StateSilent State = iota
	StateSpeaking
)

func (s State) String() string {
	if s == StateSpeaking {
		return "Speaking"
	}
	return "Silent"
}
