package session

import (
	"time"

	"github.com/voicewire/duplex-go/pkg/cancel"
	"github.com/voicewire/duplex-go/pkg/interrupt"
	"github.com/voicewire/duplex-go/pkg/quality"
)

// EventType identifies a session event delivered to the host.
type EventType int

const (
	EventSpeechStart EventType = iota
	EventSpeechEnd
	EventAssistantSpeechStart
	EventAssistantSpeechEnd
	EventInterruption
	EventCancellation
	EventConversationIssue
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech-start"
	case EventSpeechEnd:
		return "speech-end"
	case EventAssistantSpeechStart:
		return "assistant-speech-start"
	case EventAssistantSpeechEnd:
		return "assistant-speech-end"
	case EventInterruption:
		return "interruption"
	case EventCancellation:
		return "cancellation-result"
	case EventConversationIssue:
		return "conversation-issue"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one session occurrence. Delivery is best-effort: if the host
// is not draining Events(), events are dropped rather than queued
// unboundedly.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// Duration is set for speech-end events.
	Duration time.Duration

	// Interruption is set for interruption events.
	Interruption *interrupt.Event

	// Cancellation is set for cancellation-result events.
	Cancellation *cancel.Result

	// Issue is set for conversation-issue events.
	Issue *quality.Issue

	// Err is set for error events.
	Err error
}
