// Package stt turns buffered speech bursts into partial transcripts for
// the interruption classifier. Transcription is best-effort: a failed or
// slow request leaves the transcript empty and classification proceeds on
// timing alone.
package stt

import (
	"context"
	"time"

	"github.com/voicewire/duplex-go/pkg/lang"
	"github.com/voicewire/duplex-go/pkg/rtc"
)

// Result is one transcription outcome.
type Result struct {
	Text     string
	Language string
	Duration time.Duration
}

// Transcriber converts a captured audio burst into text.
type Transcriber interface {
	// Transcribe sends the concatenated frames for recognition. Frames
	// must share a sample rate and channel count.
	Transcribe(ctx context.Context, frames []*rtc.AudioFrame, language lang.Language) (*Result, error)
}

// Nop discards audio and returns empty transcripts. Used when no
// recognition backend is configured.
type Nop struct{}

func (Nop) Transcribe(context.Context, []*rtc.AudioFrame, lang.Language) (*Result, error) {
	return &Result{}, nil
}
