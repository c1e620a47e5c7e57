package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/voicewire/duplex-go/pkg/engine"
	"github.com/voicewire/duplex-go/pkg/lang"
	"github.com/voicewire/duplex-go/pkg/rtc"
)

// minBurstDuration is the shortest clip the Whisper API accepts.
const minBurstDuration = 100 * time.Millisecond

// Whisper transcribes bursts with OpenAI's Whisper API.
type Whisper struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// WhisperConfig configures the Whisper transcriber.
type WhisperConfig struct {
	APIKey string
	Model  string // default whisper-1
	Logger *slog.Logger
}

// NewWhisper creates a Whisper transcriber.
func NewWhisper(cfg WhisperConfig) (*Whisper, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Whisper{
		client: openai.NewClient(cfg.APIKey),
		model:  cfg.Model,
		logger: cfg.Logger,
	}, nil
}

// Transcribe concatenates the frames into a WAV clip and sends it for
// recognition. Bursts shorter than the API minimum return an empty
// result without a network call.
func (w *Whisper) Transcribe(ctx context.Context, frames []*rtc.AudioFrame, language lang.Language) (*Result, error) {
	if len(frames) == 0 {
		return &Result{}, nil
	}

	var data []byte
	var total time.Duration
	for _, f := range frames {
		if f == nil {
			continue
		}
		data = append(data, f.Data...)
		total += f.Duration()
	}
	if total < minBurstDuration {
		return &Result{Duration: total}, nil
	}

	wav := encodeWAV(data, frames[0].SampleRate, frames[0].NumChannels)
	req := openai.AudioRequest{
		Model:    w.model,
		Language: string(language),
		Format:   openai.AudioResponseFormatJSON,
		Reader:   bytes.NewReader(wav),
		FilePath: "burst.wav",
	}

	resp, err := w.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, engine.NewRecoverableError("stt", fmt.Errorf("transcription failed: %w", err))
	}

	w.logger.Debug("burst transcribed",
		slog.String("text", resp.Text),
		slog.Duration("audio", total))
	return &Result{Text: resp.Text, Language: resp.Language, Duration: total}, nil
}

// encodeWAV wraps 16-bit PCM in a RIFF/WAVE container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	var buf bytes.Buffer

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
