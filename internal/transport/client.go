// Package transport maintains the duplex websocket link to the remote
// speech/LLM service: JSON signal messages for transcripts and utterance
// text, binary messages for audio. Microphone audio is Opus-encoded on
// the way up when an encoder is available; synthesized assistant audio
// arrives as raw little-endian PCM16 buffers.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hraban/opus"

	"github.com/voicewire/duplex-go/pkg/rtc"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second

	// playbackSampleRate is the rate of inbound assistant PCM.
	playbackSampleRate = 24000

	captureSampleRate = 16000
	opusFrameBuf      = 1275 // max opus packet size for one frame
)

// Signal is one JSON control message in either direction.
type Signal struct {
	Type string         `json:"type"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Handlers receives inbound traffic. Callbacks run on the read loop
// goroutine and must not block.
type Handlers struct {
	// OnAudio delivers a decoded assistant audio chunk.
	OnAudio func(chunk *rtc.AudioChunk)

	// OnTranscript delivers a completed user transcript.
	OnTranscript func(text string)

	// OnUtteranceText delivers the full text of the assistant utterance
	// about to play.
	OnUtteranceText func(text string)

	// OnError reports a read-loop failure; the loop has exited.
	OnError func(err error)
}

// Options configures a Client.
type Options struct {
	URL      string
	APIKey   string
	Logger   *slog.Logger
	Handlers Handlers
}

// Client is the upstream websocket connection. Safe for one concurrent
// writer per method; the read loop is internal.
type Client struct {
	url      string
	apiKey   string
	logger   *slog.Logger
	handlers Handlers

	writeMu sync.Mutex
	conn    *websocket.Conn

	encoder *opus.Encoder
	encBuf  []byte

	// inbound audio mode, flipped by a "format" signal
	inboundOpus bool
	decoder     *opus.Decoder
	decBuf      []int16

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates a client. The Opus encoder is best-effort: if it
// cannot be created, microphone audio is sent as raw PCM instead.
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		url:      opts.URL,
		apiKey:   opts.APIKey,
		logger:   opts.Logger,
		handlers: opts.Handlers,
		done:     make(chan struct{}),
	}

	enc, err := opus.NewEncoder(captureSampleRate, 1, opus.AppVoIP)
	if err != nil {
		c.logger.Warn("opus encoder unavailable, sending raw PCM",
			slog.String("error", err.Error()))
	} else {
		c.encoder = enc
		c.encBuf = make([]byte, opusFrameBuf)
	}
	return c
}

// Connect dials the upstream service and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}
	q := u.Query()
	if c.apiKey != "" {
		q.Set("token", c.apiKey)
	}
	u.RawQuery = q.Encode()

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}
	c.conn = conn
	c.logger.Info("upstream connected", slog.String("url", c.url))

	go c.readLoop(conn)
	return nil
}

// SendAudio transmits one captured microphone frame upstream,
// Opus-encoded when possible.
func (c *Client) SendAudio(frame *rtc.AudioFrame) error {
	if frame == nil {
		return nil
	}

	payload := frame.Data
	if c.encoder != nil {
		n, err := c.encoder.Encode(frame.Samples(), c.encBuf)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		payload = c.encBuf[:n]
	}
	return c.writeMessage(websocket.BinaryMessage, payload)
}

// SendSignal transmits a JSON control message upstream.
func (c *Client) SendSignal(sig *Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	return c.writeMessage(websocket.TextMessage, data)
}

// NotifyInterruption tells the upstream service that playback was cut
// so it can stop synthesizing the rest of the utterance.
func (c *Client) NotifyInterruption(kind, action string) error {
	return c.SendSignal(&Signal{
		Type: "interruption",
		Data: map[string]any{"kind": kind, "action": action},
	})
}

func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// Close shuts the connection down and stops the read loop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
			c.conn = nil
		}
		c.writeMu.Unlock()
	})
	return err
}

// readLoop reads from its own captured connection; Close nils the shared
// field under writeMu, so the loop must never re-read it.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("upstream read failed", slog.String("error", err.Error()))
				if c.handlers.OnError != nil {
					c.handlers.OnError(err)
				}
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			c.handleSignal(data)
		case websocket.BinaryMessage:
			c.handleAudio(data)
		}
	}
}

func (c *Client) handleSignal(data []byte) {
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		c.logger.Warn("malformed upstream signal", slog.String("error", err.Error()))
		return
	}

	switch sig.Type {
	case "format":
		c.setAudioFormat(sig.Text)
	case "transcript":
		if c.handlers.OnTranscript != nil {
			c.handlers.OnTranscript(sig.Text)
		}
	case "utterance":
		if c.handlers.OnUtteranceText != nil {
			c.handlers.OnUtteranceText(sig.Text)
		}
	default:
		c.logger.Debug("unhandled upstream signal", slog.String("type", sig.Type))
	}
}

// setAudioFormat switches the inbound audio decoding mode. The service
// announces "opus" before the first encoded frame; anything else means
// raw PCM16.
func (c *Client) setAudioFormat(format string) {
	if format != "opus" {
		c.inboundOpus = false
		return
	}
	if c.decoder == nil {
		dec, err := opus.NewDecoder(playbackSampleRate, 1)
		if err != nil {
			c.logger.Warn("opus decoder unavailable, keeping raw PCM",
				slog.String("error", err.Error()))
			return
		}
		c.decoder = dec
		c.decBuf = make([]int16, playbackSampleRate/1000*60) // max 60ms frame
	}
	c.inboundOpus = true
	c.logger.Debug("inbound audio format set to opus")
}

// handleAudio converts an inbound audio payload into a playback chunk,
// decoding Opus when the service announced that format.
func (c *Client) handleAudio(data []byte) {
	if c.inboundOpus {
		n, err := c.decoder.Decode(data, c.decBuf)
		if err != nil {
			c.logger.Warn("opus decode failed", slog.String("error", err.Error()))
			return
		}
		pcm := make([]int16, n)
		copy(pcm, c.decBuf[:n])
		if c.handlers.OnAudio != nil {
			c.handlers.OnAudio(&rtc.AudioChunk{
				PCM:        pcm,
				SampleRate: playbackSampleRate,
				ArrivedAt:  time.Now(),
			})
		}
		return
	}

	if len(data)%2 != 0 {
		c.logger.Warn("odd-length audio payload dropped", slog.Int("bytes", len(data)))
		return
	}
	chunk, err := rtc.NewAudioChunk(data, playbackSampleRate, time.Now())
	if err != nil {
		c.logger.Warn("bad audio payload", slog.String("error", err.Error()))
		return
	}
	if c.handlers.OnAudio != nil {
		c.handlers.OnAudio(chunk)
	}
}
