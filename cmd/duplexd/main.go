package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/voicewire/duplex-go/internal/config"
	"github.com/voicewire/duplex-go/internal/transport"
	"github.com/voicewire/duplex-go/pkg/playback"
	"github.com/voicewire/duplex-go/pkg/rtc"
	"github.com/voicewire/duplex-go/pkg/session"
	"github.com/voicewire/duplex-go/pkg/stt"
	"github.com/voicewire/duplex-go/pkg/vad"
	"github.com/voicewire/duplex-go/pkg/vad/silero"
	"github.com/voicewire/duplex-go/pkg/version"
)

const captureFrameBytes = 320 // 10ms of 16kHz mono PCM16

var configPath string

var rootCmd = &cobra.Command{
	Use:   "duplexd",
	Short: "Duplex conversational audio engine daemon",
	Long: `duplexd runs the duplex conversational audio engine: it streams
microphone audio to a remote speech service, schedules synthesized replies
into a gapless playback timeline, and handles natural barge-in with graceful,
resumable cancellation.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a live session against the upstream service",
	Long: `Run connects to the upstream speech/LLM service, then reads raw
16 kHz mono PCM16 microphone audio from stdin in 10 ms frames and drives a
full duplex session until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.Log)

		if cfg.Upstream.URL == "" {
			return fmt.Errorf("upstream.url is required for run")
		}

		ctx, cancelFn := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancelFn()

		sess := newSession(cfg, logger, playback.NopSink{})
		defer sess.Close()

		client := transport.NewClient(transport.Options{
			URL:    cfg.Upstream.URL,
			APIKey: cfg.Upstream.APIKey,
			Logger: logger,
			Handlers: transport.Handlers{
				OnAudio:         sess.EnqueueAssistantAudio,
				OnTranscript:    sess.PushTranscript,
				OnUtteranceText: sess.SetUtteranceText,
				OnError: func(err error) {
					logger.Error("upstream connection lost", slog.String("error", err.Error()))
					cancelFn()
				},
			},
		})
		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer client.Close()

		go forwardEvents(ctx, sess, client, logger)
		go captureLoop(ctx, sess, client, os.Stdin, logger)

		logger.Info("session running",
			slog.String("session_id", sess.ID()),
			slog.String("upstream", cfg.Upstream.URL))
		<-ctx.Done()
		return nil
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted offline barge-in scenario",
	Long: `Demo drives the engine through a scripted conversation with no
network or audio device: the assistant starts a long reply, the user barges
in, and the resulting classification, cancellation and quality events are
printed as they happen.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.Log)

		sess := newSession(cfg, logger, playback.NopSink{})
		defer sess.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range sess.Events() {
				logEvent(logger, ev)
			}
		}()

		sess.SetUtteranceText("your account balance is four thousand two hundred dollars and your next payment is due on friday")
		sess.EnqueueAssistantAudio(silentChunk(3000))
		logger.Info("assistant starts a 3s reply")

		time.Sleep(500 * time.Millisecond)
		logger.Info("user barges in")
		sess.PushTranscript("wait, stop")
		feedTone(sess, 400*time.Millisecond)

		time.Sleep(time.Second)
		logger.Info("environment score", slog.Float64("score", sess.EnvironmentScore()))

		sess.Close()
		<-done
		return nil
	},
}

func main() {
	// A missing .env is fine; explicit environment wins anyway.
	godotenv.Load()

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "duplexd.yaml", "path to config file")
	rootCmd.AddCommand(versionCmd, runCmd, demoCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newSession builds a session from the loaded config: Whisper burst
// transcription when an OpenAI key is present, Silero activation when a
// model path is configured.
func newSession(cfg *config.Config, logger *slog.Logger, sink playback.Sink) *session.Session {
	var transcriber stt.Transcriber
	if cfg.OpenAI.APIKey != "" {
		w, err := stt.NewWhisper(stt.WhisperConfig{
			APIKey: cfg.OpenAI.APIKey,
			Model:  cfg.OpenAI.Model,
			Logger: logger,
		})
		if err == nil {
			transcriber = w
		} else {
			logger.Warn("whisper disabled", slog.String("error", err.Error()))
		}
	}

	var activation vad.Activation
	if detector, err := silero.NewDetector(silero.Config{
		ModelPath: cfg.Engine.SileroModelPath,
		Logger:    logger,
	}); err == nil {
		activation = detector.Activation()
	}

	return session.New(session.Options{
		Config:      cfg.SessionConfig(),
		Sink:        sink,
		Transcriber: transcriber,
		Activation:  activation,
		Logger:      logger,
	})
}

// captureLoop reads fixed-size PCM frames and feeds them to both the
// session and the upstream service.
func captureLoop(ctx context.Context, sess *session.Session, client *transport.Client, r io.Reader, logger *slog.Logger) {
	buf := make([]byte, captureFrameBytes)
	for ctx.Err() == nil {
		if _, err := io.ReadFull(r, buf); err != nil {
			if err != io.EOF {
				logger.Warn("capture read failed", slog.String("error", err.Error()))
			}
			return
		}
		frame, err := rtc.NewAudioFrame(append([]byte(nil), buf...), 16000, 1, 0)
		if err != nil {
			continue
		}
		sess.PushFrame(frame)
		if err := client.SendAudio(frame); err != nil {
			logger.Warn("audio upload failed", slog.String("error", err.Error()))
		}
	}
}

// forwardEvents logs session events and relays interruptions upstream so
// synthesis of the cancelled utterance stops.
func forwardEvents(ctx context.Context, sess *session.Session, client *transport.Client, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			logEvent(logger, ev)
			if ev.Type == session.EventInterruption && ev.Interruption != nil {
				if err := client.NotifyInterruption(
					ev.Interruption.Type.String(),
					ev.Interruption.Action.String(),
				); err != nil {
					logger.Warn("interruption notify failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}

func logEvent(logger *slog.Logger, ev session.Event) {
	attrs := []any{slog.String("event", ev.Type.String())}
	switch {
	case ev.Interruption != nil:
		attrs = append(attrs,
			slog.String("type", ev.Interruption.Type.String()),
			slog.String("action", ev.Interruption.Action.String()),
			slog.Float64("confidence", ev.Interruption.Confidence))
	case ev.Cancellation != nil:
		attrs = append(attrs,
			slog.Bool("interrupted", ev.Cancellation.Interrupted),
			slog.Bool("can_resume", ev.Cancellation.CanResume))
	case ev.Issue != nil:
		attrs = append(attrs,
			slog.String("issue", ev.Issue.Type.String()),
			slog.String("severity", ev.Issue.Severity.String()))
	case ev.Err != nil:
		attrs = append(attrs, slog.String("error", ev.Err.Error()))
	case ev.Duration > 0:
		attrs = append(attrs, slog.Duration("duration", ev.Duration))
	}
	logger.Info("session event", attrs...)
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// silentChunk builds a zeroed assistant chunk of the given duration at
// the 24kHz playback rate.
func silentChunk(ms int) *rtc.AudioChunk {
	chunk, _ := rtc.NewAudioChunk(make([]byte, 24000*ms/1000*2), 24000, time.Time{})
	return chunk
}

// feedTone pushes loud capture frames in real time to simulate the user
// speaking.
func feedTone(sess *session.Session, d time.Duration) {
	frames := int(d / (10 * time.Millisecond))
	data := make([]byte, captureFrameBytes)
	for i := 0; i < len(data); i += 2 {
		binary.LittleEndian.PutUint16(data[i:], 16000)
	}
	for i := 0; i < frames; i++ {
		frame, err := rtc.NewAudioFrame(append([]byte(nil), data...), 16000, 1, 0)
		if err != nil {
			return
		}
		sess.PushFrame(frame)
		time.Sleep(10 * time.Millisecond)
	}
}
