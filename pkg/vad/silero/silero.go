// Package silero scores voice activity with the Silero ONNX model,
// falling back to plain RMS energy when the model or the onnxruntime
// shared library is unavailable. The detector produces a vad.Activation
// so the energy tracker consumes neural and energy scores identically.
package silero

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/voicewire/duplex-go/pkg/rtc"
	"github.com/voicewire/duplex-go/pkg/vad"
)

const (
	// windowSamples is the model's analysis window at 16 kHz.
	windowSamples = 512

	inputName  = "input"
	outputName = "output"
)

// Config holds detector configuration.
type Config struct {
	ModelPath  string
	SampleRate int
	Logger     *slog.Logger
}

// Detector scores frames with the Silero model when loaded, RMS energy
// otherwise. Not safe for concurrent use; it lives on the
// audio-processing goroutine like the energy tracker it feeds.
type Detector struct {
	logger     *slog.Logger
	sampleRate int
	useONNX    bool
	modelPath  string

	session *ort.Session[float32]
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	window []float32
	last   float64
}

// NewDetector creates a detector, attempting to load the ONNX model. A
// missing model or runtime is not an error; the detector degrades to
// energy scoring and logs the reason.
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Detector{
		logger:     cfg.Logger,
		sampleRate: cfg.SampleRate,
		modelPath:  cfg.ModelPath,
		window:     make([]float32, 0, windowSamples),
	}

	if cfg.ModelPath == "" {
		d.logger.Info("no silero model configured, using energy activation")
		return d, nil
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		d.logger.Warn("silero model not found, using energy activation",
			slog.String("model_path", cfg.ModelPath))
		return d, nil
	}
	if err := d.loadSession(); err != nil {
		d.logger.Warn("silero model load failed, using energy activation",
			slog.String("model_path", cfg.ModelPath),
			slog.String("error", err.Error()))
		return d, nil
	}
	d.useONNX = true
	d.logger.Info("silero model loaded", slog.String("model_path", cfg.ModelPath))
	return d, nil
}

func (d *Detector) loadSession() error {
	if err := ensureOrtEnv(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}

	inputShape := ort.NewShape(1, windowSamples)
	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, 1)
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewSession[float32](
		d.modelPath,
		[]string{inputName},
		[]string{outputName},
		[]*ort.Tensor[float32]{input},
		[]*ort.Tensor[float32]{output},
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return fmt.Errorf("create session: %w", err)
	}

	d.session = session
	d.input = input
	d.output = output
	return nil
}

// UsingModel reports whether the neural model is active.
func (d *Detector) UsingModel() bool { return d.useONNX }

// Activation returns the scoring function to plug into the energy
// tracker.
func (d *Detector) Activation() vad.Activation {
	if !d.useONNX {
		return func(frame *rtc.AudioFrame) float64 { return frame.RMS() }
	}
	return d.score
}

// score accumulates samples into the model window and returns the latest
// speech probability. Frames shorter than the window reuse the previous
// probability until the window fills.
func (d *Detector) score(frame *rtc.AudioFrame) float64 {
	for _, s := range frame.Samples() {
		d.window = append(d.window, float32(s)/32768.0)
	}
	if len(d.window) < windowSamples {
		return d.last
	}

	copy(d.input.GetData(), d.window[:windowSamples])
	d.window = d.window[:0]

	if err := d.session.Run(); err != nil {
		d.logger.Warn("silero inference failed, falling back to energy",
			slog.String("error", err.Error()))
		d.useONNX = false
		return frame.RMS()
	}

	out := d.output.GetData()
	if len(out) == 0 {
		return d.last
	}
	p := float64(out[0])
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	d.last = p
	return p
}

// Close releases the ONNX session and tensors.
func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
	d.useONNX = false
}

var (
	ortOnce    sync.Once
	ortInitErr error
)

// ensureOrtEnv initializes the onnxruntime environment once per process.
func ensureOrtEnv() error {
	ortOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}
