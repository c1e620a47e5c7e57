package silero

import (
	"testing"

	"github.com/voicewire/duplex-go/pkg/rtc"
)

func TestFallsBackWithoutModel(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no model configured", cfg: Config{}},
		{name: "model file missing", cfg: Config{ModelPath: "testdata/does-not-exist.onnx"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDetector(tt.cfg)
			if err != nil {
				t.Fatalf("NewDetector: %v", err)
			}
			defer d.Close()

			if d.UsingModel() {
				t.Fatal("detector claims model is active without a model")
			}

			// The fallback activation is plain RMS energy.
			data := make([]byte, 320)
			frame, err := rtc.NewAudioFrame(data, 16000, 1, 0)
			if err != nil {
				t.Fatalf("NewAudioFrame: %v", err)
			}
			if got := d.Activation()(frame); got != 0 {
				t.Errorf("silent frame activation = %v, want 0", got)
			}
		})
	}
}
