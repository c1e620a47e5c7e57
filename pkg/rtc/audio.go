package rtc

import (
	"fmt"
	"math"
	"time"
)

// AudioFrame represents exactly 10 ms of captured microphone PCM.
// Len(Data) == SamplesPerChannel * NumChannels * 2.
//
// A zero Timestamp means "live"; otherwise it points to a position in the
// capture stream.
type AudioFrame struct {
	Data              []byte        // 16-bit PCM, little-endian
	SampleRate        int           // 16 000 or 48 000
	SamplesPerChannel int           // SampleRate / 100
	NumChannels       int           // 1 or 2
	Timestamp         time.Duration // optional
}

// NewAudioFrame creates a new AudioFrame with the specified parameters.
// Data length is validated to match SamplesPerChannel * NumChannels * 2.
func NewAudioFrame(data []byte, sampleRate, numChannels int, timestamp time.Duration) (*AudioFrame, error) {
	samplesPerChannel := sampleRate / 100
	expectedLen := samplesPerChannel * numChannels * 2

	if len(data) != expectedLen {
		return nil, fmt.Errorf("AudioFrame data length mismatch: got %d bytes, expected %d bytes for %dHz %d-channel 10ms audio",
			len(data), expectedLen, sampleRate, numChannels)
	}

	return &AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: samplesPerChannel,
		NumChannels:       numChannels,
		Timestamp:         timestamp,
	}, nil
}

// Clone creates a deep copy of the AudioFrame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return &AudioFrame{
		Data:              data,
		SampleRate:        f.SampleRate,
		SamplesPerChannel: f.SamplesPerChannel,
		NumChannels:       f.NumChannels,
		Timestamp:         f.Timestamp,
	}
}

// Duration returns the duration represented by this frame (always 10ms).
func (f *AudioFrame) Duration() time.Duration {
	return 10 * time.Millisecond
}

// Samples decodes the frame data into int16 samples.
func (f *AudioFrame) Samples() []int16 {
	samples := make([]int16, len(f.Data)/2)
	for i := range samples {
		samples[i] = int16(f.Data[i*2]) | int16(f.Data[i*2+1])<<8
	}
	return samples
}

// RMS returns the root-mean-square amplitude of the frame normalized to
// [0,1]. It is a cheap proxy for voice presence.
func (f *AudioFrame) RMS() float64 {
	samples := len(f.Data) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < samples; i++ {
		s := float64(int16(f.Data[i*2]) | int16(f.Data[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum/float64(samples)) / 32768.0
}

// AudioChunk is a variably sized buffer of synthesized assistant audio
// arriving from the remote service. Chunks are owned by the playback
// scheduler from arrival until their duration has elapsed.
type AudioChunk struct {
	PCM        []int16   // 16-bit mono samples
	SampleRate int       // typically 24 000
	ArrivedAt  time.Time // wall-clock arrival from the network
}

// NewAudioChunk creates a chunk from raw little-endian PCM bytes.
func NewAudioChunk(data []byte, sampleRate int, arrivedAt time.Time) (*AudioChunk, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("AudioChunk sample rate must be positive, got %d", sampleRate)
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("AudioChunk data length must be even, got %d bytes", len(data))
	}

	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}

	return &AudioChunk{
		PCM:        pcm,
		SampleRate: sampleRate,
		ArrivedAt:  arrivedAt,
	}, nil
}

// Duration returns the nominal playback duration derived from the sample
// count and rate.
func (c *AudioChunk) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(len(c.PCM)) / float64(c.SampleRate) * float64(time.Second))
}

// IsEmpty returns true if the chunk contains no samples.
func (c *AudioChunk) IsEmpty() bool {
	return len(c.PCM) == 0
}

func (c *AudioChunk) String() string {
	return fmt.Sprintf("AudioChunk{samples=%d, rate=%d, duration=%v}", len(c.PCM), c.SampleRate, c.Duration())
}
