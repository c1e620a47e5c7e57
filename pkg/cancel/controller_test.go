package cancel

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	enginefake "github.com/voicewire/duplex-go/pkg/engine/fake"
	"github.com/voicewire/duplex-go/pkg/interrupt"
	"github.com/voicewire/duplex-go/pkg/lang"
)

// fakeTarget stands in for the playback scheduler and records every call.
type fakeTarget struct {
	mu        sync.Mutex
	speaking  bool
	progress  float64
	remaining time.Duration
	volumes   []float64
	paused    bool
	reset     bool
}

func (f *fakeTarget) Speaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speaking
}

func (f *fakeTarget) Progress() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress
}

func (f *fakeTarget) Remaining() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remaining
}

func (f *fakeTarget) SetVolume(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, v)
}

func (f *fakeTarget) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	f.speaking = false
}

func (f *fakeTarget) ResetPosition() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset = true
}

func newTestController(t *testing.T, target *fakeTarget) (*Controller, *enginefake.Clock) {
	t.Helper()

	clock := enginefake.NewClock(time.Unix(4000, 0))
	c := NewController(Options{
		Target: target,
		Clock:  clock,
		Rand:   rand.New(rand.NewSource(7)),
	})
	return c, clock
}

func event(action interrupt.Action, typ interrupt.Type) *interrupt.Event {
	return &interrupt.Event{Type: typ, Action: action}
}

func TestStopImmediately(t *testing.T) {
	target := &fakeTarget{speaking: true, progress: 0.4, remaining: 2 * time.Second}
	c, clock := newTestController(t, target)

	res := c.Apply(event(interrupt.ActionStopImmediately, interrupt.TypeUrgent), "")
	if !res.Interrupted {
		t.Fatal("stop_immediately did not interrupt")
	}
	if res.CanResume {
		t.Error("stop_immediately reported resumable")
	}

	// 50ms fade in 20 steps of 2.5ms each.
	clock.Advance(50 * time.Millisecond)

	if len(target.volumes) != FadeSteps {
		t.Fatalf("fade issued %d volume steps, want %d", len(target.volumes), FadeSteps)
	}
	if last := target.volumes[len(target.volumes)-1]; last != 0 {
		t.Errorf("final fade volume = %v, want exactly 0", last)
	}
	for i := 1; i < len(target.volumes); i++ {
		if target.volumes[i] >= target.volumes[i-1] {
			t.Fatalf("fade not monotonically decreasing at step %d: %v -> %v",
				i, target.volumes[i-1], target.volumes[i])
		}
	}
	if !target.paused || !target.reset {
		t.Errorf("target paused=%v reset=%v, want both after stop", target.paused, target.reset)
	}
}

func TestFadeOutAndListenResumable(t *testing.T) {
	target := &fakeTarget{speaking: true, progress: 0.55, remaining: 3 * time.Second}
	c, clock := newTestController(t, target)

	res := c.Apply(event(interrupt.ActionFadeOutAndListen, interrupt.TypeBargeIn), "")
	if !res.Interrupted || !res.CanResume {
		t.Fatalf("got interrupted=%v canResume=%v, want both true", res.Interrupted, res.CanResume)
	}
	if res.ResumePoint != 0.55 {
		t.Errorf("ResumePoint = %v, want 0.55", res.ResumePoint)
	}

	clock.Advance(DefaultFadeDuration)
	if !target.paused {
		t.Error("target not paused after fade completed")
	}
	if target.reset {
		t.Error("fade_out_and_listen reset the position; resume is impossible")
	}
}

func TestFadeLastWriterWins(t *testing.T) {
	target := &fakeTarget{speaking: true, progress: 0.5, remaining: 3 * time.Second}
	c, clock := newTestController(t, target)

	c.Apply(event(interrupt.ActionFadeOutAndListen, interrupt.TypeBargeIn), "")

	// Halfway through the first fade a stop arrives and takes over.
	clock.Advance(DefaultFadeDuration / 2)
	midSteps := len(target.volumes)
	if midSteps == 0 || midSteps >= FadeSteps {
		t.Fatalf("fade half-done issued %d steps", midSteps)
	}

	c.Apply(event(interrupt.ActionStopImmediately, interrupt.TypeUrgent), "")
	clock.Advance(time.Second)

	if last := target.volumes[len(target.volumes)-1]; last != 0 {
		t.Errorf("final volume = %v, want 0", last)
	}
	if got := len(target.volumes); got != midSteps+FadeSteps {
		t.Errorf("volume steps = %d, want %d (aborted fade stops stepping)", got, midSteps+FadeSteps)
	}
	if !target.paused || !target.reset {
		t.Error("superseding stop did not pause and reset")
	}
}

func TestPauseAndAcknowledge(t *testing.T) {
	target := &fakeTarget{speaking: true, progress: 0.3, remaining: 2 * time.Second}
	clock := enginefake.NewClock(time.Unix(4000, 0))

	var acked string
	c := NewController(Options{
		Target: target,
		Clock:  clock,
		Rand:   rand.New(rand.NewSource(7)),
		OnAck:  func(text string) { acked = text },
	})

	res := c.Apply(event(interrupt.ActionPauseAndAcknowledge, interrupt.TypeClarification), "")
	if !res.CanResume || res.ResumePoint != 0.3 {
		t.Errorf("got canResume=%v resumePoint=%v, want true/0.3", res.CanResume, res.ResumePoint)
	}

	phrases := lang.AckPhrases(lang.English, "clarification")
	want := phrases[rand.New(rand.NewSource(7)).Intn(len(phrases))]
	if res.AckText != want {
		t.Errorf("AckText = %q, want %q (seeded selection)", res.AckText, want)
	}

	clock.Advance(100 * time.Millisecond)
	if !target.paused {
		t.Error("target not paused after acknowledge fade")
	}
	if acked != res.AckText {
		t.Errorf("OnAck received %q, want %q", acked, res.AckText)
	}
}

func TestStopAndListenResets(t *testing.T) {
	target := &fakeTarget{speaking: true, progress: 0.6, remaining: time.Second}
	c, clock := newTestController(t, target)

	res := c.Apply(event(interrupt.ActionStopAndListen, interrupt.TypeCorrection), "")
	if !res.Interrupted || res.CanResume {
		t.Errorf("got interrupted=%v canResume=%v, want true/false", res.Interrupted, res.CanResume)
	}

	clock.Advance(100 * time.Millisecond)
	if !target.paused || !target.reset {
		t.Error("stop_and_listen did not pause and reset")
	}
}

func TestFinishAndListenNearEnd(t *testing.T) {
	target := &fakeTarget{speaking: true, progress: 0.9, remaining: 500 * time.Millisecond}
	c, clock := newTestController(t, target)

	res := c.Apply(event(interrupt.ActionFinishAndListen, interrupt.TypeBargeIn), "")
	if res.Interrupted {
		t.Error("near-end finish_and_listen interrupted playback")
	}
	if res.WillListenAfter != 500*time.Millisecond {
		t.Errorf("WillListenAfter = %v, want 500ms", res.WillListenAfter)
	}

	clock.Advance(time.Second)
	if len(target.volumes) != 0 || target.paused {
		t.Error("finish_and_listen touched the target while letting it finish")
	}
}

func TestFinishAndListenEscalates(t *testing.T) {
	target := &fakeTarget{speaking: true, progress: 0.75, remaining: 2 * time.Second}
	c, clock := newTestController(t, target)

	res := c.Apply(event(interrupt.ActionFinishAndListen, interrupt.TypeBargeIn), "")
	if res.Action != interrupt.ActionFadeOutAndListen {
		t.Fatalf("action = %v, want escalation to fade_out_and_listen", res.Action)
	}
	if !res.Interrupted || !res.CanResume {
		t.Errorf("got interrupted=%v canResume=%v, want both true", res.Interrupted, res.CanResume)
	}

	clock.Advance(DefaultFadeDuration)
	if !target.paused {
		t.Error("escalated fade did not pause the target")
	}
}

func TestIgnoreAndIdleAreNoops(t *testing.T) {
	target := &fakeTarget{speaking: true, progress: 0.5, remaining: time.Second}
	c, clock := newTestController(t, target)

	res := c.Apply(event(interrupt.ActionIgnore, interrupt.TypeAccidental), "")
	if res.Interrupted {
		t.Error("ignore interrupted playback")
	}

	idle := &fakeTarget{speaking: false}
	c2, _ := newTestController(t, idle)
	res = c2.Apply(event(interrupt.ActionStopImmediately, interrupt.TypeUrgent), "")
	if res.Interrupted {
		t.Error("cancellation with no active playback interrupted")
	}

	clock.Advance(time.Second)
	if len(target.volumes) != 0 {
		t.Error("no-op action issued volume changes")
	}
}

func TestPartialTextSplit(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		progress   float64
		wantSpoken int
	}{
		{name: "midway", text: "your balance is four thousand two hundred dollars", progress: 0.5, wantSpoken: 4},
		{name: "start", text: "hello there", progress: 0.0, wantSpoken: 0},
		{name: "floor", text: "one two three", progress: 0.9, wantSpoken: 2},
		{name: "complete", text: "all done", progress: 1.0, wantSpoken: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt := splitAtProgress(tt.text, tt.progress)
			if len(pt.Spoken) != tt.wantSpoken {
				t.Errorf("spoken = %d words %v, want %d", len(pt.Spoken), pt.Spoken, tt.wantSpoken)
			}
			total := len(pt.Spoken) + len(pt.Remaining)
			if want := len(splitAtProgress(tt.text, 0).Remaining); total != want {
				t.Errorf("split lost words: %d + %d != %d", len(pt.Spoken), len(pt.Remaining), want)
			}
		})
	}
}

func TestApplyCarriesPartialText(t *testing.T) {
	target := &fakeTarget{speaking: true, progress: 0.5, remaining: time.Second}
	c, _ := newTestController(t, target)

	res := c.Apply(event(interrupt.ActionFadeOutAndListen, interrupt.TypeBargeIn), "one two three four")
	if res.PartialText == nil {
		t.Fatal("PartialText not populated")
	}
	if len(res.PartialText.Spoken) != 2 || len(res.PartialText.Remaining) != 2 {
		t.Errorf("split = %v | %v, want 2 words each", res.PartialText.Spoken, res.PartialText.Remaining)
	}
	if res.PartialText.Progress != 0.5 {
		t.Errorf("partial progress = %v, want 0.5", res.PartialText.Progress)
	}
}

func TestFadeDurationClamped(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{name: "too short", in: 5 * time.Millisecond, want: MinFadeDuration},
		{name: "too long", in: 5 * time.Second, want: MaxFadeDuration},
		{name: "in range", in: 300 * time.Millisecond, want: 300 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(Options{FadeDuration: tt.in})
			if c.fadeDur != tt.want {
				t.Errorf("fade duration = %v, want %v", c.fadeDur, tt.want)
			}
		})
	}
}
