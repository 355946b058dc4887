package energy

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxslice/pkg/provider/vad"
)

const frameSize = DefaultFrameSize

// constFrame returns a frame whose RMS equals |amp|.
func constFrame(amp float32) []float32 {
	f := make([]float32, frameSize)
	for i := range f {
		f[i] = amp
	}
	return f
}

func newTestSegmenter(t *testing.T, cfg vad.Config) *Segmenter {
	t.Helper()
	s, err := NewSegmenter(cfg)
	if err != nil {
		t.Fatalf("NewSegmenter: %v", err)
	}
	return s
}

func TestRMS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		frame []float32
		want  float64
	}{
		{"empty", nil, 0},
		{"silent", make([]float32, 8), 0},
		{"constant", []float32{0.5, 0.5, -0.5, -0.5}, 0.5},
		{"mixed", []float32{3, 4}, math.Sqrt(12.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RMS(tt.frame); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSegmenter_SilenceWhileIdleNeverEmits(t *testing.T) {
	t.Parallel()
	s := newTestSegmenter(t, vad.Config{})
	quiet := constFrame(0.005)
	for i := range 1000 {
		if _, ok := s.ProcessFrame(quiet); ok {
			t.Fatalf("frame %d: unexpected utterance while idle", i)
		}
		if got, want := s.State().Buffered, (i+1)*frameSize; got != want {
			t.Fatalf("frame %d: buffered = %d, want %d", i, got, want)
		}
	}
	if s.State().Speaking {
		t.Error("segmenter should still be idle")
	}
}

func TestSegmenter_ThresholdIsStrict(t *testing.T) {
	t.Parallel()
	s := newTestSegmenter(t, vad.Config{SilenceThreshold: 0.25})
	s.ProcessFrame(constFrame(0.25))
	if s.Speaking() {
		t.Error("energy equal to the threshold must count as silence")
	}
	s.ProcessFrame(constFrame(0.26))
	if !s.Speaking() {
		t.Error("energy above the threshold must open a speech run")
	}
}

func TestSegmenter_ZeroThresholdMeansDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		threshold float64
		amp       float32
		speaking  bool
	}{
		{"zero takes default, quiet frame", 0, 0.005, false},
		{"zero takes default, loud frame", 0, 0.02, true},
		{"tiny threshold, quiet frame", 1e-9, 0.005, true},
		{"tiny threshold, digital silence", 1e-9, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestSegmenter(t, vad.Config{SilenceThreshold: tt.threshold})
			s.ProcessFrame(constFrame(tt.amp))
			if s.Speaking() != tt.speaking {
				t.Errorf("Speaking() = %v, want %v", s.Speaking(), tt.speaking)
			}
		})
	}
}

// TestSegmenter_ReferenceScenario feeds 200 loud frames and 190 silent frames
// at 48 kHz / 128 samples and expects exactly one utterance at silent frame 188.
func TestSegmenter_ReferenceScenario(t *testing.T) {
	t.Parallel()
	s := newTestSegmenter(t, vad.Config{})

	loud, silent := constFrame(0.5), constFrame(0)
	for i := range 200 {
		if _, ok := s.ProcessFrame(loud); ok {
			t.Fatalf("loud frame %d emitted", i)
		}
	}

	var (
		got     []vad.Utterance
		atFrame int
	)
	for m := 1; m <= 190; m++ {
		if u, ok := s.ProcessFrame(silent); ok {
			got = append(got, u)
			atFrame = m
		}
	}

	if len(got) != 1 {
		t.Fatalf("emitted %d utterances, want 1", len(got))
	}
	if atFrame != 188 {
		t.Errorf("emitted at silent frame %d, want 188", atFrame)
	}
	wantDur := float64((200+188)*frameSize) / 48000
	if math.Abs(got[0].Duration-wantDur) > 1e-9 {
		t.Errorf("duration = %v, want %v", got[0].Duration, wantDur)
	}
	if math.Abs(got[0].Duration-1.034) > 0.001 {
		t.Errorf("duration = %v, want ≈1.034", got[0].Duration)
	}
	if n := len(got[0].Samples); n != (200+188)*frameSize {
		t.Errorf("samples = %d, want %d", n, (200+188)*frameSize)
	}

	st := s.State()
	if st.Speaking || st.SpeechRunFrames != 0 {
		t.Errorf("after emit: %+v, want idle with zero speech run", st)
	}
	// The two silent frames after the boundary are buffered for the next run.
	if st.Buffered != 2*frameSize {
		t.Errorf("buffered = %d, want %d", st.Buffered, 2*frameSize)
	}
}

// TestSegmenter_EmitsWhenBothConditionsFirstHold checks the emission frame
// for N loud frames followed by silence against the closed-form condition.
func TestSegmenter_EmitsWhenBothConditionsFirstHold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		loud      int
		minSpeech time.Duration
	}{
		{"short burst default min", 10, 0},
		{"short burst long min speech", 10, time.Second},
		{"long speech", 400, 0},
		{"single frame", 1, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := WithDefaults(vad.Config{MinSpeechDuration: tt.minSpeech})
			s := newTestSegmenter(t, cfg)

			for range tt.loud {
				s.ProcessFrame(constFrame(0.3))
			}

			secs := func(frames int) float64 { return float64(frames*frameSize) / float64(cfg.SampleRate) }
			wantM := 0
			for m := 1; ; m++ {
				if secs(m) >= cfg.SilenceDuration.Seconds() && secs(tt.loud+m) >= cfg.MinSpeechDuration.Seconds() {
					wantM = m
					break
				}
			}

			emitted := 0
			for m := 1; m <= wantM+50; m++ {
				u, ok := s.ProcessFrame(constFrame(0))
				if !ok {
					continue
				}
				emitted++
				if m != wantM {
					t.Errorf("emitted at silent frame %d, want %d", m, wantM)
				}
				if want := secs(tt.loud + wantM); math.Abs(u.Duration-want) > 1e-9 {
					t.Errorf("duration = %v, want %v", u.Duration, want)
				}
			}
			if emitted != 1 {
				t.Errorf("emitted %d utterances, want 1", emitted)
			}
		})
	}
}

func TestSegmenter_MidSpeechSilenceCountsTowardSpeechRun(t *testing.T) {
	t.Parallel()
	s := newTestSegmenter(t, vad.Config{})
	for range 10 {
		s.ProcessFrame(constFrame(0.2))
	}
	for range 50 {
		s.ProcessFrame(constFrame(0))
	}
	for range 10 {
		s.ProcessFrame(constFrame(0.2))
	}
	st := s.State()
	if st.SpeechRunFrames != 70 {
		t.Errorf("speech run = %d, want 70", st.SpeechRunFrames)
	}
	if st.SilenceRunFrames != 0 {
		t.Errorf("silence run = %d, want 0 after loud frame", st.SilenceRunFrames)
	}
}

// TestSegmenter_SilenceCounterSurvivesEmission pins the reference behaviour:
// the silence counter keeps running after an utterance closes, yet the next
// utterance still needs a full silence window.
func TestSegmenter_SilenceCounterSurvivesEmission(t *testing.T) {
	t.Parallel()
	s := newTestSegmenter(t, vad.Config{})

	for range 100 {
		s.ProcessFrame(constFrame(0.4))
	}
	emittedAt := 0
	for m := 1; m <= 200; m++ {
		if _, ok := s.ProcessFrame(constFrame(0)); ok {
			emittedAt = m
		}
	}
	if emittedAt != 188 {
		t.Fatalf("first utterance at %d, want 188", emittedAt)
	}
	if got := s.State().SilenceRunFrames; got != 200 {
		t.Errorf("silence run after emit = %d, want 200 (not reset)", got)
	}

	// Speech resumes: the loud frame resets the stale counter.
	s.ProcessFrame(constFrame(0.4))
	if got := s.State().SilenceRunFrames; got != 0 {
		t.Errorf("silence run after loud frame = %d, want 0", got)
	}
	for m := 1; m <= 187; m++ {
		if _, ok := s.ProcessFrame(constFrame(0)); ok {
			t.Fatalf("second utterance emitted early at silent frame %d", m)
		}
	}
	if _, ok := s.ProcessFrame(constFrame(0)); !ok {
		t.Error("second utterance should close at silent frame 188")
	}
}

func TestSegmenter_EmittedSamplesAreOwnedByCaller(t *testing.T) {
	t.Parallel()
	s := newTestSegmenter(t, vad.Config{SilenceDuration: 10 * time.Millisecond, MinSpeechDuration: time.Millisecond})
	s.ProcessFrame(constFrame(0.5))
	var first vad.Utterance
	for {
		u, ok := s.ProcessFrame(constFrame(0))
		if ok {
			first = u
			break
		}
	}
	snapshot := append([]float32(nil), first.Samples...)

	// Drive a second utterance through the reused buffer.
	s.ProcessFrame(constFrame(0.9))
	for {
		if _, ok := s.ProcessFrame(constFrame(0)); ok {
			break
		}
	}
	for i := range snapshot {
		if first.Samples[i] != snapshot[i] {
			t.Fatalf("first utterance mutated at sample %d", i)
		}
	}
}

func TestSegmenter_PreRollBoundsIdleBuffer(t *testing.T) {
	t.Parallel()
	s := newTestSegmenter(t, vad.Config{PreRoll: 10 * time.Millisecond})
	for range 100 {
		s.ProcessFrame(constFrame(0))
	}
	if got := s.State().Buffered; got != 480 {
		t.Fatalf("idle buffer = %d, want 480", got)
	}
	s.ProcessFrame(constFrame(0.5))
	for range 100 {
		s.ProcessFrame(constFrame(0))
	}
	if got, want := s.State().Buffered, 480+101*frameSize; got != want {
		t.Errorf("open utterance buffer = %d, want %d (never trimmed while speaking)", got, want)
	}
}

func TestSegmenter_EmptyFrame(t *testing.T) {
	t.Parallel()
	s := newTestSegmenter(t, vad.Config{})
	if _, ok := s.ProcessFrame(nil); ok {
		t.Fatal("empty frame emitted")
	}
	st := s.State()
	if st.SilenceRunFrames != 1 || st.Buffered != 0 || s.LastEnergy() != 0 {
		t.Errorf("state = %+v energy=%v", st, s.LastEnergy())
	}
}

func TestSegmenter_Reset(t *testing.T) {
	t.Parallel()
	s := newTestSegmenter(t, vad.Config{})
	for range 5 {
		s.ProcessFrame(constFrame(0.7))
	}
	s.Reset()
	if st := s.State(); st != (State{}) {
		t.Errorf("state after reset = %+v", st)
	}
}

func TestNewSegmenter_InvalidConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"negative rate", vad.Config{SampleRate: -1}},
		{"negative frame", vad.Config{FrameSize: -128}},
		{"threshold above one", vad.Config{SilenceThreshold: 1.5}},
		{"negative silence", vad.Config{SilenceDuration: -time.Second}},
		{"negative min speech", vad.Config{MinSpeechDuration: -time.Second}},
		{"negative preroll", vad.Config{PreRoll: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewSegmenter(tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
