package audio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"totari/encoder"
	terrors "totari/internal/errors"
)

// fakeClock advances only when told to.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func tone(samples int) []byte {
	s := make([]int16, samples)
	for i := range s {
		s[i] = int16((i % 100) * 200)
	}
	return encoder.PCM(s)
}

func newTestRecorder(t *testing.T, cfg RecorderConfig) (*Recorder, *fakeClock) {
	t.Helper()
	ctx := NewFakeContext(tone(encoder.SampleRate/10), false)
	rec := NewRecorder(ctx, nil, cfg)
	clock := newFakeClock()
	rec.SetClock(clock.Now)
	return rec, clock
}

func TestRecorderStartStop(t *testing.T) {
	rec, clock := newTestRecorder(t, DefaultRecorderConfig())

	if !rec.Start() {
		t.Fatal("Start returned false")
	}
	if !rec.Recording() {
		t.Error("expected Recording() after Start")
	}
	if rec.Start() {
		t.Error("second Start must fail while recording")
	}

	clock.Advance(2500 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	r, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Recording() {
		t.Error("still recording after Stop")
	}
	if r.ContentType != "audio/wav" {
		t.Errorf("ContentType = %q", r.ContentType)
	}
	if r.SizeBytes != len(r.Data) {
		t.Errorf("SizeBytes = %d, len = %d", r.SizeBytes, len(r.Data))
	}
	if r.Duration != 2500*time.Millisecond {
		t.Errorf("Duration = %s", r.Duration)
	}
	if r.DurationSec() != 3 {
		t.Errorf("DurationSec = %d, want 3", r.DurationSec())
	}
	if _, err := encoder.Probe(r.Data); err != nil {
		t.Errorf("recording is not a valid container: %v", err)
	}
}

func TestRecorderStopWithoutStart(t *testing.T) {
	rec, _ := newTestRecorder(t, DefaultRecorderConfig())
	if _, err := rec.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("err = %v, want ErrNotRecording", err)
	}
}

func TestRecorderRejectsShortCapture(t *testing.T) {
	rec, clock := newTestRecorder(t, DefaultRecorderConfig())
	if !rec.Start() {
		t.Fatal("Start returned false")
	}
	clock.Advance(400 * time.Millisecond)

	r, err := rec.Stop()
	if r != nil {
		t.Error("short recording must be rejected")
	}
	if !terrors.Is(err, terrors.ErrValidationFailed) {
		t.Errorf("err = %v, want VALIDATION_FAILED", err)
	}

	// recorder is reusable after a rejection
	if !rec.Start() {
		t.Fatal("Start after rejection returned false")
	}
	rec.Cancel()
}

func TestRecorderRejectsLongCapture(t *testing.T) {
	cfg := DefaultRecorderConfig()
	cfg.MaxDuration = 5 * time.Second
	rec, clock := newTestRecorder(t, cfg)
	if !rec.Start() {
		t.Fatal("Start returned false")
	}
	clock.Advance(6 * time.Second)

	if _, err := rec.Stop(); !terrors.Is(err, terrors.ErrValidationFailed) {
		t.Errorf("err = %v, want VALIDATION_FAILED", err)
	}
}

func TestRecorderRejectsOversizedFile(t *testing.T) {
	cfg := DefaultRecorderConfig()
	cfg.MaxFileSize = 100
	rec, clock := newTestRecorder(t, cfg)
	if !rec.Start() {
		t.Fatal("Start returned false")
	}
	clock.Advance(2 * time.Second)
	time.Sleep(20 * time.Millisecond)

	if _, err := rec.Stop(); !terrors.Is(err, terrors.ErrValidationFailed) {
		t.Errorf("err = %v, want VALIDATION_FAILED", err)
	}
}

func TestRecorderUnavailableBackend(t *testing.T) {
	rec := NewRecorder(nil, nil, DefaultRecorderConfig())
	if rec.Available() {
		t.Error("nil context should be unavailable")
	}
	if rec.Start() {
		t.Error("Start must fail without a backend")
	}
}

func TestRecorderStartError(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	ctx.StartErr = errors.New("device busy")
	rec := NewRecorder(ctx, nil, DefaultRecorderConfig())
	if rec.Start() {
		t.Error("Start must fail when the device fails")
	}
	if rec.Recording() {
		t.Error("recorder must stay idle")
	}
}

func TestRecorderFlac(t *testing.T) {
	cfg := DefaultRecorderConfig()
	cfg.Format = "flac"
	rec, clock := newTestRecorder(t, cfg)
	if !rec.Start() {
		t.Fatal("Start returned false")
	}
	clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)

	r, err := rec.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if r.ContentType != "audio/flac" {
		t.Errorf("ContentType = %q", r.ContentType)
	}
}

func TestRMS(t *testing.T) {
	if rms(nil) != 0 {
		t.Error("rms(nil) != 0")
	}
	if got := rms([]int16{-32768, -32768}); got != 1 {
		t.Errorf("rms(full scale) = %f", got)
	}
}

func TestRecordingDurationSec(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{300 * time.Millisecond, 0},
		{time.Second, 1},
		{2400 * time.Millisecond, 2},
		{2500 * time.Millisecond, 3},
	}
	for _, tt := range tests {
		if got := (&Recording{Duration: tt.d}).DurationSec(); got != tt.want {
			t.Errorf("DurationSec(%s) = %d, want %d", tt.d, got, tt.want)
		}
	}
}
