package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"totari/encoder"
	terrors "totari/internal/errors"
	"totari/log"
)

var (
	ErrNotRecording = errors.New("not recording")
	ErrStopTimeout  = errors.New("capture loop did not stop in time")
)

// RecorderConfig bounds a single capture.
type RecorderConfig struct {
	Format      string
	SampleRate  int
	Channels    int
	MinDuration time.Duration
	MaxDuration time.Duration
	MaxFileSize int
	JoinTimeout time.Duration
	Gain        int
}

func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Format:      "wav",
		SampleRate:  encoder.SampleRate,
		Channels:    encoder.Channels,
		MinDuration: time.Second,
		MaxDuration: 1200 * time.Second,
		MaxFileSize: 25 * 1024 * 1024,
		JoinTimeout: 2 * time.Second,
	}
}

// Recording is a validated, encoded capture.
type Recording struct {
	Data        []byte
	ContentType string
	Duration    time.Duration
	SizeBytes   int
	// Dropped counts capture frames lost because the loop fell behind.
	Dropped int
}

// DurationSec is the wall-clock capture time in whole seconds.
func (r *Recording) DurationSec() int {
	return encoder.WholeSeconds(r.Duration)
}

// Recorder runs the Idle -> Recording -> Idle capture state machine.
// Samples are written only by the capture goroutine and read only after
// Stop has joined it.
type Recorder struct {
	ctx    Context
	device *DeviceInfo
	cfg    RecorderConfig
	now    func() time.Time

	mu        sync.Mutex
	recording bool
	capture   CaptureDevice
	stop      chan struct{}
	done      chan struct{}
	started   time.Time
	take      *take

	elapsed atomic.Int64
	level   atomic.Uint64
	dropped atomic.Int64
}

// NewRecorder returns a recorder. A nil ctx means no audio backend; Start
// then always fails.
func NewRecorder(ctx Context, device *DeviceInfo, cfg RecorderConfig) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = encoder.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = encoder.Channels
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 2 * time.Second
	}
	return &Recorder{ctx: ctx, device: device, cfg: cfg, now: time.Now}
}

// SetClock replaces the wall clock used for elapsed time.
func (r *Recorder) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *Recorder) Available() bool {
	return r.ctx != nil
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Elapsed is the running capture time, updated on every frame.
func (r *Recorder) Elapsed() time.Duration {
	return time.Duration(r.elapsed.Load())
}

// Level is the RMS of the latest frame in [0, 1].
func (r *Recorder) Level() float64 {
	return math.Float64frombits(r.level.Load())
}

// Start begins capturing. It returns false if a capture is already running
// or the audio backend is unavailable.
func (r *Recorder) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		log.Warn("recording already in progress")
		return false
	}
	if r.ctx == nil {
		log.Error("audio backend unavailable")
		return false
	}

	capture, err := r.ctx.NewCapture(r.device, CaptureConfig{
		SampleRate: uint32(r.cfg.SampleRate),
		Channels:   uint32(r.cfg.Channels),
		Gain:       r.cfg.Gain,
	})
	if err != nil {
		log.Errorf("capture init: %v", err)
		return false
	}

	frames := make(chan []byte, 256)
	capture.SetCallback(func(data []byte, _ uint32) {
		chunk := make([]byte, len(data))
		copy(chunk, data)
		select {
		case frames <- chunk:
		default:
			r.dropped.Add(1)
		}
	})

	r.take = &take{}
	r.elapsed.Store(0)
	r.dropped.Store(0)
	r.level.Store(0)
	r.started = r.now()
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go r.loop(r.take, frames, r.stop, r.done, r.started, r.now)

	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		close(r.stop)
		<-r.done
		capture.Close()
		r.take = nil
		log.Errorf("capture start: %v", err)
		return false
	}

	r.capture = capture
	r.recording = true

	log.Info("recording started")
	return true
}

// take is the sample buffer of one capture, owned by its loop goroutine.
type take struct {
	samples   []int16
	overLimit bool
}

func (r *Recorder) loop(t *take, frames <-chan []byte, stop, done chan struct{}, started time.Time, now func() time.Time) {
	defer close(done)
	for {
		select {
		case chunk := <-frames:
			r.consume(t, chunk, started, now)
		case <-stop:
			for {
				select {
				case chunk := <-frames:
					r.consume(t, chunk, started, now)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) consume(t *take, chunk []byte, started time.Time, now func() time.Time) {
	elapsed := now().Sub(started)
	r.elapsed.Store(int64(elapsed))

	s := encoder.Samples(chunk)
	r.level.Store(math.Float64bits(rms(s)))

	if t.overLimit {
		return
	}
	if elapsed > r.cfg.MaxDuration {
		t.overLimit = true
		log.Warnf("recording passed max duration %s, discarding further audio", r.cfg.MaxDuration)
		return
	}
	t.samples = append(t.samples, s...)
}

// Stop ends the capture, joins the capture goroutine and returns the
// validated recording. Out-of-bounds captures return a VALIDATION_FAILED error.
func (r *Recorder) Stop() (*Recording, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.recording = false
	capture, stop, done, started, now, t := r.capture, r.stop, r.done, r.started, r.now, r.take
	r.capture = nil
	r.take = nil
	r.mu.Unlock()

	capture.ClearCallback()
	capture.Stop()
	close(stop)

	select {
	case <-done:
	case <-time.After(r.cfg.JoinTimeout):
		capture.Close()
		log.Error("capture loop join timed out")
		return nil, ErrStopTimeout
	}
	capture.Close()

	duration := now().Sub(started)
	r.elapsed.Store(int64(duration))
	samples := t.samples
	dropped := int(r.dropped.Load())
	if dropped > 0 {
		log.Warnf("capture dropped %d frames", dropped)
	}

	if duration < r.cfg.MinDuration {
		log.Warnf("recording too short: %s", duration)
		return nil, terrors.NewValidationFailed(fmt.Sprintf("recording too short: %s (min %s)", duration.Round(time.Millisecond), r.cfg.MinDuration))
	}
	if duration > r.cfg.MaxDuration {
		log.Warnf("recording too long: %s", duration)
		return nil, terrors.NewValidationFailed(fmt.Sprintf("recording too long: %s (max %s)", duration.Round(time.Second), r.cfg.MaxDuration))
	}

	data, contentType, err := encoder.Encode(r.cfg.Format, r.cfg.SampleRate, samples)
	if err != nil {
		return nil, fmt.Errorf("encode recording: %w", err)
	}
	if r.cfg.MaxFileSize > 0 && len(data) > r.cfg.MaxFileSize {
		log.Warnf("recording too large: %d bytes", len(data))
		return nil, terrors.NewValidationFailed(fmt.Sprintf("recording too large: %d bytes (max %d)", len(data), r.cfg.MaxFileSize))
	}

	log.Infof("recording finished: %s, %d bytes", duration.Round(time.Millisecond), len(data))
	return &Recording{
		Data:        data,
		ContentType: contentType,
		Duration:    duration,
		SizeBytes:   len(data),
		Dropped:     dropped,
	}, nil
}

// Cancel stops an active capture and discards it.
func (r *Recorder) Cancel() {
	if _, err := r.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
		log.Infof("recording cancelled: %v", err)
	}
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
