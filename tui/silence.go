package tui

import "time"

const (
	voiceLevel     = 0.02
	voiceMinRatio  = 0.10
	voiceClearRate = 0.25
)

type silenceEvent int

const (
	silenceNone silenceEvent = iota
	silenceWarn
	silenceClear
	silenceAutoStop
)

// silenceWatch tracks voice activity over a ring of recent ticks. It warns
// once the warn window is mostly silent and, when enabled, asks for an auto
// stop once the whole stop window is.
type silenceWatch struct {
	warnAt int
	size   int
	stop   bool

	ticks  int
	voiced []bool
	count  int
	warned bool
}

// newSilenceWatch sizes the windows in ticks. A zero stopAfter disables
// auto stop.
func newSilenceWatch(tick, warnAfter, stopAfter time.Duration) *silenceWatch {
	warnAt := max(int(warnAfter/tick), 1)
	size := warnAt
	if stopAfter > 0 {
		size = max(int(stopAfter/tick), warnAt)
	}
	return &silenceWatch{
		warnAt: warnAt,
		size:   size,
		stop:   stopAfter > 0,
		voiced: make([]bool, size),
	}
}

// ratio is the voiced share of the last n ticks.
func (w *silenceWatch) ratio(n int) float64 {
	n = min(n, w.ticks)
	if n == 0 {
		return 1
	}
	count := 0
	for i := 0; i < n; i++ {
		if w.voiced[(w.ticks-1-i+w.size)%w.size] {
			count++
		}
	}
	return float64(count) / float64(n)
}

// Observe records one tick at the given input level.
func (w *silenceWatch) Observe(level float64) silenceEvent {
	voiced := level >= voiceLevel
	idx := w.ticks % w.size
	if w.ticks >= w.size && w.voiced[idx] {
		w.count--
	}
	w.voiced[idx] = voiced
	if voiced {
		w.count++
	}
	w.ticks++

	r := w.ratio(w.warnAt)
	if w.ticks >= w.warnAt && r < voiceMinRatio && !w.warned {
		w.warned = true
		return silenceWarn
	}
	if w.warned && r >= voiceClearRate {
		w.warned = false
		return silenceClear
	}
	if w.stop && w.ticks >= w.size && float64(w.count)/float64(w.size) < voiceMinRatio {
		return silenceAutoStop
	}
	return silenceNone
}
