// Package cue plays the short tones that mark a recording starting,
// stopping or failing.
package cue

import (
	"math"
	"sync"
	"sync/atomic"

	"totari/log"
)

const sampleRate = 44100

type Kind int

const (
	Start Kind = iota
	Stop
	Error
)

type tone struct {
	freq, volume, decay float64
	duration            float64
	// repeat > 1 plays the tone again after gap seconds.
	repeat int
	gap    float64
}

var tones = map[Kind]tone{
	Start: {freq: 1200, volume: 0.5, decay: 60, duration: 0.2, repeat: 1},
	Stop:  {freq: 900, volume: 0.5, decay: 40, duration: 0.2, repeat: 1},
	Error: {freq: 350, volume: 0.6, decay: 30, duration: 0.08, repeat: 2, gap: 0.05},
}

var (
	disabled atomic.Bool
	once     sync.Once
	samples  map[Kind][]int16
)

// Disable silences every cue for the rest of the process.
func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

// Samples returns the mono PCM16 rendering of k.
func Samples(k Kind) []int16 {
	once.Do(func() {
		samples = make(map[Kind][]int16, len(tones))
		for kind, t := range tones {
			samples[kind] = render(t)
		}
	})
	return samples[k]
}

func render(t tone) []int16 {
	n := int(sampleRate * t.duration)
	gap := int(sampleRate * t.gap)
	out := make([]int16, 0, t.repeat*n+(t.repeat-1)*gap)
	for r := 0; r < t.repeat; r++ {
		if r > 0 {
			out = append(out, make([]int16, gap)...)
		}
		for i := 0; i < n; i++ {
			ts := float64(i) / sampleRate
			env := math.Exp(-ts * t.decay)
			out = append(out, int16(math.Sin(2*math.Pi*t.freq*ts)*32767*t.volume*env))
		}
	}
	return out
}

// Play starts k in the background. Playback failures are logged and
// otherwise ignored.
func Play(k Kind) {
	if disabled.Load() {
		return
	}
	s := Samples(k)
	go func() {
		if err := play(s); err != nil {
			log.Warnf("cue playback: %v", err)
		}
	}()
}
