package tui

import (
	"testing"
	"time"
)

const tick = 100 * time.Millisecond

func watchNoStop() *silenceWatch { return newSilenceWatch(tick, 8*time.Second, 0) }
func watchStop() *silenceWatch   { return newSilenceWatch(tick, 8*time.Second, 30*time.Second) }

func feed(w *silenceWatch, level float64, n int) silenceEvent {
	var last silenceEvent
	for i := 0; i < n; i++ {
		last = w.Observe(level)
	}
	return last
}

func TestSilenceWarnAfterWindow(t *testing.T) {
	w := watchNoStop()
	for i := 0; i < 79; i++ {
		if ev := w.Observe(0); ev != silenceNone {
			t.Fatalf("unexpected event at tick %d: %d", i, ev)
		}
	}
	if ev := w.Observe(0); ev != silenceWarn {
		t.Fatalf("expected silenceWarn at tick 80, got %d", ev)
	}
}

func TestSilenceWarnClearsOnVoice(t *testing.T) {
	w := watchNoStop()
	feed(w, 0, 80)
	for i := 0; i < 80; i++ {
		if w.Observe(0.3) == silenceClear {
			return
		}
	}
	t.Fatal("expected silenceClear after voice")
}

func TestNoWarnWhileSpeaking(t *testing.T) {
	w := watchStop()
	for i := 0; i < 400; i++ {
		if ev := w.Observe(0.2); ev != silenceNone {
			t.Fatalf("unexpected event %d at tick %d", ev, i)
		}
	}
}

func TestWarnOnlyOnce(t *testing.T) {
	w := watchNoStop()
	warns := 0
	for i := 0; i < 300; i++ {
		if w.Observe(0) == silenceWarn {
			warns++
		}
	}
	if warns != 1 {
		t.Fatalf("expected exactly 1 silenceWarn, got %d", warns)
	}
}

func TestWarnStaysDuringNoise(t *testing.T) {
	w := watchNoStop()
	feed(w, 0, 80)
	for i := 0; i < 80; i++ {
		level := 0.0
		if i%10 == 0 {
			level = 0.5
		}
		if w.Observe(level) == silenceClear {
			t.Fatalf("warning cleared by sparse noise at tick %d", i)
		}
	}
}

func TestAutoStop(t *testing.T) {
	w := watchStop()
	for i := 0; i < 400; i++ {
		if w.Observe(0) == silenceAutoStop {
			if i < 299 {
				t.Fatalf("auto stop too early at tick %d", i)
			}
			return
		}
	}
	t.Fatal("expected silenceAutoStop within 400 ticks")
}

func TestNoAutoStopWhenDisabled(t *testing.T) {
	w := watchNoStop()
	for i := 0; i < 400; i++ {
		if w.Observe(0) == silenceAutoStop {
			t.Fatalf("unexpected auto stop at tick %d", i)
		}
	}
}

func TestAutoStopPreventedByVoice(t *testing.T) {
	w := watchStop()
	for i := 0; i < 500; i++ {
		level := 0.0
		if i%10 < 7 {
			level = 0.1
		}
		if w.Observe(level) == silenceAutoStop {
			t.Fatalf("unexpected auto stop at tick %d", i)
		}
	}
}
