//go:build !linux

package cue

import (
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"totari/encoder"
)

var playMu sync.Mutex

func play(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	playMu.Lock()
	defer playMu.Unlock()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return err
	}
	defer func() {
		ctx.Uninit()
		ctx.Free()
	}()

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = sampleRate

	data := encoder.PCM(samples)
	pos := 0
	done := make(chan struct{})
	var doneOnce sync.Once
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			n := copy(out, data[pos:])
			pos += n
			clear(out[n:])
			if pos >= len(data) {
				doneOnce.Do(func() { close(done) })
			}
		},
	}
	dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		return err
	}
	defer dev.Uninit()
	if err := dev.Start(); err != nil {
		return err
	}
	select {
	case <-done:
		time.Sleep(50 * time.Millisecond)
	case <-time.After(2 * time.Second):
	}
	return dev.Stop()
}
