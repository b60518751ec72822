package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"totari/audio"
	"totari/auth"
	"totari/config"
	"totari/device"
	"totari/encoder"
	"totari/log"
	"totari/state"
	"totari/store"
	"totari/transcriber"
)

// session is everything a command needs once configuration is resolved.
type session struct {
	cfg      config.Config
	deviceID string
	store    *store.Store
	tr       *transcriber.ElevenLabs
	speaker  *transcriber.Speaker
	coord    *state.Coordinator
	storeErr error
}

type sessionOptions struct {
	email    string
	password string
	// degraded keeps going when the store cannot open. The UI still
	// records and transcribes; nothing is saved.
	degraded bool
}

func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Device.ConfigDir, 0o755); err != nil {
		return nil, fmt.Errorf("config dir: %w", err)
	}
	deviceID, err := device.Resolve(cfg.Device.ConfigDir, cfg.Device.Override)
	if err != nil {
		return nil, fmt.Errorf("device id: %w", err)
	}

	sess := &session{cfg: cfg, deviceID: deviceID}
	sess.store, sess.storeErr = openStore(ctx, cfg)
	if sess.storeErr != nil {
		log.Errorf("store: %v", sess.storeErr)
		if !opts.degraded {
			return nil, sess.storeErr
		}
		sess.store = store.New(nil)
	}

	sess.tr, sess.speaker = newSpeechClients(cfg)

	var provider auth.Provider = auth.NewDevice(deviceID)
	if cfg.Firebase.APIKey != "" && opts.email != "" {
		provider = auth.NewFirebase(cfg.Firebase.APIKey, "")
	}

	sess.coord = state.New(state.Options{
		Store:         sess.store,
		Transcriber:   sess.tr,
		Auth:          provider,
		DeviceID:      deviceID,
		Format:        cfg.Audio.Format,
		SampleRate:    cfg.Audio.SampleRate,
		Limits:        cfg.Audio.Limits(),
		WatchMessages: true,
	})
	if _, err := sess.coord.SignIn(ctx, opts.email, opts.password); err != nil {
		sess.Close()
		return nil, fmt.Errorf("sign in with %s: %w", provider.Name(), err)
	}

	log.SessionStart(deviceID, cfg.Store.Backend, cfg.TranscriptionEnabled())
	return sess, nil
}

func newSpeechClients(cfg config.Config) (*transcriber.ElevenLabs, *transcriber.Speaker) {
	el := cfg.ElevenLabs
	tr := transcriber.NewElevenLabs(transcriber.Options{
		APIKey:  el.APIKey,
		BaseURL: el.BaseURL,
		Model:   el.STTModel,
		Timeout: el.TranscribeTimeout,
	})
	speaker := transcriber.NewSpeaker(transcriber.SpeakerOptions{
		APIKey:  el.APIKey,
		BaseURL: el.BaseURL,
		Model:   el.TTSModel,
		VoiceID: el.VoiceID,
	})
	return tr, speaker
}

func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendNone:
		return store.New(nil), nil
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		db, err := store.OpenSQLite(cfg.Store.SQLitePath, cfg.Store.PollInterval)
		if err != nil {
			return nil, err
		}
		return store.New(db), nil
	default:
		db, err := store.OpenFirestore(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return store.New(db), nil
	}
}

// Close waits for in-flight transcriptions before closing the store.
func (sess *session) Close() {
	if sess.coord != nil {
		log.SessionEnd(sess.coord.Processed())
		sess.coord.Close()
	}
	if sess.store != nil {
		sess.store.Close()
	}
}

// recorderConfig maps the audio settings onto a capture. Replayed files are
// fed at the encoder rate regardless of the configured one.
func (sess *session) recorderConfig(fake bool) audio.RecorderConfig {
	a := sess.cfg.Audio
	cfg := audio.DefaultRecorderConfig()
	cfg.Format = a.Format
	cfg.SampleRate = a.SampleRate
	cfg.Channels = a.Channels
	cfg.MinDuration = a.MinDuration
	cfg.MaxDuration = a.MaxDuration
	cfg.MaxFileSize = a.MaxFileSize
	if fake {
		cfg.SampleRate = encoder.SampleRate
		cfg.Channels = encoder.Channels
	}
	return cfg
}

type audioOptions struct {
	fakeWAV string
	device  string
	setup   bool
}

// openAudio returns the capture backend and the chosen device. A nil
// device means the system default.
func openAudio(opts audioOptions) (audio.Context, *audio.DeviceInfo, error) {
	if opts.fakeWAV != "" {
		ctx, err := audio.NewFakeContextFromWAV(opts.fakeWAV, true)
		if err != nil {
			return nil, nil, err
		}
		return ctx, nil, nil
	}

	ctx, err := audio.NewContext()
	if err != nil {
		return nil, nil, fmt.Errorf("audio init: %w", err)
	}

	var selected *audio.DeviceInfo
	switch {
	case opts.device != "":
		devices, err := ctx.Devices()
		if err != nil {
			ctx.Close()
			return nil, nil, err
		}
		for i := range devices {
			if devices[i].Name == opts.device {
				selected = &devices[i]
				break
			}
		}
		if selected == nil {
			log.Warnf("device %q not found, using default", opts.device)
		}
	case opts.setup:
		selected, err = audio.SelectDevice(ctx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			selected = nil
		}
	}
	return ctx, selected, nil
}

func deviceLine(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

func (sess *session) modeLine() string {
	stt := "no transcription"
	if sess.cfg.TranscriptionEnabled() {
		stt = sess.tr.Name()
	}
	backend := sess.cfg.Store.Backend
	if sess.storeErr != nil {
		backend += " offline"
	}
	return fmt.Sprintf("[%s | %s | %s]", sess.cfg.Audio.Format, stt, backend)
}
