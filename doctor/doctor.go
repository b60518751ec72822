// Package doctor runs diagnostics over everything totari depends on:
// config dir, audio backend, transcription key, document store and
// clipboard.
package doctor

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"totari/audio"
	"totari/config"
	"totari/device"
	"totari/shutdown"
	"totari/store"
	"totari/transcriber"
)

// Env is what the checks run against. Nil fields skip their check.
type Env struct {
	Config config.Config
	Out    io.Writer
	In     io.Reader

	// Interactive enables the microphone round trip, which needs a person
	// to speak and confirm.
	Interactive bool
	RecordFor   time.Duration

	Audio       audio.Context
	Store       *store.Store
	Transcriber transcriber.Transcriber
	Speaker     *transcriber.Speaker
	Copy        func(string) error
	Read        func() (string, error)
}

type status int

const (
	pass status = iota
	warn
	fail
	skip
)

func (s status) String() string {
	switch s {
	case pass:
		return "PASS"
	case warn:
		return "WARN"
	case fail:
		return "FAIL"
	default:
		return "SKIP"
	}
}

type check struct {
	name string
	run  func(ctx context.Context, env *Env) (status, string)
}

var checks = []check{
	{"Config directory", checkConfigDir},
	{"Audio backend", checkAudio},
	{"Microphone and transcription", checkMicrophone},
	{"Transcription service", checkTranscription},
	{"Document store", checkStore},
	{"Sign-in", checkIdentity},
	{"Clipboard", checkClipboard},
}

// Run executes every check and returns an exit code: 0 when nothing
// failed, 1 otherwise. Interrupts exit immediately.
func Run(ctx context.Context, env Env) int {
	if env.Interactive {
		resetTerminal()
		setupInterruptHandler()
	}
	return RunChecks(ctx, env)
}

// RunChecks is Run without terminal handling.
func RunChecks(ctx context.Context, env Env) int {
	if env.Out == nil {
		env.Out = os.Stdout
	}
	if env.In == nil {
		env.In = os.Stdin
	}
	if env.RecordFor <= 0 {
		env.RecordFor = 3 * time.Second
	}

	fmt.Fprintln(env.Out, "totari doctor - system diagnostics")
	fmt.Fprintln(env.Out, "==================================")

	failed := 0
	for i, c := range checks {
		fmt.Fprintln(env.Out)
		fmt.Fprintf(env.Out, "[%d/%d] %s\n", i+1, len(checks), c.name)
		st, detail := c.run(ctx, &env)
		fmt.Fprintf(env.Out, "  %s: %s\n", st, detail)
		if st == fail {
			failed++
		}
	}

	fmt.Fprintln(env.Out)
	if failed == 0 {
		fmt.Fprintln(env.Out, "All checks passed!")
		return 0
	}
	fmt.Fprintf(env.Out, "%d check(s) failed. See details above.\n", failed)
	return 1
}

func setupInterruptHandler() {
	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		println("\nInterrupted")
		os.Exit(1)
	}()
}

func checkConfigDir(_ context.Context, env *Env) (status, string) {
	dir := env.Config.Device.ConfigDir
	if dir == "" {
		return fail, "no config directory resolved"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail, fmt.Sprintf("cannot create %s: %v", dir, err)
	}
	id, err := device.Resolve(dir, env.Config.Device.Override)
	if err != nil {
		return fail, fmt.Sprintf("device id: %v", err)
	}
	return pass, fmt.Sprintf("%s (device %s)", dir, id)
}

func checkAudio(_ context.Context, env *Env) (status, string) {
	if env.Audio == nil {
		return fail, "no audio backend; recording is disabled"
	}
	devices, err := env.Audio.Devices()
	if err != nil {
		return fail, fmt.Sprintf("cannot list devices: %v", err)
	}
	if len(devices) == 0 {
		return fail, "no capture devices found"
	}
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		name := d.Name
		if audio.IsBluetooth(d.Name) {
			name += " [bluetooth]"
		}
		names = append(names, name)
	}
	return pass, fmt.Sprintf("%d device(s): %s", len(devices), strings.Join(names, ", "))
}

func checkMicrophone(ctx context.Context, env *Env) (status, string) {
	if !env.Interactive {
		return skip, "run with --interactive to record a test clip"
	}
	if env.Audio == nil {
		return skip, "no audio backend"
	}

	reader := bufio.NewReader(env.In)
	fmt.Fprintf(env.Out, "Press Enter and speak for %s...", env.RecordFor)
	reader.ReadString('\n')

	cfg := audio.DefaultRecorderConfig()
	cfg.MinDuration = 0
	rec := audio.NewRecorder(env.Audio, nil, cfg)
	if !rec.Start() {
		return fail, "capture failed to start"
	}
	fmt.Fprint(env.Out, "  Recording")
	peak := 0.0
	deadline := time.After(env.RecordFor)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-ticker.C:
			peak = max(peak, rec.Level())
		}
	}
	recording, err := rec.Stop()
	fmt.Fprintln(env.Out, " done")
	if err != nil {
		return fail, fmt.Sprintf("recording error: %v", err)
	}
	fmt.Fprintf(env.Out, "  Recorded %.1f KB, peak level %.2f\n", float64(recording.SizeBytes)/1024, peak)

	if env.Transcriber == nil || !env.Transcriber.Enabled() {
		return warn, "captured audio but transcription is not configured"
	}
	fmt.Fprintln(env.Out, "  Transcribing...")
	result := env.Transcriber.Transcribe(ctx, base64.StdEncoding.EncodeToString(recording.Data), recording.ContentType)
	if result.Fallback {
		return fail, "transcription failed, got the fallback text"
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		text = "(no speech detected)"
	}
	fmt.Fprintf(env.Out, "\n  Transcribed text: %s\n\n", text)

	resetTerminal()
	fmt.Fprint(env.Out, "Is this correct? [y/n]: ")
	confirm, _ := reader.ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))
	if confirm == "y" || confirm == "yes" {
		return pass, "transcription verified by user"
	}
	return fail, "transcription not confirmed"
}

func checkTranscription(ctx context.Context, env *Env) (status, string) {
	if !env.Config.TranscriptionEnabled() {
		return warn, "ELEVENLABS_API_KEY not set; audio messages get a placeholder transcript"
	}
	if env.Speaker == nil || !env.Speaker.Enabled() {
		return pass, "API key configured"
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	voices, err := env.Speaker.Voices(ctx)
	if err != nil {
		return fail, fmt.Sprintf("API key rejected or service unreachable: %v", err)
	}
	return pass, fmt.Sprintf("API key accepted (%d voices)", len(voices))
}

func checkStore(ctx context.Context, env *Env) (status, string) {
	backend := env.Config.Store.Backend
	if backend == config.BackendNone {
		return warn, "store disabled; nothing will be saved"
	}
	if env.Store == nil || !env.Store.Available() {
		return fail, fmt.Sprintf("%s backend did not open", backend)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	start := time.Now()
	if err := env.Store.Ping(ctx); err != nil {
		return fail, fmt.Sprintf("%s backend unreachable: %v", backend, err)
	}
	where := backend
	switch backend {
	case config.BackendSQLite:
		where += " " + env.Config.Store.SQLitePath
	case config.BackendFirestore:
		where += " project " + env.Config.Firebase.ProjectID
	}
	return pass, fmt.Sprintf("%s answered in %s", where, time.Since(start).Round(time.Millisecond))
}

func checkIdentity(_ context.Context, env *Env) (status, string) {
	fb := env.Config.Firebase
	if fb.APIKey == "" {
		return pass, "device sign-in (set FIREBASE_API_KEY for email sign-in)"
	}
	if env.Config.Store.Backend == config.BackendFirestore && fb.CredentialsFile != "" {
		if _, err := os.Stat(fb.CredentialsFile); err != nil {
			return fail, fmt.Sprintf("credentials file: %v", err)
		}
	}
	return pass, "email sign-in via Firebase Identity Toolkit"
}

func checkClipboard(_ context.Context, env *Env) (status, string) {
	if env.Copy == nil || env.Read == nil {
		return skip, "no clipboard"
	}
	previous, _ := env.Read()
	probe := fmt.Sprintf("totari-doctor-%d", time.Now().UnixNano())
	if err := env.Copy(probe); err != nil {
		return warn, fmt.Sprintf("copy unavailable: %v", err)
	}
	got, err := env.Read()
	env.Copy(previous)
	if err != nil {
		return warn, fmt.Sprintf("read back failed: %v", err)
	}
	if got != probe {
		return fail, fmt.Sprintf("read back %q, want %q", got, probe)
	}
	return pass, "copy and read back verified"
}
