package tui

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"totari/audio"
	"totari/auth"
	"totari/encoder"
	"totari/model"
	"totari/state"
	"totari/store"
	"totari/transcriber"
)

type fakeRecorder struct {
	started   int
	cancelled bool
	data      []byte
	level     float64
}

func (r *fakeRecorder) Available() bool        { return true }
func (r *fakeRecorder) Start() bool            { r.started++; return true }
func (r *fakeRecorder) Cancel()                { r.cancelled = true }
func (r *fakeRecorder) Elapsed() time.Duration { return 1500 * time.Millisecond }
func (r *fakeRecorder) Level() float64         { return r.level }
func (r *fakeRecorder) Stop() (*audio.Recording, error) {
	return &audio.Recording{Data: r.data, ContentType: "audio/wav", SizeBytes: len(r.data)}, nil
}

func newTestModel(t *testing.T, rec Recorder, opts Options) (Model, *state.Coordinator) {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "tui.db"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	s := store.New(db)
	c := state.New(state.Options{
		Store:       s,
		Transcriber: transcriber.NewFake("bom dia", nil),
		Auth:        auth.NewDevice("device-1"),
		DeviceID:    "device-1",
	})
	t.Cleanup(func() {
		c.Close()
		s.Close()
	})
	if _, err := c.SignIn(context.Background(), "", ""); err != nil {
		t.Fatal(err)
	}
	m := New(context.Background(), c, rec, opts)
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	return m, c
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

// press feeds a key to the model and runs the resulting command once,
// feeding its message back in.
func press(t *testing.T, m Model, k tea.KeyMsg) Model {
	t.Helper()
	next, cmd := m.Update(k)
	m = next.(Model)
	return runCmd(t, m, cmd)
}

func runCmd(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		return m
	}
	msg := cmd()
	if msg == nil {
		return m
	}
	return update(t, m, msg)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func syncState(t *testing.T, m Model, c *state.Coordinator) Model {
	t.Helper()
	m = update(t, m, eventMsg{state.Event{Kind: state.ThreadsChanged, Data: c.Threads()}})
	m = update(t, m, eventMsg{state.Event{Kind: state.CurrentThreadChanged, Data: c.CurrentThread()}})
	return update(t, m, eventMsg{state.Event{Kind: state.MessagesChanged, Data: c.Messages()}})
}

func wav(t *testing.T, secs float64) []byte {
	t.Helper()
	data, _, err := encoder.Encode("wav", encoder.SampleRate, make([]int16, int(secs*encoder.SampleRate)))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestViewBeforeResize(t *testing.T) {
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "v.db"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	c := state.New(state.Options{Store: store.New(db)})
	defer c.Close()
	if got := New(context.Background(), c, nil, Options{}).View(); got != "Loading..." {
		t.Errorf("View() = %q", got)
	}
}

func TestCreateThreadFromPrompt(t *testing.T) {
	m, c := newTestModel(t, nil, Options{})

	m = update(t, m, runes("n"))
	if m.inputMode != inputNewThread {
		t.Fatalf("inputMode = %v, want new thread", m.inputMode)
	}
	m = update(t, m, runes("Groceries"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.inputMode != inputNone {
		t.Errorf("prompt still open")
	}
	if m.status != `created "Groceries"` {
		t.Errorf("status = %q", m.status)
	}
	threads := c.Threads()
	if len(threads) != 1 || threads[0].Title != "Groceries" {
		t.Fatalf("threads = %+v", threads)
	}
	m = syncState(t, m, c)
	if !strings.Contains(m.View(), "Groceries") {
		t.Error("thread missing from view")
	}
}

func TestPromptCancel(t *testing.T) {
	m, c := newTestModel(t, nil, Options{})
	m = update(t, m, runes("n"))
	m = update(t, m, runes("never"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.inputMode != inputNone {
		t.Error("esc should close the prompt")
	}
	if len(c.Threads()) != 0 {
		t.Errorf("threads = %+v", c.Threads())
	}
}

func TestRecordAndTranscribe(t *testing.T) {
	rec := &fakeRecorder{data: wav(t, 2), level: 0.3}
	m, c := newTestModel(t, rec, Options{})
	ctx := context.Background()

	th, err := c.CreateThread(ctx, "Voice")
	if err != nil {
		t.Fatal(err)
	}
	m = syncState(t, m, c)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.view != viewMessages {
		t.Fatal("enter should open the thread")
	}
	m = syncState(t, m, c)
	if m.current == nil || m.current.ID != th.ID {
		t.Fatalf("current = %+v", m.current)
	}

	m = press(t, m, tea.KeyMsg{Type: tea.KeySpace})
	if !m.recording || m.recordingID == "" || rec.started != 1 {
		t.Fatalf("recording = %v id = %q started = %d", m.recording, m.recordingID, rec.started)
	}
	id := m.recordingID

	m = update(t, m, recordTickMsg(time.Now()))
	if m.elapsed != 1500*time.Millisecond || m.peakLevel != 0.3 {
		t.Errorf("elapsed = %v peak = %v", m.elapsed, m.peakLevel)
	}

	// Stop, then wait for the transcription task.
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeySpace})
	m = next.(Model)
	next, cmd = m.Update(cmd())
	m = next.(Model)
	if m.recording || m.status != "transcribing..." {
		t.Fatalf("recording = %v status = %q", m.recording, m.status)
	}
	m = runCmd(t, m, cmd)
	if m.status != "transcribed" {
		t.Errorf("status = %q", m.status)
	}

	msg, ok := c.Message(id)
	if !ok {
		t.Fatal("message missing from mirror")
	}
	if msg.Status != model.StatusTranscribed || msg.Payload.Transcript == nil || msg.Payload.Transcript.Text != "bom dia" {
		t.Errorf("message = %+v", msg)
	}
	m = syncState(t, m, c)
	if !strings.Contains(m.View(), "bom dia") {
		t.Error("transcript missing from view")
	}
}

func TestAutoStopAtMaxDuration(t *testing.T) {
	rec := &fakeRecorder{data: wav(t, 2)}
	m, _ := newTestModel(t, rec, Options{MaxDuration: time.Second})
	m.recording = true
	m.recordingID = "m1"

	next, cmd := m.Update(recordTickMsg(time.Now()))
	m = next.(Model)
	if !m.stopping || cmd == nil {
		t.Fatal("tick past the limit should stop the recording")
	}
}

func TestQuitWhileRecordingCancelsCapture(t *testing.T) {
	rec := &fakeRecorder{}
	m, c := newTestModel(t, rec, Options{})
	ctx := context.Background()
	th, err := c.CreateThread(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := c.StartAudioRecording(ctx, th.ID)
	if err != nil {
		t.Fatal(err)
	}
	m.recording = true
	m.recordingID = msg.ID

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(Model)
	if m.recording || cmd == nil {
		t.Fatal("quit should stop recording")
	}
	got, err := c.Store().GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	// The cancel runs inside the command; nothing happened yet.
	if got.Status != model.StatusRecording || rec.cancelled {
		t.Errorf("status = %q cancelled = %v", got.Status, rec.cancelled)
	}
}

func TestQuitIdle(t *testing.T) {
	m, _ := newTestModel(t, nil, Options{})
	_, cmd := m.Update(runes("q"))
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestCopySelected(t *testing.T) {
	var copied string
	m, c := newTestModel(t, nil, Options{Copy: func(s string) error { copied = s; return nil }})
	ctx := context.Background()
	th, err := c.CreateThread(ctx, "notes")
	if err != nil {
		t.Fatal(err)
	}
	c.SetCurrentThread(ctx, th)
	if _, err := c.AddNote(ctx, th.ID, "remember the milk"); err != nil {
		t.Fatal(err)
	}
	m = syncState(t, m, c)
	m.view = viewMessages

	m = press(t, m, runes("c"))
	if copied != "remember the milk" || m.status != "copied to clipboard" {
		t.Errorf("copied = %q status = %q", copied, m.status)
	}
}

func TestCurrentThreadClearedReturnsToList(t *testing.T) {
	m, _ := newTestModel(t, nil, Options{})
	m.view = viewMessages
	m.current = &model.Thread{ID: "x", Title: "x"}
	m = update(t, m, eventMsg{state.Event{Kind: state.CurrentThreadChanged, Data: (*model.Thread)(nil)}})
	if m.view != viewThreads || m.current != nil {
		t.Errorf("view = %v current = %+v", m.view, m.current)
	}
}

func TestBackBlockedWhileRecording(t *testing.T) {
	m, _ := newTestModel(t, nil, Options{})
	m.view = viewMessages
	m.recording = true
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.view != viewMessages || m.status != "stop recording first" {
		t.Errorf("view = %v status = %q", m.view, m.status)
	}
}

func TestCursorClamps(t *testing.T) {
	m, _ := newTestModel(t, nil, Options{})
	m = update(t, m, eventMsg{state.Event{Kind: state.ThreadsChanged, Data: []model.Thread{{ID: "a"}, {ID: "b"}}}})
	for i := 0; i < 5; i++ {
		m = press(t, m, runes("j"))
	}
	if m.cursor != 1 {
		t.Errorf("cursor = %d, want 1", m.cursor)
	}
	m = update(t, m, eventMsg{state.Event{Kind: state.ThreadsChanged, Data: []model.Thread{{ID: "a"}}}})
	if m.cursor != 0 {
		t.Errorf("cursor after shrink = %d", m.cursor)
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  []string
	}{
		{"", 10, []string{""}},
		{"short", 10, []string{"short"}},
		{"hello there world", 11, []string{"hello there", "world"}},
		{"hello there world", 8, []string{"hello", "there", "world"}},
		{"abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"one\ntwo", 10, []string{"one", "two"}},
		{"ãé ção", 3, []string{"ãé", "ção"}},
	}
	for _, tt := range tests {
		got := wrapText(tt.in, tt.width)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("wrapText(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 4); got != "abc" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 1); got != "a" {
		t.Errorf("truncate = %q", got)
	}
}

func TestRenderEye(t *testing.T) {
	for _, recording := range []bool{false, true} {
		out := renderEye(10, 0.5, recording)
		if lines := strings.Count(out, "\n"); lines != 8 {
			t.Errorf("recording=%v: %d rows, want 8", recording, lines)
		}
	}
	if !strings.Contains(renderEye(0, 0, true), "LISTENING") {
		t.Error("recording eye should say LISTENING")
	}
}

func TestSilenceAutoStop(t *testing.T) {
	rec := &fakeRecorder{data: wav(t, 2)}
	m, _ := newTestModel(t, rec, Options{SilenceStop: 800 * time.Millisecond})
	m = update(t, m, recordStartedMsg{messageID: "m1"})
	rec.level = 0

	var cmd tea.Cmd
	for i := 0; i < 200 && !m.stopping; i++ {
		var next tea.Model
		next, cmd = m.Update(recordTickMsg(time.Now()))
		m = next.(Model)
	}
	if !m.stopping || cmd == nil {
		t.Fatal("silent recording should stop itself")
	}
	if !m.silent {
		t.Error("silence warning should be showing")
	}
}
