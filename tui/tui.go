// Package tui is the terminal front end: a thread list, the open thread's
// messages and a push-to-talk recorder, all driven by coordinator events.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"totari/audio"
	"totari/cue"
	"totari/log"
	"totari/model"
	"totari/state"
)

// Recorder is the capture side used by the UI. *audio.Recorder satisfies it.
type Recorder interface {
	Available() bool
	Start() bool
	Stop() (*audio.Recording, error)
	Cancel()
	Elapsed() time.Duration
	Level() float64
}

type Options struct {
	Version     string
	DeviceLine  string
	ModeLine    string
	MaxDuration time.Duration
	// SilenceStop ends a recording after this long without voice. Zero
	// disables it.
	SilenceStop time.Duration
	// Cues plays tones when recording starts, stops or fails.
	Cues bool
	// Copy writes text to the system clipboard.
	Copy func(string) error
}

// Messages delivered to the model.
type eventMsg struct{ ev state.Event }
type statusMsg struct{ text string }
type errMsg struct{ err error }
type recordTickMsg time.Time
type recordStartedMsg struct {
	messageID string
	err       error
}
type recordDoneMsg struct {
	messageID string
	task      *state.Task
	err       error
}
type transcribedMsg struct {
	messageID string
	err       error
}

type view int

const (
	viewThreads view = iota
	viewMessages
)

type inputMode int

const (
	inputNone inputMode = iota
	inputNewThread
	inputRename
	inputNote
)

type Model struct {
	ctx  context.Context
	c    *state.Coordinator
	rec  Recorder
	opts Options

	width, height int
	view          view
	keys          keyMap
	help          help.Model
	input         textinput.Model
	inputMode     inputMode
	vp            viewport.Model

	threads   []model.Thread
	cursor    int
	current   *model.Thread
	messages  []model.Message
	msgCursor int
	loading   bool
	user      *model.User

	recording   bool
	stopping    bool
	recordingID string
	elapsed     time.Duration
	level       float64
	peakLevel   float64
	frame       int
	silence     *silenceWatch
	silent      bool

	status string
}

func New(ctx context.Context, c *state.Coordinator, rec Recorder, opts Options) Model {
	ti := textinput.New()
	ti.CharLimit = 500
	return Model{
		ctx:     ctx,
		c:       c,
		rec:     rec,
		opts:    opts,
		keys:    newKeyMap(),
		help:    help.New(),
		input:   ti,
		vp:      viewport.New(0, 0),
		threads: c.Threads(),
		user:    c.User(),
	}
}

// Run starts the program and forwards coordinator events to it until the
// user quits.
func Run(ctx context.Context, c *state.Coordinator, rec Recorder, opts Options) error {
	p := tea.NewProgram(New(ctx, c, rec, opts), tea.WithAltScreen(), tea.WithContext(ctx))

	kinds := []state.EventKind{state.AuthChanged, state.ThreadsChanged, state.MessagesChanged, state.CurrentThreadChanged}
	handles := make([]state.Handle, 0, len(kinds))
	for _, k := range kinds {
		handles = append(handles, c.Subscribe(k, func(e state.Event) { p.Send(eventMsg{ev: e}) }))
	}
	defer func() {
		for _, h := range handles {
			c.Unsubscribe(h)
		}
	}()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchThreads(), textinput.Blink)
}

func (m Model) fetchThreads() tea.Cmd {
	return func() tea.Msg {
		m.c.FetchThreads(m.ctx)
		return nil
	}
}

const (
	recordTickInterval = 80 * time.Millisecond
	silenceWarnAfter   = 8 * time.Second
)

func recordTick() tea.Cmd {
	return tea.Tick(recordTickInterval, func(t time.Time) tea.Msg {
		return recordTickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.input.Width = max(msg.Width-4, 10)
		m.resizeViewport()
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		if m.inputMode != inputNone {
			return m.updateInput(msg)
		}
		return m.handleKey(msg)

	case eventMsg:
		m.applyEvent(msg.ev)
		return m, nil

	case statusMsg:
		m.status = msg.text
		return m, nil

	case errMsg:
		m.status = "error: " + msg.err.Error()
		log.Errorf("ui: %v", msg.err)
		return m, nil

	case recordStartedMsg:
		if msg.err != nil {
			m.status = "could not record: " + msg.err.Error()
			m.playCue(cue.Error)
			return m, nil
		}
		m.playCue(cue.Start)
		m.recording = true
		m.stopping = false
		m.recordingID = msg.messageID
		m.elapsed, m.level, m.peakLevel = 0, 0, 0
		m.silence = newSilenceWatch(recordTickInterval, silenceWarnAfter, m.opts.SilenceStop)
		m.silent = false
		m.status = ""
		return m, recordTick()

	case recordTickMsg:
		if !m.recording {
			return m, nil
		}
		m.frame++
		m.elapsed = m.rec.Elapsed()
		lvl := m.rec.Level()
		m.level = m.level*0.6 + lvl*0.4
		m.peakLevel = max(m.peakLevel, lvl)
		if m.opts.MaxDuration > 0 && m.elapsed >= m.opts.MaxDuration && !m.stopping {
			return m.stopRecording()
		}
		if m.silence != nil {
			switch m.silence.Observe(lvl) {
			case silenceWarn:
				m.silent = true
			case silenceClear:
				m.silent = false
			case silenceAutoStop:
				if !m.stopping {
					log.Info("recording stopped after silence")
					return m.stopRecording()
				}
			}
		}
		return m, recordTick()

	case recordDoneMsg:
		m.recording = false
		m.stopping = false
		m.recordingID = ""
		if msg.err != nil {
			m.status = "recording discarded: " + msg.err.Error()
			m.playCue(cue.Error)
			return m, nil
		}
		m.playCue(cue.Stop)
		m.status = "transcribing..."
		return m, waitTask(msg.task)

	case transcribedMsg:
		if msg.err != nil {
			m.status = "transcription failed: " + msg.err.Error()
			m.playCue(cue.Error)
		} else {
			m.status = "transcribed"
		}
		return m, nil
	}

	if m.inputMode != inputNone {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m Model) playCue(k cue.Kind) {
	if m.opts.Cues {
		cue.Play(k)
	}
}

func (m *Model) applyEvent(ev state.Event) {
	switch ev.Kind {
	case state.AuthChanged:
		m.user, _ = ev.Data.(*model.User)
	case state.ThreadsChanged:
		m.threads, _ = ev.Data.([]model.Thread)
		m.loading = m.c.ThreadsLoading()
		m.cursor = clamp(m.cursor, len(m.threads))
	case state.CurrentThreadChanged:
		m.current, _ = ev.Data.(*model.Thread)
		if m.current == nil {
			m.view = viewThreads
		}
	case state.MessagesChanged:
		msgs, _ := ev.Data.([]model.Message)
		grew := len(msgs) > len(m.messages)
		m.messages = msgs
		m.loading = m.c.MessagesLoading()
		if grew {
			m.msgCursor = len(m.messages) - 1
		}
		m.msgCursor = clamp(m.msgCursor, len(m.messages))
		m.refreshViewport()
	}
}

func clamp(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.ForceQuit):
		return m.quit()
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	if m.view == viewThreads {
		return m.handleThreadsKey(msg)
	}
	return m.handleMessagesKey(msg)
}

func (m Model) handleThreadsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		m.cursor = clamp(m.cursor-1, len(m.threads))
	case key.Matches(msg, m.keys.Down):
		m.cursor = clamp(m.cursor+1, len(m.threads))
	case key.Matches(msg, m.keys.Open):
		if t, ok := m.selectedThread(); ok {
			m.view = viewMessages
			m.msgCursor = 0
			return m, m.openThread(t)
		}
	case key.Matches(msg, m.keys.New):
		return m.startInput(inputNewThread, "thread title", "")
	case key.Matches(msg, m.keys.Rename):
		if t, ok := m.selectedThread(); ok {
			return m.startInput(inputRename, "new title", t.Title)
		}
	case key.Matches(msg, m.keys.Delete):
		if t, ok := m.selectedThread(); ok {
			return m, m.deleteThread(t.ID)
		}
	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetchThreads()
	}
	return m, nil
}

func (m Model) handleMessagesKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		if m.recording {
			m.status = "stop recording first"
			return m, nil
		}
		m.view = viewThreads
		return m, m.closeThread()
	case key.Matches(msg, m.keys.Up):
		m.msgCursor = clamp(m.msgCursor-1, len(m.messages))
		m.refreshViewport()
	case key.Matches(msg, m.keys.Down):
		m.msgCursor = clamp(m.msgCursor+1, len(m.messages))
		m.refreshViewport()
	case key.Matches(msg, m.keys.Record):
		if m.recording {
			return m.stopRecording()
		}
		return m, m.startRecording()
	case key.Matches(msg, m.keys.Note):
		return m.startInput(inputNote, "note", "")
	case key.Matches(msg, m.keys.Copy):
		return m, m.copySelected()
	case key.Matches(msg, m.keys.Delete):
		if sel, ok := m.selectedMessage(); ok {
			return m, m.deleteMessage(sel.ID)
		}
	case key.Matches(msg, m.keys.Rename):
		if m.current != nil {
			return m.startInput(inputRename, "new title", m.current.Title)
		}
	case key.Matches(msg, m.keys.Refresh):
		if m.current != nil {
			id := m.current.ID
			return m, func() tea.Msg {
				m.c.FetchMessages(m.ctx, id)
				return nil
			}
		}
	}
	return m, nil
}

func (m Model) selectedThread() (model.Thread, bool) {
	if len(m.threads) == 0 {
		return model.Thread{}, false
	}
	return m.threads[clamp(m.cursor, len(m.threads))], true
}

func (m Model) selectedMessage() (model.Message, bool) {
	if len(m.messages) == 0 {
		return model.Message{}, false
	}
	return m.messages[clamp(m.msgCursor, len(m.messages))], true
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if !m.recording {
		return m, tea.Quit
	}
	id := m.recordingID
	m.recording = false
	return m, tea.Sequence(func() tea.Msg {
		m.rec.Cancel()
		m.c.FailRecording(m.ctx, id, "recording cancelled")
		return nil
	}, tea.Quit)
}

// Input prompts.

func (m Model) startInput(mode inputMode, placeholder, value string) (tea.Model, tea.Cmd) {
	m.inputMode = mode
	m.input.Placeholder = placeholder
	m.input.SetValue(value)
	m.input.CursorEnd()
	return m, m.input.Focus()
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.ForceQuit):
		return m.quit()
	case key.Matches(msg, m.keys.Cancel):
		m.inputMode = inputNone
		m.input.Blur()
		return m, nil
	case key.Matches(msg, m.keys.Submit):
		value := m.input.Value()
		mode := m.inputMode
		m.inputMode = inputNone
		m.input.Blur()
		m.input.SetValue("")
		return m, m.submit(mode, value)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(mode inputMode, value string) tea.Cmd {
	switch mode {
	case inputNewThread:
		return func() tea.Msg {
			t, err := m.c.CreateThread(m.ctx, value)
			if err != nil {
				return errMsg{err}
			}
			return statusMsg{fmt.Sprintf("created %q", t.Title)}
		}
	case inputRename:
		id := ""
		if m.view == viewMessages && m.current != nil {
			id = m.current.ID
		} else if t, ok := m.selectedThread(); ok {
			id = t.ID
		}
		if id == "" {
			return nil
		}
		return func() tea.Msg {
			if err := m.c.RenameThread(m.ctx, id, value); err != nil {
				return errMsg{err}
			}
			return statusMsg{"renamed"}
		}
	case inputNote:
		if m.current == nil {
			return nil
		}
		threadID := m.current.ID
		return func() tea.Msg {
			if _, err := m.c.AddNote(m.ctx, threadID, value); err != nil {
				return errMsg{err}
			}
			return statusMsg{"note added"}
		}
	}
	return nil
}

// Coordinator commands. Each runs off the UI goroutine; results come back
// as coordinator events.

func (m Model) openThread(t model.Thread) tea.Cmd {
	return func() tea.Msg {
		m.c.SetCurrentThread(m.ctx, &t)
		return nil
	}
}

func (m Model) closeThread() tea.Cmd {
	return func() tea.Msg {
		m.c.SetCurrentThread(m.ctx, nil)
		return nil
	}
}

func (m Model) deleteThread(id string) tea.Cmd {
	return func() tea.Msg {
		if err := m.c.DeleteThread(m.ctx, id); err != nil {
			return errMsg{err}
		}
		return statusMsg{"thread deleted"}
	}
}

func (m Model) deleteMessage(id string) tea.Cmd {
	return func() tea.Msg {
		if err := m.c.DeleteMessage(m.ctx, id); err != nil {
			return errMsg{err}
		}
		return statusMsg{"message deleted"}
	}
}

func (m Model) copySelected() tea.Cmd {
	msg, ok := m.selectedMessage()
	if !ok {
		return nil
	}
	text := msg.Payload.Preview()
	if msg.Payload.Transcript != nil {
		text = msg.Payload.Transcript.Text
	}
	if text == "" || m.opts.Copy == nil {
		return func() tea.Msg { return statusMsg{"nothing to copy"} }
	}
	return func() tea.Msg {
		if err := m.opts.Copy(text); err != nil {
			return errMsg{fmt.Errorf("copy: %w", err)}
		}
		return statusMsg{"copied to clipboard"}
	}
}

func (m Model) startRecording() tea.Cmd {
	if m.current == nil {
		return nil
	}
	if m.rec == nil || !m.rec.Available() {
		return func() tea.Msg { return statusMsg{"no audio backend"} }
	}
	threadID := m.current.ID
	return func() tea.Msg {
		msg, err := m.c.StartAudioRecording(m.ctx, threadID)
		if err != nil {
			return recordStartedMsg{err: err}
		}
		if !m.rec.Start() {
			m.c.FailRecording(m.ctx, msg.ID, "audio capture failed to start")
			return recordStartedMsg{err: errors.New("audio capture failed to start")}
		}
		return recordStartedMsg{messageID: msg.ID}
	}
}

func (m Model) stopRecording() (tea.Model, tea.Cmd) {
	m.stopping = true
	id := m.recordingID
	return m, func() tea.Msg {
		rec, err := m.rec.Stop()
		if err != nil {
			m.c.FailRecording(m.ctx, id, err.Error())
			return recordDoneMsg{messageID: id, err: err}
		}
		task, err := m.c.ProcessCapture(m.ctx, id, rec.Data, rec.Duration)
		return recordDoneMsg{messageID: id, task: task, err: err}
	}
}

func waitTask(t *state.Task) tea.Cmd {
	if t == nil {
		return nil
	}
	return func() tea.Msg {
		return transcribedMsg{messageID: t.MessageID, err: t.Wait()}
	}
}
