// Package state holds the client's shared entity state and runs the
// message lifecycle against the store and the transcription service.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"totari/auth"
	"totari/encoder"
	terrors "totari/internal/errors"
	"totari/log"
	"totari/model"
	"totari/store"
	"totari/transcriber"
)

type Options struct {
	Store       *store.Store
	Transcriber transcriber.Transcriber
	Auth        auth.Provider
	DeviceID    string

	// Format and SampleRate encode raw PCM handed to ProcessAudioRecording.
	Format     string
	SampleRate int
	Limits     model.AudioLimits

	// WatchMessages keeps the open thread's messages live.
	WatchMessages bool
}

// Coordinator owns the thread and message lists shown by the UI. All
// methods are safe for concurrent use. Events are published outside the
// state lock, one publisher per kind at a time, so observers always see
// the newest snapshot last.
type Coordinator struct {
	store    *store.Store
	tr       transcriber.Transcriber
	auth     auth.Provider
	deviceID string
	opts     Options
	bus      *Bus
	// pub serializes snapshot and delivery per event kind.
	pub [numEventKinds]sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
	// processed counts recordings handed to transcription.
	processed atomic.Int64

	mu              sync.RWMutex
	user            *model.User
	threads         []model.Thread
	threadsLoading  bool
	threadsErr      string
	current         *model.Thread
	messages        []model.Message
	messagesLoading bool
	messagesErr     string
	unwatch         store.Unsubscribe
	watchGen        uint64
}

func New(opts Options) *Coordinator {
	if opts.Store == nil {
		opts.Store = store.New(nil)
	}
	if opts.Format == "" {
		opts.Format = "wav"
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = encoder.SampleRate
	}
	if opts.Limits == (model.AudioLimits{}) {
		opts.Limits = model.DefaultAudioLimits()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:    opts.Store,
		tr:       opts.Transcriber,
		auth:     opts.Auth,
		deviceID: opts.DeviceID,
		opts:     opts,
		bus:      NewBus(),
		ctx:      ctx,
		cancel:   cancel,
		threads:  []model.Thread{},
		messages: []model.Message{},
	}
}

func (c *Coordinator) Subscribe(kind EventKind, fn Observer) Handle {
	return c.bus.Subscribe(kind, fn)
}

func (c *Coordinator) Unsubscribe(h Handle) bool {
	return c.bus.Unsubscribe(h)
}

func (c *Coordinator) DeviceID() string { return c.deviceID }

func (c *Coordinator) Store() *store.Store { return c.store }

// Snapshots.

func (c *Coordinator) User() *model.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyUser(c.user)
}

func (c *Coordinator) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user != nil
}

func (c *Coordinator) Threads() []model.Thread {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Thread{}, c.threads...)
}

func (c *Coordinator) ThreadsLoading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threadsLoading
}

func (c *Coordinator) ThreadsError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threadsErr
}

func (c *Coordinator) CurrentThread() *model.Thread {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyThread(c.current)
}

func (c *Coordinator) Messages() []model.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messagesLocked()
}

func (c *Coordinator) messagesLocked() []model.Message {
	out := make([]model.Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

func (c *Coordinator) MessagesLoading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messagesLoading
}

func (c *Coordinator) MessagesError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messagesErr
}

// Message returns the local copy of id, if mirrored.
func (c *Coordinator) Message(id string) (model.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return model.Message{}, false
}

func copyUser(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

func copyThread(t *model.Thread) *model.Thread {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// publish takes the snapshot for kind and fans it out while holding the
// kind's publish lock. Observers must not call back into methods that
// publish the same kind.
func (c *Coordinator) publish(kind EventKind, snapshot func() any) {
	c.pub[kind].Lock()
	defer c.pub[kind].Unlock()
	c.bus.Publish(kind, snapshot())
}

func (c *Coordinator) notifyThreads() {
	c.publish(ThreadsChanged, func() any { return c.Threads() })
}

func (c *Coordinator) notifyMessages() {
	c.publish(MessagesChanged, func() any { return c.Messages() })
}

func (c *Coordinator) notifyCurrent() {
	c.publish(CurrentThreadChanged, func() any { return c.CurrentThread() })
}

func (c *Coordinator) notifyAuth() {
	c.publish(AuthChanged, func() any { return c.User() })
}

// Auth.

func (c *Coordinator) SetUser(u *model.User) {
	c.mu.Lock()
	c.user = copyUser(u)
	c.mu.Unlock()
	if u != nil {
		log.Infof("signed in as %s", u.ID)
	}
	c.notifyAuth()
}

func (c *Coordinator) SignIn(ctx context.Context, email, password string) (*model.User, error) {
	if c.auth == nil {
		return nil, terrors.NewBackendUnavailable("auth")
	}
	u, err := c.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.SetUser(u)
	return copyUser(u), nil
}

func (c *Coordinator) SignOut() {
	c.SetUser(nil)
	log.Info("signed out")
}

// Threads.

// FetchThreads reloads the thread list. Subscribers see loading, then the
// result or an error string.
func (c *Coordinator) FetchThreads(ctx context.Context) {
	c.mu.Lock()
	c.threadsLoading = true
	c.threadsErr = ""
	c.mu.Unlock()
	c.notifyThreads()

	var threads []model.Thread
	var fetchErr error
	if c.store.Available() {
		threads = c.store.GetThreads(ctx)
	} else {
		fetchErr = terrors.NewBackendUnavailable("store")
	}

	c.mu.Lock()
	if fetchErr != nil {
		c.threadsErr = fetchErr.Error()
	} else {
		c.threads = threads
	}
	c.threadsLoading = false
	c.mu.Unlock()
	if fetchErr != nil {
		log.Warnf("fetch threads: %v", fetchErr)
	} else {
		log.Infof("threads loaded: %d", len(threads))
	}
	c.notifyThreads()
}

func (c *Coordinator) requireUser() error {
	if !c.IsAuthenticated() {
		return terrors.NewUnauthenticated()
	}
	return nil
}

// CreateThread persists a thread owned by this device and puts it first.
func (c *Coordinator) CreateThread(ctx context.Context, title string) (*model.Thread, error) {
	if err := c.requireUser(); err != nil {
		log.Warn("create thread: not signed in")
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, terrors.NewInvalidRequest("thread title is required")
	}
	now := model.NowMillis()
	t := model.Thread{OwnerID: c.deviceID, Title: title, CreatedAt: now, UpdatedAt: now}
	id, err := c.store.SaveThread(ctx, t)
	if err != nil {
		log.Errorf("create thread: %v", err)
		return nil, err
	}
	t.ID = id

	c.mu.Lock()
	c.threads = append([]model.Thread{t}, c.threads...)
	c.mu.Unlock()
	log.Infof("thread created: %s", id)
	c.notifyThreads()
	return &t, nil
}

func (c *Coordinator) RenameThread(ctx context.Context, id, title string) error {
	if err := c.store.UpdateThread(ctx, id, store.ThreadUpdate{Title: &title}); err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	now := model.NowMillis()

	c.mu.Lock()
	for i := range c.threads {
		if c.threads[i].ID == id {
			c.threads[i].Title = title
			c.threads[i].UpdatedAt = now
		}
	}
	model.SortThreads(c.threads)
	isCurrent := c.current != nil && c.current.ID == id
	if isCurrent {
		c.current.Title = title
		c.current.UpdatedAt = now
	}
	c.mu.Unlock()

	c.notifyThreads()
	if isCurrent {
		c.notifyCurrent()
	}
	return nil
}

// DeleteThread removes the thread and clears the selection if it was open.
func (c *Coordinator) DeleteThread(ctx context.Context, id string) error {
	if err := c.store.DeleteThread(ctx, id); err != nil {
		log.Errorf("delete thread %s: %v", id, err)
		return err
	}
	c.mu.Lock()
	kept := c.threads[:0]
	for _, t := range c.threads {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	c.threads = kept
	wasCurrent := c.current != nil && c.current.ID == id
	c.mu.Unlock()

	log.Infof("thread deleted: %s", id)
	c.notifyThreads()
	if wasCurrent {
		c.SetCurrentThread(ctx, nil)
	}
	return nil
}

// SetCurrentThread changes the selection and loads its messages, or clears
// them when t is nil.
func (c *Coordinator) SetCurrentThread(ctx context.Context, t *model.Thread) {
	c.mu.Lock()
	c.current = copyThread(t)
	c.watchGen++
	gen := c.watchGen
	unwatch := c.unwatch
	c.unwatch = nil
	c.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}

	c.notifyCurrent()

	if t == nil {
		c.mu.Lock()
		c.messages = []model.Message{}
		c.messagesErr = ""
		c.messagesLoading = false
		c.mu.Unlock()
		c.notifyMessages()
		return
	}

	c.fetchMessages(ctx, t.ID, gen)
	if c.opts.WatchMessages {
		c.watch(t.ID, gen)
	}
}

func (c *Coordinator) watch(threadID string, gen uint64) {
	stop := c.store.SubscribeToThread(c.ctx, threadID, func(msgs []model.Message) {
		c.mu.Lock()
		if c.watchGen != gen {
			c.mu.Unlock()
			return
		}
		c.messages = msgs
		c.mu.Unlock()
		c.notifyMessages()
	})

	c.mu.Lock()
	if c.watchGen != gen {
		c.mu.Unlock()
		stop()
		return
	}
	c.unwatch = stop
	c.mu.Unlock()
}

// Messages.

// FetchMessages reloads the message list for threadID. A result that
// arrives after the selection changed is dropped.
func (c *Coordinator) FetchMessages(ctx context.Context, threadID string) {
	c.mu.RLock()
	gen := c.watchGen
	c.mu.RUnlock()
	c.fetchMessages(ctx, threadID, gen)
}

func (c *Coordinator) fetchMessages(ctx context.Context, threadID string, gen uint64) {
	c.mu.Lock()
	if c.watchGen != gen {
		c.mu.Unlock()
		return
	}
	c.messagesLoading = true
	c.messagesErr = ""
	c.mu.Unlock()
	c.notifyMessages()

	var msgs []model.Message
	var fetchErr error
	if c.store.Available() {
		msgs = c.store.GetMessages(ctx, threadID)
	} else {
		fetchErr = terrors.NewBackendUnavailable("store")
	}

	c.mu.Lock()
	if c.watchGen != gen {
		c.mu.Unlock()
		log.Infof("dropped stale messages for %s", threadID)
		return
	}
	if fetchErr != nil {
		c.messagesErr = fetchErr.Error()
	} else {
		c.messages = msgs
	}
	c.messagesLoading = false
	c.mu.Unlock()
	if fetchErr != nil {
		log.Warnf("fetch messages: %v", fetchErr)
	} else {
		log.Infof("messages loaded for %s: %d", threadID, len(msgs))
	}
	c.notifyMessages()
}

// AddMessage appends m to the local list unless a message with its id is
// already there.
func (c *Coordinator) AddMessage(m model.Message) {
	c.mu.Lock()
	for _, existing := range c.messages {
		if existing.ID == m.ID {
			c.mu.Unlock()
			return
		}
	}
	c.messages = append(c.messages, m.Clone())
	c.mu.Unlock()
	c.notifyMessages()
}

// UpdateMessage replaces the local message with the same id.
func (c *Coordinator) UpdateMessage(m model.Message) {
	if c.mutate(m.ID, func(local *model.Message) { *local = m.Clone() }) {
		c.notifyMessages()
	}
}

// mutate applies fn to the mirrored message id under the lock.
func (c *Coordinator) mutate(id string, fn func(*model.Message)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		if c.messages[i].ID == id {
			fn(&c.messages[i])
			return true
		}
	}
	return false
}

func (c *Coordinator) newMessage(threadID string, kind model.Kind) model.Message {
	return model.Message{
		ThreadID:  threadID,
		OwnerID:   c.deviceID,
		Kind:      kind,
		Source:    model.SourceDesktop,
		CreatedAt: model.NowMillis(),
	}
}

// AddNote persists a text note in threadID.
func (c *Coordinator) AddNote(ctx context.Context, threadID, text string) (*model.Message, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, terrors.NewInvalidRequest("note text is required")
	}
	m := c.newMessage(threadID, model.KindNote)
	m.Payload.Note = &model.NotePayload{Text: text}
	id, err := c.store.SaveMessage(ctx, m)
	if err != nil {
		return nil, err
	}
	m.ID = id
	c.AddMessage(m)
	return &m, nil
}

func (c *Coordinator) DeleteMessage(ctx context.Context, id string) error {
	if err := c.store.DeleteMessage(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	kept := c.messages[:0]
	for _, m := range c.messages {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	c.messages = kept
	c.mu.Unlock()
	c.notifyMessages()
	return nil
}

// Audio lifecycle.

// StartAudioRecording persists the anchor message for a new capture with
// status recording and an empty payload.
func (c *Coordinator) StartAudioRecording(ctx context.Context, threadID string) (*model.Message, error) {
	if err := c.requireUser(); err != nil {
		log.Warn("start recording: not signed in")
		return nil, err
	}
	m := c.newMessage(threadID, model.KindAudio)
	m.Status = model.StatusRecording
	id, err := c.store.SaveMessage(ctx, m)
	if err != nil {
		log.Errorf("start recording: %v", err)
		return nil, err
	}
	m.ID = id
	c.AddMessage(m)
	log.Infof("recording started: %s", id)
	return &m, nil
}

// checkTransition rejects a status change the local mirror says is illegal.
// Messages not mirrored locally are left to the store.
func (c *Coordinator) checkTransition(id string, to model.Status) error {
	if local, ok := c.Message(id); ok && !model.CanTransition(local.Status, to) {
		return terrors.NewInvalidRequest(fmt.Sprintf("message %s: %s -> %s not allowed", id, local.Status, to))
	}
	return nil
}

// buildAudio wraps a container, or encodes raw PCM16 when the bytes are not
// a recognized container. A positive elapsed is the measured capture time
// and sets the duration; otherwise the container's length does.
func (c *Coordinator) buildAudio(data []byte, elapsed time.Duration) (*model.AudioPayload, error) {
	info, err := encoder.Probe(data)
	if errors.Is(err, encoder.ErrUnknownFormat) {
		samples := encoder.Samples(data)
		encoded, contentType, encErr := encoder.Encode(c.opts.Format, c.opts.SampleRate, samples)
		if encErr != nil {
			return nil, encErr
		}
		if info, err = encoder.Probe(encoded); err != nil {
			return nil, err
		}
		info.ContentType = contentType
		data = encoded
	} else if err != nil {
		return nil, err
	}
	secs := info.Seconds()
	if elapsed > 0 {
		if diff := elapsed - info.Duration; diff > time.Second || diff < -time.Second {
			log.Warnf("audio holds %s but capture ran %s", info.Duration.Round(time.Millisecond), elapsed.Round(time.Millisecond))
		}
		secs = encoder.WholeSeconds(elapsed)
	}
	a := model.NewAudioPayload(data, info.ContentType, secs)
	if err := a.Validate(c.opts.Limits); err != nil {
		return nil, terrors.NewValidationFailed(err.Error())
	}
	return a, nil
}

// ProcessAudioRecording attaches audio to messageID, moves it to
// transcribing and dispatches transcription. The duration comes from the
// audio itself. It returns once the task is running; the task keeps going
// if ctx is cancelled.
func (c *Coordinator) ProcessAudioRecording(ctx context.Context, messageID string, audioBytes []byte) (*Task, error) {
	return c.process(ctx, messageID, audioBytes, 0)
}

// ProcessCapture is ProcessAudioRecording for a live capture whose
// wall-clock length is elapsed.
func (c *Coordinator) ProcessCapture(ctx context.Context, messageID string, audioBytes []byte, elapsed time.Duration) (*Task, error) {
	return c.process(ctx, messageID, audioBytes, elapsed)
}

func (c *Coordinator) process(ctx context.Context, messageID string, audioBytes []byte, elapsed time.Duration) (*Task, error) {
	if err := c.checkTransition(messageID, model.StatusTranscribing); err != nil {
		return nil, err
	}
	a, err := c.buildAudio(audioBytes, elapsed)
	if err != nil {
		c.FailRecording(ctx, messageID, err.Error())
		return nil, err
	}

	if err := c.store.UpdateMessageStatus(ctx, messageID, model.StatusTranscribing, ""); err != nil {
		c.FailRecording(ctx, messageID, err.Error())
		return nil, err
	}
	if err := c.store.UpdateMessagePayload(ctx, messageID, model.Payload{Audio: a}); err != nil {
		c.markError(ctx, messageID, err.Error())
		return nil, err
	}
	c.mutate(messageID, func(m *model.Message) {
		m.Payload.Audio = a
		m.Status = model.StatusTranscribing
		m.Error = ""
	})
	c.notifyMessages()

	task := newTask(messageID)
	c.processed.Add(1)
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		task.finish(c.transcribeAudio(context.WithoutCancel(ctx), messageID, a.Base64, a.ContentType))
	}()
	log.Infof("audio processing started: %s (%ds, %d bytes)", messageID, a.DurationSec, a.SizeBytes)
	return task, nil
}

// transcribeAudio runs on its own goroutine. Every failure ends with the
// message in status error.
func (c *Coordinator) transcribeAudio(ctx context.Context, messageID, base64Audio, contentType string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcription panicked: %v", r)
		}
		if err != nil {
			log.Errorf("transcription of %s failed: %v", messageID, err)
			c.markError(ctx, messageID, err.Error())
		}
	}()

	if c.tr == nil {
		return terrors.NewTranscriptionFailed(errors.New("no transcriber configured"))
	}
	res := c.tr.Transcribe(ctx, base64Audio, contentType)
	if res.Fallback {
		log.Warnf("transcription of %s degraded to fallback text", messageID)
	}
	tr := res.Payload()

	if err := c.store.UpdateMessagePayload(ctx, messageID, model.Payload{Transcript: tr}); err != nil {
		return err
	}
	if err := c.store.UpdateMessageStatus(ctx, messageID, model.StatusTranscribed, ""); err != nil {
		return err
	}
	c.mutate(messageID, func(m *model.Message) {
		m.Payload = m.Payload.Merge(model.Payload{Transcript: tr})
		m.Status = model.StatusTranscribed
	})
	log.TranscriptionText(messageID, tr.Text)
	c.notifyMessages()
	return nil
}

// FailRecording marks a capture that produced no usable audio.
func (c *Coordinator) FailRecording(ctx context.Context, messageID, reason string) {
	c.markError(ctx, messageID, reason)
}

func (c *Coordinator) markError(ctx context.Context, messageID, reason string) {
	if err := c.store.UpdateMessageStatus(ctx, messageID, model.StatusError, reason); err != nil {
		log.Errorf("mark %s as error: %v", messageID, err)
	}
	if c.mutate(messageID, func(m *model.Message) {
		m.Status = model.StatusError
		m.Error = reason
	}) {
		c.notifyMessages()
	}
}

// Processed is the number of recordings dispatched for transcription.
func (c *Coordinator) Processed() int {
	return int(c.processed.Load())
}

// Wait blocks until every dispatched transcription has finished.
func (c *Coordinator) Wait() {
	c.tasks.Wait()
}

// Close stops the live subscription and waits for background work.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.watchGen++
	unwatch := c.unwatch
	c.unwatch = nil
	c.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
	c.cancel()
	c.Wait()
}
