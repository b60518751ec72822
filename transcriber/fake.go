package transcriber

import (
	"context"
	"sync"
	"time"
)

// FakeTranscriber returns a canned transcript. A non-nil err makes every
// call fall back.
type FakeTranscriber struct {
	text  string
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls []FakeCall
}

type FakeCall struct {
	Base64Audio string
	ContentType string
}

func NewFake(text string, err error) *FakeTranscriber {
	return &FakeTranscriber{text: text, err: err}
}

// WithDelay makes each call take d, or until ctx is done.
func (f *FakeTranscriber) WithDelay(d time.Duration) *FakeTranscriber {
	f.delay = d
	return f
}

func (f *FakeTranscriber) Name() string  { return "fake" }
func (f *FakeTranscriber) Enabled() bool { return true }

func (f *FakeTranscriber) Transcribe(ctx context.Context, base64Audio, contentType string) Result {
	f.mu.Lock()
	f.calls = append(f.calls, FakeCall{Base64Audio: base64Audio, ContentType: contentType})
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Fallback()
		}
	}
	if f.err != nil {
		return Fallback()
	}
	return Result{
		Text:         f.text,
		Words:        []Word{{Start: 0, End: 0.5, Word: f.text}},
		LanguageCode: "pt",
		Confidence:   0.9,
	}
}

func (f *FakeTranscriber) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}
