package transcriber

import (
	"context"
	"net/http"
	"strings"
	"time"

	"totari/model"
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

const (
	FallbackText     = "transcription unavailable"
	FallbackLanguage = "pt"
)

type Word struct {
	Start float64
	End   float64
	Word  string
}

// Result is a normalized transcript. Fallback marks the fixed result
// returned when transcription is disabled or failed.
type Result struct {
	Text         string
	Words        []Word
	LanguageCode string
	Confidence   float64
	Fallback     bool
	Metrics      *NetworkMetrics
	RequestID    string
}

// Fallback is the result used whenever a real transcript is unavailable.
func Fallback() Result {
	return Result{
		Text:         FallbackText,
		Words:        []Word{},
		LanguageCode: FallbackLanguage,
		Confidence:   0,
		Fallback:     true,
	}
}

// Payload converts the result to its stored form.
func (r Result) Payload() *model.TranscriptPayload {
	words := make([]model.WordTiming, len(r.Words))
	for i, w := range r.Words {
		words[i] = model.WordTiming{Start: w.Start, End: w.End, Word: w.Word}
	}
	confidence := r.Confidence
	return &model.TranscriptPayload{
		Text:         r.Text,
		Words:        words,
		LanguageCode: r.LanguageCode,
		Confidence:   &confidence,
	}
}

// Transcriber turns base64 audio into a transcript. Transcribe never fails;
// errors degrade to Fallback.
type Transcriber interface {
	Name() string
	Enabled() bool
	Transcribe(ctx context.Context, base64Audio, contentType string) Result
}

func extFor(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "flac"):
		return "flac"
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return "mp3"
	case strings.Contains(ct, "mp4"), strings.Contains(ct, "m4a"), strings.Contains(ct, "aac"):
		return "m4a"
	}
	return "wav"
}
