package transcriber

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNetworkMetricsSum(t *testing.T) {
	m := &NetworkMetrics{
		ConnWait:   10 * time.Millisecond,
		DNS:        20 * time.Millisecond,
		TCP:        30 * time.Millisecond,
		TLS:        40 * time.Millisecond,
		ReqHeaders: 5 * time.Millisecond,
		ReqBody:    15 * time.Millisecond,
		TTFB:       50 * time.Millisecond,
		Download:   25 * time.Millisecond,
	}
	got := m.Sum()
	want := 195 * time.Millisecond
	if got != want {
		t.Errorf("Sum() = %v, want %v", got, want)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	h := http.Header{}
	h.Set("X-Request-Id", "100")

	if got := firstNonEmpty(h, "X-Missing", "X-Request-Id"); got != "100" {
		t.Errorf("got %q, want %q", got, "100")
	}
	if got := firstNonEmpty(h, "X-A", "X-B"); got != "?" {
		t.Errorf("got %q, want %q", got, "?")
	}
}

func assertFallback(t *testing.T, r Result) {
	t.Helper()
	if !r.Fallback || r.Text != "transcription unavailable" || r.LanguageCode != "pt" || r.Confidence != 0 {
		t.Errorf("result = %+v, want fallback", r)
	}
	if r.Words == nil || len(r.Words) != 0 {
		t.Errorf("fallback words = %#v, want empty non-nil", r.Words)
	}
}

func TestDisabledNeverCallsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := NewElevenLabs(Options{BaseURL: srv.URL})
	if c.Enabled() {
		t.Fatal("client without key should be disabled")
	}
	assertFallback(t, c.Transcribe(context.Background(), "UklGRg==", "audio/wav"))
	if hits.Load() != 0 {
		t.Errorf("server received %d requests", hits.Load())
	}
}

func TestTranscribeRequestShape(t *testing.T) {
	audio := []byte("RIFF-audio-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/speech-to-text" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "secret" {
			t.Errorf("xi-api-key = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		if got := r.FormValue("model_id"); got != "scribe_v1" {
			t.Errorf("model_id = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		if hdr.Filename != "audio.wav" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		body, _ := io.ReadAll(f)
		if string(body) != string(audio) {
			t.Errorf("uploaded %q", body)
		}
		w.Header().Set("request-id", "req-1")
		json.NewEncoder(w).Encode(map[string]any{
			"text":          "olá mundo",
			"language_code": "por",
			"confidence":    0.97,
			"words": []map[string]any{
				{"text": "olá", "start": 0.0, "end": 0.4, "type": "word"},
				{"text": " ", "start": 0.4, "end": 0.5, "type": "spacing"},
				{"text": "mundo", "start": 0.5, "end": 0.9, "type": "word"},
			},
		})
	}))
	defer srv.Close()

	c := NewElevenLabs(Options{APIKey: "secret", BaseURL: srv.URL})
	encoded := base64.StdEncoding.EncodeToString(audio)
	r := c.Transcribe(context.Background(), strings.TrimRight(encoded, "="), "audio/wav")

	if r.Fallback {
		t.Fatalf("unexpected fallback")
	}
	if r.Text != "olá mundo" || r.LanguageCode != "por" || r.Confidence != 0.97 {
		t.Errorf("result = %+v", r)
	}
	if len(r.Words) != 2 || r.Words[1].Word != "mundo" || r.Words[1].Start != 0.5 {
		t.Errorf("words = %+v", r.Words)
	}
	if r.RequestID != "req-1" {
		t.Errorf("RequestID = %q", r.RequestID)
	}
	if r.Metrics == nil {
		t.Error("expected network metrics")
	}
}

func TestTranscribeFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			c := NewElevenLabs(Options{APIKey: "k", BaseURL: srv.URL})
			assertFallback(t, c.Transcribe(context.Background(), "AAAA", "audio/wav"))
		})
	}
}

func TestTranscribeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewElevenLabs(Options{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	assertFallback(t, c.Transcribe(context.Background(), "AAAA", "audio/wav"))
	if time.Since(start) > time.Second {
		t.Errorf("timeout not enforced: took %s", time.Since(start))
	}
}

func TestTranscribeBadBase64(t *testing.T) {
	c := NewElevenLabs(Options{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	assertFallback(t, c.Transcribe(context.Background(), "!!!", "audio/wav"))
}

func TestParseResponseDefaults(t *testing.T) {
	r, err := parseResponse([]byte(`{"transcript":"oi","words":[{"word":"oi","start":0,"end":1}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if r.Text != "oi" || r.LanguageCode != "pt" || r.Confidence != 0.8 {
		t.Errorf("result = %+v", r)
	}
	if len(r.Words) != 1 || r.Words[0].Word != "oi" {
		t.Errorf("words = %+v", r.Words)
	}

	r, err = parseResponse([]byte(`{"text":"x","language_probability":0.5}`))
	if err != nil {
		t.Fatal(err)
	}
	if r.Confidence != 0.5 {
		t.Errorf("Confidence = %v", r.Confidence)
	}
}

func TestResultPayload(t *testing.T) {
	p := Fallback().Payload()
	if p.Text != FallbackText || p.LanguageCode != "pt" || p.Confidence == nil || *p.Confidence != 0 {
		t.Errorf("payload = %+v", p)
	}
	if p.Words == nil {
		t.Error("words should be an empty list, not absent")
	}
}

func TestExtFor(t *testing.T) {
	for ct, want := range map[string]string{
		"audio/wav":   "wav",
		"audio/x-wav": "wav",
		"audio/flac":  "flac",
		"audio/mpeg":  "mp3",
		"audio/mp4":   "m4a",
		"":            "wav",
	} {
		if got := extFor(ct); got != want {
			t.Errorf("extFor(%q) = %q, want %q", ct, got, want)
		}
	}
}

func TestSpeakerGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/"+DefaultVoiceID {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			Text          string        `json:"text"`
			ModelID       string        `json:"model_id"`
			VoiceSettings VoiceSettings `json:"voice_settings"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
			return
		}
		if body.Text != "olá" || body.ModelID != DefaultSpeechModel || body.VoiceSettings.Stability != 0.5 {
			t.Errorf("body = %+v", body)
		}
		w.Write([]byte("ID3mpeg"))
	}))
	defer srv.Close()

	s := NewSpeaker(SpeakerOptions{APIKey: "k", BaseURL: srv.URL})
	data, err := s.Generate(context.Background(), "olá", "")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ID3mpeg" {
		t.Errorf("data = %q", data)
	}
}

func TestSpeakerVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"voices":[{"voice_id":"v1","name":"Rachel","category":"premade"}]}`))
	}))
	defer srv.Close()

	voices, err := NewSpeaker(SpeakerOptions{APIKey: "k", BaseURL: srv.URL}).Voices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(voices) != 1 || voices[0].Name != "Rachel" {
		t.Errorf("voices = %+v", voices)
	}

	if _, err := NewSpeaker(SpeakerOptions{}).Voices(context.Background()); err == nil {
		t.Error("expected error without credentials")
	}
}

func TestFakeTranscriber(t *testing.T) {
	f := NewFake("hello", nil)
	r := f.Transcribe(context.Background(), "AAAA", "audio/wav")
	if r.Text != "hello" || r.Fallback {
		t.Errorf("result = %+v", r)
	}
	if calls := f.Calls(); len(calls) != 1 || calls[0].ContentType != "audio/wav" {
		t.Errorf("calls = %+v", calls)
	}
	assertFallback(t, NewFake("x", io.EOF).Transcribe(context.Background(), "", ""))
}
