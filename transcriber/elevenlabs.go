package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	terrors "totari/internal/errors"
	"totari/log"
	"totari/model"
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io/v1"
	DefaultModel   = "scribe_v1"
	DefaultTimeout = 120 * time.Second
)

type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// ElevenLabs calls the speech-to-text endpoint. Without an API key it is
// disabled and every call returns Fallback.
type ElevenLabs struct {
	client  *TracedClient
	apiKey  string
	apiURL  string
	model   string
	timeout time.Duration
}

func NewElevenLabs(opts Options) *ElevenLabs {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &ElevenLabs{
		client:  NewTracedClient(opts.Timeout),
		apiKey:  opts.APIKey,
		apiURL:  opts.BaseURL + "/speech-to-text",
		model:   opts.Model,
		timeout: opts.Timeout,
	}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) Enabled() bool { return e.apiKey != "" }

func (e *ElevenLabs) Transcribe(ctx context.Context, base64Audio, contentType string) Result {
	if !e.Enabled() {
		log.Warn("transcription disabled: no ELEVENLABS_API_KEY")
		return Fallback()
	}

	audioData, err := model.DecodeBase64(base64Audio)
	if err != nil {
		log.Errorf("transcription: decode audio: %v", err)
		return Fallback()
	}

	result, err := e.TranscribeBytes(ctx, audioData, contentType)
	if err != nil {
		log.Errorf("transcription: %v", err)
		return Fallback()
	}
	return *result
}

// TranscribeBytes performs the request and reports failures instead of
// falling back.
func (e *ElevenLabs) TranscribeBytes(ctx context.Context, audioData []byte, contentType string) (*Result, error) {
	if !e.Enabled() {
		return nil, terrors.NewBackendUnavailable("transcription credentials")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio."+extFor(contentType))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, err
	}
	writer.WriteField("model_id", e.model)
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, terrors.NewTranscriptionFailed(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, terrors.NewTranscriptionFailed(fmt.Errorf("elevenlabs API error %d: %s", resp.StatusCode, string(resp.Body)))
	}

	result, err := parseResponse(resp.Body)
	if err != nil {
		return nil, terrors.NewTranscriptionFailed(err)
	}
	result.Metrics = resp.Metrics
	result.RequestID = firstNonEmpty(resp.Header, "request-id", "x-request-id")

	log.Transcription(log.Metrics{
		SizeKB:      float64(len(audioData)) / 1024,
		DNSTimeMs:   ms(resp.Metrics.DNS),
		TLSTimeMs:   ms(resp.Metrics.TLS),
		TTFBMs:      ms(resp.Metrics.TTFB),
		TotalTimeMs: ms(resp.Metrics.Total),
	}, e.model, resp.Metrics.ConnReused, resp.Metrics.TLSProtocol)

	return result, nil
}

type sttWord struct {
	Text  string  `json:"text"`
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Type  string  `json:"type"`
}

type sttResponse struct {
	Text                string    `json:"text"`
	Transcript          string    `json:"transcript"`
	Words               []sttWord `json:"words"`
	LanguageCode        *string   `json:"language_code"`
	Confidence          *float64  `json:"confidence"`
	LanguageProbability *float64  `json:"language_probability"`
}

// parseResponse accepts text or transcript, and words tagged with either
// text or word. Spacing tokens are dropped.
func parseResponse(body []byte) (*Result, error) {
	var r sttResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("elevenlabs response parse error: %w", err)
	}

	text := r.Text
	if text == "" {
		text = r.Transcript
	}

	words := make([]Word, 0, len(r.Words))
	for _, w := range r.Words {
		if w.Type != "" && w.Type != "word" {
			continue
		}
		token := w.Text
		if token == "" {
			token = w.Word
		}
		words = append(words, Word{Start: w.Start, End: w.End, Word: token})
	}

	result := &Result{
		Text:         text,
		Words:        words,
		LanguageCode: FallbackLanguage,
		Confidence:   0.8,
	}
	if r.LanguageCode != nil && *r.LanguageCode != "" {
		result.LanguageCode = *r.LanguageCode
	}
	switch {
	case r.Confidence != nil:
		result.Confidence = *r.Confidence
	case r.LanguageProbability != nil:
		result.Confidence = *r.LanguageProbability
	}
	return result, nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
