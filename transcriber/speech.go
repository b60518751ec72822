package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	terrors "totari/internal/errors"
)

const (
	DefaultVoiceID     = "21m00Tcm4TlvDq8ikWAM"
	DefaultSpeechModel = "eleven_multilingual_v1"
)

type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type Voice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Speaker generates speech audio from text.
type Speaker struct {
	client   *TracedClient
	apiKey   string
	baseURL  string
	model    string
	voiceID  string
	settings VoiceSettings
}

type SpeakerOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	VoiceID string
	Timeout time.Duration
}

func NewSpeaker(opts SpeakerOptions) *Speaker {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultSpeechModel
	}
	if opts.VoiceID == "" {
		opts.VoiceID = DefaultVoiceID
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Speaker{
		client:   NewTracedClient(opts.Timeout),
		apiKey:   opts.APIKey,
		baseURL:  opts.BaseURL,
		model:    opts.Model,
		voiceID:  opts.VoiceID,
		settings: VoiceSettings{Stability: 0.5, SimilarityBoost: 0.5},
	}
}

func (s *Speaker) Enabled() bool { return s.apiKey != "" }

// Generate returns MPEG audio for text. An empty voiceID uses the default voice.
func (s *Speaker) Generate(ctx context.Context, text, voiceID string) ([]byte, error) {
	if !s.Enabled() {
		return nil, terrors.NewBackendUnavailable("speech credentials")
	}
	if text == "" {
		return nil, terrors.NewInvalidRequest("text is required")
	}
	if voiceID == "" {
		voiceID = s.voiceID
	}

	payload, err := json.Marshal(struct {
		Text          string        `json:"text"`
		ModelID       string        `json:"model_id"`
		VoiceSettings VoiceSettings `json:"voice_settings"`
	}{text, s.model, s.settings})
	if err != nil {
		return nil, err
	}

	endpoint := s.baseURL + "/text-to-speech/" + url.PathEscape(voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs speech error %d: %s", resp.StatusCode, string(resp.Body))
	}
	return resp.Body, nil
}

func (s *Speaker) Voices(ctx context.Context) ([]Voice, error) {
	if !s.Enabled() {
		return nil, terrors.NewBackendUnavailable("speech credentials")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs voices error %d: %s", resp.StatusCode, string(resp.Body))
	}

	var out struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("elevenlabs voices parse error: %w", err)
	}
	return out.Voices, nil
}
