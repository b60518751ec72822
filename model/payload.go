package model

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Payload holds up to four optional variants. In practice the one matching
// Message.Kind is set, but an audio message gains a transcript in place.
type Payload struct {
	Audio       *AudioPayload       `json:"audio,omitempty"`
	Transcript  *TranscriptPayload  `json:"transcript,omitempty"`
	Improvement *ImprovementPayload `json:"improvement,omitempty"`
	Note        *NotePayload        `json:"note,omitempty"`
}

func (p Payload) Empty() bool {
	return p.Audio == nil && p.Transcript == nil && p.Improvement == nil && p.Note == nil
}

// Merge returns p with every non-nil field of other laid over it.
func (p Payload) Merge(other Payload) Payload {
	if other.Audio != nil {
		p.Audio = other.Audio
	}
	if other.Transcript != nil {
		p.Transcript = other.Transcript
	}
	if other.Improvement != nil {
		p.Improvement = other.Improvement
	}
	if other.Note != nil {
		p.Note = other.Note
	}
	return p
}

func (p Payload) Clone() Payload {
	var out Payload
	if p.Audio != nil {
		a := *p.Audio
		out.Audio = &a
	}
	if p.Transcript != nil {
		tr := *p.Transcript
		if p.Transcript.Words != nil {
			tr.Words = append([]WordTiming{}, p.Transcript.Words...)
		}
		if p.Transcript.Confidence != nil {
			c := *p.Transcript.Confidence
			tr.Confidence = &c
		}
		out.Transcript = &tr
	}
	if p.Improvement != nil {
		im := *p.Improvement
		im.Topicos = append([]string(nil), p.Improvement.Topicos...)
		im.Insights = append([]string(nil), p.Improvement.Insights...)
		out.Improvement = &im
	}
	if p.Note != nil {
		n := *p.Note
		out.Note = &n
	}
	return out
}

type AudioPayload struct {
	Base64      string `json:"base64"`
	ContentType string `json:"contentType"`
	DurationSec int    `json:"durationSec"`
	SizeBytes   int    `json:"sizeBytes"`
}

// AudioLimits bounds an audio payload.
type AudioLimits struct {
	MinDurationSec int
	MaxDurationSec int
	MaxSizeBytes   int
}

func DefaultAudioLimits() AudioLimits {
	return AudioLimits{
		MinDurationSec: 1,
		MaxDurationSec: 1200,
		MaxSizeBytes:   25 * 1024 * 1024,
	}
}

// NewAudioPayload encodes data and fills in the size.
func NewAudioPayload(data []byte, contentType string, durationSec int) *AudioPayload {
	return &AudioPayload{
		Base64:      base64.StdEncoding.EncodeToString(data),
		ContentType: contentType,
		DurationSec: durationSec,
		SizeBytes:   len(data),
	}
}

// Decode returns the raw audio bytes, tolerating truncated padding.
func (a AudioPayload) Decode() ([]byte, error) {
	return DecodeBase64(a.Base64)
}

func (a AudioPayload) Validate(l AudioLimits) error {
	data, err := a.Decode()
	if err != nil {
		return fmt.Errorf("audio base64: %w", err)
	}
	if len(data) != a.SizeBytes {
		return fmt.Errorf("audio size mismatch: payload says %d, decoded %d", a.SizeBytes, len(data))
	}
	if a.DurationSec < l.MinDurationSec || a.DurationSec > l.MaxDurationSec {
		return fmt.Errorf("audio duration %ds outside [%d, %d]", a.DurationSec, l.MinDurationSec, l.MaxDurationSec)
	}
	if len(data) > l.MaxSizeBytes {
		return fmt.Errorf("audio size %d exceeds %d bytes", len(data), l.MaxSizeBytes)
	}
	return nil
}

// PadBase64 appends '=' until len(s) is a multiple of four.
func PadBase64(s string) string {
	s = strings.TrimSpace(s)
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return s
}

func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(PadBase64(s))
}

type WordTiming struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

type TranscriptPayload struct {
	Text         string       `json:"text"`
	Words        []WordTiming `json:"words,omitempty"`
	LanguageCode string       `json:"languageCode,omitempty"`
	Confidence   *float64     `json:"confidence,omitempty"`
}

type ImprovementPayload struct {
	TextoMelhorado string   `json:"texto_melhorado"`
	Topicos        []string `json:"topicos"`
	Insights       []string `json:"insights"`
	Resumo         string   `json:"resumo"`
}

type NotePayload struct {
	Text string `json:"text"`
}

// Preview is a one-line rendering of whatever content the payload carries.
func (p Payload) Preview() string {
	switch {
	case p.Improvement != nil && p.Improvement.Resumo != "":
		return p.Improvement.Resumo
	case p.Transcript != nil:
		return p.Transcript.Text
	case p.Note != nil:
		return p.Note.Text
	case p.Audio != nil:
		return fmt.Sprintf("audio %ds", p.Audio.DurationSec)
	}
	return ""
}
