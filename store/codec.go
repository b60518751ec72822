package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"totari/model"
)

// Timestamp normalization. Backends hand back time.Time (Firestore),
// json.Number (SQLite) or plain numbers; entities only see epoch millis.

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Millis converts any supported timestamp representation to epoch
// milliseconds. Unknown values yield 0.
func Millis(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case time.Time:
		return t.UnixMilli()
	case *time.Time:
		if t == nil {
			return 0
		}
		return t.UnixMilli()
	case string:
		if i, err := strconv.ParseInt(t, 10, 64); err == nil {
			return i
		}
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UnixMilli()
		}
		return 0
	}
	if i, ok := asInt64(v); ok {
		return i
	}
	return 0
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asList(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}

// asStrings returns nil when v is not a list.
func asStrings(v any) []string {
	l, ok := asList(v)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(l))
	for _, item := range l {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func EncodeThread(t model.Thread) map[string]any {
	return map[string]any{
		"ownerId":   t.OwnerID,
		"title":     t.Title,
		"createdAt": t.CreatedAt,
		"updatedAt": t.UpdatedAt,
	}
}

func DecodeThread(d Doc) model.Thread {
	return model.Thread{
		ID:        d.ID,
		OwnerID:   asString(d.Data["ownerId"]),
		Title:     asString(d.Data["title"]),
		CreatedAt: Millis(d.Data["createdAt"]),
		UpdatedAt: Millis(d.Data["updatedAt"]),
	}
}

// EncodeMessage builds the stored document. The id is not part of it;
// the store assigns one.
func EncodeMessage(m model.Message) map[string]any {
	doc := map[string]any{
		"threadId":  m.ThreadID,
		"ownerId":   m.OwnerID,
		"kind":      string(m.Kind),
		"source":    string(m.Source),
		"createdAt": m.CreatedAt,
		"payload":   EncodePayload(m.Payload),
	}
	if m.Status != model.StatusNone {
		doc["status"] = string(m.Status)
	}
	if m.Error != "" {
		doc["error"] = m.Error
	}
	return doc
}

func DecodeMessage(d Doc) (model.Message, error) {
	m := model.Message{
		ID:        d.ID,
		ThreadID:  asString(d.Data["threadId"]),
		OwnerID:   asString(d.Data["ownerId"]),
		Kind:      model.Kind(asString(d.Data["kind"])),
		Source:    model.Source(asString(d.Data["source"])),
		CreatedAt: Millis(d.Data["createdAt"]),
		Payload:   DecodePayload(asMap(d.Data["payload"])),
		Error:     asString(d.Data["error"]),
	}
	if !m.Kind.Valid() {
		return m, fmt.Errorf("message %s: unknown kind %q", d.ID, m.Kind)
	}
	if !m.Source.Valid() {
		m.Source = model.SourceServer
	}
	status, err := model.ParseStatus(asString(d.Data["status"]))
	if err != nil {
		return m, fmt.Errorf("message %s: %w", d.ID, err)
	}
	m.Status = status
	return m, nil
}

// EncodePayload returns a map holding only the variants that are set.
func EncodePayload(p model.Payload) map[string]any {
	out := map[string]any{}
	if p.Audio != nil {
		out["audio"] = EncodeAudio(p.Audio)
	}
	if p.Transcript != nil {
		out["transcript"] = EncodeTranscript(p.Transcript)
	}
	if p.Improvement != nil {
		out["improvement"] = EncodeImprovement(p.Improvement)
	}
	if p.Note != nil {
		out["note"] = map[string]any{"text": p.Note.Text}
	}
	return out
}

func EncodeAudio(a *model.AudioPayload) map[string]any {
	return map[string]any{
		"base64":      a.Base64,
		"contentType": a.ContentType,
		"durationSec": int64(a.DurationSec),
		"sizeBytes":   int64(a.SizeBytes),
	}
}

func EncodeTranscript(t *model.TranscriptPayload) map[string]any {
	out := map[string]any{"text": t.Text}
	if t.Words != nil {
		words := make([]any, len(t.Words))
		for i, w := range t.Words {
			words[i] = map[string]any{"start": w.Start, "end": w.End, "word": w.Word}
		}
		out["words"] = words
	}
	if t.LanguageCode != "" {
		out["languageCode"] = t.LanguageCode
	}
	if t.Confidence != nil {
		out["confidence"] = *t.Confidence
	}
	return out
}

// EncodeImprovement leaves nil lists out of the document.
func EncodeImprovement(im *model.ImprovementPayload) map[string]any {
	out := map[string]any{
		"texto_melhorado": im.TextoMelhorado,
		"resumo":          im.Resumo,
	}
	if im.Topicos != nil {
		out["topicos"] = stringList(im.Topicos)
	}
	if im.Insights != nil {
		out["insights"] = stringList(im.Insights)
	}
	return out
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func DecodePayload(raw map[string]any) model.Payload {
	var p model.Payload
	if a := asMap(raw["audio"]); a != nil {
		dur, _ := asInt64(a["durationSec"])
		size, _ := asInt64(a["sizeBytes"])
		p.Audio = &model.AudioPayload{
			Base64:      asString(a["base64"]),
			ContentType: asString(a["contentType"]),
			DurationSec: int(dur),
			SizeBytes:   int(size),
		}
	}
	if t := asMap(raw["transcript"]); t != nil {
		tr := &model.TranscriptPayload{
			Text:         asString(t["text"]),
			LanguageCode: asString(t["languageCode"]),
		}
		if list, ok := asList(t["words"]); ok {
			tr.Words = make([]model.WordTiming, 0, len(list))
			for _, item := range list {
				w := asMap(item)
				start, _ := asFloat64(w["start"])
				end, _ := asFloat64(w["end"])
				tr.Words = append(tr.Words, model.WordTiming{Start: start, End: end, Word: asString(w["word"])})
			}
		}
		if c, ok := asFloat64(t["confidence"]); ok {
			tr.Confidence = &c
		}
		p.Transcript = tr
	}
	if im := asMap(raw["improvement"]); im != nil {
		p.Improvement = &model.ImprovementPayload{
			TextoMelhorado: asString(im["texto_melhorado"]),
			Topicos:        asStrings(im["topicos"]),
			Insights:       asStrings(im["insights"]),
			Resumo:         asString(im["resumo"]),
		}
	}
	if n := asMap(raw["note"]); n != nil {
		p.Note = &model.NotePayload{Text: asString(n["text"])}
	}
	return p
}

// payloadUpdates turns a partial payload into one field-path update per set variant.
func payloadUpdates(p model.Payload) []FieldUpdate {
	var updates []FieldUpdate
	for key, value := range EncodePayload(p) {
		updates = append(updates, FieldUpdate{Path: "payload." + key, Value: value})
	}
	return updates
}
