package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	terrors "totari/internal/errors"
	"totari/model"
)

func openTestStore(t *testing.T, poll time.Duration) *Store {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "totari.db"), poll)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	s := New(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func audioMessage(threadID, owner string, createdAt int64) model.Message {
	return model.Message{
		ThreadID:  threadID,
		OwnerID:   owner,
		Kind:      model.KindAudio,
		Source:    model.SourceDesktop,
		CreatedAt: createdAt,
		Payload:   model.Payload{Audio: model.NewAudioPayload([]byte("RIFFdata"), "audio/wav", 3)},
		Status:    model.StatusRecording,
	}
}

func TestSaveAndGetMessages(t *testing.T) {
	s := openTestStore(t, time.Second)
	ctx := context.Background()

	late, err := s.SaveMessage(ctx, audioMessage("t1", "u1", 2000))
	if err != nil {
		t.Fatal(err)
	}
	early, err := s.SaveMessage(ctx, audioMessage("t1", "u2", 1000))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveMessage(ctx, audioMessage("t2", "u1", 500)); err != nil {
		t.Fatal(err)
	}

	msgs := s.GetMessages(ctx, "t1")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != early || msgs[1].ID != late {
		t.Errorf("order = [%s %s], want [%s %s]", msgs[0].ID, msgs[1].ID, early, late)
	}
	m := msgs[0]
	if m.Kind != model.KindAudio || m.Source != model.SourceDesktop || m.Status != model.StatusRecording {
		t.Errorf("message = %+v", m)
	}
	if m.Payload.Audio == nil || m.Payload.Audio.ContentType != "audio/wav" || m.Payload.Audio.DurationSec != 3 {
		t.Errorf("audio = %+v", m.Payload.Audio)
	}
	if data, err := m.Payload.Audio.Decode(); err != nil || string(data) != "RIFFdata" {
		t.Errorf("Decode() = %q, %v", data, err)
	}
}

func TestUpdatePayloadKeepsAudio(t *testing.T) {
	s := openTestStore(t, time.Second)
	ctx := context.Background()

	id, err := s.SaveMessage(ctx, audioMessage("t1", "u1", 1000))
	if err != nil {
		t.Fatal(err)
	}
	conf := 0.9
	tr := &model.TranscriptPayload{
		Text:         "olá",
		Words:        []model.WordTiming{{Start: 0, End: 0.5, Word: "olá"}},
		LanguageCode: "pt",
		Confidence:   &conf,
	}
	if err := s.UpdateMessagePayload(ctx, id, model.Payload{Transcript: tr}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateMessageStatus(ctx, id, model.StatusTranscribed, ""); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMessage(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Payload.Audio == nil {
		t.Fatal("audio variant lost after transcript update")
	}
	if got.Payload.Transcript == nil || got.Payload.Transcript.Text != "olá" {
		t.Fatalf("transcript = %+v", got.Payload.Transcript)
	}
	if c := got.Payload.Transcript.Confidence; c == nil || *c != 0.9 {
		t.Errorf("confidence = %v", c)
	}
	if len(got.Payload.Transcript.Words) != 1 || got.Payload.Transcript.Words[0].End != 0.5 {
		t.Errorf("words = %+v", got.Payload.Transcript.Words)
	}
	if got.Status != model.StatusTranscribed {
		t.Errorf("status = %q", got.Status)
	}
}

func TestUpdatePayloadRejectsEmpty(t *testing.T) {
	s := openTestStore(t, time.Second)
	err := s.UpdateMessagePayload(context.Background(), "x", model.Payload{})
	if !terrors.Is(err, terrors.ErrInvalidRequest) {
		t.Errorf("err = %v, want INVALID_REQUEST", err)
	}
}

func TestUpdateMissingMessage(t *testing.T) {
	s := openTestStore(t, time.Second)
	err := s.UpdateMessageStatus(context.Background(), "missing", model.StatusError, "boom")
	if !terrors.Is(err, terrors.ErrUpdateFailed) {
		t.Errorf("err = %v, want UPDATE_FAILED", err)
	}
	if !terrors.Is(err, terrors.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND cause", err)
	}
}

func TestStatusErrorText(t *testing.T) {
	s := openTestStore(t, time.Second)
	ctx := context.Background()
	id, _ := s.SaveMessage(ctx, audioMessage("t1", "u1", 1))
	if err := s.UpdateMessageStatus(ctx, id, model.StatusError, "mic unplugged"); err != nil {
		t.Fatal(err)
	}
	m, err := s.GetMessage(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != model.StatusError || m.Error != "mic unplugged" {
		t.Errorf("message = %+v", m)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t, time.Second)
	ctx := context.Background()
	id, _ := s.SaveMessage(ctx, audioMessage("t1", "u1", 1))

	for i := 0; i < 2; i++ {
		if err := s.DeleteMessage(ctx, id); err != nil {
			t.Fatalf("delete #%d: %v", i+1, err)
		}
	}
	if err := s.DeleteThread(ctx, "never-existed"); err != nil {
		t.Errorf("DeleteThread: %v", err)
	}
	if msgs := s.GetMessages(ctx, "t1"); len(msgs) != 0 {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestThreads(t *testing.T) {
	s := openTestStore(t, time.Second)
	ctx := context.Background()

	old, err := s.SaveThread(ctx, model.Thread{OwnerID: "d1", Title: "old", CreatedAt: 1, UpdatedAt: 1})
	if err != nil {
		t.Fatal(err)
	}
	recent, err := s.SaveThread(ctx, model.Thread{OwnerID: "d1", Title: "recent", CreatedAt: 2, UpdatedAt: 2})
	if err != nil {
		t.Fatal(err)
	}

	threads := s.GetThreads(ctx)
	if len(threads) != 2 || threads[0].ID != recent || threads[1].ID != old {
		t.Fatalf("threads = %+v", threads)
	}

	title := "  renamed "
	if err := s.UpdateThread(ctx, old, ThreadUpdate{Title: &title}); err != nil {
		t.Fatal(err)
	}
	th := s.GetThread(ctx, old)
	if th == nil || th.Title != "renamed" {
		t.Fatalf("thread = %+v", th)
	}
	if th.UpdatedAt <= 2 {
		t.Errorf("updatedAt not stamped: %d", th.UpdatedAt)
	}
	if got := s.GetThreads(ctx); got[0].ID != old {
		t.Errorf("renamed thread should sort first, got %+v", got)
	}

	blank := " "
	if err := s.UpdateThread(ctx, old, ThreadUpdate{Title: &blank}); !terrors.Is(err, terrors.ErrInvalidRequest) {
		t.Errorf("blank title err = %v", err)
	}

	if err := s.DeleteThread(ctx, old); err != nil {
		t.Fatal(err)
	}
	if s.GetThread(ctx, old) != nil {
		t.Error("deleted thread still readable")
	}
}

func TestUnavailableStore(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if s.Available() {
		t.Fatal("nil backend should be unavailable")
	}
	if _, err := s.SaveMessage(ctx, audioMessage("t", "u", 1)); !terrors.Is(err, terrors.ErrBackendUnavailable) {
		t.Errorf("SaveMessage err = %v", err)
	}
	if _, err := s.SaveThread(ctx, model.Thread{Title: "x"}); !terrors.Is(err, terrors.ErrBackendUnavailable) {
		t.Errorf("SaveThread err = %v", err)
	}
	if err := s.UpdateMessageStatus(ctx, "id", model.StatusError, ""); !terrors.Is(err, terrors.ErrBackendUnavailable) {
		t.Errorf("UpdateMessageStatus err = %v", err)
	}
	if msgs := s.GetMessages(ctx, "t"); msgs == nil || len(msgs) != 0 {
		t.Errorf("GetMessages = %#v, want empty", msgs)
	}
	if threads := s.GetThreads(ctx); threads == nil || len(threads) != 0 {
		t.Errorf("GetThreads = %#v, want empty", threads)
	}
	if s.GetThread(ctx, "x") != nil {
		t.Error("GetThread should be nil")
	}

	called := false
	unsub := s.SubscribeToMessages(ctx, "t", "u", func([]model.Message) { called = true })
	unsub()
	unsub()
	if called {
		t.Error("unavailable subscription fired")
	}
}

func TestPing(t *testing.T) {
	s := openTestStore(t, time.Second)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := New(nil).Ping(context.Background()); !terrors.Is(err, terrors.ErrBackendUnavailable) {
		t.Errorf("Ping on nil backend = %v", err)
	}
}

func TestReadsAreLenientAfterClose(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "closed.db"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	s := New(db)
	db.Close()

	if msgs := s.GetMessages(context.Background(), "t"); len(msgs) != 0 {
		t.Errorf("GetMessages = %+v", msgs)
	}
	if threads := s.GetThreads(context.Background()); len(threads) != 0 {
		t.Errorf("GetThreads = %+v", threads)
	}
	if _, err := s.SaveThread(context.Background(), model.Thread{Title: "x"}); !terrors.Is(err, terrors.ErrPersistenceFailed) {
		t.Errorf("SaveThread err = %v", err)
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping on a closed database should fail")
	}
}

func TestSubscribeToMessages(t *testing.T) {
	s := openTestStore(t, 20*time.Millisecond)
	ctx := context.Background()

	var mu sync.Mutex
	var snapshots [][]model.Message
	updates := make(chan struct{}, 16)
	unsub := s.SubscribeToMessages(ctx, "t1", "u1", func(msgs []model.Message) {
		mu.Lock()
		snapshots = append(snapshots, msgs)
		mu.Unlock()
		updates <- struct{}{}
	})
	defer unsub()

	wait := func() {
		t.Helper()
		select {
		case <-updates:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for snapshot")
		}
	}
	wait()

	if _, err := s.SaveMessage(ctx, audioMessage("t1", "other-owner", 1)); err != nil {
		t.Fatal(err)
	}
	id, err := s.SaveMessage(ctx, audioMessage("t1", "u1", 2))
	if err != nil {
		t.Fatal(err)
	}
	wait()

	mu.Lock()
	last := snapshots[len(snapshots)-1]
	mu.Unlock()
	if len(last) != 1 || last[0].ID != id {
		t.Fatalf("snapshot = %+v, want only %s", last, id)
	}

	unsub()
	unsub()
	if _, err := s.SaveMessage(ctx, audioMessage("t1", "u1", 3)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-updates:
		t.Error("snapshot delivered after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDecodeMessageLenience(t *testing.T) {
	if _, err := DecodeMessage(Doc{ID: "x", Data: map[string]any{"kind": "video"}}); err == nil {
		t.Error("unknown kind should fail")
	}
	if _, err := DecodeMessage(Doc{ID: "x", Data: map[string]any{"kind": "note", "status": "lost"}}); err == nil {
		t.Error("unknown status should fail")
	}
	m, err := DecodeMessage(Doc{ID: "x", Data: map[string]any{"kind": "note", "source": "watch"}})
	if err != nil {
		t.Fatal(err)
	}
	if m.Source != model.SourceServer || m.Status != model.StatusNone {
		t.Errorf("message = %+v", m)
	}
}

func TestMillis(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   any
		want int64
	}{
		{nil, 0},
		{ts, ts.UnixMilli()},
		{&ts, ts.UnixMilli()},
		{int64(42), 42},
		{float64(42.9), 42},
		{json.Number("1714564800000"), 1714564800000},
		{"1714564800000", 1714564800000},
		{ts.Format(time.RFC3339Nano), ts.UnixMilli()},
		{"garbage", 0},
		{true, 0},
	}
	for _, tt := range tests {
		if got := Millis(tt.in); got != tt.want {
			t.Errorf("Millis(%#v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSetPath(t *testing.T) {
	doc := map[string]any{"payload": map[string]any{"audio": "a"}}
	setPath(doc, "payload.transcript", "t")
	setPath(doc, "status", "x")
	p := doc["payload"].(map[string]any)
	if p["audio"] != "a" || p["transcript"] != "t" || doc["status"] != "x" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	conf := 0.92
	zero := 0.0
	words := []model.WordTiming{{Start: 0, End: 0.4, Word: "olá"}, {Start: 0.5, End: 1.1, Word: "mundo"}}
	audio := model.NewAudioPayload([]byte("RIFF....WAVE"), "audio/wav", 4)

	base := func(kind model.Kind, status model.Status, p model.Payload) model.Message {
		return model.Message{
			ThreadID: "t1", OwnerID: "u1", Kind: kind, Source: model.SourceDesktop,
			CreatedAt: 1700000000123, Status: status, Payload: p,
		}
	}
	failed := base(model.KindAudio, model.StatusError, model.Payload{Audio: audio})
	failed.Error = "recording too short"

	tests := []struct {
		name string
		msg  model.Message
	}{
		{"recording", base(model.KindAudio, model.StatusRecording, model.Payload{})},
		{"audio", base(model.KindAudio, model.StatusTranscribing, model.Payload{Audio: audio})},
		{"transcript", base(model.KindTranscript, model.StatusTranscribed, model.Payload{
			Transcript: &model.TranscriptPayload{Text: "olá mundo", Words: words, LanguageCode: "pt", Confidence: &conf},
		})},
		{"audio and transcript", base(model.KindAudio, model.StatusTranscribed, model.Payload{
			Audio:      audio,
			Transcript: &model.TranscriptPayload{Text: "transcription unavailable", Words: []model.WordTiming{}, LanguageCode: "pt", Confidence: &zero},
		})},
		{"improvement without lists", base(model.KindImprovement, model.StatusImproved, model.Payload{
			Improvement: &model.ImprovementPayload{TextoMelhorado: "Olá, mundo.", Resumo: "saudação"},
		})},
		{"improvement", base(model.KindImprovement, model.StatusImproved, model.Payload{
			Improvement: &model.ImprovementPayload{
				TextoMelhorado: "Olá, mundo.", Topicos: []string{"saudação"}, Insights: []string{}, Resumo: "curto",
			},
		})},
		{"note", base(model.KindNote, model.StatusNone, model.Payload{Note: &model.NotePayload{Text: "lembrete"}})},
		{"error", failed},
		{"mobile system", func() model.Message {
			m := base(model.KindSystem, model.StatusPending, model.Payload{})
			m.Source = model.SourceMobile
			return m
		}()},
	}

	s := openTestStore(t, time.Second)
	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMessage(Doc{Data: EncodeMessage(tt.msg)})
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("codec:\n got %+v\nwant %+v", got, tt.msg)
			}

			id, err := s.SaveMessage(ctx, tt.msg)
			if err != nil {
				t.Fatal(err)
			}
			stored, err := s.GetMessage(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			want := tt.msg
			want.ID = id
			if !reflect.DeepEqual(*stored, want) {
				t.Errorf("sqlite:\n got %+v\nwant %+v", *stored, want)
			}
		})
	}
}
