package model

import (
	"sort"
	"time"
)

// Kind tags which payload variant of a Message is meaningful.
type Kind string

const (
	KindAudio       Kind = "audio"
	KindTranscript  Kind = "transcript"
	KindImprovement Kind = "improvement"
	KindNote        Kind = "note"
	KindSystem      Kind = "system"
)

func (k Kind) Valid() bool {
	switch k {
	case KindAudio, KindTranscript, KindImprovement, KindNote, KindSystem:
		return true
	}
	return false
}

// Source is the device class a message originated from.
type Source string

const (
	SourceMobile  Source = "mobile"
	SourceDesktop Source = "desktop"
	SourceServer  Source = "server"
)

func (s Source) Valid() bool {
	switch s {
	case SourceMobile, SourceDesktop, SourceServer:
		return true
	}
	return false
}

type Message struct {
	ID        string  `json:"id"`
	ThreadID  string  `json:"threadId"`
	OwnerID   string  `json:"ownerId"`
	Kind      Kind    `json:"kind"`
	Source    Source  `json:"source"`
	CreatedAt int64   `json:"createdAt"`
	Payload   Payload `json:"payload"`
	Status    Status  `json:"status,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Clone returns a copy that shares no mutable payload state with m.
func (m Message) Clone() Message {
	m.Payload = m.Payload.Clone()
	return m
}

type Thread struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Persisted reports whether the store has assigned the thread an id.
func (t Thread) Persisted() bool {
	return t.ID != ""
}

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	CreatedAt   int64  `json:"createdAt"`
}

// SortMessages orders messages by createdAt ascending, keeping insertion order for ties.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt < msgs[j].CreatedAt
	})
}

// SortThreads orders threads most recently updated first.
func SortThreads(threads []Thread) {
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].UpdatedAt > threads[j].UpdatedAt
	})
}

func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

func NowMillis() int64 {
	return time.Now().UnixMilli()
}
