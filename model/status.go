package model

import "fmt"

// Status is the lifecycle stage of a Message. The zero value means absent.
type Status string

const (
	StatusNone         Status = ""
	StatusPending      Status = "pending"
	StatusRecording    Status = "recording"
	StatusTranscribing Status = "transcribing"
	StatusTranscribed  Status = "transcribed"
	StatusImproved     Status = "improved"
	StatusError        Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusPending, StatusRecording, StatusTranscribing,
		StatusTranscribed, StatusImproved, StatusError:
		return true
	}
	return false
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return StatusNone, fmt.Errorf("unknown message status %q", v)
	}
	return s, nil
}

// Terminal reports whether no further automatic transition is expected.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusImproved
}

var transitions = map[Status][]Status{
	StatusNone:         {StatusRecording},
	StatusPending:      {StatusRecording},
	StatusRecording:    {StatusTranscribing, StatusError},
	StatusTranscribing: {StatusTranscribed, StatusError},
	StatusTranscribed:  {StatusImproved},
}

// CanTransition reports whether a message may move from one status to another.
// Nothing leaves error, and audio never skips transcribing.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
