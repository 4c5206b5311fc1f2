package session

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Status is the carrier-reported lifecycle state of a call.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no-answer"
	StatusCanceled   Status = "canceled"
)

var knownStatuses = map[Status]bool{
	StatusInitiated:  true,
	StatusRinging:    true,
	StatusInProgress: true,
	StatusCompleted:  true,
	StatusFailed:     true,
	StatusBusy:       true,
	StatusNoAnswer:   true,
	StatusCanceled:   true,
}

// ParseStatus maps a carrier status string to a Status.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, knownStatuses[st]
}

// Terminal reports whether the session should be archived and removed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	}
	return false
}

// State is the dialogue phase of a session.
type State string

const (
	StateGreeting   State = "greeting"
	StateInProgress State = "in-progress"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a session's conversation history.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	SequenceID string         `json:"sequence_id"`
}

// FollowUpContext describes what the next utterance is expected to be about.
type FollowUpContext struct {
	ExpectedTopics   []string `json:"expected_topics,omitempty"`
	RelatedQuestions []string `json:"related_questions,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
}

// InterruptionPolicy tracks the response currently playing and whether the
// caller may still barge in on it.
type InterruptionPolicy struct {
	ActiveResponseToken string `json:"active_response_token,omitempty"`
	CanInterrupt        bool   `json:"can_interrupt"`
	Threshold           int    `json:"interrupt_threshold"`
}

// Session is the per-call conversation record.
type Session struct {
	ID                  string             `json:"id"`
	Status              Status             `json:"status"`
	State               State              `json:"conversation_state"`
	History             []Message          `json:"history"`
	Intent              Intent             `json:"intent,omitempty"`
	FollowUp            FollowUpContext    `json:"follow_up_context"`
	Interruption        InterruptionPolicy `json:"interruption"`
	Turn                int                `json:"turn"`
	TotalInteractions   int                `json:"total_interactions"`
	EndRequested        bool               `json:"end_requested"`
	LowConfidenceStreak int                `json:"low_confidence_streak"`
	Metadata            map[string]string  `json:"metadata,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	LastActivity        time.Time          `json:"last_activity"`

	nextSeq    int
	maxHistory int
}

// AppendMessage adds a message, assigns it the next sequence id and trims the
// oldest entries so at most 2*maxHistory messages remain.
func (s *Session) AppendMessage(role Role, content string, metadata map[string]any, at time.Time) Message {
	msg := Message{
		Role:       role,
		Content:    content,
		Timestamp:  at,
		Metadata:   metadata,
		SequenceID: fmt.Sprintf("%s_%d", s.ID, s.nextSeq),
	}
	s.nextSeq++
	s.History = append(s.History, msg)

	limit := 2 * s.maxHistory
	if limit > 0 && len(s.History) > limit {
		s.History = slices.Clone(s.History[len(s.History)-limit:])
	}
	return msg
}

// RecentHistory returns up to n of the latest messages.
func (s *Session) RecentHistory(n int) []Message {
	if n <= 0 || n >= len(s.History) {
		return cloneMessages(s.History)
	}
	return cloneMessages(s.History[len(s.History)-n:])
}

// Clone returns a deep copy safe to read after the entry lock is released.
func (s Session) Clone() Session {
	c := s
	c.History = cloneMessages(s.History)
	c.FollowUp = FollowUpContext{
		ExpectedTopics:   slices.Clone(s.FollowUp.ExpectedTopics),
		RelatedQuestions: slices.Clone(s.FollowUp.RelatedQuestions),
		Keywords:         slices.Clone(s.FollowUp.Keywords),
	}
	c.Metadata = maps.Clone(s.Metadata)
	return c
}

func cloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		m.Metadata = maps.Clone(m.Metadata)
		out[i] = m
	}
	return out
}
