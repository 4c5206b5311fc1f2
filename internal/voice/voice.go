// Package voice holds the vocabulary shared by call front-ends and the
// conversation core: inbound events, outbound playback directives and the
// speech transport capability.
package voice

import (
	"context"
	"errors"
	"time"
)

// ErrListenTimeout is returned by Transport.Listen when nothing was heard
// within the window. It is the normal "no interruption" outcome.
var ErrListenTimeout = errors.New("listen timeout")

// EventKind identifies an inbound call event.
type EventKind string

const (
	EventNewCall   EventKind = "new_call"
	EventSpeech    EventKind = "speech_result"
	EventStatus    EventKind = "status_update"
	EventInterrupt EventKind = "interrupt"
	EventContinue  EventKind = "continue"
)

// Event is an inbound notification from a speech transport or carrier.
type Event struct {
	CallID     string    `json:"call_id"`
	Kind       EventKind `json:"kind"`
	Text       string    `json:"text,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Status     string    `json:"status,omitempty"`
	ResponseID string    `json:"response_id,omitempty"`
	From       string    `json:"from,omitempty"`
}

// DirectiveKind tells a transport what to do next.
type DirectiveKind string

const (
	// SpeakChunk: say Say, then listen for ListenWindow for an interruption.
	// On silence send EventContinue, otherwise EventInterrupt.
	DirectiveSpeakChunk DirectiveKind = "speak_chunk"
	// AwaitUtterance: say Say, then prompt and gather speech for GatherTimeout.
	DirectiveAwaitUtterance DirectiveKind = "await_utterance"
	// Resume: the current response was interrupted; Query is the caller's
	// utterance to answer next.
	DirectiveResume DirectiveKind = "resume"
	// Reprompt: the last utterance was unusable; say Say and gather again.
	DirectiveReprompt DirectiveKind = "reprompt"
	// Fallback: something went wrong; say Say and gather again.
	DirectiveFallback DirectiveKind = "fallback"
	// Hangup: say Say and end the call.
	DirectiveHangup DirectiveKind = "hangup"
	// Ack: nothing to render.
	DirectiveAck DirectiveKind = "ack"
)

// Directive is the conversation core's instruction for the transport.
type Directive struct {
	Kind          DirectiveKind `json:"kind"`
	CallID        string        `json:"call_id,omitempty"`
	ResponseID    string        `json:"response_id,omitempty"`
	Say           []string      `json:"say,omitempty"`
	Prompt        string        `json:"prompt,omitempty"`
	ListenWindow  time.Duration `json:"listen_window,omitempty"`
	GatherTimeout time.Duration `json:"gather_timeout,omitempty"`
	Query         string        `json:"query,omitempty"`
	Confidence    float64       `json:"confidence,omitempty"`
}

// Utterance is a recognised piece of caller speech.
type Utterance struct {
	Text       string
	Confidence float64
}

// Transport renders text to the caller and listens for speech.
type Transport interface {
	Render(ctx context.Context, callID, text string) error
	Listen(ctx context.Context, timeout time.Duration) (Utterance, error)
}
