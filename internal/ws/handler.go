// Package ws carries calls over a WebSocket: the client does its own speech
// recognition and synthesis and exchanges text frames with the server.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/telecaller/internal/voice"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Runner drives one call over a transport until it ends.
type Runner interface {
	Run(ctx context.Context, callID string, t voice.Transport) error
}

// Handler manages WebSocket calls with admission control.
type Handler struct {
	runner Runner
	sem    chan struct{}
}

// NewHandler creates a WebSocket handler that admits up to maxConcurrent calls.
func NewHandler(runner Runner, maxConcurrent int) *Handler {
	if maxConcurrent <= 0 {
		maxConcurrent = 100
	}
	return &Handler{runner: runner, sem: make(chan struct{}, maxConcurrent)}
}

// callMetadata is the first text frame sent by the client.
type callMetadata struct {
	CallID string `json:"call_id"`
	From   string `json:"from"`
}

// clientFrame is every later frame from the client.
type clientFrame struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// serverFrame is sent to the client.
type serverFrame struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id,omitempty"`
	Text      string `json:"text,omitempty"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

// ServeHTTP upgrades the connection and runs the call.
// Returns 503 if at max concurrent call capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.runCall(r.Context(), conn)
}

func (h *Handler) runCall(parent context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer cancel()

	meta, err := readMetadata(conn)
	if err != nil {
		slog.Error("read metadata", "error", err)
		return
	}
	callID := meta.CallID
	if callID == "" {
		callID = "WS" + uuid.NewString()
	}

	t := newTransport(conn)
	go t.readLoop(cancel)

	slog.Info("websocket call started", "call_id", callID, "from", meta.From)
	err = h.runner.Run(ctx, callID, t)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("websocket call failed", "call_id", callID, "error", err)
	}
	t.send(serverFrame{Type: "end", CallID: callID})
	slog.Info("websocket call ended", "call_id", callID)
}

func readMetadata(conn *websocket.Conn) (*callMetadata, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var meta callMetadata
	if err = json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// transport implements voice.Transport over a websocket connection.
type transport struct {
	conn       *websocket.Conn
	mu         sync.Mutex
	utterances chan voice.Utterance
	closed     chan struct{}
}

func newTransport(conn *websocket.Conn) *transport {
	return &transport{
		conn:       conn,
		utterances: make(chan voice.Utterance, 8),
		closed:     make(chan struct{}),
	}
}

// readLoop feeds utterance frames to Listen until the connection closes.
func (t *transport) readLoop(onClose context.CancelFunc) {
	defer onClose()
	defer close(t.closed)
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			slog.Info("connection closed", "error", err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("bad client frame", "error", err)
			continue
		}
		if f.Type == "hangup" {
			return
		}
		if f.Type != "utterance" {
			continue
		}
		select {
		case t.utterances <- voice.Utterance{Text: f.Text, Confidence: f.Confidence}:
		default:
			slog.Warn("utterance dropped, listener behind")
		}
	}
}

func (t *transport) send(f serverFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Render sends text for the client to speak.
func (t *transport) Render(_ context.Context, callID, text string) error {
	return t.send(serverFrame{Type: "say", CallID: callID, Text: text})
}

// Listen announces a listen window and waits for the next utterance.
func (t *transport) Listen(ctx context.Context, timeout time.Duration) (voice.Utterance, error) {
	if err := t.send(serverFrame{Type: "listen", TimeoutMs: timeout.Milliseconds()}); err != nil {
		return voice.Utterance{}, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case u := <-t.utterances:
		return u, nil
	case <-timer.C:
		return voice.Utterance{}, voice.ErrListenTimeout
	case <-t.closed:
		return voice.Utterance{}, context.Canceled
	case <-ctx.Done():
		return voice.Utterance{}, ctx.Err()
	}
}
