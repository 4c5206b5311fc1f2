package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hubenschmidt/telecaller/internal/voice"
)

func init() {
	chatCmd.Flags().String("call-id", "", "call id (default: random)")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Hold a call in the terminal, typing in place of speaking",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if cfg.logLevel == "info" {
		cfg.logLevel = "warn"
	}
	setupLogging(cfg)
	// Typing is slower than speaking.
	cfg.gatherTimeout = max(cfg.gatherTimeout, 5*time.Minute)

	callID, _ := cmd.Flags().GetString("call-id")
	if callID == "" {
		callID = "CHAT" + uuid.NewString()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	t := newConsoleTransport(os.Stdin, cmd.OutOrStdout(), cancel)
	err = a.coord.Run(ctx, callID, t)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// consoleTransport implements voice.Transport over a line-oriented terminal.
// Each line typed is an utterance with full confidence.
type consoleTransport struct {
	out   io.Writer
	mu    sync.Mutex
	lines chan string
}

// newConsoleTransport starts reading in; onEOF is called when input ends.
func newConsoleTransport(in io.Reader, out io.Writer, onEOF func()) *consoleTransport {
	t := &consoleTransport{out: out, lines: make(chan string, 8)}
	go func() {
		defer onEOF()
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			t.lines <- line
		}
	}()
	return t
}

func (t *consoleTransport) Render(_ context.Context, _ string, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.out, "assistant> %s\n", text)
	return err
}

func (t *consoleTransport) Listen(ctx context.Context, timeout time.Duration) (voice.Utterance, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line := <-t.lines:
		return voice.Utterance{Text: line, Confidence: 1}, nil
	case <-timer.C:
		return voice.Utterance{}, voice.ErrListenTimeout
	case <-ctx.Done():
		return voice.Utterance{}, ctx.Err()
	}
}
