package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func init() {
	loadtestCmd.Flags().String("url", "ws://localhost:8000/ws/call", "gateway websocket URL")
	loadtestCmd.Flags().Int("concurrency", 10, "number of concurrent callers")
	loadtestCmd.Flags().Duration("duration", 30*time.Second, "test duration")
	rootCmd.AddCommand(loadtestCmd)
}

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Place concurrent scripted calls against a running gateway",
	Args:  cobra.NoArgs,
	RunE:  runLoadtest,
}

var loadtestQuestions = []string{
	"What's a good cap rate?",
	"How much should I put down on a house?",
	"How long does closing take?",
	"Should I sell my house now?",
	"What are property taxes like?",
	"What is PMI?",
}

type callResult struct {
	success  bool
	answerMs float64
	totalMs  float64
	err      string
}

// wsFrame covers both directions of the call protocol.
type wsFrame struct {
	Type       string  `json:"type"`
	CallID     string  `json:"call_id,omitempty"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

func runLoadtest(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("url")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	duration, _ := cmd.Flags().GetDuration("duration")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Load test: %d concurrent calls for %s\n", concurrency, duration)
	fmt.Fprintf(out, "Gateway: %s\n\n", url)

	ctx, cancel := context.WithTimeout(cmd.Context(), duration)
	defer cancel()

	var mu sync.Mutex
	var results []callResult
	var wg sync.WaitGroup

	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				r := placeCall(url, loadtestQuestions[rand.Intn(len(loadtestQuestions))])
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	printSummary(out, results)
	return nil
}

// placeCall asks one question, hangs up with "goodbye" at the next listen
// window and times the call.
func placeCall(url, question string) callResult {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return callResult{err: fmt.Sprintf("dial: %v", err)}
	}
	defer conn.Close()

	start := time.Now()
	if err = conn.WriteJSON(map[string]string{"from": "loadtest"}); err != nil {
		return callResult{err: fmt.Sprintf("send meta: %v", err)}
	}

	var asked, answered time.Time
	var saidBye bool
	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			return callResult{err: fmt.Sprintf("read: %v", err)}
		}

		switch {
		case f.Type == "end":
			if answered.IsZero() {
				return callResult{err: "call ended before an answer"}
			}
			return callResult{
				success:  true,
				answerMs: float64(answered.Sub(asked).Milliseconds()),
				totalMs:  float64(time.Since(start).Milliseconds()),
			}
		case f.Type == "say" && !asked.IsZero() && answered.IsZero():
			answered = time.Now()
		case f.Type == "listen" && asked.IsZero():
			asked = time.Now()
			err = conn.WriteJSON(wsFrame{Type: "utterance", Text: question, Confidence: 0.95})
		case f.Type == "listen" && !answered.IsZero() && !saidBye:
			saidBye = true
			err = conn.WriteJSON(wsFrame{Type: "utterance", Text: "goodbye", Confidence: 0.95})
		}
		if err != nil {
			return callResult{err: fmt.Sprintf("send: %v", err)}
		}
	}
}

func printSummary(out io.Writer, results []callResult) {
	var succeeded, failed int
	var answerAll, totalAll []float64
	errs := map[string]int{}

	for _, r := range results {
		if !r.success {
			failed++
			errs[r.err]++
			continue
		}
		succeeded++
		answerAll = append(answerAll, r.answerMs)
		totalAll = append(totalAll, r.totalMs)
	}

	fmt.Fprintf(out, "\n=== Load Test Results ===\n")
	fmt.Fprintf(out, "Calls completed: %d\n", succeeded)
	fmt.Fprintf(out, "Calls failed:    %d\n", failed)
	for msg, n := range errs {
		fmt.Fprintf(out, "  %4d  %s\n", n, msg)
	}

	if len(answerAll) == 0 {
		fmt.Fprintln(out, "No successful calls to report latency")
		return
	}

	fmt.Fprintf(out, "\n%-6s %8s %8s %8s\n", "Stage", "p50", "p95", "p99")
	fmt.Fprintf(out, "%-6s %8.0fms %8.0fms %8.0fms\n", "Answer", percentile(answerAll, 50), percentile(answerAll, 95), percentile(answerAll, 99))
	fmt.Fprintf(out, "%-6s %8.0fms %8.0fms %8.0fms\n", "Call", percentile(totalAll, 50), percentile(totalAll, 95), percentile(totalAll, 99))
}

func percentile(data []float64, pct float64) float64 {
	sort.Float64s(data)
	idx := int(math.Ceil(pct/100*float64(len(data)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(data) {
		idx = len(data) - 1
	}
	return data[idx]
}
