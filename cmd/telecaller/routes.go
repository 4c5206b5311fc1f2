package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/telecaller/internal/dispatch"
	"github.com/hubenschmidt/telecaller/internal/webhook"
	"github.com/hubenschmidt/telecaller/internal/ws"
)

type deps struct {
	cfg   config
	app   *app
	lanes *dispatch.Lanes
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws/call", ws.NewHandler(d.app.coord, d.cfg.maxConcurrentCalls))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/models", d.handleModels)
	mux.Handle("/", webhook.NewServer(d.app.coord, d.lanes, d.app.store, d.app.archive))
}

func (d deps) handleModels(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"llm": map[string]any{
			"default": d.cfg.llmEngine,
			"model":   d.cfg.llmModel,
			"engines": d.app.llm.Engines(),
		},
		"active_calls":     d.app.store.Len(),
		"active_responses": d.app.player.Len(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
