package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Vortex-9191/slack-question-bot/internal/config"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type connectionState interface {
	IsConnected() bool
}

// registerHealth adds /healthz and /readyz. Health reports which settings
// are present, never their values.
func registerHealth(mux *http.ServeMux, cfg *config.Config, db pinger, conn connectionState, socketMode bool) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": version,
			"config": map[string]bool{
				"bot_token":         cfg.BotToken != "",
				"app_token":         cfg.AppToken != "",
				"signing_secret":    cfg.SigningSecret != "",
				"verify_signatures": cfg.VerifySignatures,
				"admin_channel":     cfg.AdminChannel != "",
				"dashboard":         cfg.DashboardToken != "",
			},
		})
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": "database_unavailable"})
			return
		}
		if socketMode && !conn.IsConnected() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": "socket_mode_disconnected"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
