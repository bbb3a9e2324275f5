package bridge

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/slack-go/slack"
)

const maxBodyBytes = 1 << 20

// Routes registers the Slack webhook endpoints on mux.
func (b *Bot) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/slack/commands", b.HandleCommand)
	mux.HandleFunc("/slack/slash-commands", b.HandleCommand)
	mux.HandleFunc("/slack/interactions", b.HandleInteraction)
	mux.HandleFunc("/slack/interactive", b.HandleInteraction)
}

// HandleCommand receives slash commands. It responds with an empty 200
// before any processing happens.
func (b *Bot) HandleCommand(w http.ResponseWriter, r *http.Request) {
	body, ok := b.readVerified(w, r)
	if !ok {
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	cmd, err := slack.SlashCommandParse(r)
	if err != nil || cmd.Command == "" {
		b.logger.Debug("failed to parse slash command", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	b.acceptCommand(cmd)
	w.WriteHeader(http.StatusOK)
}

// HandleInteraction receives block actions and modal events. Form
// submissions are acknowledged with a response_action body.
func (b *Bot) HandleInteraction(w http.ResponseWriter, r *http.Request) {
	body, ok := b.readVerified(w, r)
	if !ok {
		return
	}

	// Parse form values from the raw body (body was already consumed by ReadAll).
	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	payload := form.Get("payload")
	if payload == "" {
		http.Error(w, "missing payload", http.StatusBadRequest)
		return
	}

	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &callback); err != nil {
		b.logger.Debug("failed to parse Slack interaction", "error", err)
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	writeAck(w, b.acceptInteraction(callback))
}

// readVerified reads the body and checks the request signature. Rejected
// requests get a 401 and are never processed.
func (b *Bot) readVerified(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	if !b.verifier.Check(r.Header, body) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

func writeAck(w http.ResponseWriter, ack any) {
	if ack == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}
