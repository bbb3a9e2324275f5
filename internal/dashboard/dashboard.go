// Package dashboard serves the doctor task view and a read-only JSON API
// over stored questions.
package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Vortex-9191/slack-question-bot/internal/store"
)

//go:embed templates/*.html
var templates embed.FS

// QuestionReader is the subset of store.Store the dashboard reads.
type QuestionReader interface {
	List(ctx context.Context, f store.Filter) ([]*store.Question, error)
	Search(ctx context.Context, keyword string, limit int) ([]*store.Question, error)
	Get(ctx context.Context, id string) (*store.Question, error)
	Answers(ctx context.Context, questionID string) ([]store.Answer, error)
	Approvals(ctx context.Context, questionID string) ([]store.Approval, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// Handler serves /dashboard and /api/*.
type Handler struct {
	store    QuestionReader
	tmpl     *template.Template
	location *time.Location
	logger   *slog.Logger
}

// New parses the embedded template and creates a Handler. Times are shown in
// Asia/Tokyo when that zone is available.
func New(st QuestionReader, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		loc = time.FixedZone("JST", 9*60*60)
	}
	h := &Handler{store: st, location: loc, logger: logger}

	h.tmpl, err = template.New("dashboard.html").Funcs(template.FuncMap{
		"statusLabel":   func(s store.Status) string { return s.Label() },
		"categoryLabel": func(v string) string { return store.Label(store.Categories, v) },
		"urgencyLabel":  func(v string) string { return store.Label(store.Urgencies, v) },
		"formatTime":    func(t time.Time) string { return t.In(h.location).Format("2006/01/02 15:04") },
	}).ParseFS(templates, "templates/dashboard.html")
	if err != nil {
		return nil, err
	}
	return h, nil
}

// RegisterRoutes registers dashboard and API routes on the given mux. Every
// route requires token.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, token string) {
	mux.HandleFunc("/dashboard", requireToken(h.handleDashboard, token))
	mux.HandleFunc("/api/questions", requireToken(h.handleList, token))
	mux.HandleFunc("/api/questions/", requireToken(h.handleShow, token))
	mux.HandleFunc("/api/stats", requireToken(h.handleStats, token))
}

type questionView struct {
	*store.Question
	Answers []store.Answer
}

type filterLink struct {
	Label  string
	Href   string
	Active bool
}

type pageStats struct {
	Total, Pending, Approved, Answered, Rejected int
}

type page struct {
	DoctorID  string
	Status    string
	Stats     pageStats
	Filters   []filterLink
	Questions []questionView
}

// handleDashboard renders GET /dashboard?doctor_id=&status=.
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	status, err := parseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Stats cover every status for the doctor; the list honors the filter.
	all, err := h.store.List(r.Context(), store.Filter{DoctorID: doctorID, Limit: 1000})
	if err != nil {
		h.logger.Error("failed to list questions", "doctor_id", doctorID, "error", err)
		http.Error(w, "failed to load questions", http.StatusInternalServerError)
		return
	}

	p := page{DoctorID: doctorID, Status: string(status)}
	for _, q := range all {
		p.Stats.Total++
		switch q.Status {
		case store.StatusPending:
			p.Stats.Pending++
		case store.StatusApproved:
			p.Stats.Approved++
		case store.StatusAnswered:
			p.Stats.Answered++
		case store.StatusRejected:
			p.Stats.Rejected++
		}
		if status != "" && q.Status != status {
			continue
		}
		answers, err := h.store.Answers(r.Context(), q.ID)
		if err != nil {
			h.logger.Warn("failed to load answers", "question", q.ID, "error", err)
		}
		p.Questions = append(p.Questions, questionView{Question: q, Answers: answers})
	}

	p.Filters = append(p.Filters, filterLink{Label: "すべて", Href: dashboardHref(doctorID, ""), Active: status == ""})
	for _, s := range store.Statuses {
		p.Filters = append(p.Filters, filterLink{Label: s.Label(), Href: dashboardHref(doctorID, s), Active: status == s})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.Execute(w, p); err != nil {
		h.logger.Error("failed to render dashboard", "error", err)
	}
}

func dashboardHref(doctorID string, status store.Status) string {
	q := url.Values{}
	if doctorID != "" {
		q.Set("doctor_id", doctorID)
	}
	if status != "" {
		q.Set("status", string(status))
	}
	if len(q) == 0 {
		return "/dashboard"
	}
	return "/dashboard?" + q.Encode()
}

// parseStatusFilter accepts "", "all" or a known status.
func parseStatusFilter(s string) (store.Status, error) {
	if s == "" || s == "all" {
		return "", nil
	}
	return store.ParseStatus(s)
}

// handleList handles GET /api/questions?doctor_id=&submitter_id=&status=&q=&limit=.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()

	status, err := parseStatusFilter(query.Get("status"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 100
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var questions []*store.Question
	if keyword := strings.TrimSpace(query.Get("q")); keyword != "" {
		questions, err = h.store.Search(r.Context(), keyword, limit)
	} else {
		questions, err = h.store.List(r.Context(), store.Filter{
			DoctorID:    query.Get("doctor_id"),
			SubmitterID: query.Get("submitter_id"),
			Status:      status,
			Limit:       limit,
		})
	}
	if err != nil {
		h.logger.Error("failed to list questions", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list questions")
		return
	}
	if questions == nil {
		questions = []*store.Question{}
	}

	writeJSONResponse(w, map[string]any{"questions": questions})
}

// handleShow handles GET /api/questions/{id}.
func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/questions/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONError(w, http.StatusBadRequest, "missing question ID")
		return
	}

	q, err := h.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "question not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get question", "id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to get question")
		return
	}
	answers, err := h.store.Answers(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get answers", "id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to get question")
		return
	}
	approvals, err := h.store.Approvals(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get approvals", "id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to get question")
		return
	}

	writeJSONResponse(w, map[string]any{
		"question":  q,
		"answers":   nonNil(answers),
		"approvals": nonNil(approvals),
	})
}

// handleStats handles GET /api/stats.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to load stats", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSONResponse(w, stats)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// writeJSONResponse writes a JSON response with 200 status.
func writeJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
