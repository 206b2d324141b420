package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/akarpov/earshot/internal/storage"
)

const maxWebhookBodySize = 10 << 20 // 10MB

// Ticker is the scheduler surface exposed to administrative callers.
type Ticker interface {
	RunSummarizationTick(ctx context.Context)
	RunLockCleanup(ctx context.Context)
}

// Deps holds the handler dependencies.
type Deps struct {
	Store  *storage.Store
	Ticker Ticker
	Token  string // bearer token guarding everything except /health and /webhook
}

// webhookPayload mirrors the JSON the capture device posts per transcript
// delivery.
type webhookPayload struct {
	SessionID string           `json:"session_id"`
	Segments  []webhookSegment `json:"segments"`
}

type webhookSegment struct {
	Text      string  `json:"text"`
	Speaker   string  `json:"speaker"`
	SpeakerID int     `json:"speaker_id"`
	IsUser    bool    `json:"is_user"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// NewHandler builds the HTTP surface: the unauthenticated device webhook
// plus bearer-guarded diagnostic and administrative routes.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/webhook", handleWebhookProbe)
	r.Post("/webhook", handleWebhook(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/summaries", handleListSummaries(deps))
		r.Get("/summaries/{id}/segments", handleSummarySegments(deps))
		r.Get("/admin/backlog", handleBacklog(deps))
		r.Post("/admin/summarize", handleTriggerSummarization(deps))
		r.Post("/admin/locks/release", handleReleaseLocks(deps))
		r.Get("/admin/users", handleListUsers(deps))
		r.Get("/admin/users/{id}", handleGetUser(deps))
		r.Post("/admin/users", handleCreateUser(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleWebhookProbe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Webhook is active. Please use POST method to submit data.",
	})
}

func handleWebhook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := r.URL.Query().Get("uid")
		if uid == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing uid parameter")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
		defer r.Body.Close()

		raw, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}

		var payload webhookPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON payload: %v", err)
			return
		}
		if payload.SessionID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing session_id in payload")
			return
		}

		user, err := deps.Store.GetUserByUID(uid)
		if errors.Is(err, storage.ErrNotFound) {
			slog.Error("webhook for unknown uid", "uid", uid)
			httpError(w, http.StatusNotFound, "not_found", "no user registered for uid")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "looking up user: %v", err)
			return
		}

		now := time.Now().UTC()
		sess := storage.Session{
			ID:        uuid.New().String(),
			UserID:    user.ID,
			SessionID: payload.SessionID,
			Host:      r.RemoteAddr,
			RawJSON:   string(raw),
			CreatedAt: now,
		}

		segments := make([]storage.Segment, len(payload.Segments))
		fragments := make([]storage.Fragment, len(payload.Segments))
		for i, seg := range payload.Segments {
			segments[i] = storage.Segment{
				ID:        uuid.New().String(),
				SessionID: sess.ID,
				UserID:    user.ID,
				Text:      seg.Text,
				Speaker:   seg.Speaker,
				SpeakerID: seg.SpeakerID,
				IsUser:    seg.IsUser,
				StartTime: seg.StartTime,
				EndTime:   seg.EndTime,
				Timestamp: now,
			}
			fragments[i] = storage.Fragment{
				ID:        uuid.New().String(),
				UserID:    user.ID,
				SegmentID: segments[i].ID,
				Speaker:   seg.Speaker,
				Text:      seg.Text,
				Timestamp: now,
				CreatedAt: now,
			}
		}

		if err := deps.Store.IngestTranscript(sess, segments, fragments); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "storing transcript: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"message":  "Data processed successfully",
			"segments": len(segments),
		})
	}
}

func handleListSummaries(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		summaries, err := deps.Store.RecentSummaries(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing summaries: %v", err)
			return
		}
		if summaries == nil {
			summaries = []storage.Summary{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(summaryViews(summaries))
	}
}

func handleSummarySegments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if _, err := deps.Store.GetSummary(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "summary not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading summary: %v", err)
			return
		}

		segments, err := deps.Store.SegmentsBySummary(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading segments: %v", err)
			return
		}

		type segmentView struct {
			ID        string  `json:"id"`
			Text      string  `json:"text"`
			Speaker   string  `json:"speaker"`
			IsUser    bool    `json:"is_user"`
			StartTime float64 `json:"start_time"`
			EndTime   float64 `json:"end_time"`
			Timestamp string  `json:"timestamp"`
		}
		views := make([]segmentView, len(segments))
		for i, seg := range segments {
			views[i] = segmentView{
				ID:        seg.ID,
				Text:      seg.Text,
				Speaker:   seg.Speaker,
				IsUser:    seg.IsUser,
				StartTime: seg.StartTime,
				EndTime:   seg.EndTime,
				Timestamp: seg.Timestamp.Format(time.RFC3339),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

// handleBacklog returns a diagnostic snapshot: pending fragment counts per
// user, the oldest pending fragments, and the most recent summaries.
func handleBacklog(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		byUser, err := deps.Store.BacklogByUser()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "counting backlog: %v", err)
			return
		}
		pending, err := deps.Store.PendingFragments(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing pending fragments: %v", err)
			return
		}
		recent, err := deps.Store.RecentSummaries(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing summaries: %v", err)
			return
		}

		type fragmentView struct {
			ID        string `json:"id"`
			UserID    string `json:"user_id"`
			Speaker   string `json:"speaker"`
			Text      string `json:"text"`
			Timestamp string `json:"timestamp"`
			Locked    bool   `json:"locked"`
			Attempts  int    `json:"attempts"`
		}
		fragViews := make([]fragmentView, len(pending))
		for i, f := range pending {
			fragViews[i] = fragmentView{
				ID:        f.ID,
				UserID:    f.UserID,
				Speaker:   f.Speaker,
				Text:      f.Text,
				Timestamp: f.Timestamp.Format(time.RFC3339),
				Locked:    f.Locked,
				Attempts:  f.ProcessingAttempts,
			}
		}
		type backlogView struct {
			UserID  string `json:"user_id"`
			Pending int    `json:"pending"`
		}
		backlogViews := make([]backlogView, len(byUser))
		for i, b := range byUser {
			backlogViews[i] = backlogView{UserID: b.UserID, Pending: b.Pending}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"backlog_by_user":   backlogViews,
			"pending_fragments": fragViews,
			"recent_summaries":  summaryViews(recent),
		})
	}
}

// handleTriggerSummarization kicks off a summarization tick in the
// background and returns immediately; the scheduler serializes overlapping
// ticks internally.
func handleTriggerSummarization(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go deps.Ticker.RunSummarizationTick(context.WithoutCancel(r.Context()))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "started"})
	}
}

func handleReleaseLocks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Ticker.RunLockCleanup(r.Context())

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "done"})
	}
}

func handleListUsers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := deps.Store.ListUsers()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing users: %v", err)
			return
		}

		views := make([]userView, len(users))
		for i, u := range users {
			views[i] = newUserView(u)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func handleGetUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := deps.Store.GetUser(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading user: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(newUserView(user))
	}
}

func handleCreateUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UID      string `json:"uid"`
			Email    string `json:"email"`
			Timezone string `json:"timezone"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "uid is required")
			return
		}
		if req.Timezone != "" {
			if _, err := time.LoadLocation(req.Timezone); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid timezone %q", req.Timezone)
				return
			}
		}

		user := storage.User{
			ID:        uuid.New().String(),
			UID:       req.UID,
			Email:     req.Email,
			Timezone:  req.Timezone,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreateUser(user); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "creating user: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(newUserView(user))
	}
}

// userView is the wire shape of a user.
type userView struct {
	ID        string `json:"id"`
	UID       string `json:"uid"`
	Email     string `json:"email"`
	Timezone  string `json:"timezone"`
	CreatedAt string `json:"created_at"`
}

func newUserView(u storage.User) userView {
	return userView{
		ID:        u.ID,
		UID:       u.UID,
		Email:     u.Email,
		Timezone:  u.Timezone,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

// summaryView is the wire shape of a summary.
type summaryView struct {
	ID           string   `json:"id"`
	UserID       string   `json:"user_id"`
	Headline     string   `json:"headline"`
	BulletPoints []string `json:"bullet_points"`
	Tag          string   `json:"tag,omitempty"`
	FactChecks   []string `json:"fact_checks"`
	Timestamp    string   `json:"timestamp"`
	CreatedAt    string   `json:"created_at"`
}

func summaryViews(summaries []storage.Summary) []summaryView {
	views := make([]summaryView, len(summaries))
	for i, s := range summaries {
		views[i] = summaryView{
			ID:           s.ID,
			UserID:       s.UserID,
			Headline:     s.Headline,
			BulletPoints: s.BulletPoints,
			Tag:          s.Tag,
			FactChecks:   s.FactChecks,
			Timestamp:    s.Timestamp.Format(time.RFC3339),
			CreatedAt:    s.CreatedAt.Format(time.RFC3339),
		}
	}
	return views
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"type":    errType,
			"message": msg,
		},
	})
}
