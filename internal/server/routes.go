package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/foresight/internal/engine"
	"github.com/lazypower/foresight/internal/models"
)

type contentRequest struct {
	ID      string              `json:"id"`
	UserID  string              `json:"user_id" validate:"required"`
	Body    string              `json:"body"`
	Context models.ContextFrame `json:"context"`
	Tier    string              `json:"tier" validate:"omitempty,oneof=fast durable archival"`
}

type contentResponse struct {
	ID           string              `json:"id"`
	UserID       string              `json:"user_id"`
	Body         string              `json:"body"`
	Context      models.ContextFrame `json:"context"`
	CreatedAt    time.Time           `json:"created_at"`
	LastAccessAt time.Time           `json:"last_access_at"`
	Tier         models.Tier         `json:"tier"`
}

func toContentResponse(c *models.Content, t models.Tier) contentResponse {
	return contentResponse{
		ID:           c.ID,
		UserID:       c.UserID,
		Body:         string(c.Body),
		Context:      c.Context,
		CreatedAt:    c.CreatedAt,
		LastAccessAt: c.LastAccessAt,
		Tier:         t,
	}
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !decode(w, r, &req) {
		return
	}
	target, err := models.ParseTier(req.Tier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, placed, err := s.engine.Store(r.Context(), models.Content{
		ID:      req.ID,
		UserID:  req.UserID,
		Body:    []byte(req.Body),
		Context: req.Context,
	}, target)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toContentResponse(c, placed))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, served, err := s.engine.Get(r.Context(), id, frameFromQuery(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContentResponse(c, served))
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = engine.ForgetArchive
	}
	if err := s.engine.Forget(r.Context(), chi.URLParam(r, "id"), mode); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string              `json:"user_id" validate:"required"`
		ContentID string              `json:"content_id" validate:"required"`
		Timestamp time.Time           `json:"timestamp"`
		Context   models.ContextFrame `json:"context"`
	}
	if !decode(w, r, &req) {
		return
	}
	ev := models.AccessEvent{
		UserID:    req.UserID,
		ContentID: req.ContentID,
		Timestamp: req.Timestamp,
		Context:   req.Context,
	}
	if err := s.engine.RecordAccess(r.Context(), ev); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

type predictRequest struct {
	UserID     string              `json:"user_id" validate:"required"`
	Context    models.ContextFrame `json:"context"`
	MaxResults int                 `json:"max_results" validate:"gte=0,lte=1000"`
}

type anticipateRequest struct {
	UserID     string              `json:"user_id" validate:"required"`
	Context    models.ContextFrame `json:"context"`
	MaxResults int                 `json:"max_results" validate:"gte=0,lte=1000"`
	LookAhead  string              `json:"look_ahead"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !decode(w, r, &req) {
		return
	}
	results, err := s.engine.Predict(r.Context(), req.UserID, req.Context, req.MaxResults)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if results == nil {
		results = []models.PredictionResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleAnticipate(w http.ResponseWriter, r *http.Request) {
	var req anticipateRequest
	if !decode(w, r, &req) {
		return
	}
	var lookAhead time.Duration
	if req.LookAhead != "" {
		d, err := time.ParseDuration(req.LookAhead)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "look_ahead must be a non-negative duration")
			return
		}
		lookAhead = d
	}
	a, err := s.engine.Anticipate(r.Context(), req.UserID, req.Context, lookAhead, req.MaxResults)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if a.Results == nil {
		a.Results = []models.PredictionResult{}
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleSetContext(w http.ResponseWriter, r *http.Request) {
	var frame models.ContextFrame
	if !decode(w, r, &frame) {
		return
	}
	err := s.engine.SetContext(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "deviceID"), frame)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearContext(w http.ResponseWriter, r *http.Request) {
	found, err := s.engine.ClearContext(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "deviceID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no context for device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := s.engine.Patterns(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if patterns == nil {
		patterns = []models.Pattern{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.RunPatternDetection(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	patterns := res.Patterns
	if patterns == nil {
		patterns = []models.Pattern{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"span_hours": res.SpanHours,
		"patterns":   patterns,
		"skipped":    len(res.Skipped),
	})
}

func (s *Server) handleDetectAll(w http.ResponseWriter, r *http.Request) {
	sum, err := s.engine.RunDetectionAll(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.RunDemotionSweep(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// frameFromQuery reads ?activity=&location=&people=a,b.
func frameFromQuery(r *http.Request) models.ContextFrame {
	q := r.URL.Query()
	f := models.ContextFrame{
		Activity: q.Get("activity"),
		Location: q.Get("location"),
	}
	if p := q.Get("people"); p != "" {
		for _, name := range strings.Split(p, ",") {
			if name = strings.TrimSpace(name); name != "" {
				f.People = append(f.People, name)
			}
		}
	}
	return f
}
