package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avikstrom/finishline/internal/metrics"
	"github.com/avikstrom/finishline/internal/poll"
	"github.com/avikstrom/finishline/internal/store"
	"github.com/avikstrom/finishline/internal/ws"
)

type Server struct {
	coord   *poll.Coordinator
	subs    *store.SubscriptionStore
	metrics *metrics.Metrics
	hub     *ws.Hub
	logger  *zap.Logger
}

func NewServer(coord *poll.Coordinator, subs *store.SubscriptionStore, m *metrics.Metrics, hub *ws.Hub, logger *zap.Logger) *Server {
	return &Server{
		coord:   coord,
		subs:    subs,
		metrics: m,
		hub:     hub,
		logger:  logger,
	}
}

// handleQuery serves the method-keyed query surface. The method name and
// parameter names mirror the upstream provider, so existing provider
// clients can point here unchanged.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	method := q.Get("method")

	params := make(map[string]string)
	for _, name := range []string{"comp", "class", "club"} {
		if v := q.Get(name); v != "" {
			params[name] = v
		}
	}

	result, err := s.coord.Query(r.Context(), method, params, q.Get("last_hash"))
	if err != nil {
		if errors.Is(err, poll.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("query failed",
			zap.String("method", method),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type subscriptionRequest struct {
	UserID        string `json:"userId"`
	CompetitionID int    `json:"competitionId"`
	ClassName     string `json:"className"`
	RunnerName    string `json:"runnerName"`
	Token         string `json:"token"`
	RaceStart     string `json:"raceStart,omitempty"` // RFC 3339, optional
}

func (s *Server) handleAddSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.UserID == "" || req.CompetitionID == 0 || req.ClassName == "" || req.RunnerName == "" {
		writeError(w, http.StatusBadRequest, "userId, competitionId, className and runnerName are required")
		return
	}

	sub := store.Subscription{
		UserID:        req.UserID,
		CompetitionID: req.CompetitionID,
		ClassName:     req.ClassName,
		RunnerName:    req.RunnerName,
		Token:         req.Token,
	}
	if req.RaceStart != "" {
		t, err := time.Parse(time.RFC3339, req.RaceStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "raceStart must be RFC 3339")
			return
		}
		sub.RaceStart = &t
	}

	if err := s.subs.Add(r.Context(), &sub); err != nil {
		s.logger.Error("adding subscription failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("subscription added",
		zap.String("id", sub.ID),
		zap.Int("comp", sub.CompetitionID),
		zap.String("class", sub.ClassName),
		zap.String("runner", sub.RunnerName),
	)
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user parameter is required")
		return
	}

	subs, err := s.subs.ForUser(r.Context(), userID)
	if err != nil {
		s.logger.Error("listing subscriptions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if subs == nil {
		subs = []store.Subscription{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.subs.Delete(r.Context(), id); err != nil {
		s.logger.Error("deleting subscription failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
