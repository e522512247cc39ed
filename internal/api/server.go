// Package api exposes the dispatch engine over HTTP: a dispatch endpoint, a
// job progress endpoint and campaign read endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	common "github.com/example/notification-dispatch/internal/adapters/common"
	"github.com/example/notification-dispatch/internal/dispatch"
	"github.com/example/notification-dispatch/internal/models"
	"github.com/example/notification-dispatch/internal/store"
)

// Paging bounds for the ledger read endpoints. The store runs on a single
// SQLite connection, so unbounded reads would stall every other caller.
const (
	defaultMessagesLimit = 50
	maxMessagesLimit     = 500
)

// Engine is the dispatch surface the HTTP layer depends on. Implemented by
// *dispatch.Dispatcher.
type Engine interface {
	Dispatch(ctx context.Context, req *models.SendRequest) (*models.DispatchResult, error)
	JobProgress(ctx context.Context, jobID string, channel models.Channel) (*models.JobProgress, error)
}

// Server wires the HTTP handlers to the dispatch engine and the store.
type Server struct {
	engine Engine
	store  *store.Store
	logger zerolog.Logger
}

// NewServer constructs the HTTP layer.
func NewServer(engine Engine, st *store.Store, logger zerolog.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("api: dispatch engine is required")
	}
	if st == nil {
		return nil, errors.New("api: store is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Server{
		engine: engine,
		store:  st,
		logger: logger.With().Str("component", "api").Logger(),
	}, nil
}

// Router builds the chi router for the server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/dispatch", s.handleDispatch)
		r.Get("/jobs/{channel}/{jobID}", s.handleJobProgress)
		r.Get("/campaigns/{campaignID}", s.handleGetCampaign)
		r.Get("/campaigns/{campaignID}/messages", s.handleCampaignMessages)
		r.Get("/messages", s.handleRecentMessages)
	})

	return r
}

type dispatchRequest struct {
	Channel             string              `json:"channel"`
	Recipients          []string            `json:"recipients"`
	Subject             string              `json:"subject,omitempty"`
	Body                string              `json:"body"`
	IsBulk              bool                `json:"is_bulk,omitempty"`
	Attachments         []models.Attachment `json:"attachments,omitempty"`
	CampaignName        string              `json:"campaign_name,omitempty"`
	CampaignDescription string              `json:"campaign_description,omitempty"`
	OwnerID             string              `json:"owner_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var body dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	channel, err := models.ParseChannel(body.Channel)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := &models.SendRequest{
		Channel:             channel,
		Recipients:          body.Recipients,
		Subject:             body.Subject,
		Body:                body.Body,
		IsBulk:              body.IsBulk,
		Attachments:         body.Attachments,
		CampaignName:        body.CampaignName,
		CampaignDescription: body.CampaignDescription,
		OwnerID:             body.OwnerID,
	}

	result, err := s.engine.Dispatch(r.Context(), req)
	if err != nil {
		s.writeDispatchError(w, err)
		return
	}

	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	channel, err := models.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID := chi.URLParam(r, "jobID")

	progress, err := s.engine.JobProgress(r.Context(), jobID, channel)
	if errors.Is(err, dispatch.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error().Str("job_id", jobID).Err(err).Msg("job progress lookup failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")

	campaign, err := s.store.GetCampaign(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		s.logger.Error().Str("campaign_id", id).Err(err).Msg("campaign lookup failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, campaign)
}

func (s *Server) handleCampaignMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")

	messages, err := s.store.MessagesByCampaign(r.Context(), id)
	if err != nil {
		s.logger.Error().Str("campaign_id", id).Err(err).Msg("campaign messages lookup failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"data": messages})
}

func (s *Server) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessagesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxMessagesLimit {
		limit = maxMessagesLimit
	}

	messages, err := s.store.RecentMessages(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("recent messages lookup failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"data": messages})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// writeDispatchError maps the dispatch error taxonomy onto HTTP statuses:
// invalid requests are 400, a channel missing its credentials is 422.
func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrConfigMissing):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error().Err(err).Msg("dispatch failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}
