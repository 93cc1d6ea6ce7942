package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tavari/mail-engine/internal/pkg/logger"
	"github.com/tavari/mail-engine/internal/service/campaign"
)

// StatsSource reports cumulative dispatch counters for the health endpoint.
type StatsSource interface {
	Stats() map[string]int64
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	campaigns *campaign.Service
	stats     StatsSource
	startedAt time.Time
}

// NewHandlers creates the handler set. stats may be nil when the process does
// not run a dispatch pool.
func NewHandlers(campaigns *campaign.Service, stats StatsSource) *Handlers {
	return &Handlers{
		campaigns: campaigns,
		stats:     stats,
		startedAt: time.Now(),
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func campaignIDParam(r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "campaignID")
	if _, err := uuid.Parse(raw); err != nil {
		return "", false
	}
	return raw, true
}

// HealthCheck reports process liveness and dispatch counters.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if h.stats != nil {
		resp["dispatch"] = h.stats.Stats()
	}
	respondJSON(w, http.StatusOK, resp)
}

// QueueCampaign expands a draft campaign into queue tasks and starts sending.
// POST /api/campaigns/{campaignID}/queue
func (h *Handlers) QueueCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	total, err := h.campaigns.Queue(r.Context(), id)
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"campaign_id": id,
			"status":      "sending",
			"queued":      total,
		})
	case errors.Is(err, campaign.ErrNotFound):
		respondError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, campaign.ErrNoRecipients):
		respondError(w, http.StatusUnprocessableEntity, "campaign has no sendable recipients")
	case errors.Is(err, campaign.ErrAlreadySending), errors.Is(err, campaign.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "campaign is not in draft")
	default:
		logger.Error("queue campaign failed", "campaign_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to queue campaign")
	}
}

// StopCampaign cancels the pending tasks of a sending campaign.
// POST /api/campaigns/{campaignID}/stop
func (h *Handlers) StopCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	err := h.campaigns.Stop(r.Context(), id)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"campaign_id": id,
			"status":      "stopped",
		})
	case errors.Is(err, campaign.ErrNotFound):
		respondError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, campaign.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "campaign is not sending")
	default:
		logger.Error("stop campaign failed", "campaign_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to stop campaign")
	}
}

// CampaignProgress returns live queue counts for a campaign.
// GET /api/campaigns/{campaignID}/progress
func (h *Handlers) CampaignProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			respondError(w, http.StatusNotFound, "campaign not found")
			return
		}
		logger.Error("load campaign failed", "campaign_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}

	progress, err := h.campaigns.Progress(r.Context(), id)
	if err != nil {
		logger.Error("campaign progress failed", "campaign_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": id,
		"status":      c.Status,
		"progress":    progress,
	})
}
