package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// OwnerHeader carries the authenticated user id, set by the gateway in front of this service.
const OwnerHeader = "X-User-ID"

type ctxKey struct{}

// CampaignService is the subset of the service layer the handlers call.
type CampaignService interface {
	CreateCampaign(ctx context.Context, ownerID int64, in service.CreateCampaignInput) (*model.Campaign, error)
	SendNow(ctx context.Context, ownerID, id int64) (*model.Campaign, error)
	GetStatus(ctx context.Context, ownerID, id int64) (*service.CampaignStatusView, error)
	GetCampaignDetails(ctx context.Context, ownerID, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, ownerID int64, page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error)
}

type CampaignController struct {
	CampaignService CampaignService
	Logger          *zap.Logger
}

// Routes mounts the campaign endpoints behind the owner middleware.
func (c *CampaignController) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireOwner)
		r.Post("/campaigns", c.CreateCampaign)
		r.Get("/campaigns", c.ListCampaigns)
		r.Get("/campaigns/{id}", c.GetCampaignDetails)
		r.Get("/campaigns/{id}/status", c.GetCampaignStatus)
		r.Post("/campaigns/{id}/send", c.SendCampaign)
	})
}

// RequireOwner rejects requests without a valid owner id header.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(OwnerHeader)), 10, 64)
		if err != nil || id <= 0 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid " + OwnerHeader + " header"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// OwnerFromContext returns the owner id placed by RequireOwner.
func OwnerFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())

	var body service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), owner, body)
	if err != nil && campaign != nil {
		// stored but not started; the client can retry with send
		logger.OrNop(c.Logger).Error("create campaign", zap.Int64("campaign_id", campaign.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":    "campaign created but dispatch did not start",
			"campaign": campaign,
		})
		return
	}
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())

	// Parse query parameters
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	channel := r.URL.Query().Get("channel")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), owner, page, pageSize, channel, status)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination, // already contains total_count, total_pages, page, page_size
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	campaign, err := c.CampaignService.GetCampaignDetails(r.Context(), owner, id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) GetCampaignStatus(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	view, err := c.CampaignService.GetStatus(r.Context(), owner, id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	campaign, err := c.CampaignService.SendNow(r.Context(), owner, id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"campaign_id": campaign.ID,
		"status":      campaign.Status,
	})
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func campaignID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid campaign id"})
		return 0, false
	}
	return id, true
}

func (c *CampaignController) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, appErrors.ErrValidation), errors.Is(err, appErrors.ErrInvalidAudience):
		status = http.StatusBadRequest
	case appErrors.IsNotFound(err):
		status = http.StatusNotFound
	case service.IsConflict(err):
		status = http.StatusConflict
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.OrNop(c.Logger).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
