package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zflow/zflow/internal/api/domain"
	"github.com/zflow/zflow/internal/api/dto"
	"github.com/zflow/zflow/internal/api/model"
	"github.com/zflow/zflow/internal/api/storage"
	"github.com/zflow/zflow/internal/queue"
	"github.com/zflow/zflow/shared/apperror"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// CRMHandler handles contacts, campaigns, opportunities and notifications
type CRMHandler struct {
	logger  *slog.Logger
	storage *storage.Storage
	queues  Enqueuer
}

// NewCRMHandler creates a new CRM handler
func NewCRMHandler(deps *Dependencies) *CRMHandler {
	return &CRMHandler{
		logger:  deps.Logger,
		storage: deps.Storage,
		queues:  deps.Queues,
	}
}

func queryLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return clamp(limit, defaultListLimit, maxListLimit)
}

// ListContacts handles GET /api/contacts
func (h *CRMHandler) ListContacts(c *gin.Context) {
	principal := PrincipalFrom(c)

	contacts, err := h.storage.ListContacts(c.Request.Context(), principal.TenantID, c.Query("search"), queryLimit(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	out := make([]dto.ContactDTO, len(contacts))
	for i, ct := range contacts {
		out[i] = dto.ContactDTO{
			ID:        ct.ID,
			Name:      ct.Name,
			Phone:     ct.Phone,
			Email:     ct.Email,
			CreatedAt: formatTime(ct.CreatedAt),
		}
	}
	c.JSON(http.StatusOK, gin.H{"contacts": out})
}

// ListCampaigns handles GET /api/campaigns
func (h *CRMHandler) ListCampaigns(c *gin.Context) {
	principal := PrincipalFrom(c)

	campaigns, err := h.storage.ListCampaigns(c.Request.Context(), principal.TenantID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	out := make([]dto.CampaignDTO, len(campaigns))
	for i := range campaigns {
		out[i] = toCampaignDTO(&campaigns[i])
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": out})
}

// StartCampaign handles POST /api/campaigns/:id/start
func (h *CRMHandler) StartCampaign(c *gin.Context) {
	ctx := c.Request.Context()
	principal := PrincipalFrom(c)
	campaignID := c.Param("id")

	if err := h.storage.StartCampaign(ctx, principal.TenantID, campaignID); err != nil {
		writeError(c, h.logger, err)
		return
	}

	payload := queue.CampaignPayload{TenantID: principal.TenantID, CampaignID: campaignID}
	job, err := h.queues.Add(ctx, queue.CampaignExecution, queue.JobExecuteCampaign, payload)
	if err != nil {
		if rerr := h.storage.ResetCampaign(ctx, principal.TenantID, campaignID); rerr != nil {
			h.logger.Error("Failed to reset campaign", slog.String("campaign_id", campaignID), slog.Any("error", rerr))
		}
		writeError(c, h.logger, apperror.Unexpected("failed to queue campaign", err))
		return
	}

	h.logger.Info("Campaign started",
		slog.String("campaign_id", campaignID),
		slog.String("job_id", job.ID),
	)

	c.JSON(http.StatusAccepted, dto.StartCampaignResponse{
		CampaignID: campaignID,
		Status:     domain.CampaignStatusRunning,
		JobID:      job.ID,
	})
}

// ListOpportunities handles GET /api/opportunities
func (h *CRMHandler) ListOpportunities(c *gin.Context) {
	principal := PrincipalFrom(c)

	opportunities, err := h.storage.ListOpportunities(c.Request.Context(), principal.TenantID, c.Query("stageId"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	out := make([]dto.OpportunityDTO, len(opportunities))
	for i, o := range opportunities {
		out[i] = dto.OpportunityDTO{
			ID:          o.ID,
			ContactID:   o.ContactID,
			ContactName: o.ContactName,
			StageID:     o.StageID,
			StageName:   o.StageName,
			Pipeline:    o.Pipeline,
			Title:       o.Title,
			AmountCents: o.AmountCents,
			CreatedAt:   formatTime(o.CreatedAt),
		}
	}
	c.JSON(http.StatusOK, gin.H{"opportunities": out})
}

// ListNotifications handles GET /api/notifications
func (h *CRMHandler) ListNotifications(c *gin.Context) {
	principal := PrincipalFrom(c)

	notifications, unread, err := h.storage.ListNotifications(c.Request.Context(), principal.TenantID, principal.UserID, queryLimit(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp := dto.ListNotificationsResponse{
		Notifications: make([]dto.NotificationDTO, len(notifications)),
		Unread:        unread,
	}
	for i, n := range notifications {
		resp.Notifications[i] = dto.NotificationDTO{
			ID:        n.ID,
			Title:     n.Title,
			Body:      n.Body,
			IsRead:    n.IsRead,
			CreatedAt: formatTime(n.CreatedAt),
		}
	}
	c.JSON(http.StatusOK, resp)
}

// MarkNotificationRead handles PATCH /api/notifications/:id/read
func (h *CRMHandler) MarkNotificationRead(c *gin.Context) {
	principal := PrincipalFrom(c)

	if err := h.storage.MarkNotificationRead(c.Request.Context(), principal.TenantID, principal.UserID, c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllNotificationsRead handles PATCH /api/notifications/read-all
func (h *CRMHandler) MarkAllNotificationsRead(c *gin.Context) {
	principal := PrincipalFrom(c)

	updated, err := h.storage.MarkAllNotificationsRead(c.Request.Context(), principal.TenantID, principal.UserID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func toCampaignDTO(cp *model.Campaign) dto.CampaignDTO {
	return dto.CampaignDTO{
		ID:        cp.ID,
		Name:      cp.Name,
		Message:   cp.Message,
		MediaURL:  cp.MediaURL,
		Status:    cp.Status,
		CreatedAt: formatTime(cp.CreatedAt),
		UpdatedAt: formatTime(cp.UpdatedAt),
	}
}
