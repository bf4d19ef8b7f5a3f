// Package reader is the user-facing read API over the user projection.
// Responses are filtered DTOs: no idempotency keys, no source metadata,
// no soft-deleted aggregates, and tenant ids are enriched with the
// registered organization name.
package reader

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/varsling/notification-platform/internal/eventlog"
	"github.com/varsling/notification-platform/internal/handler"
	"github.com/varsling/notification-platform/internal/model"
	"github.com/varsling/notification-platform/internal/projection"
	"github.com/varsling/notification-platform/pkg/logger"
)

// OrgNames resolves organization numbers to display names.
type OrgNames interface {
	OrgName(ctx context.Context, orgNumber string) (string, error)
}

type Handler struct {
	view   *projection.Projection
	log    eventlog.Log
	orgs   OrgNames
	logger *logger.Logger
}

func NewHandler(view *projection.Projection, log eventlog.Log, orgs OrgNames, l *logger.Logger) *Handler {
	return &Handler{view: view, log: log, orgs: orgs, logger: l.WithComponent("reader-api")}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tenants/:tenantID/notifications", h.ListForTenant)
	rg.GET("/cases", h.GetCaseByGrouping)
	rg.GET("/notifications/:id", h.GetNotification)
	rg.POST("/notifications/:id/click", h.Click)
}

// notificationDTO is the user view of an aggregate.
type notificationDTO struct {
	ID         uuid.UUID  `json:"id"`
	Kind       string     `json:"kind"`
	Tag        string     `json:"tag"`
	Title      string     `json:"title,omitempty"`
	Text       string     `json:"text,omitempty"`
	Link       string     `json:"link"`
	OrgNumber  string     `json:"org_number"`
	OrgName    string     `json:"org_name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Status     string     `json:"status,omitempty"`
	StatusText string     `json:"status_text,omitempty"`
	StartsAt   *time.Time `json:"starts_at,omitempty"`
	EndsAt     *time.Time `json:"ends_at,omitempty"`
	State      string     `json:"state,omitempty"`
	ClickedBy  []string   `json:"clicked_by,omitempty"`
}

func (h *Handler) toDTO(ctx context.Context, agg *model.Aggregate) notificationDTO {
	dto := notificationDTO{
		ID:        agg.ID,
		Kind:      string(agg.Kind),
		Tag:       agg.Tag,
		Title:     agg.Title,
		Text:      agg.Text,
		Link:      agg.Link,
		OrgNumber: agg.TenantID,
		CreatedAt: agg.CreatedAt,
		StartsAt:  agg.StartsAt,
		EndsAt:    agg.EndsAt,
		ClickedBy: agg.ClickedBy,
	}
	if name, err := h.orgs.OrgName(ctx, agg.TenantID); err == nil {
		dto.OrgName = name
	}
	if entry, ok := agg.CurrentStatus(); ok {
		dto.Status = string(entry.Status)
		if entry.OverrideText != nil {
			dto.StatusText = *entry.OverrideText
		}
	}
	if agg.AppointmentState != nil {
		dto.State = string(*agg.AppointmentState)
	}
	return dto
}

func (h *Handler) ListForTenant(c *gin.Context) {
	tenantID := c.Param("tenantID")
	aggs, err := h.view.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("listing failed"))
		return
	}
	out := make([]notificationDTO, 0, len(aggs))
	for _, agg := range aggs {
		if agg.SoftDeleted {
			continue
		}
		out = append(out, h.toDTO(c.Request.Context(), agg))
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(out))
}

func (h *Handler) GetCaseByGrouping(c *gin.Context) {
	tag, groupingID := c.Query("tag"), c.Query("grouping_id")
	if tag == "" || groupingID == "" {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("tag and grouping_id are required"))
		return
	}
	agg, err := h.view.FindByGrouping(c.Request.Context(), tag, groupingID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("case lookup failed"))
		return
	}
	if agg == nil || agg.SoftDeleted {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("case not found"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.toDTO(c.Request.Context(), agg)))
}

func (h *Handler) GetNotification(c *gin.Context) {
	agg, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.toDTO(c.Request.Context(), agg)))
}

type clickRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Click records that a user followed the notification link. Clicks fold
// idempotently per user, so a double tap is harmless.
func (h *Handler) Click(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	agg, ok := h.load(c)
	if !ok {
		return
	}
	ev := &model.NotificationClicked{
		Meta:   model.NewMeta(agg.ID, agg.TenantID, agg.ProducerID, agg.SourceApp),
		UserID: req.UserID,
	}
	if err := h.log.Publish(c.Request.Context(), ev); err != nil {
		h.logger.Error(err, "click publish failed", "aggregate_id", agg.ID.String())
		c.JSON(http.StatusServiceUnavailable, handler.NewErrorResponse("event log unavailable"))
		return
	}
	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(nil))
}

func (h *Handler) load(c *gin.Context) (*model.Aggregate, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid notification id"))
		return nil, false
	}
	agg, err := h.view.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("lookup failed"))
		return nil, false
	}
	if agg == nil || agg.SoftDeleted {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("notification not found"))
		return nil, false
	}
	return agg, true
}
