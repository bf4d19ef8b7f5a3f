// Package producer is the write-side HTTP API. Handlers are thin shims:
// they validate the request, stamp the producer identity from the token,
// and publish events; all state changes happen downstream in the fold.
package producer

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/varsling/notification-platform/internal/eventlog"
	"github.com/varsling/notification-platform/internal/handler"
	"github.com/varsling/notification-platform/internal/middleware"
	"github.com/varsling/notification-platform/internal/model"
	"github.com/varsling/notification-platform/internal/projection"
	apperrors "github.com/varsling/notification-platform/pkg/errors"
	"github.com/varsling/notification-platform/pkg/logger"
)

type Handler struct {
	log    eventlog.Log
	view   *projection.Projection
	logger *logger.Logger
}

// NewHandler wires the write API against the log and the producer-side
// projection (used for case lookup by grouping).
func NewHandler(log eventlog.Log, view *projection.Projection, l *logger.Logger) *Handler {
	return &Handler{log: log, view: view, logger: l.WithComponent("producer-api")}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/cases", h.CreateCase)
	rg.POST("/cases/:id/status", h.UpdateCaseStatus)
	rg.POST("/notifications", h.CreateNotification)
	rg.POST("/appointments", h.CreateAppointment)
	rg.PATCH("/appointments/:id", h.UpdateAppointment)
	rg.DELETE("/aggregates/:id", h.DeleteAggregate)
	rg.GET("/aggregates/:id", h.GetAggregate)
}

func (h *Handler) identity(c *gin.Context) (producerID, sourceApp string) {
	return c.GetString(middleware.CtxProducerID), c.GetString(middleware.CtxSourceApp)
}

type createCaseRequest struct {
	TenantID   string            `json:"tenant_id" binding:"required,orgnr"`
	GroupingID string            `json:"grouping_id" binding:"required"`
	Tag        string            `json:"tag" binding:"required"`
	Title      string            `json:"title" binding:"required"`
	Link       string            `json:"link" binding:"required,url"`
	SuppliedAt *time.Time        `json:"supplied_at"`
	Retention  *model.DeleteSpec `json:"retention"`
}

// CreateCase opens a case. Creation is idempotent on (tag, grouping id):
// re-posting an existing case returns the existing aggregate id instead of
// opening a second one.
func (h *Handler) CreateCase(c *gin.Context) {
	var req createCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	producerID, sourceApp := h.identity(c)

	existing, err := h.view.FindByGrouping(c.Request.Context(), req.Tag, req.GroupingID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("case lookup failed"))
		return
	}
	if existing != nil {
		if existing.TenantID != req.TenantID || existing.ProducerID != producerID {
			handler.RespondError(c, apperrors.Conflict("grouping id already in use by another producer"))
			return
		}
		c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"id": existing.ID}))
		return
	}

	ev := &model.CaseCreated{
		Meta:       model.NewMeta(uuid.New(), req.TenantID, producerID, sourceApp),
		GroupingID: req.GroupingID,
		Tag:        req.Tag,
		Title:      req.Title,
		Link:       req.Link,
		SuppliedAt: model.NormalizeTimePtr(req.SuppliedAt),
		ReceivedAt: model.NormalizeTime(time.Now()),
		Retention:  req.Retention,
	}
	if err := h.publishResolved(c, ev, ev.Retention, ev.ReceivedAt); err != nil {
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(gin.H{"id": ev.Aggregate}))
}

type updateCaseStatusRequest struct {
	Status         model.CaseStatus        `json:"status" binding:"required,case_status"`
	OverrideText   *string                 `json:"override_text"`
	SuppliedAt     *time.Time              `json:"supplied_at"`
	IdempotencyKey string                  `json:"idempotency_key"`
	NewLink        *string                 `json:"new_link"`
	Retention      *model.DeleteSpecUpdate `json:"retention"`
}

// UpdateCaseStatus appends a status change. Without a caller-supplied
// idempotency key the event id becomes the key, so a plain HTTP retry of
// the same request body still creates a new logical operation.
func (h *Handler) UpdateCaseStatus(c *gin.Context) {
	var req updateCaseStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	agg, ok := h.loadAggregate(c, model.AggregateCase)
	if !ok {
		return
	}
	producerID, sourceApp := h.identity(c)

	meta := model.NewMeta(agg.ID, agg.TenantID, producerID, sourceApp)
	key := model.Generated(meta.ID)
	if req.IdempotencyKey != "" {
		key = model.UserSupplied(req.IdempotencyKey)
	}

	ev := &model.CaseStatusChanged{
		Meta:           meta,
		Status:         req.Status,
		OverrideText:   req.OverrideText,
		SuppliedAt:     model.NormalizeTimePtr(req.SuppliedAt),
		ReceivedAt:     model.NormalizeTime(time.Now()),
		IdempotencyKey: key,
		NewLink:        req.NewLink,
		Retention:      req.Retention,
	}
	if err := h.publish(c, ev); err != nil {
		return
	}
	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(gin.H{"event_id": ev.ID}))
}

type createNotificationRequest struct {
	TenantID   string            `json:"tenant_id" binding:"required,orgnr"`
	GroupingID string            `json:"grouping_id"`
	Tag        string            `json:"tag" binding:"required"`
	Text       string            `json:"text" binding:"required"`
	Link       string            `json:"link" binding:"required,url"`
	ExternalID string            `json:"external_id" binding:"required"`
	Retention  *model.DeleteSpec `json:"retention"`
}

func (h *Handler) CreateNotification(c *gin.Context) {
	var req createNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	producerID, sourceApp := h.identity(c)

	ev := &model.NotificationCreated{
		Meta:       model.NewMeta(uuid.New(), req.TenantID, producerID, sourceApp),
		GroupingID: req.GroupingID,
		Tag:        req.Tag,
		Text:       req.Text,
		Link:       req.Link,
		ExternalID: req.ExternalID,
		ReceivedAt: model.NormalizeTime(time.Now()),
		Retention:  req.Retention,
	}
	if err := h.publishResolved(c, ev, ev.Retention, ev.ReceivedAt); err != nil {
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(gin.H{"id": ev.Aggregate}))
}

type createAppointmentRequest struct {
	TenantID   string                  `json:"tenant_id" binding:"required,orgnr"`
	GroupingID string                  `json:"grouping_id"`
	Tag        string                  `json:"tag" binding:"required"`
	Text       string                  `json:"text" binding:"required"`
	Link       string                  `json:"link" binding:"required,url"`
	ExternalID string                  `json:"external_id" binding:"required"`
	StartsAt   time.Time               `json:"starts_at" binding:"required"`
	EndsAt     *time.Time              `json:"ends_at"`
	State      *model.AppointmentState `json:"state"`
	Reminder   *model.ReminderSpec     `json:"reminder"`
	Retention  *model.DeleteSpec       `json:"retention"`
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	var req createAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	producerID, sourceApp := h.identity(c)
	receivedAt := model.NormalizeTime(time.Now())

	// An out-of-range reminder is rejected here, at the API edge, so the
	// producer learns about it synchronously.
	if req.Reminder != nil {
		if _, err := req.Reminder.ComputeTrigger(receivedAt, req.StartsAt); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return
		}
	}

	state := model.AppointmentAwaitingReply
	if req.State != nil {
		state = *req.State
	}

	ev := &model.AppointmentCreated{
		Meta:       model.NewMeta(uuid.New(), req.TenantID, producerID, sourceApp),
		GroupingID: req.GroupingID,
		Tag:        req.Tag,
		Text:       req.Text,
		Link:       req.Link,
		ExternalID: req.ExternalID,
		StartsAt:   model.NormalizeTime(req.StartsAt),
		EndsAt:     model.NormalizeTimePtr(req.EndsAt),
		State:      state,
		Reminder:   req.Reminder,
		ReceivedAt: receivedAt,
		Retention:  req.Retention,
	}
	if err := h.publishResolved(c, ev, ev.Retention, ev.ReceivedAt); err != nil {
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(gin.H{"id": ev.Aggregate}))
}

type updateAppointmentRequest struct {
	Text      *string                 `json:"text"`
	Link      *string                 `json:"link"`
	StartsAt  *time.Time              `json:"starts_at"`
	State     *model.AppointmentState `json:"state"`
	Reminder  *model.ReminderSpec     `json:"reminder"`
	Retention *model.DeleteSpecUpdate `json:"retention"`
}

func (h *Handler) UpdateAppointment(c *gin.Context) {
	var req updateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	agg, ok := h.loadAggregate(c, model.AggregateAppointment)
	if !ok {
		return
	}
	producerID, sourceApp := h.identity(c)

	if req.Reminder != nil {
		startsAt := agg.CreatedAt
		if req.StartsAt != nil {
			startsAt = *req.StartsAt
		} else if agg.StartsAt != nil {
			startsAt = *agg.StartsAt
		}
		if _, err := req.Reminder.ComputeTrigger(agg.CreatedAt, startsAt); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return
		}
	}

	ev := &model.AppointmentUpdated{
		Meta:       model.NewMeta(agg.ID, agg.TenantID, producerID, sourceApp),
		Text:       req.Text,
		Link:       req.Link,
		StartsAt:   model.NormalizeTimePtr(req.StartsAt),
		State:      req.State,
		Reminder:   req.Reminder,
		ReceivedAt: model.NormalizeTime(time.Now()),
		Retention:  req.Retention,
	}
	if err := h.publish(c, ev); err != nil {
		return
	}
	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(gin.H{"event_id": ev.ID}))
}

// DeleteAggregate publishes a soft delete, or with mode=hard a hard delete
// followed by a tombstone on the same lane.
func (h *Handler) DeleteAggregate(c *gin.Context) {
	agg, ok := h.loadAggregate(c, "")
	if !ok {
		return
	}
	producerID, sourceApp := h.identity(c)
	meta := model.NewMeta(agg.ID, agg.TenantID, producerID, sourceApp)
	deletedAt := model.NormalizeTime(time.Now())

	if c.Query("mode") == "hard" {
		ev := &model.HardDeleted{Meta: meta, DeletedAt: deletedAt}
		if err := h.publish(c, ev); err != nil {
			return
		}
		if err := h.log.Tombstone(c.Request.Context(), agg.ID, agg.TenantID); err != nil {
			h.logger.Error(err, "tombstone publish failed", "aggregate_id", agg.ID.String())
		}
	} else {
		ev := &model.SoftDeleted{Meta: meta, DeletedAt: deletedAt}
		if err := h.publish(c, ev); err != nil {
			return
		}
	}
	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(nil))
}

// GetAggregate returns the producer view: full state including status
// history and source metadata.
func (h *Handler) GetAggregate(c *gin.Context) {
	agg, ok := h.loadAggregate(c, "")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(agg))
}

// loadAggregate parses the :id param, loads the aggregate and checks that
// it belongs to the calling producer. An empty kind accepts any kind.
func (h *Handler) loadAggregate(c *gin.Context, kind model.AggregateKind) (*model.Aggregate, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid aggregate id"))
		return nil, false
	}
	agg, err := h.view.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("aggregate lookup failed"))
		return nil, false
	}
	if agg == nil || (kind != "" && agg.Kind != kind) {
		handler.RespondError(c, apperrors.NotFound("aggregate", nil))
		return nil, false
	}
	producerID, _ := h.identity(c)
	if agg.ProducerID != producerID {
		handler.RespondError(c, apperrors.NotFound("aggregate", nil))
		return nil, false
	}
	return agg, true
}

func (h *Handler) publish(c *gin.Context, ev model.Event) error {
	if err := h.log.Publish(c.Request.Context(), ev); err != nil {
		h.logger.Error(err, "publish failed", "kind", string(ev.Kind()))
		c.JSON(http.StatusServiceUnavailable, handler.NewErrorResponse("event log unavailable"))
		return err
	}
	return nil
}

// publishResolved validates a retention spec before publishing a create
// event so malformed specs are rejected synchronously.
func (h *Handler) publishResolved(c *gin.Context, ev model.Event, retention *model.DeleteSpec, base time.Time) error {
	if retention != nil {
		if _, err := retention.ResolveAt(base); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return err
		}
	}
	return h.publish(c, ev)
}
