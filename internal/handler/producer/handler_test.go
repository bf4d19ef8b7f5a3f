package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varsling/notification-platform/internal/eventlog"
	"github.com/varsling/notification-platform/internal/middleware"
	"github.com/varsling/notification-platform/internal/model"
	"github.com/varsling/notification-platform/internal/projection"
	"github.com/varsling/notification-platform/internal/repository/memory"
	"github.com/varsling/notification-platform/pkg/logger"
	"github.com/varsling/notification-platform/pkg/metrics"
	"github.com/varsling/notification-platform/pkg/validator"
)

type testAPI struct {
	engine *gin.Engine
	log    *eventlog.MemoryLog
	store  *memory.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, validator.Register())

	log := eventlog.NewMemoryLog(4)
	store := memory.NewStore()
	view := projection.New("producer", store, logger.NewLogger(nil), metrics.NewUnregistered("test"))
	h := NewHandler(log, view, logger.NewLogger(nil))

	engine := gin.New()
	group := engine.Group("/api/v1")
	group.Use(func(c *gin.Context) {
		c.Set(middleware.CtxProducerID, "producer-1")
		c.Set(middleware.CtxSourceApp, "sykefravaer-app")
	})
	h.RegisterRoutes(group)

	return &testAPI{engine: engine, log: log, store: store}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

// fold replays the log into the projection store, standing in for the
// consumer process.
func (a *testAPI) fold(t *testing.T) {
	t.Helper()
	view := projection.New("producer", a.store, logger.NewLogger(nil), metrics.NewUnregistered("fold"))
	require.NoError(t, a.log.Drain(context.Background(), view.HandleRecord))
}

func validCase() map[string]interface{} {
	return map[string]interface{}{
		"tenant_id":   "910825526",
		"grouping_id": "sak-1",
		"tag":         "sick-leave",
		"title":       "Sick leave case",
		"link":        "https://example.test/cases/1",
	}
}

func TestCreateCasePublishesEvent(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/cases", validCase())
	assert.Equal(t, http.StatusCreated, rec.Code)

	events := api.log.Events()
	require.Len(t, events, 1)
	created, ok := events[0].(*model.CaseCreated)
	require.True(t, ok)
	assert.Equal(t, "910825526", created.Tenant)
	assert.Equal(t, "producer-1", created.Producer)
	assert.Equal(t, "sykefravaer-app", created.SourceApp())
}

func TestCreateCaseIdempotentOnGrouping(t *testing.T) {
	api := newTestAPI(t)

	first := api.do(t, http.MethodPost, "/api/v1/cases", validCase())
	require.Equal(t, http.StatusCreated, first.Code)
	api.fold(t)

	second := api.do(t, http.MethodPost, "/api/v1/cases", validCase())
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Len(t, api.log.Events(), 1)

	var firstBody, secondBody struct {
		Data struct {
			ID uuid.UUID `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstBody))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondBody))
	assert.Equal(t, firstBody.Data.ID, secondBody.Data.ID)
}

func TestCreateCaseInvalidTenantRejected(t *testing.T) {
	api := newTestAPI(t)
	body := validCase()
	body["tenant_id"] = "not-an-orgnr"

	rec := api.do(t, http.MethodPost, "/api/v1/cases", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, api.log.Events())
}

func TestUpdateCaseStatusUsesSuppliedKey(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/cases", validCase()).Code)
	api.fold(t)
	caseID := api.log.Events()[0].AggregateID()

	rec := api.do(t, http.MethodPost, fmt.Sprintf("/api/v1/cases/%s/status", caseID), map[string]interface{}{
		"status":          "IN_PROGRESS",
		"idempotency_key": "op-1",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	events := api.log.Events()
	require.Len(t, events, 2)
	change, ok := events[1].(*model.CaseStatusChanged)
	require.True(t, ok)
	assert.Equal(t, model.UserSupplied("op-1"), change.IdempotencyKey)
}

func TestUpdateCaseStatusInvalidStatusRejected(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/cases", validCase()).Code)
	api.fold(t)
	caseID := api.log.Events()[0].AggregateID()

	rec := api.do(t, http.MethodPost, fmt.Sprintf("/api/v1/cases/%s/status", caseID), map[string]interface{}{
		"status": "DONE",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAppointmentOutOfRangeReminderRejected(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/appointments", map[string]interface{}{
		"tenant_id":   "910825526",
		"tag":         "sick-leave",
		"text":        "Dialogue meeting",
		"link":        "https://example.test/meetings/1",
		"external_id": "meeting-1",
		"starts_at":   time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"reminder": map[string]interface{}{
			"text":         "reminder",
			"before_start": "720h",
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, api.log.Events())
}

func TestHardDeletePublishesTombstone(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/cases", validCase()).Code)
	api.fold(t)
	caseID := api.log.Events()[0].AggregateID()

	rec := api.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/aggregates/%s?mode=hard", caseID), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	events := api.log.Events()
	require.Len(t, events, 2)
	_, ok := events[1].(*model.HardDeleted)
	assert.True(t, ok)

	// The tombstone is a record with no payload on the tenant's lane.
	tombstones := 0
	for lane := 0; lane < api.log.PartitionCount(); lane++ {
		for _, r := range api.log.Records(lane) {
			if r.Tombstone() {
				tombstones++
			}
		}
	}
	assert.Equal(t, 1, tombstones)
}

func TestGetAggregateHidesOtherProducers(t *testing.T) {
	api := newTestAPI(t)
	other := &model.Aggregate{
		ID:         uuid.New(),
		Kind:       model.AggregateCase,
		TenantID:   "910825526",
		ProducerID: "producer-2",
		Tag:        "sick-leave",
	}
	require.NoError(t, api.store.Upsert(context.Background(), other))

	rec := api.do(t, http.MethodGet, fmt.Sprintf("/api/v1/aggregates/%s", other.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
