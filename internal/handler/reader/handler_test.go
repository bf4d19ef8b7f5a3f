package reader

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
	"github.com/varsling/notification-platform/internal/model"
	"github.com/varsling/notification-platform/internal/projection"
	"github.com/varsling/notification-platform/internal/repository/memory"
	"github.com/varsling/notification-platform/pkg/logger"
	"github.com/varsling/notification-platform/pkg/metrics"
)

type fakeOrgs map[string]string

func (o fakeOrgs) OrgName(ctx context.Context, orgNumber string) (string, error) {
	return o[orgNumber], nil
}

type testAPI struct {
	engine *gin.Engine
	log    *eventlog.MemoryLog
	store  *memory.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := eventlog.NewMemoryLog(4)
	store := memory.NewStore()
	view := projection.New("user", store, logger.NewLogger(nil), metrics.NewUnregistered("test"))
	h := NewHandler(view, log, fakeOrgs{"910825526": "EXAMPLE AS"}, logger.NewLogger(nil))

	engine := gin.New()
	h.RegisterRoutes(engine.Group("/api/v1"))
	return &testAPI{engine: engine, log: log, store: store}
}

func (a *testAPI) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func notification(tenant string) *model.Aggregate {
	return &model.Aggregate{
		ID:         uuid.New(),
		Kind:       model.AggregateNotification,
		TenantID:   tenant,
		ProducerID: "producer-1",
		SourceApp:  "sykefravaer-app",
		Tag:        "sick-leave",
		Text:       "New message",
		Link:       "https://example.test/messages/1",
		CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

type listResponse struct {
	Data []map[string]interface{} `json:"data"`
}

func TestListForTenantFiltersAndEnriches(t *testing.T) {
	api := newTestAPI(t)
	visible := notification("910825526")
	hidden := notification("910825526")
	hidden.SoftDeleted = true
	require.NoError(t, api.store.Upsert(context.Background(), visible))
	require.NoError(t, api.store.Upsert(context.Background(), hidden))

	rec := api.get(t, "/api/v1/tenants/910825526/notifications")
	require.Equal(t, http.StatusOK, rec.Code)

	var body listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, visible.ID.String(), body.Data[0]["id"])
	assert.Equal(t, "EXAMPLE AS", body.Data[0]["org_name"])

	// Producer-side fields never reach the user view.
	_, hasProducer := body.Data[0]["producer_id"]
	assert.False(t, hasProducer)
	_, hasSource := body.Data[0]["source_app"]
	assert.False(t, hasSource)
}

func TestGetCaseByGroupingShowsCurrentStatus(t *testing.T) {
	api := newTestAPI(t)
	agg := notification("910825526")
	agg.Kind = model.AggregateCase
	agg.GroupingID = "sak-1"
	agg.Title = "Sick leave case"
	override := "Being processed"
	agg.StatusUpdates = []model.StatusEntry{
		{
			ID:         uuid.New(),
			Status:     model.CaseStatusReceived,
			ReceivedAt: agg.CreatedAt,
		},
		{
			ID:           uuid.New(),
			Status:       model.CaseStatusInProgress,
			OverrideText: &override,
			ReceivedAt:   agg.CreatedAt.Add(time.Hour),
		},
	}
	require.NoError(t, api.store.Upsert(context.Background(), agg))

	rec := api.get(t, "/api/v1/cases?tag=sick-leave&grouping_id=sak-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "IN_PROGRESS", body.Data["status"])
	assert.Equal(t, "Being processed", body.Data["status_text"])
}

func TestClickPublishesEvent(t *testing.T) {
	api := newTestAPI(t)
	agg := notification("910825526")
	require.NoError(t, api.store.Upsert(context.Background(), agg))

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]string{"user_id": "user-1"}))
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/notifications/%s/click", agg.ID), &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	events := api.log.Events()
	require.Len(t, events, 1)
	click, ok := events[0].(*model.NotificationClicked)
	require.True(t, ok)
	assert.Equal(t, "user-1", click.UserID)
	assert.Equal(t, agg.ID, click.Aggregate)
}

func TestSoftDeletedNotificationHidden(t *testing.T) {
	api := newTestAPI(t)
	agg := notification("910825526")
	agg.SoftDeleted = true
	require.NoError(t, api.store.Upsert(context.Background(), agg))

	rec := api.get(t, fmt.Sprintf("/api/v1/notifications/%s", agg.ID))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
