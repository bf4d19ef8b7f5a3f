package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

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

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

type fakeOrgs map[string]string

func (o fakeOrgs) OrgName(ctx context.Context, orgNumber string) (string, error) {
	return o[orgNumber], nil
}

func newNotifier(t *testing.T, mailer *fakeMailer, agg *model.Aggregate) *EmailNotifier {
	t.Helper()
	store := memory.NewStore()
	if agg != nil {
		require.NoError(t, store.Upsert(context.Background(), agg))
	}
	reader := projection.New("user", store, logger.NewLogger(nil), metrics.NewUnregistered("test"))
	contacts := StaticDirectory{"910825526": "hr@example.test"}
	orgs := fakeOrgs{"910825526": "EXAMPLE AS"}
	return NewEmailNotifier(mailer, contacts, orgs, reader, logger.NewLogger(nil))
}

func firedRecord(t *testing.T, id uuid.UUID, tenant string) eventlog.Record {
	t.Helper()
	payload, err := model.MarshalEvent(&model.ReminderFired{
		Meta:      model.NewMeta(id, tenant, "producer-1", "scheduler-app"),
		Version:   1,
		TriggerAt: time.Date(2024, 5, 7, 12, 0, 0, 0, time.UTC),
		FiredAt:   time.Date(2024, 5, 7, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return eventlog.Record{Key: id.String(), Payload: payload}
}

func appointmentWithReminder(id uuid.UUID) *model.Aggregate {
	startsAt := time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC)
	return &model.Aggregate{
		ID:       id,
		Kind:     model.AggregateAppointment,
		TenantID: "910825526",
		Text:     "Dialogue meeting",
		Link:     "https://example.test/meetings/1",
		StartsAt: &startsAt,
		Reminder: &model.ReminderState{Text: "meeting tomorrow", Version: 1, Fired: true},
	}
}

func TestReminderEmailSent(t *testing.T) {
	mailer := &fakeMailer{}
	id := uuid.New()
	n := newNotifier(t, mailer, appointmentWithReminder(id))

	require.NoError(t, n.HandleRecord(context.Background(), firedRecord(t, id, "910825526")))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "hr@example.test", mailer.sent[0].to)
	assert.Equal(t, "Reminder: Dialogue meeting", mailer.sent[0].subject)
	assert.Contains(t, mailer.sent[0].body, "meeting tomorrow")
	assert.Contains(t, mailer.sent[0].body, "EXAMPLE AS")
}

func TestNoContactAddressSkips(t *testing.T) {
	mailer := &fakeMailer{}
	id := uuid.New()
	n := newNotifier(t, mailer, appointmentWithReminder(id))

	require.NoError(t, n.HandleRecord(context.Background(), firedRecord(t, id, "810007842")))
	assert.Empty(t, mailer.sent)
}

func TestDeletedAggregateSkips(t *testing.T) {
	mailer := &fakeMailer{}
	n := newNotifier(t, mailer, nil)

	require.NoError(t, n.HandleRecord(context.Background(), firedRecord(t, uuid.New(), "910825526")))
	assert.Empty(t, mailer.sent)
}

func TestSendFailurePropagatesForRedelivery(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("smtp down")}
	id := uuid.New()
	n := newNotifier(t, mailer, appointmentWithReminder(id))

	err := n.HandleRecord(context.Background(), firedRecord(t, id, "910825526"))
	require.Error(t, err)
}

func TestNonReminderEventsIgnored(t *testing.T) {
	mailer := &fakeMailer{}
	id := uuid.New()
	n := newNotifier(t, mailer, appointmentWithReminder(id))

	payload, err := model.MarshalEvent(&model.SoftDeleted{
		Meta:      model.NewMeta(id, "910825526", "producer-1", "producer-app"),
		DeletedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, n.HandleRecord(context.Background(), eventlog.Record{Key: id.String(), Payload: payload}))
	require.NoError(t, n.HandleRecord(context.Background(), eventlog.Record{Key: id.String()}))
	assert.Empty(t, mailer.sent)
}
