// Package notifier delivers reminder emails. It consumes the event log
// under its own consumer group, so delivery position survives restarts and
// a reminder email goes out at most once per fired version under normal
// operation.
package notifier

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/varsling/notification-platform/internal/eventlog"
	"github.com/varsling/notification-platform/internal/model"
	"github.com/varsling/notification-platform/internal/projection"
	"github.com/varsling/notification-platform/pkg/logger"
)

// Mailer sends one message.
type Mailer interface {
	Send(to, subject, body string) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer is the production Mailer on gomail.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return m.dialer.DialAndSend(msg)
}

// ContactDirectory resolves a tenant to its reminder contact address.
type ContactDirectory interface {
	EmailFor(ctx context.Context, tenantID string) (string, error)
}

// StaticDirectory is a config-backed ContactDirectory. Tenants without an
// entry simply get no email.
type StaticDirectory map[string]string

func (d StaticDirectory) EmailFor(ctx context.Context, tenantID string) (string, error) {
	return d[tenantID], nil
}

// OrgNames resolves organization numbers to display names. Satisfied by
// the org registry client.
type OrgNames interface {
	OrgName(ctx context.Context, orgNumber string) (string, error)
}

type EmailNotifier struct {
	mailer   Mailer
	contacts ContactDirectory
	orgs     OrgNames
	reader   *projection.Projection
	logger   *logger.Logger
}

func NewEmailNotifier(mailer Mailer, contacts ContactDirectory, orgs OrgNames, reader *projection.Projection, log *logger.Logger) *EmailNotifier {
	return &EmailNotifier{
		mailer:   mailer,
		contacts: contacts,
		orgs:     orgs,
		reader:   reader,
		logger:   log.WithComponent("email-notifier"),
	}
}

// HandleRecord is the event log consumer entry point. Non-reminder events
// are acknowledged untouched. A send failure propagates so the record is
// redelivered.
func (n *EmailNotifier) HandleRecord(ctx context.Context, rec eventlog.Record) error {
	if rec.Tombstone() {
		return nil
	}
	ev, err := rec.Event()
	if err != nil {
		n.logger.Error(err, "undecodable event skipped", "offset", rec.Offset)
		return nil
	}
	fired, ok := ev.(*model.ReminderFired)
	if !ok {
		return nil
	}
	return n.notify(ctx, fired)
}

func (n *EmailNotifier) notify(ctx context.Context, fired *model.ReminderFired) error {
	to, err := n.contacts.EmailFor(ctx, fired.Tenant)
	if err != nil {
		return fmt.Errorf("resolve contact for tenant %s: %w", fired.Tenant, err)
	}
	if to == "" {
		n.logger.Debug("no contact address for tenant, reminder email skipped",
			"tenant_id", fired.Tenant, "aggregate_id", fired.Aggregate.String())
		return nil
	}

	agg, err := n.reader.Get(ctx, fired.Aggregate)
	if err != nil {
		return fmt.Errorf("load aggregate %s: %w", fired.Aggregate, err)
	}
	if agg == nil || agg.Reminder == nil {
		// Deleted or superseded since the reminder fired.
		n.logger.Debug("aggregate gone, reminder email skipped", "aggregate_id", fired.Aggregate.String())
		return nil
	}

	orgName, err := n.orgs.OrgName(ctx, fired.Tenant)
	if err != nil || orgName == "" {
		orgName = fired.Tenant
	}

	startsAt := "unknown"
	if agg.StartsAt != nil {
		startsAt = agg.StartsAt.Format("2006-01-02 15:04")
	}
	subject := fmt.Sprintf("Reminder: %s", agg.Text)
	body := fmt.Sprintf("%s\n\nOrganization: %s\nStarts at: %s\nDetails: %s\n",
		agg.Reminder.Text, orgName, startsAt, agg.Link)

	if err := n.mailer.Send(to, subject, body); err != nil {
		return fmt.Errorf("send reminder email for %s: %w", fired.Aggregate, err)
	}
	n.logger.Info("reminder email sent",
		"aggregate_id", fired.Aggregate.String(), "tenant_id", fired.Tenant, "version", fired.Version)
	return nil
}
