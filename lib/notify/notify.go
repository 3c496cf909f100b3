package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"hdx-scraper-iati/lib/telemetry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("hdx-scraper-iati/lib/notify")

type SmtpConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address" validate:"omitempty,email"`
	Password     string   `json:"password"`
	Recipients   []string `json:"recipients" validate:"dive,email"`
}

func (c SmtpConfig) Enabled() bool {
	return c.Server != "" && len(c.Recipients) > 0
}

type CountryOutcome struct {
	ISO3       string
	Status     string
	Dataset    string
	Activities int
	Locations  int
	Error      string
}

type Summary struct {
	Batch     string
	DryRun    bool
	StartedAt time.Time
	Duration  time.Duration
	Countries []CountryOutcome
}

func (s Summary) Failed() int {
	failed := 0
	for _, c := range s.Countries {
		if c.Error != "" {
			failed++
		}
	}
	return failed
}

// Subject is a one line description of the run.
func (s Summary) Subject() string {
	prefix := "HDX Scraper: iati"
	if s.DryRun {
		prefix += " (dry run)"
	}
	failed := s.Failed()
	if failed > 0 {
		return fmt.Sprintf("%s: %d of %d countries failed", prefix, failed, len(s.Countries))
	}
	return fmt.Sprintf("%s: %d countries processed", prefix, len(s.Countries))
}

// Text renders the summary as a plain text table.
func (s Summary) Text() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Country", "Status", "Dataset", "Activities", "Locations", "Error"})
	for _, c := range s.Countries {
		t.AppendRow(table.Row{c.ISO3, c.Status, c.Dataset, c.Activities, c.Locations, c.Error})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Batch: %s\n", s.Batch)
	fmt.Fprintf(&b, "Started: %s\n", s.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %s\n\n", s.Duration.Round(time.Second))
	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}

type Mailer struct {
	config SmtpConfig
}

func NewMailer(config SmtpConfig) Mailer {
	return Mailer{config: config}
}

func (m Mailer) SendSummary(ctx context.Context, summary Summary) error {
	ctx, span := tracer.Start(ctx, "notify:SendSummary")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("HDX Scraper <%s>", m.config.EmailAddress)
	mail.To = m.config.Recipients
	mail.Subject = summary.Subject()
	mail.Text = []byte(summary.Text())

	addr := fmt.Sprintf("%s:%d", m.config.Server, m.config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", m.config.EmailAddress, m.config.Password, m.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}
