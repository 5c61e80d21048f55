// Package notify renders and delivers booking emails.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"strings"
	texttemplate "text/template"
)

//go:embed templates/*.html templates/*.tmpl
var templateFS embed.FS

const (
	TemplateTourConfirmation         = "tour_confirmation"
	TemplateTransferConfirmation     = "transfer_confirmation"
	TemplateQuickPaymentConfirmation = "quick_payment_confirmation"
	TemplateInsuranceConfirmation    = "insurance_confirmation"
	TemplateAdminPaymentReceived     = "admin_payment_received"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Line is one label/value row in the admin summary.
type Line struct {
	Label string
	Value string
}

// AdminSummary is the template data for the admin payment email.
type AdminSummary struct {
	Kind            string
	ExternalOrderID string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	PaidAmount      string
	TotalAmount     string
	Currency        string
	Lines           []Line
}

type Mailer struct {
	sender   Sender
	subjects *texttemplate.Template
	bodies   *htmltemplate.Template
}

func NewMailer(sender Sender) (*Mailer, error) {
	subjects, err := texttemplate.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("NewMailer: parse subjects: %w", err)
	}
	bodies, err := htmltemplate.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("NewMailer: parse bodies: %w", err)
	}
	return &Mailer{sender: sender, subjects: subjects, bodies: bodies}, nil
}

// Render executes the named subject and body templates.
func (m *Mailer) Render(name string, data any) (Message, error) {
	var subject, body bytes.Buffer
	if err := m.subjects.ExecuteTemplate(&subject, name, data); err != nil {
		return Message{}, fmt.Errorf("Render: subject %s: %w", name, err)
	}
	if err := m.bodies.ExecuteTemplate(&body, name, data); err != nil {
		return Message{}, fmt.Errorf("Render: body %s: %w", name, err)
	}
	return Message{
		Subject: strings.TrimSpace(subject.String()),
		HTML:    body.String(),
	}, nil
}

func (m *Mailer) Send(ctx context.Context, to, name string, data any) error {
	if to == "" {
		return fmt.Errorf("Send: %s: empty recipient", name)
	}
	msg, err := m.Render(name, data)
	if err != nil {
		return err
	}
	msg.To = to
	if err := m.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("Send: %s: %w", name, err)
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them. Used when
// SMTP is not configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email not delivered, smtp disabled",
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}
