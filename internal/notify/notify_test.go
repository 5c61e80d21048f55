package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	sent []Message
	err  error
}

func (c *captureSender) Send(_ context.Context, msg Message) error {
	c.sent = append(c.sent, msg)
	return c.err
}

func TestRenderTemplates(t *testing.T) {
	m, err := NewMailer(&captureSender{})
	require.NoError(t, err)

	tests := []struct {
		name        string
		data        any
		wantSubject string
		wantBody    string
	}{
		{
			name: TemplateTourConfirmation,
			data: map[string]any{
				"CustomerName": "Ana", "TourName": "Kazbegi", "StartLocation": "Tbilisi",
				"EndLocation": "Stepantsminda", "StartDate": "2026-07-01", "Adults": 2, "Children": 1,
				"PaidAmount": "100.00", "RemainingAmount": "150.00", "Currency": "GEL",
				"ExternalOrderID": "TOUR_ORDER_x",
			},
			wantSubject: "Your tour booking is confirmed: Kazbegi",
			wantBody:    "Due on arrival",
		},
		{
			name: TemplateQuickPaymentConfirmation,
			data: map[string]any{
				"CustomerName": "Gio", "ProductName": "Wine tasting", "Quantity": 2,
				"PaidAmount": "80.00", "Currency": "GEL", "ExternalOrderID": "QUICK_ORDER_x",
			},
			wantSubject: "Payment received: Wine tasting",
			wantBody:    "x2",
		},
		{
			name: TemplateAdminPaymentReceived,
			data: AdminSummary{
				Kind: "tour", ExternalOrderID: "TOUR_ORDER_x", CustomerName: "Ana",
				CustomerEmail: "ana@example.com", PaidAmount: "100.00", TotalAmount: "250.00",
				Currency: "GEL", Lines: []Line{{Label: "Tour", Value: "Kazbegi"}},
			},
			wantSubject: "[tour] Payment received TOUR_ORDER_x",
			wantBody:    "Kazbegi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := m.Render(tt.name, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSubject, msg.Subject)
			assert.Contains(t, msg.HTML, tt.wantBody)
			assert.Contains(t, msg.HTML, "</html>")
		})
	}
}

func TestRenderEscapesCustomerInput(t *testing.T) {
	m, err := NewMailer(&captureSender{})
	require.NoError(t, err)

	msg, err := m.Render(TemplateQuickPaymentConfirmation, map[string]any{
		"CustomerName": "<script>alert(1)</script>", "ProductName": "x", "Quantity": 1,
		"PaidAmount": "1.00", "Currency": "GEL", "ExternalOrderID": "Q",
	})
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
}

func TestRenderUnknownTemplate(t *testing.T) {
	m, err := NewMailer(&captureSender{})
	require.NoError(t, err)

	_, err = m.Render("nope", nil)
	assert.Error(t, err)
}

func TestMailerSend(t *testing.T) {
	sender := &captureSender{}
	m, err := NewMailer(sender)
	require.NoError(t, err)

	err = m.Send(context.Background(), "ana@example.com", TemplateAdminPaymentReceived, AdminSummary{Kind: "tour", ExternalOrderID: "T1"})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ana@example.com", sender.sent[0].To)

	assert.Error(t, m.Send(context.Background(), "", TemplateAdminPaymentReceived, AdminSummary{}))

	sender.err = errors.New("connection refused")
	err = m.Send(context.Background(), "ana@example.com", TemplateAdminPaymentReceived, AdminSummary{})
	assert.ErrorContains(t, err, "connection refused")
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 587, "user", "secret", "bookings@example.com", time.Second)
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	s.sendMail = func(_ context.Context, addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := s.Send(context.Background(), Message{To: "ana@example.com", Subject: "Hi\r\nBcc: evil@example.com", HTML: "<p>ok</p>"})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "bookings@example.com", gotFrom)
	assert.Equal(t, []string{"ana@example.com"}, gotTo)
	body := string(gotMsg)
	assert.Contains(t, body, "Content-Type: text/html; charset=UTF-8\r\n")
	assert.Contains(t, body, "Subject: Hi  Bcc: evil@example.com\r\n")
	assert.True(t, strings.HasSuffix(body, "\r\n\r\n<p>ok</p>"))
}

func TestSMTPSenderWrapsError(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 25, "", "", "bookings@example.com", 0)
	assert.Nil(t, s.auth)
	assert.Equal(t, defaultSMTPTimeout, s.timeout)
	s.sendMail = func(context.Context, string, smtp.Auth, string, []string, []byte) error {
		return errors.New("421 try later")
	}
	err := s.Send(context.Background(), Message{To: "a@example.com"})
	assert.ErrorContains(t, err, "smtp send failed")
}

func TestSMTPSenderGivesUpOnSilentServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	// accept and hold connections without ever sending the 220 greeting
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := net.LookupPort("tcp", portStr)
	require.NoError(t, err)

	tests := []struct {
		name    string
		timeout time.Duration
		ctxWait time.Duration
	}{
		{"caller deadline", time.Minute, 200 * time.Millisecond},
		{"sender timeout", 200 * time.Millisecond, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSMTPSender(host, port, "", "", "bookings@example.com", tt.timeout)
			ctx, cancel := context.WithTimeout(context.Background(), tt.ctxWait)
			defer cancel()

			start := time.Now()
			err := s.Send(ctx, Message{To: "a@example.com", Subject: "Hi", HTML: "<p>x</p>"})
			require.Error(t, err)
			assert.Less(t, time.Since(start), 3*time.Second)
		})
	}
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, s.Send(context.Background(), Message{To: "a@example.com", Subject: "Hello"}))
	assert.Contains(t, buf.String(), "subject=Hello")
}
