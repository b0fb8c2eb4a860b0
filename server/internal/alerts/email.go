package alerts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"strings"
	"sync"
	texttemplate "text/template"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/airguard/airguard/server/internal/config"
)

const emailChannel = "email"

// mailSender is the subset of *gomail.Dialer used by Email.
type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Email sends alerts over SMTP. The recipient can be swapped at runtime
// when the configuration is reloaded.
type Email struct {
	sender mailSender
	from   string

	// lateSend observes a send that completed after Notify gave up on it.
	lateSend func(messageID string, err error)

	mu   sync.RWMutex
	to   string
	name string
}

// NewEmail creates an SMTP notifier from cfg. Credentials are resolved from
// the environment.
func NewEmail(cfg config.EmailConfig) *Email {
	e := &Email{
		sender:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username(), cfg.Password()),
		from:     cfg.From,
		lateSend: logLateSend,
	}
	e.SetRecipient(cfg.Recipient(), cfg.RecipientName)
	return e
}

// SetRecipient replaces the recipient address and display name.
func (e *Email) SetRecipient(to, name string) {
	if name == "" {
		name = config.DefaultRecipientName
	}
	e.mu.Lock()
	e.to, e.name = to, name
	e.mu.Unlock()
}

func (e *Email) recipient() (string, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.to, e.name
}

func (e *Email) Name() string { return emailChannel }

// Notify renders and sends a. gomail has no context support and its dialer
// exposes no deadlines, so the send runs in its own goroutine and ctx only
// bounds the wait. A send still in flight when ctx expires is reported as
// failed and cannot be cancelled: if it later succeeds, the engine has
// already released the cooldown and the next Poor reading may mail again.
// Such late deliveries are logged with their Message-ID.
func (e *Email) Notify(ctx context.Context, a Alert) Result {
	if len(a.ProblematicAttributes) == 0 {
		return skipped(emailChannel, "no problematic attributes")
	}
	to, name := e.recipient()
	if to == "" {
		return failed(emailChannel, errors.New("no recipient configured"))
	}

	msg, id, err := e.compose(a, to, name)
	if err != nil {
		return failed(emailChannel, err)
	}

	done := make(chan error, 1)
	go func() { done <- e.sender.DialAndSend(msg) }()
	select {
	case err := <-done:
		if err != nil {
			return failed(emailChannel, fmt.Errorf("smtp send: %w", err))
		}
		return Result{Channel: emailChannel, Status: StatusSent, MessageID: id}
	case <-ctx.Done():
		go func() { e.lateSend(id, <-done) }()
		return failed(emailChannel, fmt.Errorf("smtp send: %w", ctx.Err()))
	}
}

func logLateSend(id string, err error) {
	if err != nil {
		slog.Debug("alerts: abandoned email send failed", "message_id", id, "err", err)
		return
	}
	slog.Warn("alerts: email delivered after its send timeout, a duplicate alert is possible",
		"message_id", id)
}

// compose builds the message and returns it with its Message-ID.
func (e *Email) compose(a Alert, to, name string) (*gomail.Message, string, error) {
	view := newEmailView(a, name)

	var html, text bytes.Buffer
	if err := emailHTML.Execute(&html, view); err != nil {
		return nil, "", fmt.Errorf("render html: %w", err)
	}
	if err := emailText.Execute(&text, view); err != nil {
		return nil, "", fmt.Errorf("render text: %w", err)
	}

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), mailDomain(e.from))

	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetAddressHeader("To", to, name)
	m.SetHeader("Subject", subject(a))
	m.SetHeader("Message-ID", id)
	m.SetDateHeader("Date", a.FiredAt)
	m.SetBody("text/plain", text.String())
	m.AddAlternative("text/html", html.String())
	return m, id, nil
}

func subject(a Alert) string {
	return "Air quality alert: " + a.Category.Title()
}

func mailDomain(from string) string {
	from = strings.TrimSuffix(strings.TrimSpace(from), ">")
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		return from[i+1:]
	}
	return "airguard.local"
}

type emailRow struct {
	Name      string
	Value     string
	Unit      string
	Threshold string
	Severity  string
}

type emailView struct {
	Recipient       string
	Category        string
	Time            string
	Rows            []emailRow
	Recommendations []string
}

func newEmailView(a Alert, name string) emailView {
	v := emailView{
		Recipient:       name,
		Category:        a.Category.Title(),
		Time:            a.FiredAt.UTC().Format(time.RFC1123),
		Recommendations: recommendations(a.ProblematicAttributes),
	}
	for _, attr := range a.ProblematicAttributes {
		v.Rows = append(v.Rows, emailRow{
			Name:      attr.Name,
			Value:     fmt.Sprintf("%.1f", attr.Value),
			Unit:      attr.Unit,
			Threshold: attr.Threshold,
			Severity:  attr.Severity,
		})
	}
	return v
}

var emailHTML = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2 style="color: #dc3545;">Air quality is {{.Category}}</h2>
  <p>Hello {{.Recipient}},</p>
  <p>The following readings are outside their healthy range:</p>
  <table style="border-collapse: collapse;">
    <tr><th align="left">Attribute</th><th align="left">Value</th><th align="left">Threshold</th><th align="left">Severity</th></tr>
    {{- range .Rows}}
    <tr>
      <td>{{.Name}}</td>
      <td><strong>{{.Value}} {{.Unit}}</strong></td>
      <td>{{.Threshold}}</td>
      <td>{{.Severity}}</td>
    </tr>
    {{- end}}
  </table>
  {{- if .Recommendations}}
  <h3>Recommendations</h3>
  <ul>
    {{- range .Recommendations}}
    <li>{{.}}</li>
    {{- end}}
  </ul>
  {{- end}}
  <p><small>Sent automatically by AirGuard at {{.Time}}.</small></p>
</body>
</html>
`))

var emailText = texttemplate.Must(texttemplate.New("text").Parse(`Air quality is {{.Category}}

Hello {{.Recipient}},

The following readings are outside their healthy range:
{{range .Rows}}
- {{.Name}}: {{.Value}} {{.Unit}} (threshold {{.Threshold}}, severity {{.Severity}})
{{- end}}
{{if .Recommendations}}
Recommendations:
{{range .Recommendations}}
- {{.}}
{{- end}}
{{end}}
Sent automatically by AirGuard at {{.Time}}.
`))
