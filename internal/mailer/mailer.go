// Package mailer отправляет транзакционные письма: приветствие и сброс пароля.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/rs/zerolog/log"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var (
	welcomeTmpl = template.Must(template.New("welcome").Parse(`Hi {{.Username}},

Welcome to Costume Exchange! You can now list costumes you no longer need
and shop pre-loved costumes from other dancers.

To get paid for your sales, connect a payout account from your profile page.
`))

	resetTmpl = template.Must(template.New("reset").Parse(`Hi {{.Username}},

We received a request to reset your password. Use the link below to choose a new one:

{{.ResetURL}}

The link is valid for one hour and can be used only once.
If you did not request a reset, you can ignore this email.
`))
)

// Mailer рендерит шаблоны и передаёт письмо в Sender.
type Mailer struct {
	sender Sender
}

func New(sender Sender) *Mailer {
	return &Mailer{sender: sender}
}

func (m *Mailer) SendWelcome(ctx context.Context, to, username string) error {
	body, err := render(welcomeTmpl, map[string]string{"Username": username})
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, Message{To: to, Subject: "Welcome to Costume Exchange", Body: body})
}

func (m *Mailer) SendPasswordReset(ctx context.Context, to, username, resetURL string) error {
	body, err := render(resetTmpl, map[string]string{"Username": username, "ResetURL": resetURL})
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, Message{To: to, Subject: "Reset your Costume Exchange password", Body: body})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("mailer: failed to render %s template: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// LogSender пишет письма в лог вместо отправки. Для локальной разработки.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	log.Info().Str("to", msg.To).Str("subject", msg.Subject).Str("body", msg.Body).Msg("mailer: email (log driver)")
	return nil
}
