package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"gopkg.in/gomail.v2"

	"github.com/angelmondragon/coursepay-backend/pkg/config"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// Message is a rendered email ready for delivery.
type Message struct {
	ToEmail string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers a single message.
type Mailer interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// NewMailer prefers SendGrid when an API key is configured and falls back to
// SMTP.
func NewMailer(sg config.SendgridConfig, smtp config.SMTPConfig, senderName string) (Mailer, error) {
	if strings.TrimSpace(sg.APIKey) != "" {
		if strings.TrimSpace(sg.DefaultFrom) == "" {
			return nil, errors.New("sendgrid from address is required")
		}
		return NewSendgridMailer(sg.APIKey, senderName, sg.DefaultFrom), nil
	}
	if strings.TrimSpace(smtp.Host) != "" {
		return NewSMTPMailer(smtp, senderName)
	}
	return nil, errors.New("no mail provider configured: set a sendgrid api key or an smtp host")
}

type sendgridAPI func(req sendgridRequest) (int, error)

type sendgridRequest struct {
	apiKey string
	body   []byte
}

// SendgridMailer posts messages to the SendGrid v3 API.
type SendgridMailer struct {
	apiKey string
	from   *sgmail.Email
	send   sendgridAPI
}

func NewSendgridMailer(apiKey, senderName, fromEmail string) *SendgridMailer {
	return &SendgridMailer{
		apiKey: apiKey,
		from:   sgmail.NewEmail(senderName, fromEmail),
		send:   callSendgrid,
	}
}

func (m *SendgridMailer) Name() string { return "sendgrid" }

func (m *SendgridMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	status, err := m.send(sendgridRequest{apiKey: m.apiKey, body: sgmail.GetRequestBody(m.build(msg))})
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid send: unexpected status %d", status)
	}
	return nil
}

func (m *SendgridMailer) build(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.ToEmail))

	out := sgmail.NewV3Mail()
	out.SetFrom(m.from)
	out.AddPersonalizations(p)
	out.AddContent(
		sgmail.NewContent("text/plain", msg.Text),
		sgmail.NewContent("text/html", msg.HTML),
	)
	return out
}

func callSendgrid(req sendgridRequest) (int, error) {
	r := sendgrid.GetRequest(req.apiKey, sendgridEndpoint, sendgridHost)
	r.Method = http.MethodPost
	r.Body = req.body
	res, err := sendgrid.API(r)
	if err != nil {
		return 0, err
	}
	return res.StatusCode, nil
}

type smtpDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends through a plain SMTP relay.
type SMTPMailer struct {
	dialer     smtpDialer
	from       string
	senderName string
}

func NewSMTPMailer(cfg config.SMTPConfig, senderName string) (*SMTPMailer, error) {
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = strings.TrimSpace(cfg.Username)
	}
	if from == "" {
		return nil, errors.New("smtp sender not configured")
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	return &SMTPMailer{
		dialer:     gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password),
		from:       from,
		senderName: senderName,
	}, nil
}

func (m *SMTPMailer) Name() string { return "smtp" }

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.dialer.DialAndSend(m.build(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *SMTPMailer) build(msg Message) *gomail.Message {
	out := gomail.NewMessage()
	out.SetAddressHeader("From", m.from, m.senderName)
	out.SetAddressHeader("To", msg.ToEmail, msg.ToName)
	out.SetHeader("Subject", msg.Subject)
	out.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		out.AddAlternative("text/html", msg.HTML)
	}
	return out
}
