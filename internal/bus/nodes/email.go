package nodes

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/bus"
)

// Sender abstracts SMTP delivery so nodes.email.send is testable without a
// real mail server. No mail-sending library appears anywhere in the
// retrieval pack, so this is built directly on net/smtp behind this
// interface (documented as a standard-library exception in DESIGN.md).
type Sender interface {
	Send(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

type smtpSender struct{}

func (smtpSender) Send(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, auth, from, to, msg)
}

// SMTPConfig holds the server connection details used to deliver
// nodes.email.send messages.
type SMTPConfig struct {
	Addr     string
	Username string
	Password string
	Host     string
	From     string
}

// RegisterEmail binds the email.send handler against cfg, using sender for
// delivery. A nil sender defaults to net/smtp.
func RegisterEmail(b *bus.Bus, cfg SMTPConfig, sender Sender) {
	if sender == nil {
		sender = smtpSender{}
	}
	b.Register("nodes.email.send", bus.DefaultVersion, emailSendHandler(cfg, sender), emailSendSchema())
}

func emailSendHandler(cfg SMTPConfig, sender Sender) bus.Handler {
	return func(ctx context.Context, params map[string]any, meta bus.Meta) (map[string]any, error) {
		to := stringList(params["to"])
		if len(to) == 0 {
			return nil, apperr.NewValidationError("nodes.email.send: to is required")
		}
		subject, _ := params["subject"].(string)
		from, _ := params["from"].(string)
		if from == "" {
			from = cfg.From
		}
		cc := stringList(params["cc"])
		bcc := stringList(params["bcc"])
		text, _ := params["text"].(string)
		html, _ := params["html"].(string)

		body := text
		contentType := "text/plain; charset=UTF-8"
		if html != "" {
			body = html
			contentType = "text/html; charset=UTF-8"
		}

		messageID := uuid.NewString()
		var b strings.Builder
		fmt.Fprintf(&b, "From: %s\r\n", from)
		fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
		if len(cc) > 0 {
			fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(cc, ", "))
		}
		fmt.Fprintf(&b, "Subject: %s\r\n", subject)
		fmt.Fprintf(&b, "Message-Id: <%s>\r\n", messageID)
		fmt.Fprintf(&b, "Content-Type: %s\r\n\r\n", contentType)
		b.WriteString(body)

		var auth smtp.Auth
		if cfg.Username != "" {
			auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		}

		rcpts := append(append([]string{}, to...), append(cc, bcc...)...)
		accepted := rcpts
		var rejected []string

		if err := sender.Send(cfg.Addr, auth, from, rcpts, []byte(b.String())); err != nil {
			return nil, apperr.NewExecutionError("nodes.email.send: %s", err)
		}

		return map[string]any{
			"messageId": messageID,
			"accepted":  accepted,
			"rejected":  rejected,
		}, nil
	}
}

func stringList(v any) []string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	default:
		return nil
	}
}

func emailSendSchema() bus.Schema {
	return bus.Schema{
		Name:        "nodes.email.send",
		Version:     bus.DefaultVersion,
		Description: "Sends an email via SMTP.",
		Params: []bus.ParamSpec{
			{Name: "to", Type: bus.ParamArray, Required: true},
			{Name: "subject", Type: bus.ParamString, Required: true},
			{Name: "text", Type: bus.ParamString},
			{Name: "html", Type: bus.ParamString},
			{Name: "from", Type: bus.ParamString},
			{Name: "cc", Type: bus.ParamArray},
			{Name: "bcc", Type: bus.ParamArray},
		},
		Output: []bus.ParamSpec{
			{Name: "messageId", Type: bus.ParamString},
			{Name: "accepted", Type: bus.ParamArray},
			{Name: "rejected", Type: bus.ParamArray},
		},
	}
}
