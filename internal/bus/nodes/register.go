package nodes

import (
	"net/http"
	"time"

	"github.com/reflux-run/reflux/internal/bus"
)

// Config bundles the dependencies the built-in node handlers need at
// registration time. Zero values are acceptable for any node type the
// caller doesn't intend to exercise (e.g. an empty SMTPConfig just means
// email.send will fail at dispatch time, not at startup).
type Config struct {
	HTTPClient  *http.Client
	HTTPTimeout time.Duration
	DatabaseDSN string
	SMTP        SMTPConfig
	SMTPSender  Sender
	ChatClient  ChatClient
}

// RegisterAll binds every built-in leaf node handler onto b.
func RegisterAll(b *bus.Bus, cfg Config) {
	RegisterHTTP(b, cfg.HTTPClient, cfg.HTTPTimeout)
	RegisterTransform(b)
	RegisterCondition(b)
	RegisterDatabase(b, cfg.DatabaseDSN)
	RegisterEmail(b, cfg.SMTP, cfg.SMTPSender)
	if cfg.ChatClient != nil {
		RegisterOpenAI(b, cfg.ChatClient)
	}
	RegisterWebhook(b)
}
