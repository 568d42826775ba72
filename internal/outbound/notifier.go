package outbound

import (
	"context"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// Notifier delivers owner notifications over SMTP. When SMTP is not
// configured the notifier logs and succeeds, so environments without a mail
// server still drain their outbox.
type Notifier struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
	enabled   bool
	log       *logger.Logger
}

func NewNotifier(cfg config.NotifierConfig, log *logger.Logger) *Notifier {
	return &Notifier{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetNotifyFromName(),
		fromEmail: cfg.GetNotifyFromAddress(),
		enabled:   cfg.IsNotifierEnabled(),
		log:       log,
	}
}

// Notify sends one templated notification. Payload keys fill the body.
func (n *Notifier) Notify(ctx context.Context, toEmail, toName, template string, payload map[string]string) error {
	if !n.enabled {
		n.log.Info("notifier disabled, dropping notification", "template", template, "to", toEmail)
		return nil
	}
	if toEmail == "" {
		return fmt.Errorf("notification target has no email")
	}

	subject, body := renderNotification(template, toName, payload)

	msg := gomail.NewMsg()
	if err := msg.FromFormat(n.fromName, n.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := gomail.NewClient(n.host,
		gomail.WithPort(n.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(n.username),
		gomail.WithPassword(n.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func renderNotification(template, toName string, payload map[string]string) (subject, body string) {
	switch template {
	case "lead_assigned":
		subject = "New lead assigned to you"
		body = fmt.Sprintf("Hi %s,\n\nA new lead was routed to pipeline %q (stage %q) and assigned to you.\n",
			toName, payload["pipeline"], payload["stage"])
	case "hot_lead":
		subject = "Hot lead alert"
		body = fmt.Sprintf("Hi %s,\n\nA lead crossed the hot-lead score threshold. Rule: %s.\n", toName, payload["ruleId"])
	default:
		subject = "Lead update"
		body = fmt.Sprintf("Hi %s,\n\nThere is an update on one of your leads (%s).\n", toName, template)
	}
	return subject, body
}
