package notification

import (
	"fmt"
	"net/smtp"

	log "github.com/sirupsen/logrus"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
)

// Mail pushes action events over SMTP. Lower-severity traffic never
// reaches the mailbox.
type Mail struct {
	auth    smtp.Auth
	address string
	from    string
	to      string
}

// NewMail creates the SMTP sink from config
func NewMail(cfg config.MailConfig) Mail {
	return Mail{
		from:    cfg.From,
		to:      cfg.To,
		address: fmt.Sprintf("%s:%d", cfg.Server, cfg.Port),
		auth:    smtp.PlainAuth("", cfg.From, cfg.Password, cfg.Server),
	}
}

// OnEvent mails action events; everything else is dropped
func (m Mail) OnEvent(e core.Event) {
	if !e.Action() {
		return
	}
	subject := string(e.Kind)
	if e.Symbol != "" {
		subject += " " + e.Symbol
	}
	m.send(subject, FormatEvent(e))
}

func (m Mail) send(subject, body string) {
	message := fmt.Sprintf(
		"To: <%s>\r\nFrom: \"tradewarden\" <%s>\r\nSubject: %s\r\n\r\n%s\r\n",
		m.to, m.from, subject, body,
	)
	if err := smtp.SendMail(m.address, m.auth, m.from, []string{m.to}, []byte(message)); err != nil {
		log.WithError(err).Error("notification/mail: failed to send email")
	}
}

var _ core.Notifier = Mail{}
