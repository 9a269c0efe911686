package notify

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

const defaultSMTPPort = 587

// EmailConfig points at an SMTP relay.
type EmailConfig struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
}

// Email delivers codes over SMTP. STARTTLS is used when the relay offers it,
// and SMTP AUTH PLAIN when a username is configured.
type Email struct {
	cfg  EmailConfig
	host string
	port int
}

func NewEmail(cfg EmailConfig) *Email {
	host, port := cfg.Addr, defaultSMTPPort
	if h, p, err := net.SplitHostPort(cfg.Addr); err == nil {
		host = h
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return &Email{cfg: cfg, host: host, port: port}
}

func (e *Email) Name() string { return "email" }

// Send dials the relay and delivers one message. The dial and the SMTP
// exchange both end when ctx does.
func (e *Email) Send(ctx context.Context, to Recipient, msg Message) error {
	if to.Email == "" {
		return ErrNoDestination
	}

	m := mail.NewMsg()
	if err := m.From(e.cfg.From); err != nil {
		return fmt.Errorf("email from: %w", err)
	}
	if to.Name != "" {
		if err := m.AddToFormat(to.Name, to.Email); err != nil {
			return fmt.Errorf("email to: %w", err)
		}
	} else if err := m.To(to.Email); err != nil {
		return fmt.Errorf("email to: %w", err)
	}
	m.Subject(strings.Join(strings.Fields(msg.Subject), " "))
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, msg.Text())

	client, err := mail.NewClient(e.host, e.clientOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (e *Email) clientOptions(ctx context.Context) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(e.port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			opts = append(opts, mail.WithTimeout(d))
		}
	}
	if e.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.cfg.Username),
			mail.WithPassword(e.cfg.Password),
		)
	}
	return opts
}
