package mailer

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"time"

	"github.com/google/uuid"
)

// SMTPConfig configures the SMTP transport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Timeout  time.Duration
}

// SMTPSender sends messages through an SMTP relay. Port 465 uses implicit
// TLS, anything else upgrades with STARTTLS.
type SMTPSender struct {
	cfg    SMTPConfig
	auth   smtp.Auth
	logger *slog.Logger
}

// NewSMTPSender constructs a sender.
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPSender{cfg: cfg, auth: auth, logger: logger}
}

// Send delivers one message.
func (s *SMTPSender) Send(msg Message) error {
	payload := s.buildMessage(msg)
	address := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	if s.cfg.Port == 465 {
		return s.sendImplicitTLS(address, msg.To, payload)
	}
	return s.sendSTARTTLS(address, msg.To, payload)
}

func (s *SMTPSender) sendImplicitTLS(address, recipient string, payload []byte) error {
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: s.cfg.Timeout}, "tcp", address, tlsConfig)
	if err != nil {
		return fmt.Errorf("mailer: dial %s: %w", address, err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("mailer: smtp client: %w", err)
	}
	defer client.Close()

	return s.sendViaClient(client, recipient, payload)
}

func (s *SMTPSender) sendSTARTTLS(address, recipient string, payload []byte) error {
	conn, err := net.DialTimeout("tcp", address, s.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("mailer: dial %s: %w", address, err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("mailer: smtp client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("mailer: starttls: %w", err)
		}
	}
	return s.sendViaClient(client, recipient, payload)
}

func (s *SMTPSender) sendViaClient(client *smtp.Client, recipient string, payload []byte) error {
	if s.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(s.auth); err != nil {
				return fmt.Errorf("mailer: auth: %w", err)
			}
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("mailer: set sender: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("mailer: set recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("mailer: data: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("mailer: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mailer: close body: %w", err)
	}
	return client.Quit()
}

func (s *SMTPSender) buildMessage(msg Message) []byte {
	from := msg.From
	fromName := msg.FromName
	if from == "" {
		from = s.cfg.From
		fromName = s.cfg.FromName
	}

	encodedSubject := mime.QEncoding.Encode("utf-8", msg.Subject)
	encodedFromName := mime.QEncoding.Encode("utf-8", fromName)
	encodedToName := mime.QEncoding.Encode("utf-8", msg.ToName)

	messageID := fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), uuid.NewString(), s.cfg.Host)
	date := time.Now().Format(time.RFC1123Z)

	return fmt.Appendf(nil,
		"Message-ID: %s\r\n"+
			"Date: %s\r\n"+
			"From: %s <%s>\r\n"+
			"To: %s <%s>\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=\"utf-8\"\r\n"+
			"\r\n"+
			"%s\r\n",
		messageID, date, encodedFromName, from, encodedToName, msg.To, encodedSubject, msg.HTMLBody)
}

var _ Sender = (*SMTPSender)(nil)
