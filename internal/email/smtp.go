package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"time"
)

const (
	smtpTimeout = 30 * time.Second
)

type SMTPService struct {
	host     string
	port     int
	username string
	password string
	from     string
}

var _ Sender = (*SMTPService)(nil)

func NewSMTPService(host string, port int, username, password, from string) *SMTPService {
	return &SMTPService{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

func (s *SMTPService) Configured() bool {
	return s.host != "" && s.port != 0 && s.from != ""
}

func (s *SMTPService) Send(ctx context.Context, to, subject, body string) error {
	if !s.Configured() {
		return ErrNotConfigured
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, smtpTimeout)
		defer cancel()
	}

	// net/smtp has no context support; run the exchange in a goroutine so
	// the caller is released when the deadline passes.
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.send(ctx, to, subject, body)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("sending email: %w", ctx.Err())
	}
}

func (s *SMTPService) send(ctx context.Context, to, subject, body string) error {
	msg := s.buildMessage(to, subject, body)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	dialer := net.Dialer{Timeout: smtpTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsCfg := &tls.Config{ServerName: s.host}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	} else if s.port != 25 && s.port != 1025 {
		return fmt.Errorf("STARTTLS not available on port %d (required for secure auth)", s.port)
	}

	if s.username != "" && s.password != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication: %w", err)
		}
	}

	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("SMTP MAIL command: %w", err)
	}

	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT command: %w", err)
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA command: %w", err)
	}

	_, err = wc.Write([]byte(msg))
	if err != nil {
		wc.Close()
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := wc.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	if err := client.Quit(); err != nil {
		slog.Warn("smtp QUIT command failed", "component", "email", "error", err)
	}

	return nil
}

func (s *SMTPService) buildMessage(to, subject, body string) string {
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n%s",
		s.from, to, subject, body)
}
