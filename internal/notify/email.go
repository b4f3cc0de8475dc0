package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
)

// EmailSender sends a plain-text email to one recipient.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// --------------------------------------------------------------------------
// Log sender — development and tests
// --------------------------------------------------------------------------

// LogEmailSender writes every send to the logger instead of a real mailer.
type LogEmailSender struct {
	logger *slog.Logger
}

func NewLogEmailSender(logger *slog.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger}
}

func (s *LogEmailSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.Info("email send (log backend)", "to", to, "subject", subject)
	return nil
}

// --------------------------------------------------------------------------
// SMTP sender
// --------------------------------------------------------------------------

// SMTPSender delivers via a plain SMTP relay. The stdlib client is enough
// here: the mail transport is an external collaborator and this is the
// narrowest real implementation of it.
type SMTPSender struct {
	addr string
	from string
}

// NewSMTPSender creates a sender targeting addr ("host:port"). Returns an
// error when addr is empty so a missing relay surfaces at startup.
func NewSMTPSender(addr, from string) (*SMTPSender, error) {
	if addr == "" {
		return nil, fmt.Errorf("SMTP sender requires SMTP_ADDR")
	}
	return &SMTPSender{addr: addr, from: from}, nil
}

// Send mails one recipient. The whole session is bounded by ctx: the dial
// uses DialContext, any context deadline becomes the connection deadline, and
// cancellation closes the connection to unblock an in-flight read, so a relay
// that accepts the connection but never answers cannot stall the caller.
// A 5xx SMTP reply is a hard bounce and is marked permanent so the dispatcher
// skips the recipient on future attempts.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + s.from,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", s.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	err = s.deliver(conn, to, msg)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("smtp send to %s: %w", to, ctx.Err())
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= 500 {
		return fmt.Errorf("smtp %d for %s: %v: %w", protoErr.Code, to, err, ErrPermanent)
	}
	return fmt.Errorf("smtp send to %s: %w", to, err)
}

// deliver runs the SMTP dialogue over an already established connection.
func (s *SMTPSender) deliver(conn net.Conn, to, msg string) error {
	host, _, err := net.SplitHostPort(s.addr)
	if err != nil {
		host = s.addr
	}
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Mail(s.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
