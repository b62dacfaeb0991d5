// Package mailer composes MIME messages and delivers them over SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"
)

const defaultPort = 25

// Config holds SMTP connection settings. Server may carry a port
// ("smtp.example.org:587"); without one port 25 is used.
type Config struct {
	Server string
	User   string
	Pass   string
	// Timeout bounds the dial. Zero means no limit beyond the context.
	Timeout time.Duration
}

// Mailer sends emails via SMTP.
type Mailer struct {
	cfg    Config
	now    func() time.Time
	sendFn func(ctx context.Context, msg Message) error
}

func New(cfg Config) *Mailer {
	m := &Mailer{cfg: cfg, now: time.Now}
	m.sendFn = m.deliver
	return m
}

// Send formats msg and hands it to the server for every To and Cc
// recipient.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		return fmt.Errorf("mailer: no sender")
	}
	if len(msg.Recipients()) == 0 {
		return fmt.Errorf("mailer: no recipients")
	}
	return m.sendFn(ctx, msg)
}

func (m *Mailer) deliver(ctx context.Context, msg Message) error {
	raw, err := m.formatMessage(msg)
	if err != nil {
		return fmt.Errorf("mailer: format message: %w", err)
	}

	host, addr, err := serverAddr(m.cfg.Server)
	if err != nil {
		return err
	}

	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("mailer: dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("mailer: greeting from %s: %w", addr, err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("mailer: starttls: %w", err)
		}
	}
	if m.cfg.User != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, host)); err != nil {
			return fmt.Errorf("mailer: auth: %w", err)
		}
	}

	if err := c.Mail(envelopeAddr(msg.From)); err != nil {
		return fmt.Errorf("mailer: mail from: %w", err)
	}
	for _, rcpt := range msg.Recipients() {
		if err := c.Rcpt(envelopeAddr(rcpt)); err != nil {
			return fmt.Errorf("mailer: rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("mailer: data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("mailer: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mailer: end data: %w", err)
	}
	return c.Quit()
}

func serverAddr(server string) (host, addr string, err error) {
	if server == "" {
		return "", "", fmt.Errorf("mailer: no server configured")
	}
	host, port, err := net.SplitHostPort(server)
	if err != nil {
		return server, net.JoinHostPort(server, strconv.Itoa(defaultPort)), nil
	}
	return host, net.JoinHostPort(host, port), nil
}

// envelopeAddr strips a display name, leaving the bare address SMTP expects.
func envelopeAddr(addr string) string {
	if parsed, err := mail.ParseAddress(addr); err == nil {
		return parsed.Address
	}
	return addr
}
