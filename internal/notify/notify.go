// Package notify tells the report's recipients how a run went: the finished
// spreadsheet on success, the error on failure.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"github.com/oprreport/internal/config"
	"github.com/oprreport/internal/mailer"
)

const (
	FailureSubject  = "OS OPR Sales Processing Error"
	textPlaceholder = "You should not see this text in a MIME aware reader"
)

// Sender is satisfied by *mailer.Mailer.
type Sender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// Error reports a message that could not be built or dispatched.
type Error struct {
	Subject string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("notify: %q: %v", e.Subject, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Notifier struct {
	sender Sender
	mail   config.Mail
	runID  string
	logger *slog.Logger
}

func New(sender Sender, mail config.Mail, runID string, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, mail: mail, runID: runID, logger: logger}
}

// SuccessBody is the HTML body of the report email.
func SuccessBody(title string) string {
	return "<p>Here is the " + html.EscapeString(title) + " OS OPR Sales Report.</p>"
}

// FailureBody embeds the escaped error text in the failure email.
func FailureBody(cause error) string {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return "<p>Spreadsheet can not be updated due to script error:<br />\n" + html.EscapeString(msg) + "</p>"
}

// NotifySuccess sends the report. attachmentPath may be empty.
func (n *Notifier) NotifySuccess(ctx context.Context, subject, htmlBody, attachmentPath string) error {
	msg := n.message(subject, htmlBody, "success")
	if attachmentPath != "" {
		att, err := mailer.LoadAttachment(attachmentPath)
		if err != nil {
			return &Error{Subject: subject, Err: err}
		}
		msg.Attachments = []mailer.Attachment{att}
	}
	return n.send(ctx, msg)
}

// NotifyFailure reports cause to the same recipients. It is sent at most
// once per call and never retried.
func (n *Notifier) NotifyFailure(ctx context.Context, cause error) error {
	return n.send(ctx, n.message(FailureSubject, FailureBody(cause), "failure"))
}

func (n *Notifier) message(subject, htmlBody, kind string) mailer.Message {
	msg := mailer.Message{
		From:     n.mail.From,
		To:       n.mail.To,
		Cc:       n.mail.Cc,
		Subject:  subject,
		TextBody: textPlaceholder,
		HTMLBody: htmlBody,
	}
	if n.runID != "" {
		msg.MessageID = n.runID + "." + kind
	}
	return msg
}

func (n *Notifier) send(ctx context.Context, msg mailer.Message) error {
	if err := n.sender.Send(ctx, msg); err != nil {
		return &Error{Subject: msg.Subject, Err: err}
	}
	n.logger.Info("notify: message sent", "subject", msg.Subject, "to", len(msg.To), "cc", len(msg.Cc), "attachments", len(msg.Attachments))
	return nil
}
