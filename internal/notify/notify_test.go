package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oprreport/internal/config"
	"github.com/oprreport/internal/mailer"
)

type recordingSender struct {
	sent []mailer.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg mailer.Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func newNotifier(sender Sender) *Notifier {
	mail := config.Mail{
		From:   "reports@example.org",
		To:     []string{"a@example.org", "b@example.org"},
		Cc:     []string{"c@example.org"},
		Server: "smtp.example.org",
	}
	return New(sender, mail, "run-1", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNotifySuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "OPR Sales 2024-03-07.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("xlsx"), 0o600))

	sender := &recordingSender{}
	err := newNotifier(sender).NotifySuccess(context.Background(), "OPR Sales 2024-03-07", SuccessBody("Weekly"), path)
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "reports@example.org", msg.From)
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, msg.To)
	assert.Equal(t, []string{"c@example.org"}, msg.Cc)
	assert.Equal(t, "OPR Sales 2024-03-07", msg.Subject)
	assert.Equal(t, "<p>Here is the Weekly OS OPR Sales Report.</p>", msg.HTMLBody)
	assert.Equal(t, "You should not see this text in a MIME aware reader", msg.TextBody)
	assert.Equal(t, "run-1.success", msg.MessageID)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "OPR Sales 2024-03-07.xlsx", msg.Attachments[0].Filename)
}

func TestNotifySuccessMissingAttachment(t *testing.T) {
	sender := &recordingSender{}
	err := newNotifier(sender).NotifySuccess(context.Background(), "s", "b", filepath.Join(t.TempDir(), "gone.xlsx"))

	var notifyErr *Error
	require.True(t, errors.As(err, &notifyErr))
	assert.Empty(t, sender.sent)
}

func TestNotifyFailure(t *testing.T) {
	sender := &recordingSender{}
	cause := errors.New(`query failed: near "<": syntax error`)
	require.NoError(t, newNotifier(sender).NotifyFailure(context.Background(), cause))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, FailureSubject, msg.Subject)
	assert.Equal(t,
		"<p>Spreadsheet can not be updated due to script error:<br />\nquery failed: near &#34;&lt;&#34;: syntax error</p>",
		msg.HTMLBody)
	assert.Empty(t, msg.Attachments)
	assert.Equal(t, "run-1.failure", msg.MessageID)
}

func TestDispatchErrorIsWrapped(t *testing.T) {
	refused := errors.New("connection refused")
	err := newNotifier(&recordingSender{err: refused}).NotifyFailure(context.Background(), errors.New("boom"))

	var notifyErr *Error
	require.True(t, errors.As(err, &notifyErr))
	assert.Equal(t, FailureSubject, notifyErr.Subject)
	assert.ErrorIs(t, err, refused)
}
