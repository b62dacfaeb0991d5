package mailer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedMailer(cfg Config) *Mailer {
	m := New(cfg)
	m.now = func() time.Time { return time.Date(2024, time.March, 7, 9, 0, 0, 0, time.UTC) }
	return m
}

func reportMessage() Message {
	return Message{
		From:     "Reports <reports@example.org>",
		To:       []string{"a@example.org", "b@example.org"},
		Cc:       []string{"c@example.org"},
		Subject:  "Weekly OPR Sales Report",
		TextBody: "plain fallback",
		HTMLBody: "<p>Here is the report.</p>",
		Attachments: []Attachment{{
			Filename:    "OPR Sales 2024-03-07.xlsx",
			ContentType: contentTypes[".xlsx"],
			Data:        bytes.Repeat([]byte("spreadsheet bytes "), 20),
		}},
	}
}

// partBodies reads every part of a multipart body keyed by media type.
func partBodies(t *testing.T, r io.Reader, boundary string) map[string]string {
	t.Helper()
	out := map[string]string{}
	mr := multipart.NewReader(r, boundary)
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		mt, _, err := mime.ParseMediaType(p.Header.Get("Content-Type"))
		require.NoError(t, err)
		body, err := io.ReadAll(p) // quoted-printable is decoded by NextPart
		require.NoError(t, err)
		out[mt] = string(body)
	}
}

func TestFormatMessageHeaders(t *testing.T) {
	raw, err := fixedMailer(Config{}).formatMessage(reportMessage())
	require.NoError(t, err)

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	cases := []struct {
		header string
		want   string
	}{
		{"From", "Reports <reports@example.org>"},
		{"To", "a@example.org, b@example.org"},
		{"Cc", "c@example.org"},
		{"Subject", "Weekly OPR Sales Report"},
		{"MIME-Version", "1.0"},
		{"Date", "Thu, 07 Mar 2024 09:00:00 +0000"},
	}
	for _, tc := range cases {
		t.Run(tc.header, func(t *testing.T) {
			assert.Equal(t, tc.want, msg.Header.Get(tc.header))
		})
	}
	assert.True(t, strings.HasSuffix(msg.Header.Get("Message-ID"), "@example.org>"))

	withID := reportMessage()
	withID.MessageID = "run-42.success"
	raw, err = fixedMailer(Config{}).formatMessage(withID)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Message-ID: <run-42.success@example.org>\r\n")
}

func TestFormatMessageOmitsEmptyCc(t *testing.T) {
	m := reportMessage()
	m.Cc = nil
	raw, err := fixedMailer(Config{}).formatMessage(m)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "\r\nCc:")
}

func TestFormatMessageStructure(t *testing.T) {
	want := reportMessage()
	raw, err := fixedMailer(Config{}).formatMessage(want)
	require.NoError(t, err)

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	mt, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/mixed", mt)

	mr := multipart.NewReader(msg.Body, params["boundary"])

	alt, err := mr.NextPart()
	require.NoError(t, err)
	mt, altParams, err := mime.ParseMediaType(alt.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/alternative", mt)

	bodies := partBodies(t, alt, altParams["boundary"])
	assert.Equal(t, want.TextBody, bodies["text/plain"])
	assert.Equal(t, want.HTMLBody, bodies["text/html"])

	att, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "OPR Sales 2024-03-07.xlsx", att.FileName())
	assert.Equal(t, want.Attachments[0].ContentType, att.Header.Get("Content-Type"))

	encoded, err := io.ReadAll(att)
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(string(encoded)), "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(encoded), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, want.Attachments[0].Data, decoded)

	_, err = mr.NextPart()
	assert.Equal(t, io.EOF, err)
}

func TestLoadAttachment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "OPR Sales 2024-03-07.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("xlsx"), 0o600))

	att, err := LoadAttachment(path)
	require.NoError(t, err)
	assert.Equal(t, "OPR Sales 2024-03-07.xlsx", att.Filename)
	assert.Equal(t, contentTypes[".xlsx"], att.ContentType)
	assert.Equal(t, []byte("xlsx"), att.Data)

	_, err = LoadAttachment(filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.Error(t, err)
}

func captureSend(t *testing.T, m *Mailer) *[]Message {
	t.Helper()
	var captured []Message
	m.sendFn = func(_ context.Context, msg Message) error {
		captured = append(captured, msg)
		return nil
	}
	return &captured
}

func TestSendValidatesEnvelope(t *testing.T) {
	m := New(Config{Server: "smtp.example.org"})
	captured := captureSend(t, m)

	assert.Error(t, m.Send(context.Background(), Message{To: []string{"a@example.org"}}))
	assert.Error(t, m.Send(context.Background(), Message{From: "reports@example.org"}))
	assert.Empty(t, *captured)

	require.NoError(t, m.Send(context.Background(), reportMessage()))
	assert.Len(t, *captured, 1)
}

func TestServerAddr(t *testing.T) {
	host, addr, err := serverAddr("smtp.example.org")
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.org", host)
	assert.Equal(t, "smtp.example.org:25", addr)

	host, addr, err = serverAddr("smtp.example.org:587")
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.org", host)
	assert.Equal(t, "smtp.example.org:587", addr)

	_, _, err = serverAddr("")
	assert.Error(t, err)
}

type smtpSession struct {
	from string
	rcpt []string
	data string
}

// startSMTPServer speaks just enough SMTP for net/smtp's client and records
// one session.
func startSMTPServer(t *testing.T) (string, <-chan smtpSession) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	done := make(chan smtpSession, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		var s smtpSession

		tp.PrintfLine("220 localhost ready")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			switch {
			case verb == "EHLO" || verb == "HELO":
				tp.PrintfLine("250 localhost")
			case strings.HasPrefix(strings.ToUpper(line), "MAIL FROM:"):
				s.from = strings.Trim(line[len("MAIL FROM:"):], "<>")
				tp.PrintfLine("250 ok")
			case strings.HasPrefix(strings.ToUpper(line), "RCPT TO:"):
				s.rcpt = append(s.rcpt, strings.Trim(line[len("RCPT TO:"):], "<>"))
				tp.PrintfLine("250 ok")
			case verb == "DATA":
				tp.PrintfLine("354 go ahead")
				data, err := io.ReadAll(tp.DotReader())
				if err != nil {
					return
				}
				s.data = string(data)
				tp.PrintfLine("250 queued")
			case verb == "QUIT":
				tp.PrintfLine("221 bye")
				done <- s
				return
			default:
				tp.PrintfLine("502 not implemented")
			}
		}
	}()
	return ln.Addr().String(), done
}

func TestSendDeliversOverSMTP(t *testing.T) {
	addr, sessions := startSMTPServer(t)
	m := fixedMailer(Config{Server: addr, Timeout: 5 * time.Second})

	require.NoError(t, m.Send(context.Background(), reportMessage()))

	select {
	case s := <-sessions:
		assert.Equal(t, "reports@example.org", s.from)
		assert.Equal(t, []string{"a@example.org", "b@example.org", "c@example.org"}, s.rcpt)
		msg, err := mail.ReadMessage(bufio.NewReader(strings.NewReader(s.data)))
		require.NoError(t, err)
		assert.Equal(t, "Weekly OPR Sales Report", msg.Header.Get("Subject"))
	case <-time.After(5 * time.Second):
		t.Fatal("smtp session did not complete")
	}
}

func TestSendFailsWhenServerUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = New(Config{Server: addr}).Send(context.Background(), reportMessage())
	assert.ErrorContains(t, err, "dial")
}
