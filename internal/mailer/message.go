package mailer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var contentTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".csv":  "text/csv",
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// LoadAttachment reads the file at path into an attachment named after its
// base name.
func LoadAttachment(path string) (Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("mailer: read attachment: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	ct, ok := contentTypes[ext]
	if !ok {
		if ct = mime.TypeByExtension(ext); ct == "" {
			ct = "application/octet-stream"
		}
	}
	return Attachment{Filename: filepath.Base(path), ContentType: ct, Data: data}, nil
}

// Message is a multipart/alternative text and HTML body with optional
// attachments.
type Message struct {
	From        string
	To          []string
	Cc          []string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
	// MessageID is the left-hand side of the Message-ID header. A random one
	// is generated when empty.
	MessageID string
}

// Recipients is the SMTP envelope: To followed by Cc.
func (m Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc))
	out = append(out, m.To...)
	return append(out, m.Cc...)
}

// formatMessage renders msg as multipart/mixed wrapping a
// multipart/alternative body, followed by base64 attachments.
func (m *Mailer) formatMessage(msg Message) ([]byte, error) {
	var body bytes.Buffer
	mixed := multipart.NewWriter(&body)

	var alt bytes.Buffer
	altWriter := multipart.NewWriter(&alt)
	if err := writeQuoted(altWriter, "text/plain; charset=UTF-8", msg.TextBody); err != nil {
		return nil, err
	}
	if err := writeQuoted(altWriter, "text/html; charset=UTF-8", msg.HTMLBody); err != nil {
		return nil, err
	}
	if err := altWriter.Close(); err != nil {
		return nil, err
	}

	altHeader := textproto.MIMEHeader{}
	altHeader.Set("Content-Type", "multipart/alternative; boundary="+altWriter.Boundary())
	altPart, err := mixed.CreatePart(altHeader)
	if err != nil {
		return nil, err
	}
	if _, err := altPart.Write(alt.Bytes()); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		if err := writeAttachment(mixed, att); err != nil {
			return nil, err
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&out, "%s: %s\r\n", k, v) }
	header("From", msg.From)
	header("To", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		header("Cc", strings.Join(msg.Cc, ", "))
	}
	header("Subject", mime.QEncoding.Encode("UTF-8", msg.Subject))
	header("Date", m.now().Format("Mon, 02 Jan 2006 15:04:05 -0700"))
	id := msg.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	header("Message-ID", "<"+id+"@"+messageIDHost(msg.From)+">")
	header("MIME-Version", "1.0")
	header("Content-Type", "multipart/mixed; boundary="+mixed.Boundary())
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func writeQuoted(w *multipart.Writer, contentType, text string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := io.WriteString(qp, text); err != nil {
		return err
	}
	return qp.Close()
}

func writeAttachment(w *multipart.Writer, att Attachment) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", att.ContentType)
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(att.Data)
	// 76-character lines per RFC 2045
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		if _, err := io.WriteString(part, encoded[i:end]+"\r\n"); err != nil {
			return err
		}
	}
	return nil
}

func messageIDHost(from string) string {
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		return strings.Trim(from[at+1:], "> ")
	}
	return "localhost"
}
