// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package notify delivers finished reports by email.
package notify

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/export"
	"github.com/pdiddy/deep-research/pkg/types"
)

const maxSubjectRunes = 80

// sendMail is smtp.SendMail; tests replace it.
var sendMail = smtp.SendMail

// Mailer sends reports over SMTP as a multipart message with a Markdown
// text part and an HTML part.
type Mailer struct {
	Config types.EmailConfig
	Logger *zap.Logger

	// Now stamps the Date header; defaults to time.Now.
	Now func() time.Time
}

// NewMailer validates cfg and returns a Mailer.
func NewMailer(cfg types.EmailConfig, logger *zap.Logger) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("email: host is not configured")
	}
	if cfg.From == "" {
		return nil, errors.New("email: from address is not configured")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{Config: cfg, Logger: logger}, nil
}

// Send mails rep to the address to.
func (m *Mailer) Send(rep *types.ResearchReport, to string) error {
	to = strings.TrimSpace(to)
	if to == "" || !strings.Contains(to, "@") {
		return fmt.Errorf("email: invalid recipient %q", to)
	}

	msg, err := m.compose(rep, to)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(m.Config.Host, strconv.Itoa(m.Config.Port))
	var auth smtp.Auth
	if m.Config.Username != "" {
		auth = smtp.PlainAuth("", m.Config.Username, m.Config.Password, m.Config.Host)
	}
	if err := sendMail(addr, auth, m.Config.From, []string{to}, msg); err != nil {
		return fmt.Errorf("email: sending to %s: %w", to, err)
	}
	m.Logger.Info("Report emailed",
		zap.String("session", rep.SessionID),
		zap.String("to", to),
		zap.Int("bytes", len(msg)),
	)
	return nil
}

// Subject returns the message subject for rep.
func Subject(rep *types.ResearchReport) string {
	s := "[Deep Research] " + strings.TrimSpace(rep.Title) + " - Key Findings"
	r := []rune(s)
	if len(r) > maxSubjectRunes {
		return string(r[:maxSubjectRunes-3]) + "..."
	}
	return s
}

func (m *Mailer) compose(rep *types.ResearchReport, to string) ([]byte, error) {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	textPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=UTF-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := textPart.Write([]byte(export.RenderMarkdown(rep))); err != nil {
		return nil, err
	}

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=UTF-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, err
	}
	if err := htmlTmpl.Execute(htmlPart, rep); err != nil {
		return nil, fmt.Errorf("rendering email: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.Config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", encodeHeader(Subject(rep)))
	fmt.Fprintf(&msg, "Date: %s\r\n", now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// encodeHeader applies RFC 2047 encoding when s is not plain ASCII.
func encodeHeader(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.QEncoding.Encode("UTF-8", s)
		}
	}
	return s
}

var htmlTmpl = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><body style="font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif;font-size:15px;line-height:1.6;max-width:600px;margin:0 auto;">
<h1 style="font-size:22px;">{{.Title}}</h1>
{{if .Summary}}<p><strong>Executive summary.</strong> {{.Summary}}</p>{{end}}
{{if .KeyFindings}}<h2 style="font-size:18px;">Key Insights</h2>
<ul>{{range .KeyFindings}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .FollowUpQuestions}}<h2 style="font-size:18px;">Recommended Next Steps</h2>
<ul>{{range .FollowUpQuestions}}<li>{{.}}</li>{{end}}</ul>{{end}}
<h2 style="font-size:18px;">Full Report</h2>
<pre style="white-space:pre-wrap;font-family:inherit;">{{.Content}}</pre>
{{if .Citations}}<h2 style="font-size:18px;">Sources</h2>
<ol>{{range .Citations}}<li><a href="{{.}}">{{.}}</a></li>{{end}}</ol>{{end}}
</body></html>
`))
