package deliver

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"autosumm/internal/config"
	"autosumm/internal/logging"
	"autosumm/internal/render"
	"autosumm/internal/services"
)

const (
	defaultMaxAttachmentMB = 25
	dialTimeout            = 30 * time.Second
	lineLength             = 76
)

// Skipped is an attachment left out of the message.
type Skipped struct {
	Path   string
	Reason string
}

// Result describes one delivery.
type Result struct {
	Recipients []string
	Attached   []string
	Skipped    []Skipped
	MessageID  string
}

// Mailer sends digests over SMTP.
type Mailer struct {
	cfg    config.Deliver
	logger *slog.Logger
	now    func() time.Time
	// send transmits a finished message; tests replace it.
	send func(ctx context.Context, from string, to []string, msg []byte) error
}

// NewMailer builds a mailer from the resolved [deliver] settings.
func NewMailer(cfg config.Deliver, logger *slog.Logger) *Mailer {
	m := &Mailer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "deliver"),
		now:    time.Now,
	}
	m.send = m.sendSMTP
	return m
}

// Send mails the digest. The Markdown artifact becomes the body and every
// artifact whose format is listed in deliver.attach is attached.
func (m *Mailer) Send(ctx context.Context, subject string, artifacts []render.Artifact) (Result, error) {
	recipients := cleanList(m.cfg.Recipients)
	if len(recipients) == 0 {
		return Result{}, services.Wrap(services.ErrConfiguration, "deliver", "send", "no recipients configured", nil)
	}
	sender := strings.TrimSpace(m.cfg.Sender)
	if sender == "" {
		sender = strings.TrimSpace(m.cfg.Username)
	}
	if sender == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "deliver", "send", "no sender configured", nil)
	}

	var body string
	for _, a := range artifacts {
		if a.Format == "md" {
			data, err := os.ReadFile(a.Path)
			if err != nil {
				return Result{}, fmt.Errorf("read digest body: %w", err)
			}
			body = string(data)
			break
		}
	}

	res := Result{Recipients: recipients, MessageID: fmt.Sprintf("<%s@autosumm>", uuid.NewString())}
	attachments, skipped := m.pickAttachments(artifacts)
	res.Skipped = skipped

	msg, err := m.buildMessage(sender, recipients, subject, body, attachments, res.MessageID)
	if err != nil {
		return Result{}, err
	}
	for _, a := range attachments {
		res.Attached = append(res.Attached, a.Path)
	}
	for _, s := range skipped {
		logging.WarnWithContext(m.logger, "attachment skipped", "delivery_attachment_skipped",
			logging.String("path", s.Path),
			logging.String("reason", s.Reason),
			logging.String(logging.FieldImpact, "recipients receive the digest without this file"),
			logging.String(logging.FieldErrorHint, "raise deliver.max_attachment_mb or drop the format from deliver.attach"),
		)
	}
	if err := m.send(ctx, sender, recipients, msg); err != nil {
		return res, err
	}
	m.logger.InfoContext(ctx, "digest delivered",
		logging.String(logging.FieldEventType, "digest_delivered"),
		logging.Int("recipients", len(recipients)),
		logging.Int("attachments", len(res.Attached)),
		logging.String("message_bytes", humanize.Bytes(uint64(len(msg)))),
	)
	return res, nil
}

type attachment struct {
	Path string
	Data []byte
}

func (m *Mailer) pickAttachments(artifacts []render.Artifact) ([]attachment, []Skipped) {
	limitMB := m.cfg.MaxAttachmentMB
	if limitMB <= 0 {
		limitMB = defaultMaxAttachmentMB
	}
	limit := int64(limitMB) << 20
	wanted := cleanList(m.cfg.Attach)

	var (
		out     []attachment
		skipped []Skipped
		total   int64
	)
	for _, a := range artifacts {
		if !slices.ContainsFunc(wanted, func(f string) bool { return strings.EqualFold(f, a.Format) }) {
			continue
		}
		data, err := os.ReadFile(a.Path)
		if err != nil {
			skipped = append(skipped, Skipped{Path: a.Path, Reason: err.Error()})
			continue
		}
		size := int64(len(data))
		if total+size > limit {
			skipped = append(skipped, Skipped{
				Path:   a.Path,
				Reason: fmt.Sprintf("%s exceeds the %d MiB attachment limit", humanize.IBytes(uint64(size)), limitMB),
			})
			continue
		}
		total += size
		out = append(out, attachment{Path: a.Path, Data: data})
	}
	return out, skipped
}

func (m *Mailer) buildMessage(from string, to []string, subject, body string, attachments []attachment, messageID string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	headers := []string{
		"From: " + from,
		"To: " + strings.Join(to, ", "),
		"Subject: " + mime.QEncoding.Encode("utf-8", subject),
		"Date: " + m.now().Format(time.RFC1123Z),
		"Message-ID: " + messageID,
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=" + strconv.Quote(writer.Boundary()),
	}
	var msg bytes.Buffer
	msg.WriteString(strings.Join(headers, "\r\n"))
	msg.WriteString("\r\n\r\n")

	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, fmt.Errorf("build message body: %w", err)
	}
	if err := writeBase64(part, []byte(body)); err != nil {
		return nil, err
	}

	for _, a := range attachments {
		name := filepath.Base(a.Path)
		contentType := mime.TypeByExtension(filepath.Ext(name))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		part, err := writer.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {contentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": name})},
		})
		if err != nil {
			return nil, fmt.Errorf("build attachment %s: %w", name, err)
		}
		if err := writeBase64(part, a.Data); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	msg.Write(buf.Bytes())
	return msg.Bytes(), nil
}

// writeBase64 writes data base64 encoded in lines of at most 76 characters.
func writeBase64(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := min(lineLength, len(encoded))
		if _, err := io.WriteString(w, encoded[:n]+"\r\n"); err != nil {
			return fmt.Errorf("encode message part: %w", err)
		}
		encoded = encoded[n:]
	}
	return nil
}

func (m *Mailer) sendSMTP(ctx context.Context, from string, to []string, msg []byte) error {
	host := strings.TrimSpace(m.cfg.SMTPHost)
	if host == "" {
		return services.Wrap(services.ErrConfiguration, "deliver", "smtp", "smtp_host is empty", nil)
	}
	port := m.cfg.SMTPPort
	if port <= 0 {
		port = 465
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: dialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: host}}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "deliver", "smtp", "connect to "+addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return services.Wrap(services.ErrTransient, "deliver", "smtp", "greeting", err)
	}
	defer client.Close()

	if port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return services.Wrap(services.ErrTransient, "deliver", "smtp", "starttls", err)
			}
		}
	}
	if user := strings.TrimSpace(m.cfg.Username); user != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", user, m.cfg.Password, host)); err != nil {
				return services.Wrap(services.ErrAuth, "deliver", "smtp", "authentication failed", err)
			}
		}
	}
	if err := client.Mail(from); err != nil {
		return services.Wrap(services.ErrRejected, "deliver", "smtp", "sender rejected", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return services.Wrap(services.ErrRejected, "deliver", "smtp", "recipient "+rcpt+" rejected", err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return services.Wrap(services.ErrTransient, "deliver", "smtp", "data", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return services.Wrap(services.ErrTransient, "deliver", "smtp", "write message", err)
	}
	if err := w.Close(); err != nil {
		return services.Wrap(services.ErrTransient, "deliver", "smtp", "finish message", err)
	}
	if err := client.Quit(); err != nil && !errors.Is(err, io.EOF) {
		m.logger.DebugContext(ctx, "smtp quit failed", logging.Error(err))
	}
	return nil
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
