package sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/smtp"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// EmailProviderSource returns SMTP credentials for an owner.
type EmailProviderSource interface {
	EmailProvider(ctx context.Context, ownerID int64) (*model.EmailProvider, error)
}

// smtpClient is the subset of *smtp.Client used for one send.
type smtpClient interface {
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

type dialFunc func(ctx context.Context, p *model.EmailProvider) (smtpClient, error)

type EmailSender struct {
	Providers EmailProviderSource
	HTTP      *http.Client
	TempDir   string
	Timeout   time.Duration
	Logger    *zap.Logger

	dial dialFunc
}

func NewEmailSender(providers EmailProviderSource, tempDir string, timeout time.Duration, log *zap.Logger) *EmailSender {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s := &EmailSender{
		Providers: providers,
		HTTP:      &http.Client{Timeout: timeout},
		TempDir:   tempDir,
		Timeout:   timeout,
		Logger:    logger.OrNop(log),
	}
	s.dial = s.dialSMTP
	return s
}

func (e *EmailSender) Send(ctx context.Context, d Delivery) error {
	provider, err := e.Providers.EmailProvider(ctx, d.OwnerID)
	if err != nil {
		return err
	}

	att, cleanup, err := e.loadAttachment(ctx, d.Attachment)
	defer cleanup()
	if err != nil {
		return fmt.Errorf("failed to process attachment: %w", err)
	}

	msg, err := buildMessage(provider.EmailAddress, d.Address, d.Subject, d.Body, att)
	if err != nil {
		return err
	}

	client, err := e.dial(ctx, provider)
	if err != nil {
		return fmt.Errorf("smtp connect: %w", err)
	}
	defer client.Close()

	auth := smtp.PlainAuth("", provider.EmailAddress, provider.Password, provider.SMTPHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(provider.EmailAddress); err != nil {
		return err
	}
	if err := client.Rcpt(d.Address); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// dialSMTP uses implicit TLS on port 465 and STARTTLS otherwise.
func (e *EmailSender) dialSMTP(ctx context.Context, p *model.EmailProvider) (smtpClient, error) {
	addr := net.JoinHostPort(p.SMTPHost, strconv.Itoa(p.SMTPPort))
	dialer := &net.Dialer{Timeout: e.Timeout}
	tlsConfig := &tls.Config{ServerName: p.SMTPHost}

	var (
		conn net.Conn
		err  error
	)
	if p.SMTPPort == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, p.SMTPHost)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if p.SMTPPort != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, err
			}
		}
	}
	return client, nil
}

type attachment struct {
	filename string
	data     []byte
}

// loadAttachment fetches ref into a temporary file when it is an http(s) URL,
// or reads it from disk otherwise. cleanup is always safe to call.
func (e *EmailSender) loadAttachment(ctx context.Context, ref string) (*attachment, func(), error) {
	noop := func() {}
	if ref == "" {
		return nil, noop, nil
	}
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, noop, fmt.Errorf("attachment file not found: %s", ref)
		}
		return &attachment{filename: filepath.Base(ref), data: data}, noop, nil
	}

	filename := "attachment"
	if u, err := url.Parse(ref); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			filename = base
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, noop, err
	}
	resp, err := e.HTTP.Do(req)
	if err != nil {
		return nil, noop, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, noop, fmt.Errorf("attachment URL returned status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(e.TempDir, "campaign-*-"+filename)
	if err != nil {
		return nil, noop, err
	}
	cleanup := func() {
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			e.Logger.Warn("failed to delete temporary attachment", zap.String("path", tmp.Name()), zap.Error(err))
		}
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return nil, cleanup, err
	}
	if err := tmp.Close(); err != nil {
		return nil, cleanup, err
	}

	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, cleanup, err
	}
	return &attachment{filename: filename, data: data}, cleanup, nil
}

func buildMessage(from, to, subject, body string, att *attachment) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if att == nil {
		buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
		buf.WriteString(body)
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=\"utf-8\""},
	})
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(text, body); err != nil {
		return nil, err
	}

	ctype := mime.TypeByExtension(filepath.Ext(att.filename))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {ctype},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": att.filename})},
	})
	if err != nil {
		return nil, err
	}
	// RFC 2045 caps encoded lines at 76 characters
	encoded := base64.StdEncoding.EncodeToString(att.data)
	for len(encoded) > 76 {
		if _, err := io.WriteString(part, encoded[:76]+"\r\n"); err != nil {
			return nil, err
		}
		encoded = encoded[76:]
	}
	if _, err := io.WriteString(part, encoded+"\r\n"); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
