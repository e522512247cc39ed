package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-dispatch/internal/settings"
)

// Settings keys consumed by the SMTP provider.
const (
	keyHost     = "email.host"
	keyPort     = "email.port"
	keyUsername = "email.username"
	keyPassword = "email.password"
	keyFrom     = "email.from"
	keyFromName = "email.from_name"
)

// SMTPOption configures the behaviour of the SMTP provider.
type SMTPOption func(*SMTPProvider)

// WithSMTPTLSConfig overrides the TLS configuration used when negotiating STARTTLS.
func WithSMTPTLSConfig(cfg *tls.Config) SMTPOption {
	return func(p *SMTPProvider) {
		p.tlsConfig = cfg
	}
}

// WithSMTPDialer swaps the network dialer used to establish SMTP connections.
func WithSMTPDialer(d Dialer) SMTPOption {
	return func(p *SMTPProvider) {
		if d != nil {
			p.dialer = d
		}
	}
}

// WithSMTPClock replaces the clock used for timestamps.
func WithSMTPClock(now func() time.Time) SMTPOption {
	return func(p *SMTPProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSMTPHelloName customises the EHLO/HELO identity presented to the server.
func WithSMTPHelloName(name string) SMTPOption {
	return func(p *SMTPProvider) {
		if strings.TrimSpace(name) != "" {
			p.helloName = strings.TrimSpace(name)
		}
	}
}

// Dialer abstracts net.Dialer to simplify testing.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SMTPProvider implements the Provider interface using a real SMTP backend.
// Credentials and the from address are looked up through the settings
// resolver on every send.
type SMTPProvider struct {
	logger    zerolog.Logger
	settings  settings.Resolver
	tlsConfig *tls.Config
	dialer    Dialer
	now       func() time.Time
	helloName string
}

type smtpConfig struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
}

// NewSMTPProvider constructs a Provider backed by an SMTP server.
func NewSMTPProvider(resolver settings.Resolver, logger zerolog.Logger, opts ...SMTPOption) (*SMTPProvider, error) {
	if resolver == nil {
		return nil, errors.New("smtp provider: settings resolver is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	p := &SMTPProvider{
		logger:    logger,
		settings:  resolver,
		dialer:    &net.Dialer{Timeout: 30 * time.Second},
		now:       time.Now,
		helloName: "localhost",
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p, nil
}

// CheckConfig resolves the SMTP settings and reports ErrMissingConfig when any
// required value is absent.
func (p *SMTPProvider) CheckConfig() error {
	_, err := p.resolveConfig()
	return err
}

func (p *SMTPProvider) resolveConfig() (*smtpConfig, error) {
	cfg := &smtpConfig{
		host:     strings.TrimSpace(p.settings.Get(keyHost, "")),
		port:     settings.Int(p.settings, keyPort, 0),
		username: strings.TrimSpace(p.settings.Get(keyUsername, "")),
		password: p.settings.Get(keyPassword, ""),
		from:     strings.TrimSpace(p.settings.Get(keyFrom, "")),
		fromName: strings.TrimSpace(p.settings.Get(keyFromName, "")),
	}

	var missing []string
	if cfg.host == "" {
		missing = append(missing, keyHost)
	}
	if cfg.port <= 0 || cfg.port > 65535 {
		missing = append(missing, keyPort)
	}
	if cfg.username == "" {
		missing = append(missing, keyUsername)
	}
	if cfg.password == "" {
		missing = append(missing, keyPassword)
	}
	if cfg.from == "" {
		missing = append(missing, keyFrom)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	return cfg, nil
}

// Send delivers the supplied payload using the configured SMTP backend.
func (p *SMTPProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("smtp provider: payload is required")
	}
	if len(payload.To) == 0 {
		return nil, errors.New("smtp provider: at least one recipient is required")
	}

	cfg, err := p.resolveConfig()
	if err != nil {
		return nil, err
	}

	from := cfg.from
	if cfg.fromName != "" {
		from = (&mail.Address{Name: cfg.fromName, Address: cfg.from}).String()
	}

	envelopeRecipients, err := normalizeEnvelopeList(payload.To)
	if err != nil {
		return nil, fmt.Errorf("smtp provider: invalid recipient: %w", err)
	}

	message, err := p.buildMessage(payload, from)
	if err != nil {
		return nil, err
	}

	resp := &RawResponse{
		ID:        payload.MessageID,
		Timestamp: p.now(),
	}

	if err := p.deliver(ctx, cfg, cfg.from, envelopeRecipients, message); err != nil {
		code, body := classifySMTPError(err)
		resp.Code = code
		resp.Body = body
		if resp.Body == "" {
			resp.Body = err.Error()
		}
		return resp, err
	}

	resp.Code = 250
	resp.Body = "smtp: message accepted"

	return resp, nil
}

func (p *SMTPProvider) deliver(ctx context.Context, cfg *smtpConfig, from string, recipients []string, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp provider: dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	client, err := smtp.NewClient(conn, cfg.host)
	if err != nil {
		return fmt.Errorf("smtp provider: new client: %w", err)
	}
	defer client.Close()

	if err := client.Hello(p.helloName); err != nil {
		return fmt.Errorf("smtp provider: hello: %w", err)
	}

	if tlsCfg := p.sessionTLSConfig(cfg.host); tlsCfg != nil {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsCfg); err != nil {
				return fmt.Errorf("smtp provider: starttls: %w", err)
			}
		}
	}

	auth := smtp.PlainAuth("", cfg.username, cfg.password, cfg.host)
	if ok, _ := client.Extension("AUTH"); ok {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp provider: auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp provider: mail from: %w", err)
	}

	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp provider: rcpt to %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp provider: data: %w", err)
	}

	if _, err := writer.Write(message); err != nil {
		_ = writer.Close()
		return fmt.Errorf("smtp provider: data write: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp provider: data close: %w", err)
	}

	if err := client.Quit(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("smtp provider: quit: %w", err)
	}

	return ctx.Err()
}

// buildMessage renders the payload as multipart/alternative (plain + HTML),
// wrapped in multipart/mixed when attachments are present.
func (p *SMTPProvider) buildMessage(payload *Payload, from string) ([]byte, error) {
	var buf bytes.Buffer

	writeHeader := func(key, value string) {
		buf.WriteString(key)
		buf.WriteString(": ")
		buf.WriteString(sanitizeHeaderValue(value))
		buf.WriteString("\r\n")
	}

	writeHeader("From", from)
	writeHeader("To", strings.Join(payload.To, ", "))
	if payload.Subject != "" {
		writeHeader("Subject", mime.QEncoding.Encode("utf-8", payload.Subject))
	}
	writeHeader("Date", p.now().UTC().Format(time.RFC1123Z))
	if payload.MessageID != "" {
		writeHeader("Message-Id", fmt.Sprintf("<%s@dispatch>", payload.MessageID))
	}
	for key, value := range payload.Headers {
		canonical := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(key))
		if canonical == "" || strings.TrimSpace(value) == "" {
			continue
		}
		writeHeader(canonical, value)
	}
	writeHeader("MIME-Version", "1.0")

	mixed := multipart.NewWriter(&buf)
	if len(payload.Attachments) > 0 {
		writeHeader("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mixed.Boundary()))
		buf.WriteString("\r\n")
		if err := p.writeBodyPart(mixed, payload); err != nil {
			return nil, err
		}
		for _, att := range payload.Attachments {
			if err := writeAttachmentPart(mixed, att); err != nil {
				return nil, err
			}
		}
		if err := mixed.Close(); err != nil {
			return nil, fmt.Errorf("smtp provider: close mixed part: %w", err)
		}
		return buf.Bytes(), nil
	}

	alt := multipart.NewWriter(&buf)
	writeHeader("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", alt.Boundary()))
	buf.WriteString("\r\n")
	if err := writeAlternativeParts(alt, payload); err != nil {
		return nil, err
	}
	if err := alt.Close(); err != nil {
		return nil, fmt.Errorf("smtp provider: close alternative part: %w", err)
	}

	return buf.Bytes(), nil
}

func (p *SMTPProvider) writeBodyPart(mixed *multipart.Writer, payload *Payload) error {
	var inner bytes.Buffer
	alt := multipart.NewWriter(&inner)
	if err := writeAlternativeParts(alt, payload); err != nil {
		return err
	}
	if err := alt.Close(); err != nil {
		return fmt.Errorf("smtp provider: close alternative part: %w", err)
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", alt.Boundary()))
	part, err := mixed.CreatePart(header)
	if err != nil {
		return fmt.Errorf("smtp provider: create body part: %w", err)
	}
	if _, err := part.Write(inner.Bytes()); err != nil {
		return fmt.Errorf("smtp provider: write body part: %w", err)
	}
	return nil
}

func writeAlternativeParts(alt *multipart.Writer, payload *Payload) error {
	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=UTF-8")
	textPart, err := alt.CreatePart(textHeader)
	if err != nil {
		return fmt.Errorf("smtp provider: create text part: %w", err)
	}
	if _, err := textPart.Write([]byte(normalizeBody(payload.TextBody))); err != nil {
		return fmt.Errorf("smtp provider: write text part: %w", err)
	}

	htmlHeader := textproto.MIMEHeader{}
	htmlHeader.Set("Content-Type", "text/html; charset=UTF-8")
	htmlPart, err := alt.CreatePart(htmlHeader)
	if err != nil {
		return fmt.Errorf("smtp provider: create html part: %w", err)
	}
	if _, err := htmlPart.Write([]byte(normalizeBody(payload.HTMLBody))); err != nil {
		return fmt.Errorf("smtp provider: write html part: %w", err)
	}
	return nil
}

func writeAttachmentPart(mixed *multipart.Writer, att Attachment) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "base64")
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))

	part, err := mixed.CreatePart(header)
	if err != nil {
		return fmt.Errorf("smtp provider: create attachment part: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(att.Content)
	// 76 character lines per RFC 2045.
	for len(encoded) > 0 {
		n := 76
		if n > len(encoded) {
			n = len(encoded)
		}
		if _, err := part.Write([]byte(encoded[:n] + "\r\n")); err != nil {
			return fmt.Errorf("smtp provider: write attachment part: %w", err)
		}
		encoded = encoded[n:]
	}
	return nil
}

func (p *SMTPProvider) sessionTLSConfig(host string) *tls.Config {
	if p.tlsConfig != nil {
		cfg := p.tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}
}

func normalizeBody(body string) string {
	if body == "" {
		return ""
	}
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return strings.ReplaceAll(normalized, "\n", "\r\n")
}

func sanitizeHeaderValue(value string) string {
	clean := strings.ReplaceAll(value, "\r", " ")
	clean = strings.ReplaceAll(clean, "\n", " ")
	return strings.TrimSpace(clean)
}

func normalizeEnvelopeList(addresses []string) ([]string, error) {
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		parsed, err := mail.ParseAddress(strings.TrimSpace(addr))
		if err != nil {
			return nil, err
		}
		if parsed.Address == "" {
			return nil, errors.New("empty address")
		}
		result = append(result, parsed.Address)
	}
	return result, nil
}

func classifySMTPError(err error) (int, string) {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code, strings.TrimSpace(tpErr.Msg)
	}

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return 0, "smtp: timeout"
	}

	return 0, ""
}
