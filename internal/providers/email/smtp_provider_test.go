package email

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-dispatch/internal/settings"
)

func smtpSettings(extra map[string]string) settings.Resolver {
	values := map[string]string{
		"email.host":     "smtp.example.com",
		"email.port":     "2525",
		"email.username": "mailer",
		"email.password": "secret",
		"email.from":     "noreply@example.com",
	}
	for k, v := range extra {
		values[k] = v
	}
	return settings.Static(values)
}

func TestNewSMTPProviderRequiresResolver(t *testing.T) {
	if _, err := NewSMTPProvider(nil, zerolog.New(io.Discard)); err == nil {
		t.Fatal("expected error for nil resolver")
	}
}

func TestCheckConfigNamesMissingKeys(t *testing.T) {
	provider, err := NewSMTPProvider(settings.Static(map[string]string{
		"email.host": "smtp.example.com",
		"email.port": "2525",
	}), zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("NewSMTPProvider: %v", err)
	}

	err = provider.CheckConfig()
	if !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("err = %v, want ErrMissingConfig", err)
	}
	for _, key := range []string{"email.username", "email.password", "email.from"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error does not name %s: %v", key, err)
		}
	}
}

func TestCheckConfigRejectsInvalidPort(t *testing.T) {
	provider, err := NewSMTPProvider(smtpSettings(map[string]string{"email.port": "70000"}), zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("NewSMTPProvider: %v", err)
	}
	if err := provider.CheckConfig(); !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("err = %v, want ErrMissingConfig", err)
	}
}

func TestSendRequiresPayloadAndRecipients(t *testing.T) {
	provider, err := NewSMTPProvider(smtpSettings(nil), zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("NewSMTPProvider: %v", err)
	}

	if _, err := provider.Send(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil payload")
	}
	if _, err := provider.Send(context.Background(), &Payload{}); err == nil {
		t.Fatal("expected error for empty recipient list")
	}
}

func TestSendDeliversMessage(t *testing.T) {
	var (
		waitFn     func()
		transcript *smtpTranscript
	)
	defer func() {
		if waitFn != nil {
			waitFn()
		}
	}()

	dialer := dialerFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		if address != "smtp.example.com:2525" {
			t.Errorf("dial address = %q", address)
		}
		conn, tr, wait := startFakeSMTPServer(t)
		transcript = tr
		waitFn = wait
		return conn, nil
	})

	provider, err := NewSMTPProvider(smtpSettings(map[string]string{"email.from_name": "Dispatch"}),
		zerolog.New(io.Discard),
		WithSMTPDialer(dialer),
	)
	if err != nil {
		t.Fatalf("NewSMTPProvider: %v", err)
	}

	payload := &Payload{
		MessageID: "msg-1",
		To:        []string{"Recipient <recipient@example.com>"},
		Subject:   "Greetings",
		HTMLBody:  "<p>Line 1</p>\n<p>Line 2</p>",
		TextBody:  "Line 1\nLine 2",
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := provider.Send(ctx, payload)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if resp.Code != 250 {
		t.Fatalf("resp.Code = %d, want 250", resp.Code)
	}
	if resp.ID != "msg-1" {
		t.Fatalf("resp.ID = %q, want the payload message id", resp.ID)
	}

	if transcript == nil {
		t.Fatal("transcript was not captured")
	}
	if transcript.mailFrom != "noreply@example.com" {
		t.Fatalf("MAIL FROM = %q", transcript.mailFrom)
	}
	if !reflect.DeepEqual(transcript.rcpts, []string{"recipient@example.com"}) {
		t.Fatalf("RCPT TO = %v, want the bare address", transcript.rcpts)
	}

	data := transcript.data
	if !strings.Contains(data, "From: Dispatch <noreply@example.com>") {
		t.Fatalf("From header missing display name:\n%s", data)
	}
	if !strings.Contains(data, "Message-Id: <msg-1@dispatch>") {
		t.Fatalf("Message-Id header missing:\n%s", data)
	}
	if !strings.Contains(data, "Content-Type: text/plain; charset=UTF-8") ||
		!strings.Contains(data, "Content-Type: text/html; charset=UTF-8") {
		t.Fatalf("alternative parts missing:\n%s", data)
	}
	if !strings.Contains(data, "Line 1\r\nLine 2") {
		t.Fatalf("text body not CRLF normalized:\n%s", data)
	}
	if !strings.Contains(data, "multipart/alternative") {
		t.Fatalf("content type is not multipart/alternative:\n%s", data)
	}
}

func TestBuildMessageWithAttachments(t *testing.T) {
	provider, err := NewSMTPProvider(smtpSettings(nil), zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("NewSMTPProvider: %v", err)
	}

	payload := &Payload{
		MessageID: "msg-2",
		To:        []string{"a@example.com"},
		Subject:   "report",
		HTMLBody:  "<p>attached</p>",
		TextBody:  "attached",
		Attachments: []Attachment{
			{Filename: "report.csv", ContentType: "text/csv", Content: []byte("a,b\n1,2\n")},
		},
	}

	raw, err := provider.buildMessage(payload, "noreply@example.com")
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	msg := string(raw)

	if !strings.Contains(msg, "multipart/mixed") {
		t.Fatalf("attachment message is not multipart/mixed:\n%s", msg)
	}
	if !strings.Contains(msg, "multipart/alternative") {
		t.Fatalf("body part is not multipart/alternative:\n%s", msg)
	}
	if !strings.Contains(msg, `Content-Disposition: attachment; filename="report.csv"`) {
		t.Fatalf("attachment disposition missing:\n%s", msg)
	}
	encoded := base64.StdEncoding.EncodeToString([]byte("a,b\n1,2\n"))
	if !strings.Contains(msg, encoded) {
		t.Fatalf("base64 attachment content missing:\n%s", msg)
	}
}

func TestBuildMessageSanitizesHeaders(t *testing.T) {
	provider, err := NewSMTPProvider(smtpSettings(nil), zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("NewSMTPProvider: %v", err)
	}

	payload := &Payload{
		To:       []string{"a@example.com"},
		Subject:  "ok",
		HTMLBody: "<p>hi</p>",
		TextBody: "hi",
		Headers:  map[string]string{"x-tag": "one\r\nInjected: nope"},
	}

	raw, err := provider.buildMessage(payload, "noreply@example.com")
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	msg := string(raw)

	if strings.Contains(msg, "\r\nInjected: nope") {
		t.Fatalf("header value was not sanitized:\n%s", msg)
	}
	if !strings.Contains(msg, "X-Tag: one") {
		t.Fatalf("custom header missing or not canonicalized:\n%s", msg)
	}
}

func TestNormalizeEnvelopeList(t *testing.T) {
	got, err := normalizeEnvelopeList([]string{" Jane <jane@example.com> ", "plain@example.com"})
	if err != nil {
		t.Fatalf("normalizeEnvelopeList: %v", err)
	}
	want := []string{"jane@example.com", "plain@example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := normalizeEnvelopeList([]string{"not-an-address"}); err == nil {
		t.Fatal("expected error for invalid address")
	}
}

func TestClassifySMTPError(t *testing.T) {
	code, body := classifySMTPError(fmt.Errorf("rcpt: %w", &textproto.Error{Code: 550, Msg: "mailbox unavailable"}))
	if code != 550 || body != "mailbox unavailable" {
		t.Fatalf("got (%d, %q), want (550, mailbox unavailable)", code, body)
	}

	code, body = classifySMTPError(errors.New("connection reset"))
	if code != 0 || body != "" {
		t.Fatalf("got (%d, %q), want (0, empty)", code, body)
	}
}

func TestNormalizeBody(t *testing.T) {
	if got := normalizeBody("a\nb\r\nc\rd"); got != "a\r\nb\r\nc\r\nd" {
		t.Fatalf("normalizeBody = %q", got)
	}
	if got := normalizeBody(""); got != "" {
		t.Fatalf("normalizeBody(\"\") = %q", got)
	}
}

// Helpers.

type dialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (d dialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d(ctx, network, address)
}

type smtpTranscript struct {
	mailFrom string
	rcpts    []string
	data     string
}

func startFakeSMTPServer(t *testing.T) (net.Conn, *smtpTranscript, func()) {
	t.Helper()

	server, client := net.Pipe()
	transcript := &smtpTranscript{}
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer server.Close()
		if err := runFakeSMTPConversation(server, transcript); err != nil && !errors.Is(err, io.EOF) {
			t.Errorf("fake smtp server: %v", err)
		}
	}()

	return client, transcript, wg.Wait
}

func runFakeSMTPConversation(conn net.Conn, transcript *smtpTranscript) error {
	writer := bufio.NewWriter(conn)
	reader := bufio.NewReader(conn)

	writeLine := func(format string, args ...any) error {
		if _, err := fmt.Fprintf(writer, format+"\r\n", args...); err != nil {
			return err
		}
		return writer.Flush()
	}

	if err := writeLine("220 fake smtp ready"); err != nil {
		return err
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "EHLO ") || strings.HasPrefix(upper, "HELO "):
			if err := writeLine("250-fake"); err != nil {
				return err
			}
			if err := writeLine("250 OK"); err != nil {
				return err
			}
		case strings.HasPrefix(upper, "MAIL FROM:"):
			transcript.mailFrom = extractSMTPAddress(line)
			if err := writeLine("250 OK"); err != nil {
				return err
			}
		case strings.HasPrefix(upper, "RCPT TO:"):
			transcript.rcpts = append(transcript.rcpts, extractSMTPAddress(line))
			if err := writeLine("250 OK"); err != nil {
				return err
			}
		case upper == "DATA":
			if err := writeLine("354 Start mail input; end with <CRLF>.<CRLF>"); err != nil {
				return err
			}
			var data strings.Builder
			for {
				msgLine, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				if msgLine == ".\r\n" {
					break
				}
				data.WriteString(msgLine)
			}
			transcript.data = data.String()
			if err := writeLine("250 OK"); err != nil {
				return err
			}
		case upper == "QUIT":
			if err := writeLine("221 Bye"); err != nil {
				return err
			}
			return nil
		default:
			if err := writeLine("250 OK"); err != nil {
				return err
			}
		}
	}
}

func extractSMTPAddress(line string) string {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start != -1 && end != -1 && end > start+1 {
		return strings.TrimSpace(line[start+1 : end])
	}
	if idx := strings.Index(line, ":"); idx != -1 && idx+1 < len(line) {
		return strings.TrimSpace(line[idx+1:])
	}
	return strings.TrimSpace(line)
}
