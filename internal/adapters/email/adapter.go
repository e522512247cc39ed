package email

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	common "github.com/example/notification-dispatch/internal/adapters/common"
	"github.com/example/notification-dispatch/internal/models"
	emailprovider "github.com/example/notification-dispatch/internal/providers/email"
	"github.com/example/notification-dispatch/internal/util"
)

const maxAttachmentBytes = 10 << 20

// bodyTemplate wraps the caller supplied body in a minimal HTML layout. The
// plain-text alternative is derived from the same content.
var bodyTemplate = template.Must(template.New("email_body").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; color: #222; margin: 0; padding: 16px;">
    <div style="max-width: 600px; margin: 0 auto;">
      {{.Body}}
    </div>
  </body>
</html>
`))

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Option customises adapter behaviour.
type Option func(*Adapter)

// WithAttachmentClient swaps the HTTP client used to fetch attachment bytes.
func WithAttachmentClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.attachmentClient = client
		}
	}
}

// Adapter implements common.Adapter for the email channel: it renders the
// templated body, fetches attachments and delegates the single-recipient send
// to the provider.
type Adapter struct {
	logger           zerolog.Logger
	provider         emailprovider.Provider
	attachmentClient *http.Client
}

// NewAdapter constructs an email adapter using the provided dependencies.
func NewAdapter(provider emailprovider.Provider, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("email adapter: provider dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	a := &Adapter{
		logger:           logger,
		provider:         provider,
		attachmentClient: &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a, nil
}

// Channel reports the channel this adapter serves.
func (a *Adapter) Channel() models.Channel { return models.ChannelEmail }

// CheckConfig reports missing SMTP configuration before any side effect.
func (a *Adapter) CheckConfig() error {
	if err := a.provider.CheckConfig(); err != nil {
		return common.WrapConfigMissing(err)
	}
	return nil
}

// Send delivers the request content to one recipient. An attachment that
// cannot be fetched is logged and skipped rather than failing the send.
func (a *Adapter) Send(ctx context.Context, recipient string, req *models.SendRequest) (*common.Outcome, error) {
	if req == nil {
		return nil, common.WrapProvider(errors.New("email adapter: request is nil"))
	}

	addr, err := util.NormalizeEmail(recipient)
	if err != nil {
		return nil, common.WrapProvider(err)
	}

	htmlBody, textBody, err := renderBody(req.Body)
	if err != nil {
		return nil, common.WrapProvider(fmt.Errorf("email adapter: render body: %w", err))
	}

	payload := &emailprovider.Payload{
		MessageID:   uuid.NewString(),
		To:          []string{addr},
		Subject:     req.Subject,
		HTMLBody:    htmlBody,
		TextBody:    textBody,
		Attachments: a.fetchAttachments(ctx, req.Attachments),
	}

	rawResp, err := a.provider.Send(ctx, payload)
	if err != nil {
		a.logger.Warn().
			Str("channel", models.ChannelEmail.String()).
			Str("recipient", addr).
			Err(err).
			Msg("email adapter send failed")
		if errors.Is(err, emailprovider.ErrMissingConfig) {
			return nil, common.WrapConfigMissing(err)
		}
		return nil, common.WrapProvider(err)
	}

	outcome := &common.Outcome{}
	if rawResp != nil {
		outcome.ProviderID = rawResp.ID
		outcome.Raw = common.TruncateRaw(rawResp.Body, common.DefaultRawBodyLimit)
	}

	a.logger.Debug().
		Str("channel", models.ChannelEmail.String()).
		Str("recipient", addr).
		Str("provider_id", outcome.ProviderID).
		Msg("email adapter send succeeded")

	return outcome, nil
}

// fetchAttachments downloads attachment bytes from the referenced URLs. A
// fetch failure for one attachment skips that attachment only.
func (a *Adapter) fetchAttachments(ctx context.Context, refs []models.Attachment) []emailprovider.Attachment {
	if len(refs) == 0 {
		return nil
	}

	out := make([]emailprovider.Attachment, 0, len(refs))
	for _, ref := range refs {
		att, err := a.fetchAttachment(ctx, ref)
		if err != nil {
			a.logger.Warn().
				Str("filename", ref.Filename).
				Str("url", ref.URL).
				Err(err).
				Msg("email adapter: attachment skipped")
			continue
		}
		out = append(out, att)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (a *Adapter) fetchAttachment(ctx context.Context, ref models.Attachment) (emailprovider.Attachment, error) {
	rawURL, err := util.ValidateHTTPURL(ref.URL)
	if err != nil {
		return emailprovider.Attachment{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return emailprovider.Attachment{}, err
	}

	resp, err := a.attachmentClient.Do(req)
	if err != nil {
		return emailprovider.Attachment{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return emailprovider.Attachment{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
	if err != nil {
		return emailprovider.Attachment{}, err
	}

	filename := strings.TrimSpace(ref.Filename)
	if filename == "" {
		filename = filepath.Base(req.URL.Path)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}

	return emailprovider.Attachment{
		Filename:    filename,
		ContentType: contentType,
		Content:     content,
	}, nil
}

func renderBody(body string) (htmlBody, textBody string, err error) {
	var sb strings.Builder
	data := struct{ Body template.HTML }{Body: template.HTML(paragraphs(body))} // #nosec G203 -- caller supplied content rendered as-is.
	if err := bodyTemplate.Execute(&sb, data); err != nil {
		return "", "", err
	}
	return sb.String(), plainText(body), nil
}

// paragraphs converts blank-line separated text into paragraph markup while
// passing through content that already contains HTML.
func paragraphs(body string) string {
	if strings.Contains(body, "<") && tagPattern.MatchString(body) {
		return body
	}
	blocks := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n")
	var sb strings.Builder
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		sb.WriteString("<p>")
		sb.WriteString(template.HTMLEscapeString(block))
		sb.WriteString("</p>\n")
	}
	return sb.String()
}

// plainText derives the text/plain alternative by stripping markup.
func plainText(body string) string {
	text := tagPattern.ReplaceAllString(body, "")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	return strings.TrimSpace(text)
}
