package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// WhatsAppProviderSource returns messaging API credentials for an owner.
type WhatsAppProviderSource interface {
	WhatsAppProvider(ctx context.Context, ownerID int64) (*model.WhatsAppProvider, error)
}

type WhatsAppSender struct {
	Providers   WhatsAppProviderSource
	Client      *http.Client
	APIURL      string
	UserName    string
	CountryCode string
	LocalLength int
	Logger      *zap.Logger
}

func NewWhatsAppSender(providers WhatsAppProviderSource, apiURL, userName, countryCode string, localLength int, log *zap.Logger) *WhatsAppSender {
	return &WhatsAppSender{
		Providers:   providers,
		Client:      &http.Client{Timeout: 10 * time.Second},
		APIURL:      apiURL,
		UserName:    userName,
		CountryCode: countryCode,
		LocalLength: localLength,
		Logger:      logger.OrNop(log),
	}
}

type whatsAppMedia struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type whatsAppPayload struct {
	APIKey              string            `json:"apiKey"`
	CampaignName        string            `json:"campaignName"`
	Destination         string            `json:"destination"`
	UserName            string            `json:"userName"`
	TemplateName        string            `json:"templateName"`
	TemplateParams      []string          `json:"templateParams"`
	Source              string            `json:"source"`
	ParamsFallbackValue map[string]string `json:"paramsFallbackValue"`
	Media               *whatsAppMedia    `json:"media,omitempty"`
}

// FormatPhone strips everything but digits and prefixes countryCode when the
// number has exactly localLength digits and lacks the code.
func FormatPhone(raw, countryCode string, localLength int) (string, error) {
	var b strings.Builder
	for _, c := range raw {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	phone := b.String()
	if phone == "" {
		return "", fmt.Errorf("invalid phone number format: %q", raw)
	}
	if countryCode != "" && len(phone) == localLength && !strings.HasPrefix(phone, countryCode) {
		phone = countryCode + phone
	}
	return phone, nil
}

func (s *WhatsAppSender) Send(ctx context.Context, d Delivery) error {
	if d.Subject == "" {
		return fmt.Errorf("missing template name")
	}
	provider, err := s.Providers.WhatsAppProvider(ctx, d.OwnerID)
	if err != nil {
		return err
	}
	if provider.APIKey == "" {
		return fmt.Errorf("WhatsApp API key not configured")
	}

	phone, err := FormatPhone(d.Address, s.CountryCode, s.LocalLength)
	if err != nil {
		return err
	}

	name := d.RecipientName
	if name == "" {
		name = "user"
	}
	payload := whatsAppPayload{
		APIKey:              provider.APIKey,
		CampaignName:        d.CampaignName,
		Destination:         phone,
		UserName:            s.UserName,
		TemplateName:        d.Subject,
		TemplateParams:      []string{name},
		Source:              "campaign",
		ParamsFallbackValue: map[string]string{"FirstName": name},
	}
	if d.Attachment != "" {
		payload.Media = &whatsAppMedia{URL: d.Attachment, Filename: "attachment"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal WhatsApp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create WhatsApp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("WhatsApp HTTP error: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to send WhatsApp | Status=%d | Response=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	s.Logger.Debug("whatsapp sent",
		zap.String("recipient", phone),
		zap.String("template", d.Subject),
		zap.Duration("duration", time.Since(start)))
	return nil
}
