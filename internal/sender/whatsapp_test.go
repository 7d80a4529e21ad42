package sender

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type stubWhatsAppProviders struct {
	provider *model.WhatsAppProvider
}

func (s stubWhatsAppProviders) WhatsAppProvider(_ context.Context, owner int64) (*model.WhatsAppProvider, error) {
	if s.provider == nil {
		return nil, appErrors.NewProviderNotFound("whatsapp", owner)
	}
	return s.provider, nil
}

func TestFormatPhone(t *testing.T) {
	cases := []struct {
		raw, want string
		wantErr   bool
	}{
		{raw: "9876543210", want: "919876543210"},
		{raw: "+91 98765-43210", want: "919876543210"},
		{raw: "919876543210", want: "919876543210"},
		{raw: "12345", want: "12345"},
		{raw: "abc", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := FormatPhone(tc.raw, "91", 10)
		if tc.wantErr {
			assert.Error(t, err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestWhatsAppSender_Send(t *testing.T) {
	var got whatsAppPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	s := NewWhatsAppSender(stubWhatsAppProviders{provider: &model.WhatsAppProvider{APIKey: "key-1"}}, srv.URL, "Acme", "91", 10, nil)
	err := s.Send(context.Background(), Delivery{
		OwnerID:       3,
		Address:       "9876543210",
		RecipientName: "Asha",
		CampaignName:  "Diwali",
		Subject:       "diwali_offer",
		Attachment:    "https://cdn.example.com/banner.png",
	})

	require.NoError(t, err)
	assert.Equal(t, "key-1", got.APIKey)
	assert.Equal(t, "919876543210", got.Destination)
	assert.Equal(t, "diwali_offer", got.TemplateName)
	assert.Equal(t, []string{"Asha"}, got.TemplateParams)
	assert.Equal(t, "Asha", got.ParamsFallbackValue["FirstName"])
	assert.Equal(t, "campaign", got.Source)
	require.NotNil(t, got.Media)
	assert.Equal(t, "https://cdn.example.com/banner.png", got.Media.URL)
}

func TestWhatsAppSender_ProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "template not approved", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewWhatsAppSender(stubWhatsAppProviders{provider: &model.WhatsAppProvider{APIKey: "k"}}, srv.URL, "Acme", "91", 10, nil)
	err := s.Send(context.Background(), Delivery{Address: "9876543210", Subject: "t"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Status=400")
	assert.Contains(t, err.Error(), "template not approved")
}

func TestWhatsAppSender_MissingCredentialsOrTemplate(t *testing.T) {
	s := NewWhatsAppSender(stubWhatsAppProviders{}, "http://unused", "Acme", "91", 10, nil)

	err := s.Send(context.Background(), Delivery{OwnerID: 9, Address: "9876543210", Subject: "t"})
	var notFound *appErrors.ErrProviderNotFound
	assert.ErrorAs(t, err, &notFound)

	err = s.Send(context.Background(), Delivery{OwnerID: 9, Address: "9876543210"})
	assert.EqualError(t, err, "missing template name")

	s.Providers = stubWhatsAppProviders{provider: &model.WhatsAppProvider{}}
	err = s.Send(context.Background(), Delivery{OwnerID: 9, Address: "9876543210", Subject: "t"})
	assert.EqualError(t, err, "WhatsApp API key not configured")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry().Register(model.ChannelEmail, SenderFunc(func(context.Context, Delivery) error { return nil }))

	s, err := r.For(model.ChannelEmail)
	require.NoError(t, err)
	assert.NoError(t, s.Send(context.Background(), Delivery{}))

	_, err = r.For(model.ChannelWhatsApp)
	assert.ErrorIs(t, err, appErrors.ErrUnsupportedChannel)
}
