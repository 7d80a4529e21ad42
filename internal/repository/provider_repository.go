package repository

import (
	"context"
	"database/sql"
	"errors"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// ProviderRepository reads per-owner channel credentials. Credential CRUD lives elsewhere.
type ProviderRepository struct {
	DB *sql.DB
}

func (r *ProviderRepository) EmailProvider(ctx context.Context, ownerID int64) (*model.EmailProvider, error) {
	query := `
        SELECT created_by, provider, email_address, password, smtp_host, smtp_port
        FROM email_providers WHERE created_by=$1
    `
	var p model.EmailProvider
	err := r.DB.QueryRowContext(ctx, query, ownerID).Scan(&p.OwnerID, &p.Provider, &p.EmailAddress, &p.Password, &p.SMTPHost, &p.SMTPPort)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewProviderNotFound(string(model.ChannelEmail), ownerID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProviderRepository) WhatsAppProvider(ctx context.Context, ownerID int64) (*model.WhatsAppProvider, error) {
	query := `
        SELECT created_by, provider, api_key, whatsapp_number
        FROM whatsapp_providers WHERE created_by=$1
    `
	var p model.WhatsAppProvider
	err := r.DB.QueryRowContext(ctx, query, ownerID).Scan(&p.OwnerID, &p.Provider, &p.APIKey, &p.WhatsAppNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewProviderNotFound(string(model.ChannelWhatsApp), ownerID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
