package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// ProviderRepositoryInterface reads per-owner channel credentials.
type ProviderRepositoryInterface interface {
	EmailProvider(ctx context.Context, ownerID int64) (*model.EmailProvider, error)
	WhatsAppProvider(ctx context.Context, ownerID int64) (*model.WhatsAppProvider, error)
}

// Stores bundles one backend's repositories.
type Stores struct {
	Campaigns CampaignRepositoryInterface
	Messages  MessageRepositoryInterface
	Customers CustomerRepositoryInterface
	Providers ProviderRepositoryInterface
}

func NewPostgresStores(db *sql.DB) Stores {
	return Stores{
		Campaigns: &CampaignRepository{DB: db},
		Messages:  &MessageRepository{DB: db},
		Customers: &CustomerRepository{DB: db},
		Providers: &ProviderRepository{DB: db},
	}
}

func (s *MemoryStore) Stores() Stores {
	return Stores{Campaigns: s, Messages: s, Customers: s, Providers: s}
}

var (
	_ ProviderRepositoryInterface = (*ProviderRepository)(nil)
	_ ProviderRepositoryInterface = (*MemoryStore)(nil)
)
