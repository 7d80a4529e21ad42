package repository

import (
	"context"
	"database/sql"
	"errors"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type MessageRepositoryInterface interface {
	GetByCampaignID(ctx context.Context, campaignID int64) (*model.Message, error)
}

type MessageRepository struct {
	DB *sql.DB
}

// insertMessage writes the message of a campaign inside the campaign's transaction.
func insertMessage(ctx context.Context, tx *sql.Tx, m *model.Message) error {
	query := `
        INSERT INTO messages (campaign_id, content, attachment_url)
        VALUES ($1, $2, $3)
        RETURNING id
    `
	return tx.QueryRowContext(ctx, query, m.CampaignID, m.Content, m.AttachmentURL).Scan(&m.ID)
}

// GetByCampaignID fetches the message of a campaign
func (r *MessageRepository) GetByCampaignID(ctx context.Context, campaignID int64) (*model.Message, error) {
	query := `
        SELECT id, campaign_id, content, attachment_url
        FROM messages
        WHERE campaign_id=$1
    `
	var (
		m   model.Message
		att sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, query, campaignID).Scan(&m.ID, &m.CampaignID, &m.Content, &att)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewMessageNotFound(campaignID)
		}
		return nil, err
	}
	if att.Valid {
		m.AttachmentURL = &att.String
	}
	return &m, nil
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
