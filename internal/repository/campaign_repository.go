package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// CampaignRepositoryInterface is the campaign storage used by the service layer.
// Claim, Complete and Fail are the only operations that change status.
type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign, m *model.Message) error
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, ownerID int64, offset, limit int, channel, status string) ([]*model.Campaign, int, error)

	// ListDue returns scheduled campaigns whose scheduled_at is not after now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error)
	// Claim moves a pending or scheduled campaign to processing in one
	// conditional write and returns the claimed row.
	Claim(ctx context.Context, id int64) (*model.Campaign, error)
	Complete(ctx context.Context, id int64, results model.ResultsSummary) error
	Fail(ctx context.Context, id int64, reason string) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, owner_id, name, channel, template_name, audience_type, group_id,
    imported_recipients, status, scheduled_at, results, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c        model.Campaign
		audience string
		template sql.NullString
		groupID  sql.NullInt64
		imported []byte
		results  []byte
		errText  sql.NullString
	)
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Channel, &template, &audience, &groupID,
		&imported, &c.Status, &c.ScheduledAt, &results, &errText, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.Audience.Type = model.AudienceType(audience)
	if template.Valid {
		c.TemplateName = &template.String
	}
	if groupID.Valid {
		c.Audience.GroupID = &groupID.Int64
	}
	if errText.Valid {
		c.Error = &errText.String
	}
	if len(imported) > 0 {
		if err := json.Unmarshal(imported, &c.Audience.Imported); err != nil {
			return nil, fmt.Errorf("decode imported recipients: %w", err)
		}
	}
	if len(results) > 0 {
		var s model.ResultsSummary
		if err := json.Unmarshal(results, &s); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
		c.Results = &s
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

// Create inserts the campaign and its message in one transaction.
func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign, m *model.Message) error {
	imported := c.Audience.Imported
	if imported == nil {
		imported = []model.Recipient{}
	}
	importedJSON, err := json.Marshal(imported)
	if err != nil {
		return err
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO campaigns (owner_id, name, channel, template_name, audience_type, group_id,
                               imported_recipients, status, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
        RETURNING id, created_at
    `
	err = tx.QueryRowContext(ctx, query, c.OwnerID, c.Name, string(c.Channel), c.TemplateName, string(c.Audience.Type),
		c.Audience.GroupID, string(importedJSON), string(c.Status), c.ScheduledAt).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return err
	}

	m.CampaignID = c.ID
	if err := insertMessage(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, ownerID int64, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	where := ` WHERE owner_id=$1`
	args := []any{ownerID}
	if channel != "" {
		args = append(args, channel)
		where += fmt.Sprintf(" AND channel=$%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(" AND status=$%d", len(args))
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

// ====================== Lifecycle ======================

func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
        ORDER BY scheduled_at, id
        LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, string(model.StatusScheduled), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	due := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, c)
	}
	return due, rows.Err()
}

func (r *CampaignRepository) Claim(ctx context.Context, id int64) (*model.Campaign, error) {
	claimable := make([]string, 0, 2)
	for _, s := range model.Claimable() {
		claimable = append(claimable, string(s))
	}
	query := `
        UPDATE campaigns
        SET status=$1, error=NULL, updated_at=NOW()
        WHERE id=$2 AND status = ANY($3)
        RETURNING ` + campaignColumns
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, string(model.StatusProcessing), id, pq.Array(claimable)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.claimMiss(ctx, id)
	}
	return c, err
}

// claimMiss explains why a conditional update touched no row.
func (r *CampaignRepository) claimMiss(ctx context.Context, id int64) error {
	var status string
	err := r.DB.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.NewCampaignNotFound(id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: status is %s", appErrors.ErrClaimConflict, status)
}

func (r *CampaignRepository) Complete(ctx context.Context, id int64, results model.ResultsSummary) error {
	b, err := json.Marshal(results)
	if err != nil {
		return err
	}
	query := `
        UPDATE campaigns
        SET status=$1, results=$2, error=NULL, updated_at=NOW()
        WHERE id=$3 AND status=$4
    `
	return r.execTransition(ctx, id, query, string(model.StatusCompleted), string(b), id, string(model.StatusProcessing))
}

func (r *CampaignRepository) Fail(ctx context.Context, id int64, reason string) error {
	query := `
        UPDATE campaigns
        SET status=$1, error=$2, results=NULL, updated_at=NOW()
        WHERE id=$3 AND status=$4
    `
	return r.execTransition(ctx, id, query, string(model.StatusFailed), reason, id, string(model.StatusProcessing))
}

func (r *CampaignRepository) execTransition(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.claimMiss(ctx, id)
	}
	return nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
