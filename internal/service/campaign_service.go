// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/audience"
	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/scheduler"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	CustomerRepo repository.CustomerRepositoryInterface
	Lifecycle    *Lifecycle
	Queue        queue.Queue
	Topic        string
	Clock        scheduler.Clock
	Logger       *zap.Logger
}

// CreateCampaignInput is the body of a campaign creation request.
type CreateCampaignInput struct {
	Name               string                  `json:"name"`
	Channel            string                  `json:"channel"`
	TemplateName       *string                 `json:"template_name,omitempty"`
	AudienceType       string                  `json:"audience_type"`
	GroupID            *int64                  `json:"group_id,omitempty"`
	ImportedRecipients []audience.SourceRecord `json:"imported_recipients,omitempty"`
	Content            string                  `json:"content"`
	AttachmentURL      *string                 `json:"attachment_url,omitempty"`
	ScheduledAt        *time.Time              `json:"scheduled_at,omitempty"`
}

// CampaignStatusView is what status polling returns.
type CampaignStatusView struct {
	ID          int64                 `json:"id"`
	Name        string                `json:"name"`
	Status      model.CampaignStatus  `json:"status"`
	ScheduledAt *time.Time            `json:"scheduled_at,omitempty"`
	Results     *model.ResultsSummary `json:"results,omitempty"`
	Error       *string               `json:"error,omitempty"`
	UpdatedAt   *time.Time            `json:"updated_at,omitempty"`
}

func (s *CampaignService) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *CampaignService) topic() string {
	if s.Topic == "" {
		return queue.TopicCampaignDispatch
	}
	return s.Topic
}

// CreateCampaign stores a campaign with its message. A campaign scheduled in
// the future waits for the scheduler; any other campaign is claimed and
// handed off right away and comes back in processing. If the claim fails the
// stored pending campaign is returned together with the error.
func (s *CampaignService) CreateCampaign(ctx context.Context, ownerID int64, in CreateCampaignInput) (*model.Campaign, error) {
	c, m, err := s.buildCampaign(ownerID, in)
	if err != nil {
		return nil, err
	}

	if c.Audience.Type == model.AudienceGroup {
		ok, err := s.CustomerRepo.GroupExists(ctx, ownerID, *c.Audience.GroupID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, appErrors.NewGroupNotFound(*c.Audience.GroupID)
		}
	}

	if err := s.CampaignRepo.Create(ctx, c, m); err != nil {
		return nil, err
	}

	log := logger.OrNop(s.Logger).With(zap.Int64("campaign_id", c.ID))
	if c.Status == model.StatusScheduled {
		log.Info("campaign scheduled", zap.Time("scheduled_at", *c.ScheduledAt))
		return c, nil
	}

	claimed, err := s.Lifecycle.Claim(ctx, c.ID)
	if err != nil {
		// the row is stored as pending; the scheduler only picks up scheduled
		// campaigns, so the caller gets it back to retry with send-now
		log.Error("campaign stored but not claimed", zap.Error(err))
		return c, fmt.Errorf("campaign %d created but not started: %w", c.ID, err)
	}
	if err := s.Handoff(ctx, claimed); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *CampaignService) buildCampaign(ownerID int64, in CreateCampaignInput) (*model.Campaign, *model.Message, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, nil, appErrors.Validation("message content is required")
	}

	c := &model.Campaign{
		OwnerID:      ownerID,
		Name:         strings.TrimSpace(in.Name),
		Channel:      model.Channel(strings.ToLower(strings.TrimSpace(in.Channel))),
		TemplateName: in.TemplateName,
		Audience: model.AudienceSpec{
			Type:    model.AudienceType(strings.ToLower(strings.TrimSpace(in.AudienceType))),
			GroupID: in.GroupID,
		},
		Status: model.StatusPending,
	}
	if len(in.ImportedRecipients) > 0 {
		c.Audience.Imported = audience.NormalizeAll(in.ImportedRecipients)
	}
	if err := c.Validate(); err != nil {
		return nil, nil, appErrors.Validation("%s", err.Error())
	}

	if in.ScheduledAt != nil {
		at := in.ScheduledAt.UTC()
		c.ScheduledAt = &at
		if c.IsScheduled(s.now()) {
			c.Status = model.StatusScheduled
		}
	}

	m := &model.Message{Content: in.Content}
	if in.AttachmentURL != nil && strings.TrimSpace(*in.AttachmentURL) != "" {
		att := strings.TrimSpace(*in.AttachmentURL)
		m.AttachmentURL = &att
	}
	return c, m, nil
}

// Handoff publishes a claimed campaign for dispatch. If nothing can take it,
// the campaign is failed so it does not sit in processing forever.
func (s *CampaignService) Handoff(ctx context.Context, c *model.Campaign) error {
	err := s.Queue.Publish(ctx, s.topic(), c.ID)
	if err == nil {
		return nil
	}

	cause := fmt.Errorf("dispatch hand-off failed: %w", err)
	if ferr := s.Lifecycle.Fail(context.WithoutCancel(ctx), c.ID, cause); ferr != nil {
		logger.OrNop(s.Logger).Error("record hand-off failure",
			zap.Int64("campaign_id", c.ID), zap.NamedError("cause", err), zap.Error(ferr))
	}
	return cause
}

// SendNow claims an owner's pending or scheduled campaign immediately.
func (s *CampaignService) SendNow(ctx context.Context, ownerID, id int64) (*model.Campaign, error) {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return nil, err
	}
	claimed, err := s.Lifecycle.Claim(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Handoff(ctx, claimed); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *CampaignService) GetStatus(ctx context.Context, ownerID, id int64) (*CampaignStatusView, error) {
	c, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return &CampaignStatusView{
		ID:          c.ID,
		Name:        c.Name,
		Status:      c.Status,
		ScheduledAt: c.ScheduledAt,
		Results:     c.Results,
		Error:       c.Error,
		UpdatedAt:   c.UpdatedAt,
	}, nil
}

// GetCampaignDetails fetches a campaign by ID
func (s *CampaignService) GetCampaignDetails(ctx context.Context, ownerID, id int64) (*model.Campaign, error) {
	return s.owned(ctx, ownerID, id)
}

// owned hides campaigns of other owners behind a not-found error.
func (s *CampaignService) owned(ctx context.Context, ownerID, id int64) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, ownerID int64, page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if channel != "" && channel != string(model.ChannelEmail) && channel != string(model.ChannelWhatsApp) {
		return nil, nil, appErrors.Validation("invalid channel filter %q", channel)
	}
	if status != "" && !model.CampaignStatus(status).Valid() {
		return nil, nil, appErrors.Validation("invalid status filter %q", status)
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, ownerID, offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// IsConflict reports whether err is a claim or transition conflict.
func IsConflict(err error) bool {
	return errors.Is(err, appErrors.ErrClaimConflict)
}
