// internal/model/campaign.go
package model

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	StatusPending    CampaignStatus = "pending"
	StatusScheduled  CampaignStatus = "scheduled"
	StatusProcessing CampaignStatus = "processing"
	StatusCompleted  CampaignStatus = "completed"
	StatusFailed     CampaignStatus = "failed"
)

// Channel is the delivery medium of a campaign.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// AudienceType selects how recipients are derived.
type AudienceType string

const (
	AudienceAll    AudienceType = "all"
	AudienceGroup  AudienceType = "group"
	AudienceImport AudienceType = "import"
)

// AudienceSpec is the discriminated audience choice of a campaign.
// GroupID is only meaningful for AudienceGroup and Imported only for AudienceImport.
type AudienceSpec struct {
	Type     AudienceType `json:"audience_type"`
	GroupID  *int64       `json:"group_id,omitempty"`
	Imported []Recipient  `json:"imported_recipients,omitempty"`
}

type Campaign struct {
	ID           int64           `db:"id" json:"id"`
	OwnerID      int64           `db:"owner_id" json:"owner_id"`
	Name         string          `db:"name" json:"name"`
	Channel      Channel         `db:"channel" json:"channel"`
	TemplateName *string         `db:"template_name" json:"template_name,omitempty"`
	Audience     AudienceSpec    `db:"-" json:"audience"`
	Status       CampaignStatus  `db:"status" json:"status"`
	ScheduledAt  *time.Time      `db:"scheduled_at" json:"scheduled_at,omitempty"`
	Results      *ResultsSummary `db:"results" json:"results,omitempty"`
	Error        *string         `db:"error" json:"error,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time      `db:"updated_at" json:"updated_at,omitempty"`
}

// Validate checks the creation-time invariants of a campaign.
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("campaign name is required")
	}
	switch c.Channel {
	case ChannelEmail:
		if c.TemplateName != nil {
			return fmt.Errorf("template name is only allowed for whatsapp campaigns")
		}
	case ChannelWhatsApp:
		if c.TemplateName == nil || strings.TrimSpace(*c.TemplateName) == "" {
			return fmt.Errorf("template name is required for whatsapp campaigns")
		}
	default:
		return fmt.Errorf("invalid channel %q: must be 'email' or 'whatsapp'", c.Channel)
	}
	return c.Audience.Validate()
}

// Validate enforces that exactly one audience source is active.
func (a AudienceSpec) Validate() error {
	switch a.Type {
	case AudienceAll:
		if a.GroupID != nil || len(a.Imported) > 0 {
			return fmt.Errorf("audience 'all' takes no group or imported list")
		}
	case AudienceGroup:
		if a.GroupID == nil {
			return fmt.Errorf("audience 'group' requires a group id")
		}
		if len(a.Imported) > 0 {
			return fmt.Errorf("audience 'group' takes no imported list")
		}
	case AudienceImport:
		if a.GroupID != nil {
			return fmt.Errorf("audience 'import' takes no group id")
		}
		if len(a.Imported) == 0 {
			return fmt.Errorf("audience 'import' requires at least one recipient")
		}
	default:
		return fmt.Errorf("invalid audience type %q", a.Type)
	}
	return nil
}

// IsScheduled reports whether the campaign is due in the future relative to now.
func (c *Campaign) IsScheduled(now time.Time) bool {
	return c.ScheduledAt != nil && c.ScheduledAt.After(now)
}

// Template returns the template name or "" for channels without one.
func (c *Campaign) Template() string {
	if c.TemplateName == nil {
		return ""
	}
	return *c.TemplateName
}
