// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	// ErrClaimConflict means the campaign is already processing or finished.
	ErrClaimConflict = errors.New("campaign already in progress or finished")
	// ErrInvalidAudience covers malformed audience specifications.
	ErrInvalidAudience = errors.New("invalid audience specification")
	// ErrValidation wraps input validation failures.
	ErrValidation = errors.New("validation failed")
	// ErrUnsupportedChannel is returned when no sender is registered for a channel.
	ErrUnsupportedChannel = errors.New("unsupported channel")
)

// ErrCampaignNotFound is returned when a campaign id does not resolve
type ErrCampaignNotFound struct {
	CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int64) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrGroupNotFound struct {
	GroupID int64
}

func (e *ErrGroupNotFound) Error() string {
	return fmt.Sprintf("group with ID %d not found", e.GroupID)
}

func NewGroupNotFound(id int64) error {
	return &ErrGroupNotFound{GroupID: id}
}

type ErrMessageNotFound struct {
	CampaignID int64
}

func (e *ErrMessageNotFound) Error() string {
	return fmt.Sprintf("message for campaign %d not found", e.CampaignID)
}

func NewMessageNotFound(campaignID int64) error {
	return &ErrMessageNotFound{CampaignID: campaignID}
}

// ErrProviderNotFound means the owner has no credentials for a channel.
type ErrProviderNotFound struct {
	Channel string
	OwnerID int64
}

func (e *ErrProviderNotFound) Error() string {
	return fmt.Sprintf("no %s provider configured for user %d", e.Channel, e.OwnerID)
}

func NewProviderNotFound(channel string, ownerID int64) error {
	return &ErrProviderNotFound{Channel: channel, OwnerID: ownerID}
}

// Validation wraps msg as an ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err is any of the not-found errors.
func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var g *ErrGroupNotFound
	var m *ErrMessageNotFound
	return errors.As(err, &c) || errors.As(err, &g) || errors.As(err, &m)
}
