package audience

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// CustomerSource lists every customer owned by a user.
type CustomerSource interface {
	ListByOwner(ctx context.Context, ownerID int64) ([]model.Customer, error)
}

// GroupSource returns the members of a group scoped to its owner, in group
// order. A missing group must be reported as *appErrors.ErrGroupNotFound.
type GroupSource interface {
	ListGroupMembers(ctx context.Context, ownerID, groupID int64) ([]model.Customer, error)
}

type Resolver struct {
	Customers CustomerSource
	Groups    GroupSource
	Logger    *zap.Logger
}

func NewResolver(customers CustomerSource, groups GroupSource, log *zap.Logger) *Resolver {
	return &Resolver{Customers: customers, Groups: groups, Logger: logger.OrNop(log)}
}

// Resolve produces the ordered, deduplicated recipient list for a campaign.
func (r *Resolver) Resolve(ctx context.Context, c *model.Campaign) ([]model.Recipient, error) {
	var (
		recipients []model.Recipient
		err        error
	)
	switch c.Audience.Type {
	case model.AudienceAll:
		recipients, err = r.fromCustomers(r.Customers.ListByOwner(ctx, c.OwnerID))
	case model.AudienceGroup:
		if c.Audience.GroupID == nil {
			return nil, fmt.Errorf("%w: group audience without group id", appErrors.ErrInvalidAudience)
		}
		recipients, err = r.fromCustomers(r.Groups.ListGroupMembers(ctx, c.OwnerID, *c.Audience.GroupID))
	case model.AudienceImport:
		// imported rows were normalized at creation; only dedupe here
		recipients = Dedupe(c.Audience.Imported)
	default:
		return nil, fmt.Errorf("%w: unknown audience type %q", appErrors.ErrInvalidAudience, c.Audience.Type)
	}
	if err != nil {
		return nil, err
	}

	logger.OrNop(r.Logger).Debug("audience resolved",
		zap.Int64("campaign_id", c.ID),
		zap.String("audience_type", string(c.Audience.Type)),
		zap.Int("recipients", len(recipients)))
	return recipients, nil
}

func (r *Resolver) fromCustomers(customers []model.Customer, err error) ([]model.Recipient, error) {
	if err != nil {
		return nil, err
	}
	recs := make([]SourceRecord, len(customers))
	for i, c := range customers {
		recs[i] = FromCustomer(c)
	}
	return NormalizeAll(recs), nil
}
