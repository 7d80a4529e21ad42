package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// MemoryStore keeps campaigns, messages, customers, groups and provider
// credentials in process memory. It implements every repository interface
// and is used by STORE=memory and by tests. All status changes happen under
// one mutex, which is what makes Claim atomic here.
type MemoryStore struct {
	mu sync.Mutex

	nextCampaignID int64
	nextMessageID  int64
	nextCustomerID int64
	nextGroupID    int64

	campaigns map[int64]*model.Campaign
	messages  map[int64]*model.Message // by campaign id
	customers map[int64]model.Customer
	groups    map[int64]model.Group
	email     map[int64]model.EmailProvider
	whatsapp  map[int64]model.WhatsAppProvider

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: map[int64]*model.Campaign{},
		messages:  map[int64]*model.Message{},
		customers: map[int64]model.Customer{},
		groups:    map[int64]model.Group{},
		email:     map[int64]model.EmailProvider{},
		whatsapp:  map[int64]model.WhatsAppProvider{},
		now:       time.Now,
	}
}

// clone deep-copies a campaign so callers never alias stored state.
func clone(c *model.Campaign) *model.Campaign {
	b, _ := json.Marshal(c)
	var out model.Campaign
	_ = json.Unmarshal(b, &out)
	out.ID = c.ID
	out.OwnerID = c.OwnerID
	return &out
}

// ====================== Seeding ======================

func (s *MemoryStore) AddCustomer(c model.Customer) model.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCustomerID++
	c.ID = s.nextCustomerID
	s.customers[c.ID] = c
	return c
}

func (s *MemoryStore) AddGroup(g model.Group) model.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGroupID++
	g.ID = s.nextGroupID
	g.CustomerIDs = append([]int64(nil), g.CustomerIDs...)
	s.groups[g.ID] = g
	return g
}

func (s *MemoryStore) SetEmailProvider(p model.EmailProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email[p.OwnerID] = p
}

func (s *MemoryStore) SetWhatsAppProvider(p model.WhatsAppProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whatsapp[p.OwnerID] = p
}

// ====================== Campaigns ======================

func (s *MemoryStore) Create(_ context.Context, c *model.Campaign, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCampaignID++
	s.nextMessageID++
	c.ID = s.nextCampaignID
	c.CreatedAt = s.now()
	m.ID = s.nextMessageID
	m.CampaignID = c.ID

	s.campaigns[c.ID] = clone(c)
	msg := *m
	s.messages[c.ID] = &msg
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id int64) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return clone(c), nil
}

func (s *MemoryStore) ListCampaigns(_ context.Context, ownerID int64, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var filtered []*model.Campaign
	for _, c := range s.campaigns {
		if c.OwnerID != ownerID {
			continue
		}
		if channel != "" && string(c.Channel) != channel {
			continue
		}
		if status != "" && string(c.Status) != status {
			continue
		}
		filtered = append(filtered, c)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID > filtered[j].ID })

	total := len(filtered)
	out := []*model.Campaign{}
	for i := offset; i < total && i < offset+limit; i++ {
		out = append(out, clone(filtered[i]))
	}
	return out, total, nil
}

func (s *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := []*model.Campaign{}
	for _, c := range s.campaigns {
		if c.Status == model.StatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			due = append(due, clone(c))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(*due[j].ScheduledAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledAt.Before(*due[j].ScheduledAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) Claim(_ context.Context, id int64) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	if !c.Status.IsClaimable() {
		return nil, fmt.Errorf("%w: status is %s", appErrors.ErrClaimConflict, c.Status)
	}
	s.transition(c, model.StatusProcessing)
	c.Error = nil
	return clone(c), nil
}

func (s *MemoryStore) Complete(_ context.Context, id int64, results model.ResultsSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.processing(id)
	if err != nil {
		return err
	}
	s.transition(c, model.StatusCompleted)
	r := results
	r.Details = append([]model.DeliveryResult{}, results.Details...)
	c.Results = &r
	c.Error = nil
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.processing(id)
	if err != nil {
		return err
	}
	s.transition(c, model.StatusFailed)
	c.Results = nil
	c.Error = &reason
	return nil
}

func (s *MemoryStore) processing(id int64) (*model.Campaign, error) {
	c, ok := s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	if c.Status != model.StatusProcessing {
		return nil, fmt.Errorf("%w: status is %s", appErrors.ErrClaimConflict, c.Status)
	}
	return c, nil
}

func (s *MemoryStore) transition(c *model.Campaign, to model.CampaignStatus) {
	now := s.now()
	c.Status = to
	c.UpdatedAt = &now
}

// ====================== Messages ======================

func (s *MemoryStore) GetByCampaignID(_ context.Context, campaignID int64) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[campaignID]
	if !ok {
		return nil, appErrors.NewMessageNotFound(campaignID)
	}
	out := *m
	return &out, nil
}

// ====================== Customers ======================

func (s *MemoryStore) ListByOwner(_ context.Context, ownerID int64) ([]model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Customer{}
	for _, c := range s.customers {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListGroupMembers(_ context.Context, ownerID, groupID int64) ([]model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok || g.OwnerID != ownerID {
		return nil, appErrors.NewGroupNotFound(groupID)
	}
	out := []model.Customer{}
	for _, id := range g.CustomerIDs {
		if c, ok := s.customers[id]; ok && c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) GroupExists(_ context.Context, ownerID, groupID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	return ok && g.OwnerID == ownerID, nil
}

// ====================== Providers ======================

func (s *MemoryStore) EmailProvider(_ context.Context, ownerID int64) (*model.EmailProvider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.email[ownerID]
	if !ok {
		return nil, appErrors.NewProviderNotFound(string(model.ChannelEmail), ownerID)
	}
	return &p, nil
}

func (s *MemoryStore) WhatsAppProvider(_ context.Context, ownerID int64) (*model.WhatsAppProvider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.whatsapp[ownerID]
	if !ok {
		return nil, appErrors.NewProviderNotFound(string(model.ChannelWhatsApp), ownerID)
	}
	return &p, nil
}

var (
	_ CampaignRepositoryInterface = (*MemoryStore)(nil)
	_ MessageRepositoryInterface  = (*MemoryStore)(nil)
	_ CustomerRepositoryInterface = (*MemoryStore)(nil)
)
