package sender

import (
	"context"
	"fmt"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Delivery is one message to one recipient.
type Delivery struct {
	OwnerID       int64
	Address       string
	RecipientName string
	CampaignName  string
	// Subject is the email subject, or the provider template name on WhatsApp.
	Subject    string
	Body       string
	Attachment string
}

// Sender delivers a single message over one channel. Any returned error is a
// per-recipient failure.
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, d Delivery) error

func (f SenderFunc) Send(ctx context.Context, d Delivery) error { return f(ctx, d) }

type Registry struct {
	senders map[model.Channel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: map[model.Channel]Sender{}}
}

func (r *Registry) Register(ch model.Channel, s Sender) *Registry {
	r.senders[ch] = s
	return r
}

// For returns the sender bound to ch.
func (r *Registry) For(ch model.Channel) (Sender, error) {
	s, ok := r.senders[ch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", appErrors.ErrUnsupportedChannel, ch)
	}
	return s, nil
}
