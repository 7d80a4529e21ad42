// internal/model/delivery.go
package model

// Recipient is the canonical, channel-agnostic delivery target.
type Recipient struct {
	ID    *int64  `json:"id,omitempty"`
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

// Address returns the channel-relevant address, or "" when absent.
func (r Recipient) Address(ch Channel) string {
	var p *string
	switch ch {
	case ChannelEmail:
		p = r.Email
	case ChannelWhatsApp:
		p = r.Phone
	}
	if p == nil {
		return ""
	}
	return *p
}

// DeliveryOutcome is the per-recipient result of one send attempt.
type DeliveryOutcome string

const (
	OutcomeSent   DeliveryOutcome = "sent"
	OutcomeFailed DeliveryOutcome = "failed"
)

type DeliveryResult struct {
	RecipientID *int64          `json:"recipient_id,omitempty"`
	Name        string          `json:"name"`
	Address     string          `json:"address"`
	Outcome     DeliveryOutcome `json:"outcome"`
	Error       string          `json:"error,omitempty"`
}

// ResultsSummary is the aggregate of one processing pass.
type ResultsSummary struct {
	RunID          string           `json:"run_id,omitempty"`
	TotalProcessed int              `json:"total_processed"`
	SuccessCount   int              `json:"success_count"`
	FailureCount   int              `json:"failure_count"`
	Details        []DeliveryResult `json:"details"`
}
