// internal/model/customer.go
package model

// Customer is a stored audience record owned by a user.
type Customer struct {
	ID          int64  `db:"id" json:"id"`
	OwnerID     int64  `db:"created_by" json:"created_by"`
	FullName    string `db:"full_name" json:"full_name"`
	Email       string `db:"email" json:"email"`
	PhoneNumber string `db:"phone_number" json:"phone_number"`
	GroupID     *int64 `db:"group_id" json:"group_id,omitempty"`
}

// Group is a named, ordered list of customers owned by a user.
type Group struct {
	ID          int64   `db:"id" json:"id"`
	OwnerID     int64   `db:"created_by" json:"created_by"`
	Name        string  `db:"name" json:"name"`
	CustomerIDs []int64 `db:"customer_ids" json:"customer_ids"`
}

// Message is the content payload of a campaign.
type Message struct {
	ID            int64   `db:"id" json:"id"`
	CampaignID    int64   `db:"campaign_id" json:"campaign_id"`
	Content       string  `db:"content" json:"content"`
	AttachmentURL *string `db:"attachment_url" json:"attachment_url,omitempty"`
}

// Attachment returns the attachment reference or "".
func (m *Message) Attachment() string {
	if m == nil || m.AttachmentURL == nil {
		return ""
	}
	return *m.AttachmentURL
}

// EmailProvider holds SMTP credentials for one owner.
type EmailProvider struct {
	OwnerID      int64  `db:"created_by"`
	Provider     string `db:"provider"`
	EmailAddress string `db:"email_address"`
	Password     string `db:"password"`
	SMTPHost     string `db:"smtp_host"`
	SMTPPort     int    `db:"smtp_port"`
}

// WhatsAppProvider holds messaging API credentials for one owner.
type WhatsAppProvider struct {
	OwnerID        int64  `db:"created_by"`
	Provider       string `db:"provider"`
	APIKey         string `db:"api_key"`
	WhatsAppNumber string `db:"whatsapp_number"`
}
