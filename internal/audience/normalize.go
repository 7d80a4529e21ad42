package audience

import (
	"strconv"
	"strings"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// DefaultName is used when a record carries no usable name.
const DefaultName = "User"

// SourceRecord is any raw audience record. Stored customers, imported rows
// and group members use different field names for the same data; every
// variant is accepted here and resolved by Normalize.
type SourceRecord struct {
	ID          *int64 `json:"id,omitempty"`
	FullName    string `json:"fullName,omitempty"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// FromCustomer maps a stored customer onto a SourceRecord.
func FromCustomer(c model.Customer) SourceRecord {
	id := c.ID
	return SourceRecord{
		ID:          &id,
		FullName:    c.FullName,
		Email:       c.Email,
		PhoneNumber: c.PhoneNumber,
	}
}

// FromRecipient maps an already normalized recipient back onto a SourceRecord.
func FromRecipient(r model.Recipient) SourceRecord {
	rec := SourceRecord{ID: r.ID, Name: r.Name}
	if r.Email != nil {
		rec.Email = *r.Email
	}
	if r.Phone != nil {
		rec.Phone = *r.Phone
	}
	return rec
}

// Normalize applies name := fullName ?? name ?? "User", email := email,
// phone := phone ?? phoneNumber. Blank values count as absent.
func Normalize(rec SourceRecord) model.Recipient {
	r := model.Recipient{
		ID:   rec.ID,
		Name: firstNonBlank(rec.FullName, rec.Name),
	}
	if r.Name == "" {
		r.Name = DefaultName
	}
	if email := firstNonBlank(rec.Email); email != "" {
		r.Email = &email
	}
	if phone := firstNonBlank(rec.Phone, rec.PhoneNumber); phone != "" {
		r.Phone = &phone
	}
	return r
}

// NormalizeAll normalizes records and drops duplicates, keeping first-seen order.
func NormalizeAll(recs []SourceRecord) []model.Recipient {
	out := make([]model.Recipient, 0, len(recs))
	seen := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		r := Normalize(rec)
		if key := identity(r); key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, r)
	}
	return out
}

// Dedupe removes duplicate recipients by identity, keeping first-seen order.
func Dedupe(rs []model.Recipient) []model.Recipient {
	recs := make([]SourceRecord, len(rs))
	for i, r := range rs {
		recs[i] = FromRecipient(r)
	}
	return NormalizeAll(recs)
}

// identity is the stored id when present, otherwise the lower-cased email,
// otherwise the phone digits. "" means the record cannot be deduplicated.
func identity(r model.Recipient) string {
	if r.ID != nil {
		return "id:" + strconv.FormatInt(*r.ID, 10)
	}
	if r.Email != nil {
		return "email:" + strings.ToLower(*r.Email)
	}
	if r.Phone != nil {
		if d := digits(*r.Phone); d != "" {
			return "phone:" + d
		}
	}
	return ""
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func digits(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}
