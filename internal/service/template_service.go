// internal/service/template_service.go
package service

import (
	"sort"
	"strings"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// RenderTemplate replaces every {key} in template with data[key] in a single
// pass, so substituted values are never expanded again.
func RenderTemplate(template string, data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(data)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", data[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Personalize renders the {name}, {email} and {phone} placeholders for one recipient.
func Personalize(content string, r model.Recipient) string {
	if !strings.Contains(content, "{") {
		return content
	}
	return RenderTemplate(content, map[string]string{
		"name":  r.Name,
		"email": deref(r.Email),
		"phone": deref(r.Phone),
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
