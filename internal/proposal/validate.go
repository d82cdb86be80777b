package proposal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"pitchdesk/api/internal/util"
)

const (
	defaultCurrency = "EUR"
	maxShortField   = 200
	maxLongField    = 20000
	dateLayout      = "2006-01-02"
)

// DefaultContent is the content of an empty proposal.
func DefaultContent() Content {
	return Content{
		Pricing: Pricing{
			Currency: defaultCurrency,
			Items:    []PriceItem{},
		},
	}
}

// ValidateContent decodes a raw proposal payload and fills defaults. On
// failure it returns a *ValidationError together with the best-effort
// defaulted content, which lenient callers may store instead.
func ValidateContent(raw json.RawMessage) (Content, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return DefaultContent(), nil
	}

	var content Content
	if err := json.Unmarshal(trimmed, &content); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return DefaultContent(), fieldError(typeErr.Field, fmt.Sprintf("must be %s", typeErr.Type.Kind()))
		}
		return DefaultContent(), fieldError("proposal", "must be a JSON object")
	}

	normalized, fields := normalizeContent(content)
	if len(fields) > 0 {
		return normalized, &ValidationError{Fields: fields}
	}
	return normalized, nil
}

func normalizeContent(c Content) (Content, map[string]string) {
	fields := make(map[string]string)
	short := func(name string, value *string) {
		*value = strings.TrimSpace(*value)
		if utf8.RuneCountInString(*value) > maxShortField {
			fields[name] = fmt.Sprintf("must be at most %d characters", maxShortField)
		}
	}
	long := func(name string, value *string) {
		*value = strings.TrimSpace(*value)
		if utf8.RuneCountInString(*value) > maxLongField {
			fields[name] = fmt.Sprintf("must be at most %d characters", maxLongField)
		}
	}

	short("title", &c.Title)
	short("clientName", &c.ClientName)
	short("clientId", &c.ClientID)
	short("market", &c.Market)
	short("service", &c.Service)
	long("summary", &c.Summary)
	long("scope", &c.Scope)
	long("timeline", &c.Timeline)
	long("notes", &c.Notes)

	c.ValidUntil = strings.TrimSpace(c.ValidUntil)
	if c.ValidUntil != "" {
		if _, err := time.Parse(dateLayout, c.ValidUntil); err != nil {
			fields["validUntil"] = "must be a YYYY-MM-DD date"
		}
	}

	c.Pricing.Currency = strings.ToUpper(strings.TrimSpace(c.Pricing.Currency))
	if c.Pricing.Currency == "" {
		c.Pricing.Currency = defaultCurrency
	}
	if !isCurrencyCode(c.Pricing.Currency) {
		fields["pricing.currency"] = "must be a 3-letter currency code"
	}
	if c.Pricing.DiscountPercent < 0 || c.Pricing.DiscountPercent > 100 {
		fields["pricing.discountPercent"] = "must be between 0 and 100"
	}

	items := make([]PriceItem, 0, len(c.Pricing.Items))
	for i, item := range c.Pricing.Items {
		item.Label = strings.TrimSpace(item.Label)
		if item.Label == "" {
			fields[fmt.Sprintf("pricing.items[%d].label", i)] = "is required"
		}
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		if item.Quantity < 0 {
			fields[fmt.Sprintf("pricing.items[%d].quantity", i)] = "must not be negative"
		}
		if item.UnitPrice < 0 {
			fields[fmt.Sprintf("pricing.items[%d].unitPrice", i)] = "must not be negative"
		}
		items = append(items, item)
	}
	c.Pricing.Items = items

	return c, fields
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// NormalizePlanTasks trims titles, assigns missing ids and checks dates.
func NormalizePlanTasks(tasks []PlanTask) ([]PlanTask, error) {
	fields := make(map[string]string)
	out := make([]PlanTask, 0, len(tasks))
	for i, task := range tasks {
		task.ID = strings.TrimSpace(task.ID)
		if task.ID == "" {
			task.ID = util.NewID("task")
		}
		task.Title = strings.TrimSpace(task.Title)
		if task.Title == "" {
			fields[fmt.Sprintf("planTasks[%d].title", i)] = "is required"
		}
		task.Start = strings.TrimSpace(task.Start)
		task.End = strings.TrimSpace(task.End)
		start, startErr := parseOptionalDate(task.Start)
		if startErr != nil {
			fields[fmt.Sprintf("planTasks[%d].start", i)] = "must be a YYYY-MM-DD date"
		}
		end, endErr := parseOptionalDate(task.End)
		if endErr != nil {
			fields[fmt.Sprintf("planTasks[%d].end", i)] = "must be a YYYY-MM-DD date"
		}
		if startErr == nil && endErr == nil && !start.IsZero() && !end.IsZero() && end.Before(start) {
			fields[fmt.Sprintf("planTasks[%d].end", i)] = "must not be before start"
		}
		out = append(out, task)
	}
	if len(fields) > 0 {
		return out, &ValidationError{Fields: fields}
	}
	return out, nil
}

// NormalizeCaseIDs trims ids, drops blanks and duplicates, keeps order.
func NormalizeCaseIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func parseOptionalDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, value)
}
