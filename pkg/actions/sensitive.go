package actions

import (
	"context"
	"strings"
)

// FieldHints are the attributes used to recognise sensitive fields.
type FieldHints struct {
	Type        string
	Name        string
	ID          string
	Placeholder string
	AriaLabel   string
}

func readHints(ctx context.Context, el Element) (FieldHints, error) {
	var h FieldHints
	fields := []struct {
		attr string
		dst  *string
	}{
		{"type", &h.Type},
		{"name", &h.Name},
		{"id", &h.ID},
		{"placeholder", &h.Placeholder},
		{"aria-label", &h.AriaLabel},
	}
	for _, f := range fields {
		v, err := el.Attribute(ctx, f.attr)
		if err != nil {
			return FieldHints{}, err
		}
		*f.dst = v
	}
	return h, nil
}

// IsSensitiveField reports whether typing text into a field with these
// hints must be refused: password fields always, fields that look like
// one-time or verification code inputs always, and any field mentioning
// "code" when text is a bare 4 to 8 digit number.
func IsSensitiveField(h FieldHints, text string) bool {
	if strings.EqualFold(h.Type, "password") {
		return true
	}

	var parts []string
	for _, p := range []string{h.Name, h.ID, h.Placeholder, h.AriaLabel} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	hints := strings.ToLower(strings.Join(parts, " "))

	if strings.Contains(hints, "otp") ||
		strings.Contains(hints, "one-time") ||
		strings.Contains(hints, "verification code") {
		return true
	}
	return digitsOnly.MatchString(text) && strings.Contains(hints, "code")
}
