// Package domain holds value normalization and validation for CRM records.
// Values that pass through here are trusted by the storage and app layers.
package domain

import (
	"net/mail"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	apperrors "github.com/hubline/crm/internal/platform/errors"
)

// NormalizeClientName trims the name and rejects empty values.
func NormalizeClientName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apperrors.New(apperrors.CodeClientNameEmpty, "client name cannot be empty")
	}
	return name, nil
}

// NormalizeManagerName trims the name and rejects empty values.
func NormalizeManagerName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apperrors.New(apperrors.CodeManagerNameEmpty, "manager name cannot be empty")
	}
	return name, nil
}

// NormalizeEmail lowercases and validates an optional email address.
// Empty input yields an empty string without error.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperrors.WithMetadata(apperrors.CodeClientInvalidEmail, "invalid email address",
			map[string]string{"email": raw})
	}
	return email, nil
}

// NormalizeManagerEmail lowercases and validates a required email address.
func NormalizeManagerEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperrors.New(apperrors.CodeManagerInvalidEmail, "manager email cannot be empty")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperrors.WithMetadata(apperrors.CodeManagerInvalidEmail, "invalid manager email address",
			map[string]string{"email": raw})
	}
	return email, nil
}

// NormalizePhone validates an optional phone number and formats it as E.164.
// Numbers must carry an explicit country code; empty input yields an empty
// string without error.
func NormalizePhone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	if phone == "" {
		return "", nil
	}
	parsed, err := phonenumbers.Parse(phone, "")
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return "", apperrors.WithMetadata(apperrors.CodeClientInvalidPhone, "invalid phone number",
			map[string]string{"phone": raw})
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// NewPublicID generates a fresh public client identifier.
func NewPublicID() string {
	return uuid.NewString()
}

// ValidPublicID reports whether raw parses as a public client identifier.
func ValidPublicID(raw string) bool {
	_, err := uuid.Parse(raw)
	return err == nil
}

// SearchText derives the denormalized search text for a client's custom
// fields: values joined by a single space, ordered by field name. The
// ordering is fixed so that rebuilding the projection from scratch
// reproduces the incrementally maintained text byte for byte.
func SearchText(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([]string, 0, len(names))
	for _, name := range names {
		values = append(values, fields[name])
	}
	return strings.Join(values, " ")
}

// NormalizeFields trims field names, dropping entries whose name becomes
// empty. Later duplicates win, matching map semantics upstream.
func NormalizeFields(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for name, value := range fields {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		out[trimmed] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
