package domain

import (
	"errors"
	"testing"

	apperrors "github.com/hubline/crm/internal/platform/errors"
)

func TestNormalizeClientNameRejectsEmpty(t *testing.T) {
	t.Parallel()

	if _, err := NormalizeClientName("   "); !errors.Is(err, apperrors.New(apperrors.CodeClientNameEmpty, "")) {
		t.Fatalf("err = %v, want client name empty", err)
	}
	name, err := NormalizeClientName("  Acme Corp  ")
	if err != nil {
		t.Fatalf("normalize name: %v", err)
	}
	if name != "Acme Corp" {
		t.Fatalf("name = %q, want trimmed", name)
	}
}

func TestNormalizeEmailLowercasesAndValidates(t *testing.T) {
	t.Parallel()

	email, err := NormalizeEmail("  Alice@Example.COM ")
	if err != nil {
		t.Fatalf("normalize email: %v", err)
	}
	if email != "alice@example.com" {
		t.Fatalf("email = %q", email)
	}

	if _, err := NormalizeEmail("not-an-email"); apperrors.CodeOf(err) != apperrors.CodeClientInvalidEmail {
		t.Fatalf("err = %v, want invalid email", err)
	}
	if _, err := NormalizeEmail("Bob <bob@example.com>"); err == nil {
		t.Fatal("expected display-name form to be rejected")
	}
}

func TestNormalizeEmailAllowsEmpty(t *testing.T) {
	t.Parallel()

	email, err := NormalizeEmail("")
	if err != nil {
		t.Fatalf("normalize empty email: %v", err)
	}
	if email != "" {
		t.Fatalf("email = %q, want empty", email)
	}
}

func TestNormalizeManagerEmailRequiresValue(t *testing.T) {
	t.Parallel()

	if _, err := NormalizeManagerEmail(" "); apperrors.CodeOf(err) != apperrors.CodeManagerInvalidEmail {
		t.Fatalf("err = %v, want manager invalid email", err)
	}
	email, err := NormalizeManagerEmail("Boss@Hub.IO")
	if err != nil {
		t.Fatalf("normalize manager email: %v", err)
	}
	if email != "boss@hub.io" {
		t.Fatalf("email = %q", email)
	}
}

func TestNormalizePhoneFormatsE164(t *testing.T) {
	t.Parallel()

	phone, err := NormalizePhone(" +1 650-253-0000 ")
	if err != nil {
		t.Fatalf("normalize phone: %v", err)
	}
	if phone != "+16502530000" {
		t.Fatalf("phone = %q", phone)
	}

	if _, err := NormalizePhone("650-253-0000"); apperrors.CodeOf(err) != apperrors.CodeClientInvalidPhone {
		t.Fatalf("err = %v, want invalid phone for missing country code", err)
	}

	empty, err := NormalizePhone("")
	if err != nil || empty != "" {
		t.Fatalf("empty phone = (%q, %v), want no-op", empty, err)
	}
}

func TestPublicIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := NewPublicID()
	if !ValidPublicID(id) {
		t.Fatalf("generated id %q did not validate", id)
	}
	if ValidPublicID("not-a-uuid") {
		t.Fatal("expected invalid id to be rejected")
	}
}

func TestSearchTextOrdersByFieldName(t *testing.T) {
	t.Parallel()

	text := SearchText(map[string]string{
		"city":    "Riga",
		"account": "42-A",
		"segment": "wholesale",
	})
	if text != "42-A Riga wholesale" {
		t.Fatalf("search text = %q", text)
	}
	if SearchText(nil) != "" {
		t.Fatal("expected empty text for no fields")
	}
}

func TestNormalizeFieldsDropsBlankNames(t *testing.T) {
	t.Parallel()

	fields := NormalizeFields(map[string]string{
		"  city ": "Riga",
		"   ":     "dropped",
	})
	if len(fields) != 1 || fields["city"] != "Riga" {
		t.Fatalf("fields = %v", fields)
	}
	if NormalizeFields(map[string]string{" ": "x"}) != nil {
		t.Fatal("expected nil when every name is blank")
	}
}
