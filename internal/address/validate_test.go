package address

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Input)
		wantErr error
	}{
		{name: "valid japanese address", mutate: func(*Input) {}},
		{name: "missing recipient", mutate: func(in *Input) { in.Recipient = "  " }, wantErr: ErrInvalidRecipient},
		{name: "markup only recipient", mutate: func(in *Input) { in.Recipient = "<b></b>" }, wantErr: ErrInvalidRecipient},
		{name: "missing line1", mutate: func(in *Input) { in.Line1 = "" }, wantErr: ErrInvalidLine1},
		{name: "missing city", mutate: func(in *Input) { in.City = "" }, wantErr: ErrInvalidCity},
		{name: "three letter country", mutate: func(in *Input) { in.Country = "JPN" }, wantErr: ErrInvalidCountry},
		{name: "unknown country", mutate: func(in *Input) { in.Country = "QQ" }, wantErr: ErrInvalidCountry},
		{name: "bad jp postal", mutate: func(in *Input) { in.Postal = "150-00" }, wantErr: ErrInvalidPostalCode},
		{name: "us zip", mutate: func(in *Input) { in.Country = "us"; in.Postal = "94107-1234" }},
		{name: "bad us zip", mutate: func(in *Input) { in.Country = "US"; in.Postal = "9410" }, wantErr: ErrInvalidPostalCode},
		{name: "other country postal", mutate: func(in *Input) { in.Country = "GB"; in.Postal = "sw1a 1aa" }},
		{name: "bad phone", mutate: func(in *Input) { in.Phone = "call me" }, wantErr: ErrInvalidPhone},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := Normalize(in)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNormalizeStripsEntityEncodedMarkup(t *testing.T) {
	in := validInput()
	in.Recipient = "&lt;script&gt;alert(1)&lt;/script&gt;Aiko"
	in.Line2 = "&lt;img src=x onerror=alert(1)&gt;Room 4"
	in.Company = "Smith &amp; Sons"

	addr, err := Normalize(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for field, got := range map[string]string{"recipient": addr.Recipient, "line2": addr.Line2} {
		if strings.ContainsAny(got, "<>") {
			t.Fatalf("%s still carries markup: %q", field, got)
		}
	}
	if addr.Recipient != "Aiko" || addr.Line2 != "Room 4" {
		t.Fatalf("unexpected text %q %q", addr.Recipient, addr.Line2)
	}
	if addr.Company != "Smith &amp; Sons" {
		t.Fatalf("expected already escaped text to stay escaped once, got %q", addr.Company)
	}
}

func TestNormalizeSanitizesFreeText(t *testing.T) {
	in := validInput()
	in.Recipient = `<script>alert(1)</script>Aiko <b>Tanaka</b>`
	in.Company = "Smith & Sons"
	in.Country = "gb"
	in.Postal = "sw1a 1aa"

	addr, err := Normalize(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr.Recipient != "Aiko Tanaka" {
		t.Fatalf("expected markup stripped, got %q", addr.Recipient)
	}
	if addr.Company != "Smith &amp; Sons" {
		t.Fatalf("expected ampersand escaped once, got %q", addr.Company)
	}
	if addr.Postal != "SW1A 1AA" || addr.Country != "GB" {
		t.Fatalf("unexpected postal/country %q %q", addr.Postal, addr.Country)
	}
}

func TestFieldOf(t *testing.T) {
	if got := FieldOf(ErrInvalidCountry); got != "country" {
		t.Fatalf("expected country, got %q", got)
	}
	if got := FieldOf(errors.New("other")); got != "" {
		t.Fatalf("expected empty field, got %q", got)
	}
}
