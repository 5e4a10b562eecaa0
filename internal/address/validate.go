package address

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"

	"finitefield.org/fashion-web/internal/storeapi"
)

var (
	ErrInvalidRecipient  = errors.New("address: invalid recipient")
	ErrInvalidLine1      = errors.New("address: invalid line1")
	ErrInvalidCity       = errors.New("address: invalid city")
	ErrInvalidCountry    = errors.New("address: invalid country")
	ErrInvalidPostalCode = errors.New("address: invalid postal code")
	ErrInvalidPhone      = errors.New("address: invalid phone")

	phonePattern   = regexp.MustCompile(`^[0-9+()\-\s]{6,20}$`)
	postalPattern  = regexp.MustCompile(`^[0-9A-Za-z\-\s]{3,16}$`)
	usPostalFormat = regexp.MustCompile(`^[0-9]{5}(-[0-9]{4})?$`)

	strictPolicy = bluemonday.StrictPolicy()
)

const maxFieldRunes = 200

// Input is an address as submitted by the customer.
type Input struct {
	ID          string
	Label       string
	Recipient   string
	Company     string
	Line1       string
	Line2       string
	City        string
	Region      string
	Postal      string
	Country     string
	Phone       string
	MakeDefault bool
}

// Normalize sanitizes and validates the input and returns the address to store.
func Normalize(in Input) (storeapi.Address, error) {
	addr := storeapi.Address{
		ID:        strings.TrimSpace(in.ID),
		Label:     clean(in.Label),
		Recipient: clean(in.Recipient),
		Company:   clean(in.Company),
		Line1:     clean(in.Line1),
		Line2:     clean(in.Line2),
		City:      clean(in.City),
		Region:    clean(in.Region),
		Postal:    strings.TrimSpace(in.Postal),
		Country:   strings.ToUpper(strings.TrimSpace(in.Country)),
		Phone:     strings.TrimSpace(in.Phone),
		IsDefault: in.MakeDefault,
	}

	if addr.Recipient == "" || utf8.RuneCountInString(addr.Recipient) > maxFieldRunes {
		return storeapi.Address{}, ErrInvalidRecipient
	}
	if addr.Line1 == "" || utf8.RuneCountInString(addr.Line1) > maxFieldRunes {
		return storeapi.Address{}, ErrInvalidLine1
	}
	if addr.City == "" {
		return storeapi.Address{}, ErrInvalidCity
	}
	if !isCountryCode(addr.Country) {
		return storeapi.Address{}, ErrInvalidCountry
	}
	postal, err := canonicalisePostalCode(addr.Country, addr.Postal)
	if err != nil {
		return storeapi.Address{}, err
	}
	addr.Postal = postal
	if addr.Phone != "" && !phonePattern.MatchString(addr.Phone) {
		return storeapi.Address{}, ErrInvalidPhone
	}
	return addr, nil
}

// clean strips markup from free text. Entities are decoded before sanitizing so encoded markup is
// stripped too; the result is HTML-escaped exactly once.
func clean(value string) string {
	return strings.TrimSpace(strictPolicy.Sanitize(html.UnescapeString(strings.TrimSpace(value))))
}

func isCountryCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	region, err := language.ParseRegion(code)
	if err != nil {
		return false
	}
	return region.IsCountry() && region.String() == code
}

func canonicalisePostalCode(country, postal string) (string, error) {
	trimmed := strings.TrimSpace(postal)
	if trimmed == "" {
		return "", ErrInvalidPostalCode
	}
	switch country {
	case "JP":
		digits := strings.ReplaceAll(strings.ReplaceAll(trimmed, "-", ""), " ", "")
		if len(digits) != 7 || !allDigits(digits) {
			return "", ErrInvalidPostalCode
		}
		return digits[:3] + "-" + digits[3:], nil
	case "US":
		if !usPostalFormat.MatchString(trimmed) {
			return "", ErrInvalidPostalCode
		}
		return trimmed, nil
	default:
		if !postalPattern.MatchString(trimmed) {
			return "", ErrInvalidPostalCode
		}
		return strings.ToUpper(trimmed), nil
	}
}

func allDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FieldOf reports the form field a validation error refers to.
func FieldOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRecipient):
		return "recipient"
	case errors.Is(err, ErrInvalidLine1):
		return "line1"
	case errors.Is(err, ErrInvalidCity):
		return "city"
	case errors.Is(err, ErrInvalidCountry):
		return "country"
	case errors.Is(err, ErrInvalidPostalCode):
		return "postal"
	case errors.Is(err, ErrInvalidPhone):
		return "phone"
	default:
		return ""
	}
}
