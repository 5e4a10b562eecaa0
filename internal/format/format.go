package format

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var symbols = map[string]string{
	"JPY": "¥",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// Money formats amount in major units using the currency's standard precision and the grouping rules
// of lang. Example: Money(decimal.NewFromInt(12345), "JPY", "ja") => "¥12,345".
func Money(amount decimal.Decimal, code, lang string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return code + " " + amount.StringFixed(2)
	}
	scale, _ := currency.Standard.Rounding(unit)
	rounded := amount.Round(int32(scale))
	neg := rounded.IsNegative()
	f, _ := rounded.Abs().Float64()

	p := message.NewPrinter(tag(lang))
	digits := p.Sprint(number.Decimal(f, number.Scale(scale)))

	prefix, ok := symbols[unit.String()]
	if !ok {
		prefix = unit.String() + " "
	}
	if neg {
		return "-" + prefix + digits
	}
	return prefix + digits
}

// Percent renders a discount percentage such as "20%".
func Percent(pct decimal.Decimal) string {
	return pct.Round(0).String() + "%"
}

// Date formats t in a short locale-friendly form.
func Date(t time.Time, lang string) string {
	base, _ := tag(lang).Base()
	if base.String() == "ja" {
		return t.Format("2006-01-02")
	}
	return t.Format("Jan 2, 2006")
}

func tag(lang string) language.Tag {
	t, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return language.English
	}
	return t
}
