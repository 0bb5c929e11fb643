package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Payment is a successfully parsed bank notification.
type Payment struct {
	Amount decimal.Decimal
	// Date is the transfer timestamp in ISO-8601 (2006-01-02T15:04:05),
	// empty when the notification carries none.
	Date string
}

type rule struct {
	amount []*regexp.Regexp
	date   *regexp.Regexp
}

// Source format used by every supported bank: DD.MM.YYYY HH:MM:SS.
var dateRe = regexp.MustCompile(`(\d{2}\.\d{2}\.\d{4})\s+(\d{2}:\d{2}:\d{2})`)

// rules maps a bank key to its notification patterns. Demirbank is the
// production bank; the rest are looser patterns for mailboxes we may be
// pointed at later.
var rules = map[string]rule{
	"demirbank": {
		amount: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:зачисление|поступление|перевод)[^\d]{0,40}на сумму\s+([\d][\d\s\x{00a0}.,]*)\s*(?:KGS|сом)`),
			regexp.MustCompile(`(?i)на сумму\s+([\d][\d\s\x{00a0}.,]*)\s*(?:KGS|сом)`),
		},
		date: dateRe,
	},
	"mbank": {
		amount: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:пополнение|зачисление|приход)[^\d]{0,40}?([\d][\d\s\x{00a0}.,]*)\s*(?:KGS|сом|c)`),
		},
		date: dateRe,
	},
	"optima": {
		amount: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:сумма|amount)[:\s]+([\d][\d\s\x{00a0}.,]*)`),
		},
		date: dateRe,
	},
	"bakai": {
		amount: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:поступление|credited|сумма)[^\d]{0,40}?([\d][\d\s\x{00a0}.,]*)`),
		},
		date: dateRe,
	},
}

// Banks returns the supported bank keys.
func Banks() []string {
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	return keys
}

// Supported reports whether a bank key has parsing rules.
func Supported(bank string) bool {
	_, ok := rules[strings.ToLower(bank)]
	return ok
}

// Parse extracts a payment from raw notification text. The second return
// value is false when the text does not look like a payment notification
// for the given bank; that is the common case and not an error.
func Parse(bank, text string) (Payment, bool) {
	r, ok := rules[strings.ToLower(bank)]
	if !ok {
		return Payment{}, false
	}

	var amount decimal.Decimal
	matched := false
	for _, re := range r.amount {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		a, ok := normalizeAmount(m[1])
		if !ok {
			continue
		}
		amount = a
		matched = true
		break
	}
	if !matched {
		return Payment{}, false
	}

	p := Payment{Amount: amount}
	if m := r.date.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("02.01.2006 15:04:05", m[1]+" "+m[2]); err == nil {
			p.Date = t.Format("2006-01-02T15:04:05")
		}
	}
	return p, true
}

// normalizeAmount turns a bank-formatted number into a 2-decimal fixed
// point value. Both "," and "." are accepted as the decimal separator;
// spaces and the other separator are treated as thousands grouping.
func normalizeAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(" ", "", "\u00a0", "").Replace(s)
	s = strings.TrimRight(s, ".,")
	if s == "" {
		return decimal.Decimal{}, false
	}

	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// The later separator is the decimal point.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if decimalish(s, lastComma, strings.Count(s, ",")) {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if !decimalish(s, lastDot, strings.Count(s, ".")) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d.Round(2), true
}

// decimalish reports whether the single separator at idx looks like a
// decimal point (one occurrence, at most two digits after it) rather than
// thousands grouping.
func decimalish(s string, idx, count int) bool {
	return count == 1 && len(s)-idx-1 <= 2
}
