package parser

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demirNotification = "Уважаемый клиент! Произведено зачисление на сумму 100.53 KGS от 22.09.2025 22:13:24. DemirBank"

func TestParseDemirbank(t *testing.T) {
	p, ok := Parse("demirbank", demirNotification)
	require.True(t, ok)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("100.53")), "got %s", p.Amount)
	assert.Equal(t, "2025-09-22T22:13:24", p.Date)
}

func TestParseIdempotent(t *testing.T) {
	first, ok1 := Parse("demirbank", demirNotification)
	second, ok2 := Parse("demirbank", demirNotification)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.True(t, first.Amount.Equal(second.Amount))
	assert.Equal(t, first.Date, second.Date)
}

func TestParseAmountSeparators(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"dot decimal", "зачисление на сумму 100.53 KGS", "100.53"},
		{"comma decimal", "зачисление на сумму 100,53 KGS", "100.53"},
		{"space thousands", "зачисление на сумму 12 500.00 KGS", "12500.00"},
		{"dot thousands comma decimal", "зачисление на сумму 1.250,75 KGS", "1250.75"},
		{"comma thousands dot decimal", "зачисление на сумму 1,250.75 KGS", "1250.75"},
		{"integer", "зачисление на сумму 500 KGS", "500"},
		{"trailing period", "перевод на сумму 200.00 сом.", "200.00"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, ok := Parse("demirbank", tc.text)
			require.True(t, ok)
			want := decimal.RequireFromString(tc.want)
			assert.True(t, p.Amount.Equal(want), "want %s got %s", want, p.Amount)
		})
	}
}

func TestParseNoDate(t *testing.T) {
	p, ok := Parse("demirbank", "зачисление на сумму 75.10 KGS")
	require.True(t, ok)
	assert.Empty(t, p.Date)
}

func TestParseMiss(t *testing.T) {
	tests := []struct {
		name string
		bank string
		text string
	}{
		{"unrelated email", "demirbank", "Ваша выписка за сентябрь готова"},
		{"empty", "demirbank", ""},
		{"unknown bank", "kicb", demirNotification},
		{"no amount", "demirbank", "зачисление на сумму KGS"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := Parse(tc.bank, tc.text)
			assert.False(t, ok)
		})
	}
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("demirbank"))
	assert.True(t, Supported("DemirBank"))
	assert.False(t, Supported("kicb"))
	assert.Len(t, Banks(), 4)
}
