package cobrance

import (
	"strings"
)

// DocumentKind distinguishes personal from corporate tax ids.
type DocumentKind string

const (
	DocumentCPF  DocumentKind = "cpf"
	DocumentCNPJ DocumentKind = "cnpj"
)

// OnlyDigits strips everything but 0-9.
func OnlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateDocument checks a CPF/CNPJ by digit count: 11 digits is a CPF,
// 14 a CNPJ, anything else is invalid. Check digits are not verified,
// matching the creditor system's own lookup contract.
func ValidateDocument(document string) (kind DocumentKind, digits string, ok bool) {
	digits = OnlyDigits(document)

	switch len(digits) {
	case 11:
		return DocumentCPF, digits, true
	case 14:
		return DocumentCNPJ, digits, true
	}
	return DocumentCPF, digits, false
}

// FormatMoney renders a value the Brazilian way: thousands separated by
// dots, two decimals after a comma.
func FormatMoney(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}

	whole := int64(v + 0.005)
	cents := int64((v+0.005)*100) % 100

	digits := []byte(formatInt(whole))
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteByte(d)
	}
	b.WriteByte(',')
	b.WriteByte(byte('0' + cents/10))
	b.WriteByte(byte('0' + cents%10))
	return b.String()
}

func formatInt(v int64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
