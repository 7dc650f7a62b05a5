package records

import (
	"strings"
	"unicode"
)

// NormalizeEmail: minúsculas y sin espacios.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone deja solo dígitos, quita el "1" inicial de números de 11
// dígitos y devuelve "" si quedan menos de 10 (no sirve como evidencia).
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	if len(digits) < 10 || len(digits) > 15 {
		return ""
	}
	return digits
}

// NormalizeName: minúsculas, sin puntuación ni sufijos, espacios colapsados.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	for _, suffix := range []string{" jr.", " jr", " sr.", " sr", " iii", " ii", " iv"} {
		if strings.HasSuffix(s, suffix) {
			s = s[:len(s)-len(suffix)]
		}
	}

	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-':
			if !prevSpace {
				b.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

var addressAbbreviations = []struct{ full, abbr string }{
	{" street", " st"},
	{" avenue", " ave"},
	{" boulevard", " blvd"},
	{" drive", " dr"},
	{" road", " rd"},
	{" lane", " ln"},
	{" court", " ct"},
	{" circle", " cir"},
	{" place", " pl"},
	{" highway", " hwy"},
	{" apartment", " apt"},
	{" suite", " ste"},
	{" north", " n"},
	{" south", " s"},
	{" east", " e"},
	{" west", " w"},
}

// NormalizeAddress: minúsculas, abreviaturas USPS comunes, sin puntuación.
func NormalizeAddress(s string) string {
	s = " " + strings.ToLower(strings.TrimSpace(s)) + " "

	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '#' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	s = strings.Join(strings.Fields(b.String()), " ")
	s = " " + s + " "

	for _, a := range addressAbbreviations {
		s = strings.ReplaceAll(s, a.full+" ", a.abbr+" ")
	}
	return strings.Join(strings.Fields(s), " ")
}
