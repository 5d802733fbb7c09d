package util

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const Sentinel = "#N/D"

var codePattern = regexp.MustCompile(`^\s*\d+(\.\d+)?\s*$`)

// Normalize replaces non-breaking spaces and trims surrounding whitespace.
func Normalize(input string) string {
	return strings.TrimSpace(strings.ReplaceAll(input, "\u00A0", " "))
}

func IsSentinel(input string) bool {
	return strings.EqualFold(Normalize(input), Sentinel)
}

// IsItemCode reports whether input is an integer or a one-level decimal code like 13.12.
func IsItemCode(input string) bool {
	return codePattern.MatchString(input)
}

// ParseLocaleNumber parses pt-BR numbers: "." groups thousands, "," is the decimal point.
// NaN signals an empty or non-numeric input.
func ParseLocaleNumber(input string) float64 {
	s := Normalize(input)
	if s == "" {
		return math.NaN()
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// FormatLocaleNumber renders v with two decimals in pt-BR form, e.g. 1234.5 -> "1.234,50".
func FormatLocaleNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	fixed := strconv.FormatFloat(math.Abs(v), 'f', 2, 64)
	intPart, frac, _ := strings.Cut(fixed, ".")

	out := strings.Builder{}
	if v < 0 && fixed != "0.00" {
		out.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out.WriteByte('.')
		}
		out.WriteRune(r)
	}
	out.WriteByte(',')
	out.WriteString(frac)
	return out.String()
}

func StringPtr(v string) *string { return &v }

func IntPtr(v int) *int { return &v }

// FloatPtr returns nil for NaN so that storage writes NULL.
func FloatPtr(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
