package util

import (
	"regexp"
	"strings"
)

// Alternation order matters: grouped thousands with decimals, plain decimals, integers.
var numberPattern = regexp.MustCompile(`\d{1,3}(?:\.\d{3})*,\d+|\d+,\d+|\d+`)

// PickQuantity selects the raw quantity text of a row. The third column wins when it
// holds a value; otherwise the first number found after the code cell is used.
// The code cell is never scanned, so a two-cell row like ["17", "Widget"] has no
// quantity and is rejected by the caller.
func PickQuantity(cells []string) string {
	if len(cells) >= 3 {
		q := Normalize(cells[2])
		if q != "" && !IsSentinel(q) {
			return q
		}
	}
	if len(cells) < 2 {
		return ""
	}
	joined := strings.Join(cells[1:], " ")
	return numberPattern.FindString(joined)
}
