package pipeline

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"docxitens/internal"
	"docxitens/internal/util"
)

// Aggregate groups items by the key rule and sums their quantities. The output is
// sorted by "code description" under pt-BR collation; items is left untouched.
func Aggregate(items []internal.Item, rule internal.KeyRule) []internal.AggregatedItem {
	rule = internal.ParseKeyRule(string(rule))

	index := map[string]int{}
	out := make([]internal.AggregatedItem, 0)
	for _, item := range items {
		key := aggregationKey(item, rule)
		qty := itemQuantity(item)

		if i, ok := index[key]; ok {
			out[i].Quantity += qty
			continue
		}

		acc := internal.AggregatedItem{Code: item.Code, Description: item.Description, Quantity: qty}
		switch rule {
		case internal.KeyCodeOnly:
			acc.Description = ""
		case internal.KeyDescOnly:
			acc.Code = ""
		}
		index[key] = len(out)
		out = append(out, acc)
	}

	// A Collator is not safe for concurrent use; one per call.
	col := collate.New(language.BrazilianPortuguese)
	sortKeys := make([]string, len(out))
	for i, a := range out {
		sortKeys[i] = sortKey(a)
	}
	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return col.CompareString(sortKeys[order[i]], sortKeys[order[j]]) < 0
	})

	sorted := make([]internal.AggregatedItem, len(out))
	for i, idx := range order {
		sorted[i] = out[idx]
	}
	return sorted
}

func aggregationKey(item internal.Item, rule internal.KeyRule) string {
	code := strings.ToLower(util.Normalize(item.Code))
	desc := strings.ToLower(util.Normalize(item.Description))
	switch rule {
	case internal.KeyCodeOnly:
		return code
	case internal.KeyDescOnly:
		return desc
	default:
		return code + "|" + desc
	}
}

// itemQuantity falls back to re-parsing the raw text, then to zero.
func itemQuantity(item internal.Item) float64 {
	if !math.IsNaN(item.Quantity) {
		return item.Quantity
	}
	if v := util.ParseLocaleNumber(item.QuantityRaw); !math.IsNaN(v) {
		return v
	}
	return 0
}

func sortKey(a internal.AggregatedItem) string {
	return strings.ToLower(strings.TrimSpace(a.Code + " " + a.Description))
}
