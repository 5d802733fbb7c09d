package pipeline

import (
	"fmt"
	"strings"

	"docxitens/internal"
	"docxitens/internal/docx"
	"docxitens/internal/util"
)

const itemTableHeader = "itens"

// ExtractFromPackage runs the container, markup and row stages over raw .docx bytes.
// Container and markup failures return a zero result.
func ExtractFromPackage(raw []byte) (internal.ExtractionResult, error) {
	doc, err := docx.Open(raw)
	if err != nil {
		return internal.ExtractionResult{}, err
	}
	return ExtractItems(doc.Tables()), nil
}

// ExtractItems classifies tables and validates the data rows of item tables.
// Items and rejections keep table order, then row order.
func ExtractItems(tables []docx.Element) internal.ExtractionResult {
	result := internal.ExtractionResult{
		TablesTotal: len(tables),
		Items:       []internal.Item{},
		Rejections:  []internal.RejectionRecord{},
	}

	for ti, table := range tables {
		tableNo := ti + 1
		rows := docx.Rows(table)
		if len(rows) == 0 {
			continue
		}
		if !isItemTable(cellTexts(rows[0])) {
			continue
		}
		result.ItemTables++

		for ri, row := range rows[1:] {
			rowNo := ri + 2
			item, rejection, ok := extractRow(tableNo, rowNo, cellTexts(row))
			if !ok {
				result.Rejections = append(result.Rejections, rejection)
				continue
			}
			result.Items = append(result.Items, item)
		}
	}

	result.RowsExtracted = len(result.Items)
	result.RowsIgnored = len(result.Rejections)
	return result
}

func isItemTable(header []string) bool {
	for _, text := range header {
		if strings.ToLower(util.Normalize(text)) == itemTableHeader {
			return true
		}
	}
	return false
}

func cellTexts(row docx.Element) []string {
	cells := docx.Cells(row)
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, docx.CellText(c))
	}
	return out
}

func extractRow(tableNo, rowNo int, cells []string) (internal.Item, internal.RejectionRecord, bool) {
	reject := func(reason internal.RejectReason, value string) (internal.Item, internal.RejectionRecord, bool) {
		return internal.Item{}, internal.RejectionRecord{Table: tableNo, Row: rowNo, Reason: reason, Value: value}, false
	}

	if len(cells) == 0 {
		return reject(internal.RejectEmptyRow, "")
	}

	code := util.Normalize(cells[0])
	description := ""
	if len(cells) > 1 {
		description = util.Normalize(cells[1])
	}

	if code == "" || util.IsSentinel(code) {
		return reject(internal.RejectCodeEmptyOrND, "")
	}
	if !util.IsItemCode(code) {
		return reject(internal.RejectCodeInvalid, code)
	}

	qtyRaw := util.Normalize(util.PickQuantity(cells))
	if qtyRaw == "" || util.IsSentinel(qtyRaw) {
		return reject(internal.RejectQtyEmptyOrND, code)
	}

	return internal.Item{
		Code:        code,
		Description: description,
		QuantityRaw: qtyRaw,
		Quantity:    util.ParseLocaleNumber(qtyRaw),
		Origin:      fmt.Sprintf("T%d/L%d", tableNo, rowNo),
	}, internal.RejectionRecord{}, true
}
