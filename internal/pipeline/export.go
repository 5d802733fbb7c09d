package pipeline

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"docxitens/internal"
)

const (
	SheetItems        = "Itens"
	SheetConsolidated = "Consolidado"

	maxColumnWidth = 40
)

type ExportOptions struct {
	Consolidated bool
	Rule         internal.KeyRule
}

// ExportRow is one spreadsheet row. Quantity is a float64, or the raw text when
// the quantity did not parse.
type ExportRow struct {
	Code        string
	Description string
	Quantity    any
}

func RawExportRows(result internal.ExtractionResult) []ExportRow {
	out := make([]ExportRow, 0, len(result.Items))
	for _, item := range result.Items {
		var qty any = item.Quantity
		if math.IsNaN(item.Quantity) || math.IsInf(item.Quantity, 0) {
			qty = item.QuantityRaw
		}
		out = append(out, ExportRow{Code: item.Code, Description: item.Description, Quantity: qty})
	}
	return out
}

func ConsolidatedExportRows(items []internal.AggregatedItem) []ExportRow {
	out := make([]ExportRow, 0, len(items))
	for _, a := range items {
		out = append(out, ExportRow{Code: a.Code, Description: a.Description, Quantity: a.Quantity})
	}
	return out
}

// BuildWorkbook lays out the Itens sheet and, when requested, the Consolidado sheet.
func BuildWorkbook(result internal.ExtractionResult, opts ExportOptions) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetItems); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := writeSheet(f, SheetItems, []string{"Codigo", "Descricao", "Quantidade"}, RawExportRows(result)); err != nil {
		_ = f.Close()
		return nil, err
	}

	if opts.Consolidated {
		if _, err := f.NewSheet(SheetConsolidated); err != nil {
			_ = f.Close()
			return nil, err
		}
		rows := ConsolidatedExportRows(Aggregate(result.Items, opts.Rule))
		if err := writeSheet(f, SheetConsolidated, []string{"Codigo", "Descricao", "Quantidade Total"}, rows); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

func ExportToXLSX(w io.Writer, result internal.ExtractionResult, opts ExportOptions) error {
	f, err := BuildWorkbook(result, opts)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}

func ExportToFile(outputPath string, result internal.ExtractionResult, opts ExportOptions) error {
	f, err := BuildWorkbook(result, opts)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows []ExportRow) error {
	widths := make([]int, len(headers))
	track := func(col int, text string) {
		if n := utf8.RuneCountInString(text); n > widths[col] {
			widths[col] = n
		}
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		track(i, h)
	}

	for i, row := range rows {
		r := i + 2
		values := []any{row.Code, row.Description, row.Quantity}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
			track(c, displayText(v))
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheet, col, col, float64(min(w+2, maxColumnWidth))); err != nil {
			return err
		}
	}
	return nil
}

func displayText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
