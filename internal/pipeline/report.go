package pipeline

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docxitens/internal"
	"docxitens/internal/util"
)

type ReportMeta struct {
	SourceName  string
	GeneratedAt time.Time
	Rule        internal.KeyRule
	Result      internal.ExtractionResult
}

// ReportPath places the log next to the workbook: out.xlsx -> out_log.txt.
func ReportPath(xlsxPath string) string {
	return strings.TrimSuffix(xlsxPath, filepath.Ext(xlsxPath)) + "_log.txt"
}

func RenderReport(w io.Writer, meta ReportMeta) error {
	res := meta.Result
	rule := internal.ParseKeyRule(string(meta.Rule))
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "LOG - Extração de Tabelas 'Itens'\n")
	fmt.Fprintf(bw, "Arquivo: %s\n", filepath.Base(meta.SourceName))
	fmt.Fprintf(bw, "Data/hora: %s\n\n", meta.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(bw, "Tabelas totais no DOCX: %d\n", res.TablesTotal)
	fmt.Fprintf(bw, "Tabelas identificadas como 'Itens': %d\n", res.ItemTables)
	fmt.Fprintf(bw, "Linhas extraídas (total): %d\n", res.RowsExtracted)
	fmt.Fprintf(bw, "Linhas ignoradas: %d\n\n", res.RowsIgnored)

	if len(res.Rejections) > 0 {
		fmt.Fprintf(bw, "Detalhes ignorados (tabela, linha, motivo, valor):\n")
		for _, rej := range res.Rejections {
			line := fmt.Sprintf("- T%d L%d: %s", rej.Table, rej.Row, rej.Reason)
			if rej.Value != "" {
				line += " " + rej.Value
			}
			fmt.Fprintln(bw, line)
		}
		fmt.Fprintln(bw)
	}

	fmt.Fprintf(bw, "=== LOG CONSOLIDADO (%s) ===\n", rule)
	fmt.Fprintf(bw, "(Codigo | Descricao | Quantidade Total)\n")
	for _, a := range Aggregate(res.Items, rule) {
		fmt.Fprintf(bw, "%s | %s | %s\n", a.Code, a.Description, util.FormatLocaleNumber(a.Quantity))
	}
	fmt.Fprintln(bw)

	fmt.Fprintf(bw, "=== LOG DETALHADO (Extração Original) ===\n")
	fmt.Fprintf(bw, "(Codigo | Descricao | Quantidade | Origem)\n")
	for _, item := range res.Items {
		fmt.Fprintf(bw, "%s | %s | %s | %s\n", item.Code, item.Description, item.QuantityRaw, item.Origin)
	}

	return bw.Flush()
}

// WriteReportFile renders the report next to xlsxPath and returns its path.
func WriteReportFile(xlsxPath string, meta ReportMeta) (string, error) {
	path := ReportPath(xlsxPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := RenderReport(f, meta); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}
