package pipeline

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docxitens/internal"
)

func TestRenderReport(t *testing.T) {
	var buf bytes.Buffer
	err := RenderReport(&buf, ReportMeta{
		SourceName:  "/tmp/in/pedido.docx",
		GeneratedAt: time.Date(2026, 2, 2, 10, 30, 0, 0, time.UTC),
		Rule:        internal.KeyCodeDesc,
		Result: internal.ExtractionResult{
			Items: []internal.Item{
				{Code: "1", Description: "Parafuso", QuantityRaw: "1.234,5", Quantity: 1234.5, Origin: "T1/L2"},
			},
			TablesTotal:   3,
			ItemTables:    1,
			RowsExtracted: 1,
			RowsIgnored:   2,
			Rejections: []internal.RejectionRecord{
				{Table: 1, Row: 3, Reason: internal.RejectCodeEmptyOrND},
				{Table: 1, Row: 4, Reason: internal.RejectCodeInvalid, Value: "abc"},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{
		"Arquivo: pedido.docx\n",
		"Data/hora: 2026-02-02T10:30:00Z\n",
		"Tabelas totais no DOCX: 3\n",
		"Tabelas identificadas como 'Itens': 1\n",
		"Linhas extraídas (total): 1\n",
		"Linhas ignoradas: 2\n",
		"- T1 L3: skip_code_empty_or_ND\n",
		"- T1 L4: skip_code_invalid abc\n",
		"=== LOG CONSOLIDADO (code_desc) ===\n",
		"1 | Parafuso | 1.234,50\n",
		"1 | Parafuso | 1.234,5 | T1/L2\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
	if strings.Index(out, "CONSOLIDADO") > strings.Index(out, "DETALHADO") {
		t.Error("consolidated section should come before the detailed one")
	}
}

func TestRenderReportWithoutRejections(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderReport(&buf, ReportMeta{SourceName: "a.docx"}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "Detalhes ignorados") {
		t.Fatalf("unexpected rejection section:\n%s", buf.String())
	}
}

func TestReportPath(t *testing.T) {
	cases := map[string]string{
		"out/pedido.xlsx": "out/pedido_log.txt",
		"pedido":          "pedido_log.txt",
		"a.b/c.d.xlsx":    "a.b/c.d_log.txt",
	}
	for in, want := range cases {
		if got := ReportPath(in); got != want {
			t.Errorf("ReportPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteOutputs(t *testing.T) {
	dir := t.TempDir()
	xlsxPath := filepath.Join(dir, "out", "pedido.xlsx")

	outputs, err := WriteOutputs(xlsxPath, "pedido.docx", sampleResult(), ExportOptions{Consolidated: true}, true)
	if err != nil {
		t.Fatal(err)
	}
	if outputs.Report != filepath.Join(dir, "out", "pedido_log.txt") {
		t.Fatalf("report path = %q", outputs.Report)
	}
	for _, p := range []string{outputs.Workbook, outputs.Report} {
		if _, err := os.Stat(p); err != nil {
			t.Fatal(err)
		}
	}

	outputs, err = WriteOutputs(filepath.Join(dir, "plain.xlsx"), "x.docx", sampleResult(), ExportOptions{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if outputs.Report != "" {
		t.Fatalf("report should not be written, got %q", outputs.Report)
	}
}
