package pipeline

import (
	"time"

	"docxitens/internal"
)

type Outputs struct {
	Workbook string
	Report   string
}

// WriteOutputs writes the workbook and, when withReport is set, the log next to it.
func WriteOutputs(xlsxPath, sourceName string, result internal.ExtractionResult, opts ExportOptions, withReport bool) (Outputs, error) {
	out := Outputs{Workbook: xlsxPath}
	if err := ExportToFile(xlsxPath, result, opts); err != nil {
		return Outputs{}, err
	}
	if !withReport {
		return out, nil
	}

	reportPath, err := WriteReportFile(xlsxPath, ReportMeta{
		SourceName:  sourceName,
		GeneratedAt: time.Now(),
		Rule:        opts.Rule,
		Result:      result,
	})
	if err != nil {
		return out, err
	}
	out.Report = reportPath
	return out, nil
}
