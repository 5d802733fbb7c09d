package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"docxitens/internal"
	"docxitens/internal/config"
	"docxitens/internal/connectors"
	gmailconnector "docxitens/internal/connectors/gmail"
	imapconnector "docxitens/internal/connectors/imap"
	"docxitens/internal/listener"
	"docxitens/internal/logger"
	"docxitens/internal/pipeline"
	"docxitens/internal/storage"
)

const exitNoRows = 2

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, os.Stderr)
	slog.SetDefault(log)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	switch cmd {
	case "extract":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "input .docx path")
		output := fs.String("output", "", "output xlsx path (default OUTPUT_DIR/<input>.xlsx)")
		rule := fs.String("rule", string(cfg.AggregationRule), "code_desc|code_only|desc_only")
		consolidated := fs.Bool("consolidated", cfg.ExportConsolidated, "add the Consolidado sheet")
		report := fs.Bool("report", cfg.WriteReport, "write <output>_log.txt")
		store := fs.Bool("store", true, "record the run in the database")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*input) == "" {
			must(fmt.Errorf("--input is required"))
		}
		outPath := *output
		if strings.TrimSpace(outPath) == "" {
			base := strings.TrimSuffix(filepath.Base(*input), filepath.Ext(*input))
			outPath = filepath.Join(cfg.OutputDir, base+".xlsx")
		}

		result, runID := extract(ctx, db, cfg, log, *input, *store)
		if len(result.Items) == 0 {
			fmt.Fprintln(os.Stderr, "warning: no valid rows found in 'Itens' tables; nothing written")
			os.Exit(exitNoRows)
		}

		opts := pipeline.ExportOptions{Consolidated: *consolidated, Rule: internal.ParseKeyRule(*rule)}
		outputs, err := pipeline.WriteOutputs(outPath, *input, result, opts, *report)
		must(err)
		fmt.Printf("extract done run=%d tables=%d itemTables=%d extracted=%d ignored=%d\n",
			runID, result.TablesTotal, result.ItemTables, result.RowsExtracted, result.RowsIgnored)
		fmt.Printf("workbook: %s\n", outputs.Workbook)
		if outputs.Report != "" {
			fmt.Printf("report: %s\n", outputs.Report)
		}
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		runID := fs.Int("runId", 0, "stored run id")
		out := fs.String("out", "", "output xlsx path")
		rule := fs.String("rule", string(cfg.AggregationRule), "code_desc|code_only|desc_only")
		consolidated := fs.Bool("consolidated", cfg.ExportConsolidated, "add the Consolidado sheet")
		report := fs.Bool("report", cfg.WriteReport, "write <out>_log.txt")
		_ = fs.Parse(os.Args[2:])
		if *runID == 0 || strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--runId and --out are required"))
		}
		run, result := storedRun(db, *runID)
		if len(result.Items) == 0 {
			must(fmt.Errorf("run %d has no items", *runID))
		}
		opts := pipeline.ExportOptions{Consolidated: *consolidated, Rule: internal.ParseKeyRule(*rule)}
		outputs, err := pipeline.WriteOutputs(*out, run.SourceName, result, opts, *report)
		must(err)
		fmt.Printf("exported %d rows to %s\n", len(result.Items), outputs.Workbook)
	case "report":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		runID := fs.Int("runId", 0, "stored run id")
		rule := fs.String("rule", string(cfg.AggregationRule), "code_desc|code_only|desc_only")
		_ = fs.Parse(os.Args[2:])
		if *runID == 0 {
			must(fmt.Errorf("--runId is required"))
		}
		run, result := storedRun(db, *runID)
		must(pipeline.RenderReport(os.Stdout, pipeline.ReportMeta{
			SourceName:  run.SourceName,
			GeneratedAt: time.Now(),
			Rule:        internal.ParseKeyRule(*rule),
			Result:      result,
		}))
	case "runs:list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		limit := fs.Int("limit", 20, "max runs")
		_ = fs.Parse(os.Args[2:])
		runs, err := db.ListRuns(*limit)
		must(err)
		for _, r := range runs {
			kind := ""
			if r.ErrorKind != nil {
				kind = *r.ErrorKind
			}
			fmt.Printf("%d\t%s\t%s\t%s\textracted=%d ignored=%d\t%s\n",
				r.ID, r.CreatedAt, r.Status, r.SourceName, r.RowsExtracted, r.RowsIgnored, kind)
		}
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", "gmail", "gmail|imap")
		label := fs.String("label", "INBOX", "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		_ = fs.Parse(os.Args[2:])
		conn, err := makeConnector(ctx, cfg, log, *provider)
		must(err)
		fetch := connectors.NewFetchService(db, cfg.RawMailDir, conn, log)
		result, err := fetch.FetchAndStore(ctx, *label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d\n", *provider, result.Fetched, result.Stored)
	case "mail:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", "gmail", "gmail|imap")
		messageID := fs.String("messageId", "", "specific message-id")
		batch := fs.Int("batch", 20, "batch size")
		_ = fs.Parse(os.Args[2:])
		processor := pipeline.NewProcessingService(db, cfg, log)
		if strings.TrimSpace(*messageID) != "" {
			res, err := processor.ProcessByProviderMessageID(ctx, *provider, *messageID)
			must(err)
			fmt.Printf("processed email id=%d documents=%d failed=%d items=%d\n", res.EmailID, res.Documents, res.Failed, res.Items)
			return
		}
		processedEmails, processedItems, err := processor.ProcessPending(ctx, *batch, *provider)
		must(err)
		fmt.Printf("processed pending emails=%d items=%d\n", processedEmails, processedItems)
	case "mail:listen":
		s := listener.NewService(db, cfg, log)
		must(s.Run(ctx))
	default:
		usage()
		os.Exit(1)
	}
}

// extract runs one package and exits with guidance when it cannot be read.
func extract(ctx context.Context, db *storage.DB, cfg config.Config, log *slog.Logger, path string, store bool) (internal.ExtractionResult, int64) {
	if !store {
		result, err := pipeline.ExtractFromFile(path, cfg.MaxPackageBytes)
		if err != nil {
			fail(pipeline.ErrorKind(err), err.Error())
		}
		return result, 0
	}

	info, err := os.Stat(path)
	must(err)
	if err := pipeline.CheckPackage(path, info.Size(), cfg.MaxPackageBytes); err != nil {
		fail(pipeline.ErrorKind(err), err.Error())
	}
	raw, err := os.ReadFile(path)
	must(err)

	processor := pipeline.NewProcessingService(db, cfg, log)
	runID, result, err := processor.RunPackage(ctx, nil, filepath.Base(path), raw)
	must(err)
	if result == nil {
		run, err := db.GetRun(int(runID))
		must(err)
		kind, msg := pipeline.KindOther, "extraction failed"
		if run != nil && run.ErrorKind != nil {
			kind = *run.ErrorKind
		}
		if run != nil && run.ErrorMessage != nil {
			msg = *run.ErrorMessage
		}
		fail(kind, msg)
	}
	return *result, runID
}

func storedRun(db *storage.DB, runID int) (internal.RunRow, internal.ExtractionResult) {
	run, err := db.GetRun(runID)
	must(err)
	if run == nil {
		must(fmt.Errorf("run not found: %d", runID))
	}
	if run.Status != internal.RunOK {
		must(fmt.Errorf("run %d did not succeed (status=%s)", runID, run.Status))
	}
	result, err := db.GetRunResult(runID)
	must(err)
	return *run, result
}

func makeConnector(ctx context.Context, cfg config.Config, log *slog.Logger, provider string) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(ctx, cfg, log)
	case "imap":
		return imapconnector.NewConnector(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func usage() {
	fmt.Println("usage: docxitens <command>")
	fmt.Println("commands:")
	fmt.Println("  extract --input=pedido.docx [--output=./out/pedido.xlsx] [--rule=code_desc] [--consolidated] [--report] [--store]")
	fmt.Println("  export:xlsx --runId=1 --out=./out/result.xlsx [--rule=code_desc]")
	fmt.Println("  report --runId=1 [--rule=code_desc]")
	fmt.Println("  runs:list [--limit=20]")
	fmt.Println("  mail:fetch --provider=gmail|imap --label=INBOX --max=50")
	fmt.Println("  mail:process --provider=gmail|imap [--messageId=...] [--batch=20]")
	fmt.Println("  mail:listen")
}

func fail(kind, msg string) {
	fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	if hint := pipeline.Guidance(kind); hint != "" {
		fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
	}
	os.Exit(1)
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
