package listener

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"docxitens/internal"
	"docxitens/internal/config"
	"docxitens/internal/connectors"
	gmailconnector "docxitens/internal/connectors/gmail"
	imapconnector "docxitens/internal/connectors/imap"
	"docxitens/internal/pipeline"
	"docxitens/internal/storage"
)

const (
	metaLastCycleAt    = "listener.lastCycleAt"
	metaLastCycleStats = "listener.lastCycleStats"
	exportBatch        = 200
)

type ConnectorFactory func(ctx context.Context, provider string) (connectors.MailConnector, error)

type Service struct {
	db      *storage.DB
	cfg     config.Config
	logger  *slog.Logger
	connect ConnectorFactory
}

func NewService(db *storage.DB, cfg config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{db: db, cfg: cfg, logger: logger}
	s.connect = s.makeConnector
	return s
}

// WithConnectorFactory replaces how mail connectors are built.
func (s *Service) WithConnectorFactory(f ConnectorFactory) *Service {
	s.connect = f
	return s
}

// Run polls until ctx is done. Cycle errors are logged and the loop continues.
func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(max(s.cfg.MailListenerIntervalSec, 1)) * time.Second
	s.logger.Info("mail listener started", "provider", s.cfg.MailListenerProvider, "label", s.cfg.MailListenerLabel, "interval", interval)
	for {
		if err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("listener cycle failed", "err", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("mail listener stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

type CycleStats struct {
	Fetched   int
	Stored    int
	Processed int
	Items     int
	Exported  int
}

func (s *Service) RunCycle(ctx context.Context) error {
	provider := strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
	mailConnector, err := s.connect(ctx, provider)
	if err != nil {
		return err
	}

	var stats CycleStats
	fetchService := connectors.NewFetchService(s.db, s.cfg.RawMailDir, mailConnector, s.logger)
	fetchResult, err := fetchService.FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return err
	}
	stats.Fetched, stats.Stored = fetchResult.Fetched, fetchResult.Stored

	processor := pipeline.NewProcessingService(s.db, s.cfg, s.logger)
	stats.Processed, stats.Items, err = processor.ProcessPending(ctx, s.cfg.MailListenerProcessBatch, provider)
	if err != nil {
		return err
	}

	if s.cfg.MailListenerAutoExport {
		stats.Exported, err = s.exportProcessed(provider)
		if err != nil {
			return err
		}
	}

	s.logger.Info("listener cycle done",
		"provider", provider,
		"fetched", stats.Fetched,
		"stored", stats.Stored,
		"processed", stats.Processed,
		"items", stats.Items,
		"exported", stats.Exported,
	)
	if err := s.db.SetMetadata(metaLastCycleAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return s.db.SetMetadata(metaLastCycleStats, fmt.Sprintf("fetched=%d stored=%d processed=%d items=%d exported=%d",
		stats.Fetched, stats.Stored, stats.Processed, stats.Items, stats.Exported))
}

// exportProcessed writes a workbook per successful run of processed emails and
// marks those emails exported. It returns the number of workbooks written.
func (s *Service) exportProcessed(provider string) (int, error) {
	emails, err := s.db.ListEmailsByStatus(pipeline.EmailProcessed, provider, exportBatch)
	if err != nil {
		return 0, err
	}

	opts := pipeline.ExportOptions{Consolidated: s.cfg.ExportConsolidated, Rule: s.cfg.AggregationRule}
	written := 0
	for _, email := range emails {
		runs, err := s.db.ListRunsByEmail(email.ID)
		if err != nil {
			return written, err
		}
		for _, run := range runs {
			if run.Status != internal.RunOK || run.RowsExtracted == 0 {
				continue
			}
			result, err := s.db.GetRunResult(run.ID)
			if err != nil {
				return written, err
			}
			outputPath := filepath.Join(s.cfg.OutputDir, "listener", exportFileName(email, run))
			outputs, err := pipeline.WriteOutputs(outputPath, run.SourceName, result, opts, s.cfg.WriteReport)
			if err != nil {
				return written, err
			}
			written++
			s.logger.Info("run exported", "email_id", email.ID, "run_id", run.ID, "path", outputs.Workbook)
		}
		if err := s.db.UpdateEmailStatus(email.ID, pipeline.EmailExported); err != nil {
			return written, err
		}
	}
	return written, nil
}

func (s *Service) makeConnector(ctx context.Context, provider string) (connectors.MailConnector, error) {
	switch provider {
	case "gmail":
		return gmailconnector.NewConnector(ctx, s.cfg, s.logger)
	case "imap":
		return imapconnector.NewConnector(s.cfg, s.logger)
	default:
		return nil, fmt.Errorf("unsupported listener provider: %s", provider)
	}
}

func exportFileName(email internal.EmailRow, run internal.RunRow) string {
	base := strings.TrimSuffix(filepath.Base(run.SourceName), filepath.Ext(run.SourceName))
	return fmt.Sprintf("%d_%d_%s_%s.xlsx", email.ID, run.ID, sanitizeMessageID(email.MessageID), sanitizeMessageID(base))
}

func sanitizeMessageID(input string) string {
	repl := strings.NewReplacer("<", "_", ">", "_", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_", "\"", "_")
	out := repl.Replace(input)
	if len(out) > 120 {
		out = out[:120]
	}
	return out
}
