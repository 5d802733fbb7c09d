package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"docxitens/internal"
	"docxitens/internal/config"
	"docxitens/internal/storage"
)

// Email statuses after processing.
const (
	EmailFetched   = "fetched"
	EmailProcessed = "processed"
	EmailSkipped   = "skipped"
	EmailExported  = "exported"
	EmailFailed    = "failed"
)

// ErrUnreadableEmail marks a stored message whose raw file cannot be read or parsed.
var ErrUnreadableEmail = errors.New("unreadable email")

type ProcessingService struct {
	db     *storage.DB
	cfg    config.Config
	logger *slog.Logger
}

func NewProcessingService(db *storage.DB, cfg config.Config, logger *slog.Logger) *ProcessingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessingService{db: db, cfg: cfg, logger: logger}
}

type ProcessResult struct {
	EmailID   int
	Documents int
	Items     int
	Failed    int
	RunIDs    []int64
}

// Attachment is a .docx part found in a mail message.
type Attachment struct {
	Name string
	Data []byte
}

// DocxAttachments returns every .docx part of a raw message, in MIME order.
func DocxAttachments(raw []byte) ([]Attachment, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}

	var out []Attachment
	for _, group := range [][]*enmime.Part{env.Attachments, env.Inlines, env.OtherParts} {
		for _, part := range group {
			name := strings.TrimSpace(part.FileName)
			if !IsPackageName(name) {
				continue
			}
			out = append(out, Attachment{Name: name, Data: part.Content})
		}
	}
	return out, nil
}

func (s *ProcessingService) ProcessByProviderMessageID(ctx context.Context, provider, messageID string) (ProcessResult, error) {
	email, err := s.db.MustEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return ProcessResult{}, err
	}
	return s.ProcessEmail(ctx, email)
}

// ProcessPending handles fetched emails, optionally limited to one provider.
// Unreadable emails are marked failed and skipped. It returns the number of
// processed emails and extracted items.
func (s *ProcessingService) ProcessPending(ctx context.Context, limit int, provider string) (int, int, error) {
	pending, err := s.db.ListEmailsByStatus(EmailFetched, provider, limit)
	if err != nil {
		return 0, 0, err
	}
	processedEmails := 0
	processedItems := 0
	for _, email := range pending {
		if err := ctx.Err(); err != nil {
			return processedEmails, processedItems, err
		}
		res, err := s.ProcessEmail(ctx, email)
		if errors.Is(err, ErrUnreadableEmail) {
			s.logger.Error("email marked failed", "email_id", email.ID, "raw_ref", email.RawRef, "err", err)
			if err := s.db.UpdateEmailStatus(email.ID, EmailFailed); err != nil {
				return processedEmails, processedItems, err
			}
			continue
		}
		if err != nil {
			return processedEmails, processedItems, err
		}
		processedEmails++
		processedItems += res.Items
	}
	return processedEmails, processedItems, nil
}

// ProcessEmail replaces earlier runs of the email with one run per .docx
// attachment. Extraction failures are stored as failed runs, not returned.
func (s *ProcessingService) ProcessEmail(ctx context.Context, email internal.EmailRow) (ProcessResult, error) {
	raw, err := os.ReadFile(email.RawRef)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("%w: read %s: %w", ErrUnreadableEmail, email.RawRef, err)
	}

	attachments, err := DocxAttachments(raw)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("%w: %w", ErrUnreadableEmail, err)
	}

	if err := s.db.ClearEmailRuns(email.ID); err != nil {
		return ProcessResult{}, err
	}

	res := ProcessResult{EmailID: email.ID}
	if len(attachments) == 0 {
		s.logger.Info("email has no docx attachments", "email_id", email.ID, "subject", email.Subject)
		return res, s.db.UpdateEmailStatus(email.ID, EmailSkipped)
	}

	emailID := email.ID
	for _, att := range attachments {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		runID, result, err := s.RunPackage(ctx, &emailID, att.Name, att.Data)
		if err != nil {
			return res, err
		}
		res.Documents++
		res.RunIDs = append(res.RunIDs, runID)
		if result == nil {
			res.Failed++
			continue
		}
		res.Items += len(result.Items)
	}

	if err := s.db.UpdateEmailStatus(email.ID, EmailProcessed); err != nil {
		return res, err
	}
	return res, nil
}

// RunPackage extracts one package and stores the run. A nil result means the
// extraction failed and a failed run was stored; the returned error is for
// storage problems only.
func (s *ProcessingService) RunPackage(ctx context.Context, emailID *int, name string, raw []byte) (int64, *internal.ExtractionResult, error) {
	traceID := uuid.NewString()
	log := s.logger.With("trace_id", traceID, "source", name)
	start := time.Now()

	var result internal.ExtractionResult
	err := CheckPackage(name, int64(len(raw)), s.cfg.MaxPackageBytes)
	if err == nil {
		result, err = ExtractFromPackage(raw)
	}
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	run := storage.NewRun{
		TraceID:    traceID,
		EmailID:    emailID,
		SourceName: name,
		Status:     internal.RunOK,
		Result:     result,
		Timings:    map[string]float64{"extractMs": elapsed},
	}
	if err != nil {
		kind := ErrorKind(err)
		run.Status = internal.RunFailed
		run.ErrorKind = kind
		run.ErrorMessage = err.Error()
		log.WarnContext(ctx, "extraction failed", "kind", kind, "err", err)
	}

	runID, dbErr := s.db.InsertRun(run)
	if dbErr != nil {
		return 0, nil, fmt.Errorf("store run: %w", dbErr)
	}
	if err != nil {
		return runID, nil, nil
	}

	log.InfoContext(ctx, "extraction run stored",
		"run_id", runID,
		"tables", result.TablesTotal,
		"item_tables", result.ItemTables,
		"items", result.RowsExtracted,
		"ignored", result.RowsIgnored,
	)
	if result.RowsExtracted == 0 {
		log.WarnContext(ctx, "no valid rows found in item tables", "run_id", runID)
	}
	return runID, &result, nil
}
