package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jhillyerd/enmime"

	"docxitens/internal"
	"docxitens/internal/config"
	"docxitens/internal/storage"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

type attachment struct {
	name, contentType string
	data              []byte
}

func mkEmail(t *testing.T, attachments ...attachment) []byte {
	t.Helper()
	b := enmime.Builder().
		From("Compras", "compras@example.com").
		To("Vendas", "vendas@example.com").
		Subject("Pedido de materiais").
		Text([]byte("segue o pedido em anexo"))
	for _, a := range attachments {
		b = b.AddAttachment(a.data, a.contentType, a.name)
	}
	part, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestService(t *testing.T) (*ProcessingService, *storage.DB, string) {
	t.Helper()
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	cfg := config.Config{MaxPackageBytes: 50 << 20, AggregationRule: internal.KeyCodeDesc}
	return NewProcessingService(db, cfg, nil), db, tmp
}

func storeEmail(t *testing.T, db *storage.DB, dir, messageID string, raw []byte) internal.EmailRow {
	t.Helper()
	rawPath := filepath.Join(dir, messageID+".eml")
	if err := os.WriteFile(rawPath, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	email, err := db.UpsertEmail("imap", messageID, "Pedido de materiais", "compras@example.com", "2026-02-08T00:00:00Z", "hash-"+messageID, rawPath, EmailFetched)
	if err != nil {
		t.Fatal(err)
	}
	return email
}

func TestDocxAttachments(t *testing.T) {
	doc := mkDocx(t, [][]string{{"Itens"}, {"1", "a", "1"}})
	raw := mkEmail(t,
		attachment{"pedido.docx", docxMIME, doc},
		attachment{"catalogo.pdf", "application/pdf", []byte("%PDF-1.4")},
		attachment{"ANEXO.DOCX", "application/octet-stream", doc},
	)

	got, err := DocxAttachments(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "pedido.docx" || got[1].Name != "ANEXO.DOCX" {
		t.Fatalf("attachments = %+v", got)
	}
	if !bytes.Equal(got[0].Data, doc) {
		t.Fatal("attachment content differs")
	}
}

func TestProcessEmail(t *testing.T) {
	svc, db, dir := newTestService(t)
	ctx := context.Background()

	good := mkDocx(t, [][]string{
		{"Itens", "Descrição", "Qtd"},
		{"1", "Parafuso", "10"},
		{"#N/D", "x", "5"},
		{"2", "Porca", "7,5"},
	})
	raw := mkEmail(t,
		attachment{"pedido.docx", docxMIME, good},
		attachment{"corrompido.docx", docxMIME, []byte("not a zip archive")},
	)
	email := storeEmail(t, db, dir, "msg-1", raw)

	res, err := svc.ProcessEmail(ctx, email)
	if err != nil {
		t.Fatal(err)
	}
	if res.Documents != 2 || res.Failed != 1 || res.Items != 2 || len(res.RunIDs) != 2 {
		t.Fatalf("result = %+v", res)
	}

	runs, err := db.ListRunsByEmail(email.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d", len(runs))
	}
	ok, failed := runs[0], runs[1]
	if ok.Status != internal.RunOK || ok.SourceName != "pedido.docx" || ok.RowsExtracted != 2 || ok.RowsIgnored != 1 {
		t.Fatalf("ok run = %+v", ok)
	}
	if failed.Status != internal.RunFailed || failed.ErrorKind == nil || *failed.ErrorKind != KindContainer {
		t.Fatalf("failed run = %+v", failed)
	}

	stored, err := db.GetRunResult(ok.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Items) != 2 || stored.Items[1].Quantity != 7.5 || stored.Rejections[0].Row != 3 {
		t.Fatalf("stored result = %+v", stored)
	}

	row, err := db.GetEmailByID(email.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != EmailProcessed {
		t.Fatalf("status = %q", row.Status)
	}

	// Reprocessing replaces the previous runs.
	if _, err := svc.ProcessEmail(ctx, email); err != nil {
		t.Fatal(err)
	}
	runs, err = db.ListRunsByEmail(email.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs after reprocess = %d", len(runs))
	}
}

func TestProcessEmailWithoutDocx(t *testing.T) {
	svc, db, dir := newTestService(t)
	raw := mkEmail(t, attachment{"catalogo.pdf", "application/pdf", []byte("%PDF-1.4")})
	email := storeEmail(t, db, dir, "msg-2", raw)

	res, err := svc.ProcessEmail(context.Background(), email)
	if err != nil {
		t.Fatal(err)
	}
	if res.Documents != 0 {
		t.Fatalf("result = %+v", res)
	}
	row, err := db.GetEmailByID(email.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != EmailSkipped {
		t.Fatalf("status = %q", row.Status)
	}
}

func TestProcessPendingFiltersProvider(t *testing.T) {
	svc, db, dir := newTestService(t)
	doc := mkDocx(t, [][]string{{"Itens"}, {"1", "a", "2"}, {"2", "b", "3"}})
	storeEmail(t, db, dir, "msg-3", mkEmail(t, attachment{"a.docx", docxMIME, doc}))

	emails, items, err := svc.ProcessPending(context.Background(), 10, "gmail")
	if err != nil {
		t.Fatal(err)
	}
	if emails != 0 || items != 0 {
		t.Fatalf("gmail filter processed emails=%d items=%d", emails, items)
	}

	emails, items, err = svc.ProcessPending(context.Background(), 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if emails != 1 || items != 2 {
		t.Fatalf("processed emails=%d items=%d", emails, items)
	}
}

func TestProcessPendingProviderBatchAndUnreadable(t *testing.T) {
	svc, db, dir := newTestService(t)
	doc := mkDocx(t, [][]string{{"Itens"}, {"1", "a", "2"}})
	raw := mkEmail(t, attachment{"a.docx", docxMIME, doc})

	older := storeEmail(t, db, dir, "imap-old", raw)
	rawPath := filepath.Join(dir, "gmail-new.eml")
	if err := os.WriteFile(rawPath, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	missing, err := db.UpsertEmail("gmail", "gmail-missing", "s", "a", "2026-02-09T00:00:00Z", "h-missing", filepath.Join(dir, "gone.eml"), EmailFetched)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertEmail("gmail", "gmail-new", "s", "a", "2026-02-10T00:00:00Z", "h-new", rawPath, EmailFetched); err != nil {
		t.Fatal(err)
	}

	// Both gmail emails are newer than the imap one; a limit of one must still reach gmail.
	emails, _, err := svc.ProcessPending(context.Background(), 1, "gmail")
	if err != nil {
		t.Fatal(err)
	}
	if emails != 0 {
		t.Fatalf("emails=%d", emails)
	}
	got, err := db.MustEmailByProviderMessageID("gmail", "gmail-missing")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != missing.ID || got.Status != EmailFailed {
		t.Fatalf("missing raw email = %+v", got)
	}

	emails, items, err := svc.ProcessPending(context.Background(), 10, "gmail")
	if err != nil {
		t.Fatal(err)
	}
	if emails != 1 || items != 1 {
		t.Fatalf("emails=%d items=%d", emails, items)
	}
	got, err = db.MustEmailByProviderMessageID("imap", older.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != EmailFetched {
		t.Fatalf("imap email touched: %+v", got)
	}
}

func TestProcessPendingContinuesPastUnreadable(t *testing.T) {
	svc, db, dir := newTestService(t)
	doc := mkDocx(t, [][]string{{"Itens"}, {"1", "a", "2"}})
	if _, err := db.UpsertEmail("imap", "broken", "s", "a", "2026-02-01T00:00:00Z", "h-broken", filepath.Join(dir, "gone.eml"), EmailFetched); err != nil {
		t.Fatal(err)
	}
	storeEmail(t, db, dir, "ok", mkEmail(t, attachment{"a.docx", docxMIME, doc}))

	emails, items, err := svc.ProcessPending(context.Background(), 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if emails != 1 || items != 1 {
		t.Fatalf("emails=%d items=%d", emails, items)
	}
	broken, err := db.MustEmailByProviderMessageID("imap", "broken")
	if err != nil {
		t.Fatal(err)
	}
	if broken.Status != EmailFailed {
		t.Fatalf("broken status = %q", broken.Status)
	}
}

func TestRunPackageSizeCap(t *testing.T) {
	svc, db, _ := newTestService(t)
	svc.cfg.MaxPackageBytes = 16

	runID, result, err := svc.RunPackage(context.Background(), nil, "big.docx", bytes.Repeat([]byte("x"), 64))
	if err != nil {
		t.Fatal(err)
	}
	if result != nil {
		t.Fatal("expected failed run")
	}
	run, err := db.GetRun(int(runID))
	if err != nil {
		t.Fatal(err)
	}
	if run.ErrorKind == nil || *run.ErrorKind != KindTooLarge || run.EmailID != nil {
		t.Fatalf("run = %+v", run)
	}
}

func TestProcessByProviderMessageIDUnknown(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.ProcessByProviderMessageID(context.Background(), "imap", "missing"); err == nil {
		t.Fatal("expected error for unknown message")
	}
}
