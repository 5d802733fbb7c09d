package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"docxitens/internal"
	"docxitens/internal/util"
)

type DB struct {
	conn *sql.DB
}

// NewRun is everything persisted for one extraction attempt.
type NewRun struct {
	TraceID      string
	EmailID      *int
	SourceName   string
	Status       internal.RunStatus
	ErrorKind    string
	ErrorMessage string
	Result       internal.ExtractionResult
	Timings      map[string]float64
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS emails (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'fetched',
  rawRef TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  emailId INTEGER,
  sourceName TEXT NOT NULL,
  status TEXT NOT NULL,
  errorKind TEXT,
  errorMessage TEXT,
  tablesTotal INTEGER NOT NULL DEFAULT 0,
  itemTables INTEGER NOT NULL DEFAULT 0,
  rowsExtracted INTEGER NOT NULL DEFAULT 0,
  rowsIgnored INTEGER NOT NULL DEFAULT 0,
  timingsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(emailId) REFERENCES emails(id)
);
CREATE INDEX IF NOT EXISTS idx_runs_emailId ON runs(emailId);

CREATE TABLE IF NOT EXISTS items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId INTEGER NOT NULL,
  seq INTEGER NOT NULL,
  code TEXT NOT NULL,
  description TEXT NOT NULL,
  quantityRaw TEXT NOT NULL,
  quantity REAL,
  origin TEXT NOT NULL,
  UNIQUE(runId, seq),
  FOREIGN KEY(runId) REFERENCES runs(id)
);

CREATE TABLE IF NOT EXISTS rejections (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId INTEGER NOT NULL,
  seq INTEGER NOT NULL,
  tableIndex INTEGER NOT NULL,
  rowIndex INTEGER NOT NULL,
  reason TEXT NOT NULL,
  value TEXT NOT NULL,
  UNIQUE(runId, seq),
  FOREIGN KEY(runId) REFERENCES runs(id)
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) UpsertEmail(provider, messageID, subject, sender, receivedAt, hash, rawRef, status string) (internal.EmailRow, error) {
	_, err := d.conn.Exec(`
INSERT INTO emails (provider, messageId, subject, sender, receivedAt, hash, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, provider, messageID, subject, sender, receivedAt, hash, status, rawRef)
	if err != nil {
		return internal.EmailRow{}, err
	}

	row, err := d.GetEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.EmailRow{}, err
	}
	if row == nil {
		return internal.EmailRow{}, errors.New("failed to upsert email")
	}
	return *row, nil
}

const emailColumns = `id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef`

func scanEmail(s interface{ Scan(...any) error }) (internal.EmailRow, error) {
	var row internal.EmailRow
	err := s.Scan(&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef)
	return row, err
}

func (d *DB) GetEmailByProviderMessageID(provider, messageID string) (*internal.EmailRow, error) {
	row, err := scanEmail(d.conn.QueryRow(`SELECT `+emailColumns+` FROM emails WHERE provider = ? AND messageId = ?`, provider, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) GetEmailByID(id int) (*internal.EmailRow, error) {
	row, err := scanEmail(d.conn.QueryRow(`SELECT `+emailColumns+` FROM emails WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListEmailsByStatus returns the oldest emails in status; an empty provider matches all.
func (d *DB) ListEmailsByStatus(status, provider string, limit int) ([]internal.EmailRow, error) {
	rows, err := d.conn.Query(`
SELECT `+emailColumns+` FROM emails
WHERE status = ? AND (? = '' OR provider = ?)
ORDER BY receivedAt ASC, id ASC LIMIT ?`, status, provider, provider, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.EmailRow
	for rows.Next() {
		row, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpdateEmailStatus(emailID int, status string) error {
	_, err := d.conn.Exec(`UPDATE emails SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, emailID)
	return err
}

func (d *DB) MustEmailByProviderMessageID(provider, messageID string) (internal.EmailRow, error) {
	row, err := d.GetEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.EmailRow{}, err
	}
	if row == nil {
		return internal.EmailRow{}, fmt.Errorf("email not found: provider=%s messageId=%s", provider, messageID)
	}
	return *row, nil
}

// InsertRun stores the run with its items and rejections in one transaction.
func (d *DB) InsertRun(run NewRun) (int64, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	timings := run.Timings
	if timings == nil {
		timings = map[string]float64{}
	}
	timingsJSON, _ := json.Marshal(timings)

	var errorKind, errorMessage *string
	if run.ErrorKind != "" {
		errorKind = util.StringPtr(run.ErrorKind)
	}
	if run.ErrorMessage != "" {
		errorMessage = util.StringPtr(run.ErrorMessage)
	}

	res := run.Result
	result, err := tx.Exec(`
INSERT INTO runs (traceId, emailId, sourceName, status, errorKind, errorMessage,
                  tablesTotal, itemTables, rowsExtracted, rowsIgnored, timingsJson)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.TraceID, run.EmailID, run.SourceName, string(run.Status), errorKind, errorMessage,
		res.TablesTotal, res.ItemTables, res.RowsExtracted, res.RowsIgnored, string(timingsJSON))
	if err != nil {
		return 0, err
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	if len(res.Items) > 0 {
		stmt, err := tx.Prepare(`
INSERT INTO items (runId, seq, code, description, quantityRaw, quantity, origin)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()
		for i, item := range res.Items {
			if _, err := stmt.Exec(runID, i, item.Code, item.Description, item.QuantityRaw, util.FloatPtr(item.Quantity), item.Origin); err != nil {
				return 0, err
			}
		}
	}

	if len(res.Rejections) > 0 {
		stmt, err := tx.Prepare(`
INSERT INTO rejections (runId, seq, tableIndex, rowIndex, reason, value)
VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()
		for i, rej := range res.Rejections {
			if _, err := stmt.Exec(runID, i, rej.Table, rej.Row, string(rej.Reason), rej.Value); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}

const runColumns = `id, traceId, emailId, sourceName, status, errorKind, errorMessage,
  tablesTotal, itemTables, rowsExtracted, rowsIgnored, createdAt`

func scanRun(s interface{ Scan(...any) error }) (internal.RunRow, error) {
	var row internal.RunRow
	var status string
	err := s.Scan(&row.ID, &row.TraceID, &row.EmailID, &row.SourceName, &status, &row.ErrorKind, &row.ErrorMessage,
		&row.TablesTotal, &row.ItemTables, &row.RowsExtracted, &row.RowsIgnored, &row.CreatedAt)
	row.Status = internal.RunStatus(status)
	return row, err
}

func (d *DB) GetRun(id int) (*internal.RunRow, error) {
	row, err := scanRun(d.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) ListRuns(limit int) ([]internal.RunRow, error) {
	return d.queryRuns(`SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
}

func (d *DB) ListRunsByEmail(emailID int) ([]internal.RunRow, error) {
	return d.queryRuns(`SELECT `+runColumns+` FROM runs WHERE emailId = ? ORDER BY id ASC`, emailID)
}

func (d *DB) queryRuns(query string, args ...any) ([]internal.RunRow, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.RunRow
	for rows.Next() {
		row, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetRunResult rebuilds the ExtractionResult of a stored run. NULL quantities
// come back as NaN.
func (d *DB) GetRunResult(runID int) (internal.ExtractionResult, error) {
	run, err := d.GetRun(runID)
	if err != nil {
		return internal.ExtractionResult{}, err
	}
	if run == nil {
		return internal.ExtractionResult{}, fmt.Errorf("run not found: %d", runID)
	}

	result := internal.ExtractionResult{
		Items:         []internal.Item{},
		Rejections:    []internal.RejectionRecord{},
		TablesTotal:   run.TablesTotal,
		ItemTables:    run.ItemTables,
		RowsExtracted: run.RowsExtracted,
		RowsIgnored:   run.RowsIgnored,
	}

	itemRows, err := d.conn.Query(`
SELECT code, description, quantityRaw, quantity, origin
FROM items WHERE runId = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return internal.ExtractionResult{}, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var item internal.Item
		var qty *float64
		if err := itemRows.Scan(&item.Code, &item.Description, &item.QuantityRaw, &qty, &item.Origin); err != nil {
			return internal.ExtractionResult{}, err
		}
		item.Quantity = math.NaN()
		if qty != nil {
			item.Quantity = *qty
		}
		result.Items = append(result.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return internal.ExtractionResult{}, err
	}

	rejRows, err := d.conn.Query(`
SELECT tableIndex, rowIndex, reason, value
FROM rejections WHERE runId = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return internal.ExtractionResult{}, err
	}
	defer rejRows.Close()
	for rejRows.Next() {
		var rej internal.RejectionRecord
		var reason string
		if err := rejRows.Scan(&rej.Table, &rej.Row, &reason, &rej.Value); err != nil {
			return internal.ExtractionResult{}, err
		}
		rej.Reason = internal.RejectReason(reason)
		result.Rejections = append(result.Rejections, rej)
	}
	return result, rejRows.Err()
}

// ClearEmailRuns drops previous runs of an email before it is reprocessed.
func (d *DB) ClearEmailRuns(emailID int) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(`SELECT id FROM runs WHERE emailId = ?`, emailID)
	if err != nil {
		return err
	}
	var runIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return err
		}
		runIDs = append(runIDs, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, id := range runIDs {
		if _, err := tx.Exec(`DELETE FROM items WHERE runId = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM rejections WHERE runId = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}
