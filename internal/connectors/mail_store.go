package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docxitens/internal"
	"docxitens/internal/storage"
)

var ErrEmptyMessage = errors.New("empty raw message")

// MailStoreService writes raw messages as <sha256>.eml and records them as fetched.
type MailStoreService struct {
	db         *storage.DB
	rawMailDir string
}

func NewMailStoreService(db *storage.DB, rawMailDir string) *MailStoreService {
	return &MailStoreService{db: db, rawMailDir: rawMailDir}
}

func (s *MailStoreService) Store(msg internal.FetchedMailMessage) (internal.EmailRow, error) {
	messageID := strings.TrimSpace(msg.MessageID)
	if len(msg.Raw) == 0 {
		return internal.EmailRow{}, fmt.Errorf("%w: %s/%s", ErrEmptyMessage, msg.Provider, messageID)
	}

	hashBytes := sha256.Sum256(msg.Raw)
	hash := hex.EncodeToString(hashBytes[:])

	if err := os.MkdirAll(s.rawMailDir, 0o755); err != nil {
		return internal.EmailRow{}, err
	}

	rawPath := filepath.Join(s.rawMailDir, hash+".eml")
	if _, err := os.Stat(rawPath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(rawPath, msg.Raw, 0o644); err != nil {
			return internal.EmailRow{}, err
		}
	}

	return s.db.UpsertEmail(msg.Provider, messageID, msg.Subject, msg.From, msg.ReceivedAt, hash, rawPath, "fetched")
}
