package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docxitens/internal"
	"docxitens/internal/docx"
)

var (
	ErrUnsupportedInput = errors.New("unsupported input: expected a .docx file")
	ErrPackageTooLarge  = errors.New("package too large")
)

// Error kinds stored with failed runs.
const (
	KindContainer   = "container"
	KindMarkup      = "markup"
	KindUnsupported = "unsupported"
	KindTooLarge    = "too_large"
	KindOther       = "other"
)

func IsPackageName(name string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(name)), ".docx")
}

// CheckPackage applies the boundary checks done before extraction.
func CheckPackage(name string, size, maxBytes int64) error {
	if !IsPackageName(name) {
		return fmt.Errorf("%w: %s", ErrUnsupportedInput, filepath.Base(name))
	}
	if maxBytes > 0 && size > maxBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPackageTooLarge, size, maxBytes)
	}
	return nil
}

func ExtractFromFile(path string, maxBytes int64) (internal.ExtractionResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return internal.ExtractionResult{}, err
	}
	if err := CheckPackage(path, info.Size(), maxBytes); err != nil {
		return internal.ExtractionResult{}, err
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return internal.ExtractionResult{}, err
	}
	return ExtractFromPackage(blob)
}

func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, docx.ErrContainer):
		return KindContainer
	case errors.Is(err, docx.ErrMarkup):
		return KindMarkup
	case errors.Is(err, ErrUnsupportedInput):
		return KindUnsupported
	case errors.Is(err, ErrPackageTooLarge):
		return KindTooLarge
	default:
		return KindOther
	}
}

// Guidance is the user-facing hint for an extraction failure kind.
func Guidance(kind string) string {
	switch kind {
	case KindContainer:
		return "the file is not a readable .docx package or has no word/document.xml; re-save it from the word processor"
	case KindMarkup:
		return "the document body is corrupted (malformed XML); open and re-save the document"
	case KindUnsupported:
		return "only .docx files are supported"
	case KindTooLarge:
		return "the file exceeds ITENS_MAX_PACKAGE_BYTES"
	default:
		return ""
	}
}
