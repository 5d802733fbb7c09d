// Package docx reads the body of OOXML word-processing packages and exposes its
// table structure as a small element tree.
package docx

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// BodyEntry is the archive path of the main document part.
const BodyEntry = "word/document.xml"

var (
	ErrContainer         = errors.New("docx container")
	ErrArchiveUnreadable = fmt.Errorf("%w: archive unreadable", ErrContainer)
	ErrEntryNotFound     = fmt.Errorf("%w: entry %s not found", ErrContainer, BodyEntry)
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadBody opens raw as a zip archive and returns the text of word/document.xml.
func ReadBody(raw []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchiveUnreadable, err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == BodyEntry {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", ErrEntryNotFound
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", ErrArchiveUnreadable, BodyEntry, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrArchiveUnreadable, BodyEntry, err)
	}
	return string(bytes.TrimPrefix(body, utf8BOM)), nil
}

// Open reads and scans the package body in one step.
func Open(raw []byte) (*Document, error) {
	body, err := ReadBody(raw)
	if err != nil {
		return nil, err
	}
	return Scan(body)
}
