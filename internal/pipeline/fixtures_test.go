package pipeline

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"strings"
	"testing"

	"docxitens/internal/docx"
)

// mkDocx builds a minimal .docx whose body holds one w:tbl per table.
func mkDocx(t *testing.T, tables ...[][]string) []byte {
	t.Helper()
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	body.WriteString(`<w:document xmlns:w="` + docx.WordNamespace + `"><w:body>`)
	for _, table := range tables {
		body.WriteString("<w:tbl>")
		for _, row := range table {
			body.WriteString("<w:tr>")
			for _, cell := range row {
				body.WriteString(`<w:tc><w:p><w:r><w:t xml:space="preserve">`)
				if err := xml.EscapeText(&body, []byte(cell)); err != nil {
					t.Fatal(err)
				}
				body.WriteString("</w:t></w:r></w:p></w:tc>")
			}
			body.WriteString("</w:tr>")
		}
		body.WriteString("</w:tbl>")
	}
	body.WriteString("</w:body></w:document>")
	return mkZip(t, map[string]string{docx.BodyEntry: body.String()})
}

func mkZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	w := zip.NewWriter(buf)
	for name, content := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// fakeElement is an in-memory tree for driving ExtractItems without markup.
type fakeElement struct {
	tag      string
	text     string
	children []*fakeElement
}

func (e *fakeElement) ElementsByTag(tag string) []docx.Element {
	var out []docx.Element
	for _, c := range e.children {
		if c.tag == tag {
			out = append(out, c)
		}
		out = append(out, c.ElementsByTag(tag)...)
	}
	return out
}

func (e *fakeElement) TextContent() string {
	if e.tag == docx.TagText {
		return e.text
	}
	var sb strings.Builder
	for _, c := range e.children {
		sb.WriteString(c.TextContent())
	}
	return sb.String()
}

func fakeTable(rows ...[]string) *fakeElement {
	table := &fakeElement{tag: docx.TagTable}
	for _, r := range rows {
		row := &fakeElement{tag: docx.TagRow}
		for _, c := range r {
			row.children = append(row.children, &fakeElement{tag: docx.TagCell, children: []*fakeElement{{tag: docx.TagText, text: c}}})
		}
		table.children = append(table.children, row)
	}
	return table
}
