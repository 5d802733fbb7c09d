package docx

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"docxitens/internal/util"
)

// WordNamespace is the WordprocessingML main namespace bound to the "w" prefix.
const WordNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// StrictWordNamespace is the same namespace in ISO/IEC 29500 Strict documents.
const StrictWordNamespace = "http://purl.oclc.org/ooxml/wordprocessingml/main"

const (
	TagTable = "w:tbl"
	TagRow   = "w:tr"
	TagCell  = "w:tc"
	TagText  = "w:t"
)

var ErrMarkup = errors.New("docx markup: not well-formed xml")

// Element is the minimal tree capability the extractor needs.
type Element interface {
	// ElementsByTag returns descendants named tag (e.g. "w:tbl") in document order.
	ElementsByTag(tag string) []Element
	// TextContent concatenates the character data of descendant w:t runs.
	TextContent() string
}

type Document struct {
	root *node
}

func (d *Document) Root() Element { return d.root }

func (d *Document) Tables() []Element { return Tables(d.root) }

// Scan parses body strictly; any syntax error, an empty body or a second root
// element yields ErrMarkup.
func Scan(body string) (*Document, error) {
	dec := xml.NewDecoder(strings.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel

	var root *node
	var stack []*node
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMarkup, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("%w: multiple root elements", ErrMarkup)
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 {
				if strings.TrimSpace(string(t)) != "" {
					return nil, fmt.Errorf("%w: text outside root element", ErrMarkup)
				}
				continue
			}
			top := stack[len(stack)-1]
			if top.is(TagText) {
				top.text = append(top.text, t...)
			}
		}
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: unclosed element %s", ErrMarkup, stack[len(stack)-1].name.Local)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMarkup)
	}
	return &Document{root: root}, nil
}

func Tables(root Element) []Element { return root.ElementsByTag(TagTable) }

func Rows(table Element) []Element { return table.ElementsByTag(TagRow) }

func Cells(row Element) []Element { return row.ElementsByTag(TagCell) }

// CellText is the normalized text of a cell.
func CellText(cell Element) string {
	return util.Normalize(cell.TextContent())
}

type node struct {
	name     xml.Name
	children []*node
	text     []byte
}

// is matches tag against the local name when the element lives in the
// transitional or Strict WordprocessingML namespace, or carries an unbound "w" prefix.
func (n *node) is(tag string) bool {
	local := strings.TrimPrefix(tag, "w:")
	if n.name.Local != local {
		return false
	}
	switch n.name.Space {
	case WordNamespace, StrictWordNamespace, "w":
		return true
	default:
		return false
	}
}

func (n *node) ElementsByTag(tag string) []Element {
	var out []Element
	var walk func(*node)
	walk = func(cur *node) {
		for _, c := range cur.children {
			if c.is(tag) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func (n *node) TextContent() string {
	var sb strings.Builder
	var walk func(*node)
	walk = func(cur *node) {
		if cur.is(TagText) {
			sb.Write(cur.text)
		}
		for _, c := range cur.children {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
