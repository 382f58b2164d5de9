package refine

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// TableShape is the structure of a parsed markdown pipe table.
type TableShape struct {
	Columns int // header cells
	Rows    int // body rows, excluding the header
}

// ParseTableShape parses markup with the GFM table extension and returns
// the shape of the first table block. ok is false when the markup contains
// no table block at all, in which case a table refinement must not be
// applied.
func ParseTableShape(markup string) (TableShape, bool) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	doc := md.Parser().Parse(text.NewReader([]byte(markup)))

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		t, ok := n.(*east.Table)
		if !ok {
			continue
		}
		var shape TableShape
		for row := t.FirstChild(); row != nil; row = row.NextSibling() {
			switch row.(type) {
			case *east.TableHeader:
				shape.Columns = row.ChildCount()
			case *east.TableRow:
				shape.Rows++
			}
		}
		if shape.Columns == 0 {
			continue
		}
		return shape, true
	}
	return TableShape{}, false
}
