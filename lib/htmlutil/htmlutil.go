// Package htmlutil extracts clean cell text from parsed html.
package htmlutil

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// GetText concatenates the text nodes under node in document order. Comments
// and the contents of script and style elements are left out.
func GetText(node *html.Node) string {
	if node == nil {
		return ""
	}
	var b strings.Builder
	stack := []*html.Node{node}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
			continue
		case n.Type == html.CommentNode:
			continue
		case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
			continue
		}
		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return b.String()
}

// CleanText turns any run of unicode whitespace (NBSP included) into a single
// space, drops non printable runes and trims the result.
func CleanText(s string) string {
	out := strings.Builder{}
	pendingSpace := false
	for _, c := range s {
		if unicode.IsSpace(c) {
			pendingSpace = out.Len() > 0
			continue
		}
		if !unicode.IsPrint(c) {
			continue
		}
		if pendingSpace {
			out.WriteByte(' ')
			pendingSpace = false
		}
		out.WriteRune(c)
	}
	return out.String()
}

// CellText is the cleaned text of an html node.
func CellText(node *html.Node) string {
	return CleanText(GetText(node))
}

// SelectionText is CellText over the first node of a selection.
func SelectionText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	return CellText(sel.Get(0))
}
