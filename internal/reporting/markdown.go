package reporting

import (
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// ExtractRootCause pulls a one-line summary out of a Markdown analysis.
//
// The text under the first heading mentioning "root cause" is used; when the
// analysis has no such heading, its first paragraph is. The result is
// flattened to plain text and truncated to maxLen characters; a maxLen of
// zero keeps it whole.
func ExtractRootCause(analysis string, maxLen int) string {
	doc := markdown.Parse([]byte(analysis), parser.New())

	var parts []string
	var firstParagraph string
	inRootCause := false

loop:
	for _, child := range doc.GetChildren() {
		switch n := child.(type) {
		case *ast.Heading:
			if inRootCause {
				break loop
			}
			inRootCause = strings.Contains(strings.ToLower(plainText(n)), "root cause")
		case *ast.Paragraph, *ast.List:
			text := plainText(n)
			if firstParagraph == "" {
				firstParagraph = text
			}
			if inRootCause {
				parts = append(parts, text)
			}
		}
	}

	summary := strings.Join(parts, " ")
	if summary == "" {
		summary = firstParagraph
	}
	summary = strings.Join(strings.Fields(summary), " ")
	if summary == "" {
		return "See analysis for details"
	}
	return truncate(summary, maxLen)
}

// plainText concatenates the literal text of every leaf under n.
func plainText(n ast.Node) string {
	var b strings.Builder
	ast.WalkFunc(n, func(node ast.Node, entering bool) ast.WalkStatus {
		if entering {
			if leaf := node.AsLeaf(); leaf != nil {
				b.Write(leaf.Literal)
			}
			return ast.GoToNext
		}
		switch node.(type) {
		case *ast.Paragraph, *ast.ListItem:
			b.WriteByte(' ')
		}
		return ast.GoToNext
	})
	return b.String()
}
