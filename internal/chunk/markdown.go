package chunk

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// markdownSections cuts a document at its level 1 and 2 headings. Each
// section runs until the next heading of the same or a higher level.
func markdownSections(content string) []Declaration {
	src := []byte(content)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	lines := strings.Split(content, "\n")

	type heading struct {
		title string
		level int
		line  int
	}
	var heads []heading
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		h, ok := node.(*ast.Heading)
		if !ok || h.Level > 2 || h.Lines().Len() == 0 {
			continue
		}
		offset := h.Lines().At(0).Start
		heads = append(heads, heading{
			title: strings.TrimSpace(string(h.Text(src))),
			level: h.Level,
			line:  headingLine(src, offset),
		})
	}

	last := lineCount(content)
	decls := make([]Declaration, 0, len(heads))
	for i, h := range heads {
		end := last
		for _, next := range heads[i+1:] {
			if next.level <= h.level {
				end = next.line - 1
				break
			}
		}
		decls = append(decls, newDecl(KindSection, h.title, h.line, end, sliceLines(lines, h.line, end)))
	}
	return decls
}

// headingLine maps the byte offset of a heading's text to its 1 based line.
// Setext headings report the text line, which is where the section starts.
func headingLine(src []byte, offset int) int {
	if offset > len(src) {
		offset = len(src)
	}
	return bytes.Count(src[:offset], []byte("\n")) + 1
}
