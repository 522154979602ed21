package segment

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Inline markdown patterns stripped from streamed sentences. A streamed
// sentence is a fragment of a larger document, so it cannot be parsed on its
// own; these patterns cover what chat models emit inline.
var (
	reImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	reCitation   = regexp.MustCompile(`\s*\[\d+(?:\s*,\s*\d+)*\]`)
	reStrong     = regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`)
	reEmphasis   = regexp.MustCompile(`(^|[^\w*])[*_]([^*_\n]+)[*_]`)
	reStrike     = regexp.MustCompile(`~~(.+?)~~`)
	reInlineCode = regexp.MustCompile("`([^`]*)`")
	reHeading    = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	reQuote      = regexp.MustCompile(`(?m)^\s*>\s?`)
	reBullet     = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	reOrdinal    = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)
	reHTML       = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	reURL        = regexp.MustCompile(`https?://\S+`)
	reLeftover   = regexp.MustCompile("[*#`~|]+")
	reSpaces     = regexp.MustCompile(`\s+`)
	reHSpaces    = regexp.MustCompile(`[ \t]+`)
)

// Clean turns one streamed sentence into speakable text: markdown markup,
// citation markers and raw URLs are removed and whitespace is collapsed.
// It returns an empty string when nothing speakable remains.
func Clean(sentence string) string {
	s := sentence
	s = reImage.ReplaceAllString(s, "$1")
	s = reLink.ReplaceAllString(s, "$1")
	s = reCitation.ReplaceAllString(s, "")
	s = reStrong.ReplaceAllString(s, "$2")
	s = reStrike.ReplaceAllString(s, "$1")
	s = reInlineCode.ReplaceAllString(s, "$1")
	s = reEmphasis.ReplaceAllString(s, "$1$2")
	s = reHeading.ReplaceAllString(s, "")
	s = reQuote.ReplaceAllString(s, "")
	s = reBullet.ReplaceAllString(s, "")
	s = reOrdinal.ReplaceAllString(s, "")
	s = reHTML.ReplaceAllString(s, "")
	s = reURL.ReplaceAllString(s, "")
	s = reLeftover.ReplaceAllString(s, "")
	s = reSpaces.ReplaceAllString(s, " ")

	if cleaned, ok := speakable(s); ok {
		return cleaned
	}
	return ""
}

// PlainText renders a complete markdown document as speakable prose. Code
// blocks, images and raw HTML are skipped; headings, list items and table-less
// blocks become separate sentences so the segmenter sees a boundary after
// each of them.
func PlainText(markdown string) string {
	source := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var b strings.Builder
	walkNode(&b, doc, source)
	return strings.TrimSpace(reHSpaces.ReplaceAllString(b.String(), " "))
}

func walkNode(b *strings.Builder, node ast.Node, source []byte) {
	switch n := node.(type) {
	case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.RawHTML, *ast.Image, *ast.ThematicBreak:
		return

	case *ast.Text:
		b.Write(n.Segment.Value(source))
		if n.SoftLineBreak() || n.HardLineBreak() {
			b.WriteByte(' ')
		}
		return

	case *ast.String:
		b.Write(n.Value)
		return

	case *ast.AutoLink:
		// Spoken URLs are noise.
		return

	case *ast.Heading, *ast.Paragraph, *ast.TextBlock:
		writeChildren(b, n, source)
		endBlock(b)
		return
	}

	writeChildren(b, node, source)
}

func writeChildren(b *strings.Builder, node ast.Node, source []byte) {
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		walkNode(b, c, source)
	}
}

// endBlock terminates a block so that it reads as a sentence of its own.
func endBlock(b *strings.Builder) {
	s := strings.TrimRightFunc(b.String(), unicode.IsSpace)
	if s == "" {
		return
	}
	b.Reset()
	b.WriteString(s)
	last := []rune(s)[len([]rune(s))-1]
	if !isTerminal(last) && !isCloser(last) && last != ':' {
		b.WriteByte('.')
	}
	b.WriteString("\n\n")
}
