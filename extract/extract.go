// Package extract turns fetched HTML into the text that gets materialized
// on disk and hashed for dedup.
//
// Text mode walks the DOM, drops script/style/noscript and hidden-style
// nodes, joins inline runs with single spaces, and separates block-level
// runs with newlines. Markdown mode renders structured markdown and falls
// back to text mode when conversion fails or comes out empty.
package extract

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrParse is wrapped by Text and Markdown when the document cannot be
// tokenized (a read failure mid-parse, in practice; the parser itself is
// error-tolerant).
var ErrParse = errors.New("extract: malformed html")

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
}

func hasHiddenStyle(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "style" {
			for _, pat := range hiddenStylePatterns {
				if pat.MatchString(a.Val) {
					return true
				}
			}
		}
	}
	return false
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.Table,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Ul, atom.Ol, atom.Dl, atom.Dt, atom.Dd, atom.Section,
		atom.Article, atom.Header, atom.Footer, atom.Blockquote, atom.Pre:
		return true
	}
	return false
}

// Text extracts the visible text of an HTML document.
//
// The result is deterministic for a given document: inline whitespace is
// collapsed to single spaces, block-level boundaries become single
// newlines, and no leading or trailing whitespace remains.
func Text(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}

	var sb strings.Builder
	var line strings.Builder

	flush := func() {
		if t := strings.Join(strings.Fields(line.String()), " "); t != "" {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(t)
		}
		line.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
			if hasHiddenStyle(n) {
				return
			}
			if isBlock(n.DataAtom) {
				flush()
			}
		}
		if n.Type == html.TextNode {
			line.WriteString(n.Data)
			line.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.DataAtom) {
			flush()
		}
	}
	walk(doc)
	flush()

	return sb.String(), nil
}

// Title returns the document's <title> text, or "".
func Title(r io.Reader) string {
	doc, err := html.Parse(r)
	if err != nil {
		return ""
	}
	var find func(*html.Node) string
	find = func(n *html.Node) string {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			if n.FirstChild != nil {
				return strings.TrimSpace(n.FirstChild.Data)
			}
			return ""
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if t := find(c); t != "" {
				return t
			}
		}
		return ""
	}
	return find(doc)
}
