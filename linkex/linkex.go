// Package linkex extracts the anchor links of one HTML document as a
// deduplicated, order-preserving list of (display text, absolute URL) pairs.
//
// It performs no network I/O; the caller supplies an already-fetched,
// already-decoded document body.
package linkex

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Link is one discovered anchor.
type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Extract parses r and returns the document's links in document order.
//
// Anchors with empty, javascript-scheme, or pure-fragment hrefs are
// discarded. Each href is resolved against base. Display text is the
// anchor's visible text with whitespace collapsed; when empty, the
// normalized href stands in. Duplicate absolute URLs keep the first
// occurrence only.
func Extract(r io.Reader, base *url.URL) ([]Link, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("linkex: parse: %w", err)
	}

	var links []Link
	seen := make(map[string]struct{})

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if l, ok := anchorLink(n, base); ok {
				if _, dup := seen[l.URL]; !dup {
					seen[l.URL] = struct{}{}
					links = append(links, l)
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return links, nil
}

func anchorLink(n *html.Node, base *url.URL) (Link, bool) {
	var href string
	for _, a := range n.Attr {
		if a.Key == "href" {
			href = strings.TrimSpace(a.Val)
			break
		}
	}
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return Link{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return Link{}, false
	}
	abs := base.ResolveReference(ref).String()

	text := Normalize(anchorText(n))
	if text == "" {
		text = Normalize(href)
	}
	return Link{Text: text, URL: abs}, true
}

// anchorText collects the visible text of an anchor subtree, skipping
// script/style content.
func anchorText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// Normalize collapses runs of whitespace to single spaces and trims.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
