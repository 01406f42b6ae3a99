package epub

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Elements whose subtree is never speakable.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"header":   true,
	"footer":   true,
	"nav":      true,
	"svg":      true,
}

// Elements that introduce a paragraph break around their content.
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true, "dl": true, "dt": true, "dd": true,
	"blockquote": true, "pre": true, "table": true, "tr": true,
	"figure": true, "figcaption": true, "hr": true,
}

// extractTitleAndText parses an XHTML spine document and returns the
// document title and its speakable text, with block elements rendered as
// paragraph breaks.
func extractTitleAndText(content []byte) (string, string) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", ""
	}

	title := strings.TrimSpace(textContent(findElement(doc, "title")))

	root := findElement(doc, "body")
	if root == nil {
		root = doc
	}

	var b strings.Builder
	writeText(&b, root)
	return title, normalizeExtracted(b.String())
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skippedElements[n.Data] {
			return
		}
		if n.Data == "br" {
			b.WriteString("\n")
			return
		}
		if blockElements[n.Data] {
			b.WriteString("\n\n")
			defer b.WriteString("\n\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
}

// normalizeExtracted trims each line and collapses blank-line runs so
// paragraphs are separated by exactly one empty line.
func normalizeExtracted(s string) string {
	var lines []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			blank = len(lines) > 0
			continue
		}
		if blank {
			lines = append(lines, "")
			blank = false
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, name); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

type navLink struct {
	Title string
	Href  string
}

// extractNavLinks pulls the link list out of an EPUB 3 nav document,
// preferring the nav element marked epub:type="toc".
func extractNavLinks(content []byte) []navLink {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil
	}

	nav := findNav(doc, true)
	if nav == nil {
		nav = findNav(doc, false)
	}
	if nav == nil {
		return nil
	}

	var links []navLink
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			links = append(links, navLink{
				Title: strings.TrimSpace(textContent(n)),
				Href:  attrValue(n, "href"),
			})
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(nav)
	return links
}

func findNav(n *html.Node, requireTocType bool) *html.Node {
	if n.Type == html.ElementNode && n.Data == "nav" {
		if !requireTocType || isTocNav(n) {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNav(c, requireTocType); found != nil {
			return found
		}
	}
	return nil
}

func isTocNav(n *html.Node) bool {
	for _, attr := range n.Attr {
		key := attr.Key
		if attr.Namespace != "" {
			key = attr.Namespace + ":" + attr.Key
		}
		if strings.EqualFold(key, "epub:type") && strings.EqualFold(strings.TrimSpace(attr.Val), "toc") {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, name string) string {
	for _, attr := range n.Attr {
		if attr.Key == name {
			return attr.Val
		}
	}
	return ""
}
