package marketplace

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	htmlTagPattern   = regexp.MustCompile(`<[a-zA-Z][^>]*>`)
	blankRunsPattern = regexp.MustCompile(`\n{3,}`)
)

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "tr": true, "table": true,
}

// PlainText flattens an HTML listing body into readable text. Input without
// markup is returned unchanged.
func PlainText(s string) string {
	if !htmlTagPattern.MatchString(s) {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.Data == "li" {
				b.WriteString("\n- ")
			} else if blockElements[n.Data] {
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] && n.Data != "li" {
			b.WriteString("\n")
		}
	}
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		for _, n := range sel.Nodes {
			walk(n)
		}
	})
	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out := blankRunsPattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}
