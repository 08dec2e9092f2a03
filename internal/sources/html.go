package sources

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true, "table": true, "tr": true,
	"td": true, "th": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "dt": true, "dd": true, "section": true, "article": true, "pre": true,
	"header": true, "footer": true, "caption": true, "thead": true, "tbody": true,
}

// pageLines renders the visible text of sel one block element per line.
func pageLines(sel *goquery.Selection) []string {
	var b strings.Builder
	var walk func(s *goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			switch name := goquery.NodeName(c); name {
			case "#text":
				b.WriteString(c.Text())
			case "#comment", "script", "style", "noscript":
			case "br":
				b.WriteByte('\n')
			default:
				block := blockTags[name]
				if block {
					b.WriteByte('\n')
				}
				walk(c)
				if block {
					b.WriteByte('\n')
				}
			}
		})
	}
	walk(sel)
	return lines(b.String())
}

// cellTexts returns the collapsed text of each td/th in a table row.
func cellTexts(tr *goquery.Selection) []string {
	cells := tr.Find("td, th")
	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, c *goquery.Selection) {
		out = append(out, collapse(c.Text()))
	})
	return out
}
