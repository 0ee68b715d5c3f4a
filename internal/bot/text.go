package bot

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// stripPolicy drops all markup, keeping only text content. Used to derive
// the plain-text form of a message.
var stripPolicy = bluemonday.StrictPolicy()

// htmlPolicy is the allow-list sanitizer for message HTML. The tag set
// mirrors what mainstream fediverse servers accept, plus the class and rel
// attributes mention links carry.
var htmlPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"a", "p", "br", "span", "del", "s", "code", "pre",
		"em", "strong", "b", "i", "u", "sub", "sup",
		"ul", "ol", "li", "blockquote",
		"h1", "h2", "h3", "h4", "h5", "h6",
	)
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("class", "rel").OnElements("a")
	p.AllowAttrs("class").OnElements("span")
	return p
}()

// sanitizeHTML reduces raw federated content to the allowed tag set.
func sanitizeHTML(content string) string {
	return htmlPolicy.Sanitize(content)
}

// plainText strips all markup from raw federated content. Entity references
// are decoded so the result reads as plain text.
func plainText(content string) string {
	return html.UnescapeString(stripPolicy.Sanitize(content))
}

// renderHTML turns user-supplied plain text into the HTML content of an
// outbound object: paragraphs split on blank lines, single newlines become
// line breaks, everything entity-escaped.
func renderHTML(text string) string {
	var sb strings.Builder
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		sb.WriteString("<p>")
		lines := strings.Split(para, "\n")
		for i, line := range lines {
			if i > 0 {
				sb.WriteString("<br>")
			}
			sb.WriteString(html.EscapeString(line))
		}
		sb.WriteString("</p>")
	}
	return sb.String()
}
