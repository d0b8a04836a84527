package tui

import "strings"

// markupToLines renders section markup as wrapped plain-text lines. This is
// the terminal's stand-in for a layout engine: block tags break paragraphs,
// images leave a marker, everything else is stripped.
func markupToLines(markup string, width int) []string {
	var lines []string
	for _, para := range markupToParagraphs(markup) {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, wrapText(para, width)...)
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}

var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "br": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "section": true, "hr": true,
}

func markupToParagraphs(markup string) []string {
	var paras []string
	var cur strings.Builder
	flush := func() {
		text := strings.TrimSpace(cur.String())
		cur.Reset()
		if text != "" {
			paras = append(paras, text)
		}
	}

	rest := markup
	for {
		lt := strings.IndexByte(rest, '<')
		if lt < 0 {
			cur.WriteString(decodeEntities(rest))
			break
		}
		cur.WriteString(decodeEntities(rest[:lt]))
		gt := strings.IndexByte(rest[lt:], '>')
		if gt < 0 {
			break
		}
		tag := rest[lt+1 : lt+gt]
		rest = rest[lt+gt+1:]

		name := strings.ToLower(strings.TrimPrefix(tag, "/"))
		if i := strings.IndexAny(name, " \t\n/"); i >= 0 {
			name = name[:i]
		}
		switch {
		case name == "img" || name == "image":
			cur.WriteString(" [image] ")
		case name == "style" || name == "script" || name == "head":
			// Drop contents up to the closing tag.
			if end := strings.Index(strings.ToLower(rest), "</"+name); end >= 0 {
				rest = rest[end:]
			}
		case blockTags[name]:
			flush()
		}
	}
	flush()
	return paras
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&#39;", "'",
	"&nbsp;", " ",
	"&mdash;", "—",
	"&hellip;", "…",
)

func decodeEntities(s string) string {
	return entityReplacer.Replace(s)
}

// wrapText word-wraps collapsed text to width columns.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	var line strings.Builder
	for _, word := range words {
		if line.Len() > 0 && line.Len()+1+len(word) > width {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}
