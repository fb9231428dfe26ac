// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package web

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

var skipped = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"iframe":   true,
}

var blocks = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true,
	"article": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "header": true, "footer": true, "main": true, "ul": true, "ol": true,
	"table": true, "form": true, "blockquote": true, "pre": true,
}

// ExtractText returns the readable text of an HTML document: the title on the
// first line, then body text with script and style content dropped, collapsed
// whitespace and one line per block element. The result is cut to maxChars
// runes when maxChars is positive.
func ExtractText(r io.Reader, maxChars int) string {
	z := html.NewTokenizer(r)
	var (
		title   strings.Builder
		body    strings.Builder
		skip    int
		inTitle bool
	)
	newline := func() {
		s := body.String()
		if s != "" && !strings.HasSuffix(s, "\n") {
			body.WriteString("\n")
		}
	}
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return finish(title.String(), body.String(), maxChars)
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipped[tag] {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if tag == "title" {
				inTitle = true
			}
			if blocks[tag] {
				newline()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipped[tag] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if tag == "title" {
				inTitle = false
			}
			if blocks[tag] {
				newline()
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text == "" {
				continue
			}
			if inTitle {
				title.WriteString(text)
				continue
			}
			s := body.String()
			if s != "" && !strings.HasSuffix(s, "\n") && !strings.HasSuffix(s, " ") {
				body.WriteString(" ")
			}
			body.WriteString(text)
		}
	}
}

func finish(title, body string, maxChars int) string {
	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines)+1)
	if t := strings.TrimSpace(title); t != "" {
		kept = append(kept, t)
	}
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	out := strings.Join(kept, "\n")
	if maxChars > 0 {
		runes := []rune(out)
		if len(runes) > maxChars {
			out = string(runes[:maxChars]) + "..."
		}
	}
	return out
}
