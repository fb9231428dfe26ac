// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package directive

import (
	"regexp"
	"strings"
)

type placeholderKind int

const (
	kindNone placeholderKind = iota
	kindName
	kindURL
	kindContent
	kindLocation
)

var placeholderTokens = map[string]placeholderKind{
	"folder_name": kindName,
	"foldername":  kindName,
	"file_name":   kindName,
	"filename":    kindName,
	"name":        kindName,
	"path":        kindName,
	"file_path":   kindName,
	"url":         kindURL,
	"link":        kindURL,
	"content":     kindContent,
	"text":        kindContent,
	"location":    kindLocation,
}

var (
	urlRe    = regexp.MustCompile(`https?://[^\s"'<>()\[\]]+`)
	quotedRe = regexp.MustCompile(`"([^"\n]+)"|“([^”\n]+)”`)
	nameRes  = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:called|named|titled)\s+["'“]([^"'”\n]+)["'”]`),
		regexp.MustCompile(`(?i)\b(?:called|named|titled)\s+([\w.\-]*\w)`),
		regexp.MustCompile(`(?i)\bin\s+(?:the|my|a)?\s*["'“]?([\w.\-]+)["'”]?\s+folder\b`),
	}
	contentRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:saying|says|containing|with the text|with content)\s+["'“]?([^"\n”]+?)["'”]?\s*(?:[.!?]\s|$)`),
	}
	locationRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:on|in|to)\s+(?:the|my)\s+(desktop|documents|downloads|home)\b`),
		regexp.MustCompile(`(?i)\bin\s+(?:the|my)?\s*([\w.\-]+)\s+folder\b`),
	}
	nameStop = map[string]bool{"a": true, "the": true, "it": true, "this": true, "that": true, "my": true}
)

// Repair replaces placeholder arguments with values recovered from prose and,
// when not empty, userInput. Arguments that are not placeholders, and
// placeholders nothing could be recovered for, are returned unchanged. The
// indexes of replaced arguments are returned.
func Repair(args []string, prose, userInput string) ([]string, []int) {
	out := make([]string, len(args))
	copy(out, args)
	var repaired []int
	sources := []string{prose}
	if userInput != "" {
		sources = append(sources, userInput)
	}
	for i, a := range args {
		kind := placeholderKindOf(a)
		if kind == kindNone {
			continue
		}
		if v, ok := recoverValue(kind, sources); ok {
			out[i] = v
			repaired = append(repaired, i)
		}
	}
	return out, repaired
}

// IsPlaceholder reports whether arg looks like an unfilled template slot.
func IsPlaceholder(arg string) bool {
	return placeholderKindOf(arg) != kindNone
}

func placeholderKindOf(arg string) placeholderKind {
	a := strings.ToLower(strings.TrimSpace(arg))
	bracketed := false
	if len(a) > 2 && a[0] == '<' && a[len(a)-1] == '>' {
		a = strings.TrimSpace(a[1 : len(a)-1])
		bracketed = true
	}
	a = strings.NewReplacer(" ", "_", "-", "_").Replace(a)
	if k, ok := placeholderTokens[a]; ok {
		return k
	}
	if bracketed {
		switch {
		case strings.Contains(a, "url"), strings.Contains(a, "link"):
			return kindURL
		case strings.Contains(a, "content"), strings.Contains(a, "text"):
			return kindContent
		case strings.Contains(a, "location"), strings.Contains(a, "dir"):
			return kindLocation
		default:
			return kindName
		}
	}
	return kindNone
}

func recoverValue(kind placeholderKind, sources []string) (string, bool) {
	for _, src := range sources {
		if src == "" {
			continue
		}
		var v string
		switch kind {
		case kindURL:
			v = strings.TrimRight(urlRe.FindString(src), ".,;:!?")
		case kindName:
			v = firstMatch(nameRes, src)
			if v == "" {
				v = firstQuoted(src)
			}
		case kindContent:
			v = firstQuoted(src)
			if v == "" {
				v = firstMatch(contentRes, src)
			}
		case kindLocation:
			v = firstMatch(locationRes, src)
			if v != "" && !isWellKnownLocation(v) {
				v += " folder"
			}
		}
		if v != "" && !IsPlaceholder(v) {
			return v, true
		}
	}
	return "", false
}

func firstMatch(res []*regexp.Regexp, s string) string {
	for _, re := range res {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			v := strings.TrimSpace(m[1])
			if v != "" && !nameStop[strings.ToLower(v)] {
				return v
			}
		}
	}
	return ""
}

func firstQuoted(s string) string {
	m := quotedRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

func isWellKnownLocation(v string) bool {
	switch strings.ToLower(v) {
	case "desktop", "documents", "downloads", "home":
		return true
	}
	return false
}
