package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Source is one web page an answer can cite as [Index].
type Source struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// SourcesHeader opens every rendered source block.
const SourcesHeader = "Sources for "

// FormatSources renders the sources found for query as a citable block.
func FormatSources(query string, sources []Source) string {
	return fmt.Sprintf("%s%q:\n%s", SourcesHeader, query, FormatSourceList(sources))
}

// FormatSourceList renders sources one per entry:
//
//	[1] Title
//	    https://example.com/page
//	    snippet
func FormatSourceList(sources []Source) string {
	var b strings.Builder
	for _, s := range sources {
		fmt.Fprintf(&b, "[%d] %s\n    %s\n", s.Index, s.Title, s.URL)
		if s.Snippet != "" {
			fmt.Fprintf(&b, "    %s\n", s.Snippet)
		}
	}
	return b.String()
}

var sourceLineRe = regexp.MustCompile(`^\[(\d+)\] (.*)$`)

// ParseSources recovers the sources of a FormatSources block. Text that does
// not start with SourcesHeader yields nil.
func ParseSources(text string) []Source {
	if !strings.HasPrefix(text, SourcesHeader) {
		return nil
	}
	lines := strings.Split(text, "\n")[1:]
	var out []Source
	for i := 0; i < len(lines); i++ {
		m := sourceLineRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		s := Source{Index: n, Title: m[2]}
		if i+1 < len(lines) && strings.HasPrefix(lines[i+1], "    ") {
			i++
			s.URL = strings.TrimSpace(lines[i])
		}
		if i+1 < len(lines) && strings.HasPrefix(lines[i+1], "    ") {
			i++
			s.Snippet = strings.TrimSpace(lines[i])
		}
		if s.URL != "" {
			out = append(out, s)
		}
	}
	return out
}
