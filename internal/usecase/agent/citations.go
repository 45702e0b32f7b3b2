package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"omni-agent/internal/domain"
)

const citeInstruction = " Cite web sources inline by their number, like [1]."

var citeRe = regexp.MustCompile(`\[(\d+)\]`)

// gatherSources collects the web sources of a pass, renumbered across all
// search results with duplicate URLs dropped. The keys of artifacts that
// held sources are returned so they are not quoted twice.
func gatherSources(arts domain.Artifacts) ([]domain.Source, map[string]bool) {
	var sources []domain.Source
	consumed := make(map[string]bool)
	seen := make(map[string]bool)
	for _, key := range arts.Keys() {
		found := domain.ParseSources(arts[key])
		if len(found) == 0 {
			continue
		}
		consumed[key] = true
		for _, s := range found {
			if seen[s.URL] {
				continue
			}
			seen[s.URL] = true
			s.Index = len(sources) + 1
			sources = append(sources, s)
		}
	}
	return sources, consumed
}

// appendSourceList adds a "Sources:" footer for the sources cited in answer.
// Answers that already carry one, or cite nothing, are returned unchanged.
func appendSourceList(answer string, sources []domain.Source) string {
	if len(sources) == 0 || strings.Contains(answer, "\nSources:") {
		return answer
	}
	cited := make(map[int]bool)
	for _, m := range citeRe.FindAllStringSubmatch(answer, -1) {
		n, _ := strconv.Atoi(m[1])
		cited[n] = true
	}
	var b strings.Builder
	for _, s := range sources {
		if cited[s.Index] {
			fmt.Fprintf(&b, "\n[%d] %s - %s", s.Index, s.Title, s.URL)
		}
	}
	if b.Len() == 0 {
		return answer
	}
	return strings.TrimRight(answer, "\n ") + "\n\nSources:" + b.String()
}
