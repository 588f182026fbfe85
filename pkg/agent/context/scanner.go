package context

import (
	"fmt"
	"strings"
)

const (
	tagOpenPrefix = `<tagged_content id="`
	tagOpenSuffix = `">`
	tagClose      = `</tagged_content>`
)

// Marker is one <tagged_content id="ID">body</tagged_content> span.
// Start and End are byte offsets into the scanned text; End is exclusive.
type Marker struct {
	ID    string
	Body  string
	Start int
	End   int
}

// SummaryMap maps tagged-content ids to precomputed summaries. A nil map is empty.
type SummaryMap map[string]string

// SummaryPlaceholder is the text that replaces a summarized marker.
func SummaryPlaceholder(id, summary string) string {
	return fmt.Sprintf("[Content for part %s was summarized: %s]", id, summary)
}

// nextMarker finds the leftmost marker starting at or after from.
//
// The id is one or more characters other than '"' and must be followed by
// `">`. The body ends at the first closing tag, so adjacent markers are
// isolated. A candidate that fails either rule is skipped one byte past
// its '<'.
func nextMarker(text string, from int) (Marker, bool) {
	for from < len(text) {
		i := strings.Index(text[from:], tagOpenPrefix)
		if i < 0 {
			return Marker{}, false
		}
		start := from + i
		idStart := start + len(tagOpenPrefix)

		q := strings.IndexByte(text[idStart:], '"')
		if q > 0 && strings.HasPrefix(text[idStart+q:], tagOpenSuffix) {
			bodyStart := idStart + q + len(tagOpenSuffix)
			c := strings.Index(text[bodyStart:], tagClose)
			if c < 0 {
				// Later candidates start further right and cannot find a close either.
				return Marker{}, false
			}
			return Marker{
				ID:    text[idStart : idStart+q],
				Body:  text[bodyStart : bodyStart+c],
				Start: start,
				End:   bodyStart + c + len(tagClose),
			}, true
		}
		from = start + 1
	}
	return Marker{}, false
}

// ScanMarkers returns every non-overlapping marker in text, left to right.
func ScanMarkers(text string) []Marker {
	var markers []Marker
	for pos := 0; ; {
		m, ok := nextMarker(text, pos)
		if !ok {
			return markers
		}
		markers = append(markers, m)
		pos = m.End
	}
}

// ReplaceTaggedContent replaces each marker that has a non-empty summary in
// summaries with its placeholder. Markers without a summary are kept verbatim.
// It reports whether anything was replaced; if not, text is returned as is.
func ReplaceTaggedContent(text string, summaries SummaryMap) (string, bool) {
	if len(summaries) == 0 {
		return text, false
	}

	var sb strings.Builder
	last := 0
	replaced := false
	for _, m := range ScanMarkers(text) {
		summary := summaries[m.ID]
		if summary == "" {
			continue
		}
		if !replaced {
			sb.Grow(len(text))
		}
		sb.WriteString(text[last:m.Start])
		sb.WriteString(SummaryPlaceholder(m.ID, summary))
		last = m.End
		replaced = true
	}
	if !replaced {
		return text, false
	}
	sb.WriteString(text[last:])
	return sb.String(), true
}
