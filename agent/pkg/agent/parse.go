package agent

import (
	"strings"

	"github.com/landmarklabs/sqlchat/agent/pkg/llm"
)

// ParseTableList interprets a table-selection completion. It accepts a JSON
// array, falling back to extracting known table names from free text by
// case-insensitive substring match. The result preserves the order of known
// and contains only names from it.
func ParseTableList(completion string, known []string) []string {
	byLower := make(map[string]string, len(known))
	for _, t := range known {
		byLower[strings.ToLower(t)] = t
	}

	var listed []string
	if err := llm.DecodeJSON(completion, &listed); err == nil {
		seen := make(map[string]bool, len(listed))
		for _, t := range listed {
			if canonical, ok := byLower[strings.ToLower(strings.TrimSpace(t))]; ok {
				seen[canonical] = true
			}
		}
		return orderedSubset(known, seen)
	}

	// Free-text fallback: scan for known names mentioned anywhere.
	lowered := strings.ToLower(completion)
	seen := make(map[string]bool)
	for _, t := range known {
		if strings.Contains(lowered, strings.ToLower(t)) {
			seen[t] = true
		}
	}
	return orderedSubset(known, seen)
}

func orderedSubset(known []string, seen map[string]bool) []string {
	var out []string
	for _, t := range known {
		if seen[t] {
			out = append(out, t)
		}
	}
	return out
}

// ParseSuggestions interprets a follow-up completion: a JSON array preferred,
// line-split fallback, deduplicated and capped.
func ParseSuggestions(completion string) []string {
	var raw []string
	if err := llm.DecodeJSON(completion, &raw); err != nil {
		for _, line := range strings.SplitAfter(completion, "\n") {
			line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789. "))
			if line != "" {
				raw = append(raw, line)
			}
		}
	}

	seen := make(map[string]bool, len(raw))
	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out
}
