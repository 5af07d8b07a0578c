package llm

import (
	"regexp"
	"strings"
)

var (
	// fencedBlock matches JSON inside a markdown code fence.
	fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?([\\{\\[].*[\\}\\]])\\s*```")
	// bareObject is the greedy fallback for a raw object or array.
	bareObject = regexp.MustCompile(`(?s)[\{\[][\s\S]*[\}\]]`)
	// trailingComma matches a trailing comma before } or ].
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON pulls a JSON object or array out of a model response. It
// unwraps markdown fences, strips // comments outside string values, and
// removes trailing commas. Returns "" when no JSON-shaped text is found.
func ExtractJSON(content string) string {
	raw := ""
	if m := fencedBlock.FindStringSubmatch(content); len(m) > 1 {
		raw = m[1]
	} else if m := bareObject.FindString(content); m != "" {
		raw = m
	}
	if raw == "" {
		return ""
	}

	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingComma.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

// stripLineComment removes a // comment from a line unless the slashes sit
// inside a string value.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case c == '/' && !inString && i+1 < len(line) && line[i+1] == '/':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
