package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fenceRE = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[ \t]*\r?\n?(.*?)```")

// ExtractBlock returns the body of the first fenced code block in text. When
// langs are given, a block tagged with one of them is preferred over an
// untagged one. Text without fences is returned trimmed.
func ExtractBlock(text string, langs ...string) string {
	matches := fenceRE.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(text)
	}
	for _, m := range matches {
		for _, l := range langs {
			if strings.EqualFold(m[1], l) {
				return strings.TrimSpace(m[2])
			}
		}
	}
	return strings.TrimSpace(matches[0][2])
}

// DecodeJSON extracts a JSON object from text (fenced or bare, with any
// surrounding prose) and unmarshals it into v.
func DecodeJSON(text string, v any) error {
	body := ExtractBlock(text, "json")
	if start, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}'); start >= 0 && end > start {
		body = body[start : end+1]
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("oracle: decode json: %w", err)
	}
	return nil
}
