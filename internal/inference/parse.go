package inference

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// parseAnswer extracts the JSON object from a model answer.
func parseAnswer(text string) (map[string]any, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, eris.New("empty answer")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, eris.Wrapf(err, "malformed answer %q", truncate(text, 200))
	}
	if out == nil {
		return nil, eris.New("answer is not a JSON object")
	}
	return out, nil
}

// cleanJSON strips markdown fences and surrounding prose from an answer and
// closes delimiters left open by a truncated response.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return strings.TrimSpace(text)
	}
	text = text[start:]
	if end := strings.LastIndex(text, "}"); end > 0 && json.Valid([]byte(text[:end+1])) {
		return text[:end+1]
	}

	return repairTruncatedJSON(strings.TrimSpace(text))
}

// repairTruncatedJSON closes an unterminated string and any unclosed
// brackets or braces.
func repairTruncatedJSON(text string) string {
	if len(text) == 0 {
		return text
	}

	var stack []byte
	inString := false
	escape := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		text = strings.TrimSuffix(text, `\`) + `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		// Trim trailing comma before closing (common in truncated arrays).
		text = strings.TrimRight(text, " \t\n\r,")
		text += string(stack[i])
	}
	return text
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
