package logging

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

var secretKeys = map[string]bool{
	"api_key":            true,
	"apikey":             true,
	"authorization":      true,
	"openrouter_api_key": true,
	"forgebench_api_key": true,
	"token":              true,
	"secret":             true,
}

// bulkyKeys hold file contents or model output; they are logged by size only.
var bulkyKeys = map[string]bool{
	"content":  true,
	"contents": true,
	"code":     true,
	"response": true,
}

const maxLoggedString = 512

func RedactValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "bearer ") {
		return "Bearer " + mask(trimmed[7:])
	}
	return mask(trimmed)
}

func RedactAny(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			if isSecretKey(key) {
				out[key] = RedactValue(fmt.Sprint(val))
				continue
			}
			if text, ok := val.(string); ok && isBulkyKey(key) {
				out[key] = summarize(text)
				continue
			}
			out[key] = RedactAny(val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(typed))
		for key, val := range typed {
			if isSecretKey(key) {
				out[key] = RedactValue(val)
				continue
			}
			out[key] = val
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = RedactAny(val)
		}
		return out
	case []string:
		out := make([]string, len(typed))
		copy(out, typed)
		return out
	case string:
		if len(typed) > maxLoggedString {
			return truncate(typed, maxLoggedString) + fmt.Sprintf("...(%d bytes)", len(typed))
		}
		return typed
	default:
		return value
	}
}

func RedactJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return RedactAny(payload)
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	return secretKeys[lower]
}

func isBulkyKey(key string) bool {
	return bulkyKeys[strings.ToLower(strings.TrimSpace(key))]
}

// truncate cuts text to at most limit bytes on a rune boundary.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func summarize(text string) string {
	return fmt.Sprintf("<%d bytes>", len(text))
}

func mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
