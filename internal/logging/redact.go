package logging

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxLoggedText bounds file contents and prompts echoed into debug logs.
const maxLoggedText = 256

var secretKeys = map[string]bool{
	"api_key":           true,
	"apikey":            true,
	"anthropic_api_key": true,
	"authorization":     true,
	"token":             true,
	"secret":            true,
}

var bulkyKeys = map[string]bool{
	"content": true,
	"prompt":  true,
	"text":    true,
	"diff":    true,
}

func RedactValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "bearer ") {
		return "Bearer " + mask(trimmed[7:])
	}
	return mask(trimmed)
}

func RedactAny(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			out[key] = redactField(key, val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(typed))
		for key, val := range typed {
			out[key] = fmt.Sprint(redactField(key, val))
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = RedactAny(val)
		}
		return out
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
		return Clip(strings.TrimSpace(string(raw)))
	}
	return RedactAny(payload)
}

// Clip shortens s to maxLoggedText bytes on a rune boundary.
func Clip(s string) string {
	if len(s) <= maxLoggedText {
		return s
	}
	cut := maxLoggedText
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s…(%d bytes)", s[:cut], len(s))
}

func redactField(key string, val any) any {
	lower := strings.ToLower(strings.TrimSpace(key))
	if secretKeys[lower] {
		return RedactValue(fmt.Sprint(val))
	}
	if s, ok := val.(string); ok && bulkyKeys[lower] {
		return Clip(s)
	}
	return RedactAny(val)
}

func mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
