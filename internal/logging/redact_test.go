package logging

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRedactAnyMasksSecretsAndClipsBulk(t *testing.T) {
	payload := map[string]any{
		"api_key":    "sk-abcdef123456",
		"content":    strings.Repeat("x", 1000),
		"project_id": "demo",
		"nested":     map[string]any{"token": "abcd"},
	}
	out := RedactAny(payload).(map[string]any)
	if out["api_key"] != "****3456" {
		t.Fatalf("expected masked key, got %v", out["api_key"])
	}
	if got := out["content"].(string); len(got) >= 1000 || !strings.Contains(got, "1000 bytes") {
		t.Fatalf("expected clipped content, got %d bytes", len(got))
	}
	if out["project_id"] != "demo" {
		t.Fatalf("expected plain field untouched")
	}
	if nested := out["nested"].(map[string]any); nested["token"] != "****" {
		t.Fatalf("expected nested token masked, got %v", nested["token"])
	}
}

func TestRedactJSONInvalid(t *testing.T) {
	got := RedactJSON(json.RawMessage("not json"))
	if got != "not json" {
		t.Fatalf("expected raw passthrough, got %v", got)
	}
	if RedactJSON(nil) != nil {
		t.Fatalf("expected nil for empty payload")
	}
}

func TestClipKeepsRuneBoundary(t *testing.T) {
	s := strings.Repeat("議", 200)
	clipped := Clip(s)
	if !strings.HasPrefix(s, strings.SplitN(clipped, "…", 2)[0]) {
		t.Fatalf("clipped prefix is not a prefix of the input")
	}
}
