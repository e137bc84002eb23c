package claude

import (
	"encoding/json"
	"testing"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, false},
		{"leading prose", `Here is the result: {"a":1}`, `{"a":1}`, false},
		{"trailing prose", `{"a":1} hope that helps!`, `{"a":1}`, false},
		{"nested objects", `{"a":{"b":{"c":1}}}`, `{"a":{"b":{"c":1}}}`, false},
		{"brace inside string", `{"text":"closing } brace"} extra`, `{"text":"closing } brace"}`, false},
		{"open brace inside string", `{"text":"open { brace"}`, `{"text":"open { brace"}`, false},
		{"escaped quote then brace", `{"text":"quote \" then } brace"}`, `{"text":"quote \" then } brace"}`, false},
		{"escaped backslash before quote", `{"path":"C:\\"} tail`, `{"path":"C:\\"}`, false},
		{"unrelated trailing braces", `{"a":1}}}}`, `{"a":1}`, false},
		{"empty object", `{}`, `{}`, false},
		{"no object", `plain text only`, "", true},
		{"unterminated", `{"a":1`, "", true},
		{"empty input", ``, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ExtractJSONObject(%q) = %q, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSONObject(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ExtractJSONObject(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if !json.Valid([]byte(got)) {
				t.Errorf("extracted %q is not valid JSON", got)
			}
		})
	}
}

func TestExtractJSONObjectReturnsFirstComplete(t *testing.T) {
	got, err := ExtractJSONObject(`{"first":1} {"second":2}`)
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"first":1}` {
		t.Errorf("got %q, want first object", got)
	}
}

func TestUnwrapEnvelope(t *testing.T) {
	t.Run("unwraps result field", func(t *testing.T) {
		raw := `{"type":"result","result":"{\"answer\":42}","cost_usd":0.01}`
		if got := unwrapEnvelope(raw); got != `{"answer":42}` {
			t.Errorf("unwrapEnvelope = %q", got)
		}
	})

	t.Run("passes through plain text", func(t *testing.T) {
		raw := `just some text with {"a":1} inside`
		if got := unwrapEnvelope(raw); got != raw {
			t.Errorf("unwrapEnvelope = %q, want input unchanged", got)
		}
	})

	t.Run("passes through object without result", func(t *testing.T) {
		raw := `{"answer":42}`
		if got := unwrapEnvelope(raw); got != raw {
			t.Errorf("unwrapEnvelope = %q, want input unchanged", got)
		}
	})
}
