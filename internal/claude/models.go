package claude

import "strings"

// Concrete model identifiers accepted by the claude CLI.
const (
	ModelHaiku  = "claude-3-5-haiku-20241022"
	ModelSonnet = "claude-sonnet-4-20250514"
	ModelOpus   = "claude-opus-4-20250514"
)

// DefaultModel is used when no model is requested or the alias is unknown.
const DefaultModel = ModelSonnet

// modelAliases maps short names and their synonyms to concrete identifiers.
// Lookups are case-insensitive.
var modelAliases = map[string]string{
	"haiku":    ModelHaiku,
	"fast":     ModelHaiku,
	"quick":    ModelHaiku,
	"sonnet":   ModelSonnet,
	"smart":    ModelSonnet,
	"balanced": ModelSonnet,
	"default":  ModelSonnet,
	"opus":     ModelOpus,
	"max":      ModelOpus,
	"deep":     ModelOpus,
}

// ResolveModel maps a short alias to a concrete model identifier. Strings
// already shaped like concrete identifiers pass through untouched. Unknown
// aliases fall back to DefaultModel; the second return value reports whether
// the input was recognized.
func ResolveModel(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultModel, true
	}

	if strings.HasPrefix(trimmed, "claude-") {
		return trimmed, true
	}

	if concrete, ok := modelAliases[strings.ToLower(trimmed)]; ok {
		return concrete, true
	}

	return DefaultModel, false
}

// ModelAliases returns the recognized short names, for tool schemas.
func ModelAliases() []string {
	return []string{"haiku", "sonnet", "opus", "fast", "quick", "smart", "balanced", "default", "max", "deep"}
}
