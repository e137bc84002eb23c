package tools

import "encoding/json"

// Definition describes one tool in the static catalog. Every tool forwards a
// prompt to the claude CLI; they differ in which configuration fields they
// accept and whether the returned text must be valid JSON.
type Definition struct {
	Name        string
	Description string
	Schema      json.RawMessage

	// JSONMode tools validate and retry until the output parses as JSON.
	JSONMode bool
	// Extended tools accept the full configuration bag.
	Extended bool
	// PromptPrefix is prepended to the caller's prompt before forwarding.
	PromptPrefix string
}

const baseProperties = `
		"prompt": {
			"type": "string",
			"description": "The prompt to send to Claude"
		},
		"model": {
			"type": "string",
			"enum": ["haiku", "sonnet", "opus", "fast", "quick", "smart", "balanced", "default", "max", "deep"],
			"description": "Model alias; unknown values fall back to the default"
		},
		"timeout": {
			"type": "number",
			"description": "Per-attempt timeout in seconds"
		},
		"maxRetries": {
			"type": "integer",
			"description": "Maximum execution attempts"
		}`

const extendedProperties = baseProperties + `,
		"maxTurns": {
			"type": "integer",
			"description": "Maximum agentic turns"
		},
		"outputFormat": {
			"type": "string",
			"enum": ["text", "json", "stream-json"],
			"description": "Output format requested from the CLI"
		},
		"systemPrompt": {
			"type": "string",
			"description": "Replace the system prompt"
		},
		"appendSystemPrompt": {
			"type": "string",
			"description": "Append to the system prompt"
		},
		"allowedTools": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Tools Claude may use"
		},
		"disallowedTools": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Tools Claude may not use"
		},
		"addDirs": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Additional directories Claude may access; glob patterns are expanded"
		},
		"verbose": {
			"type": "boolean",
			"description": "Enable verbose CLI output"
		}`

const jsonSchemaProperty = `,
		"jsonSchema": {
			"type": "string",
			"description": "JSON schema the response should conform to, included in the prompt"
		}`

// Catalog returns the five static tool definitions.
func Catalog() []Definition {
	return []Definition{
		{
			Name:        "claude_generate",
			Description: "Generate text with Claude. Returns the raw CLI output.",
			Schema:      schema(baseProperties),
		},
		{
			Name:        "claude_generate_json",
			Description: "Generate a JSON object with Claude. The output is validated and regenerated until it parses.",
			Schema:      schema(baseProperties + jsonSchemaProperty),
			JSONMode:    true,
		},
		{
			Name:        "claude_agent",
			Description: "Run Claude in agentic mode with the full configuration surface: turns, system prompts, tool allow/deny lists and extra directories.",
			Schema:      schema(extendedProperties),
			Extended:    true,
		},
		{
			Name:        "claude_agent_json",
			Description: "Run Claude in agentic mode and validate that the final output is a JSON object.",
			Schema:      schema(extendedProperties + jsonSchemaProperty),
			JSONMode:    true,
			Extended:    true,
		},
		{
			Name:         "claude_summarize",
			Description:  "Summarize the provided text with Claude.",
			Schema:       schema(baseProperties),
			PromptPrefix: "Summarize the following content concisely. Preserve key facts and structure.\n\n",
		},
	}
}

func schema(properties string) json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {` + properties + `
	},
	"required": ["prompt"]
}`)
}

// DefaultRegistry builds a registry holding the static catalog.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, def := range Catalog() {
		// Registration of the static catalog cannot collide.
		_ = r.Register(def)
	}
	return r
}
