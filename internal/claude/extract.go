package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNoJSONObject = errors.New("no JSON object found in output")

// ValidationFailure summarizes the per-attempt errors after the JSON retry
// budget is exhausted. It is surfaced to the caller as structured error data.
type ValidationFailure struct {
	Message  string   `json:"error"`
	Attempts int      `json:"attempts"`
	Errors   []string `json:"errors"`
}

func (v *ValidationFailure) Error() string {
	return v.Message
}

// resultEnvelope matches the claude CLI's --output-format json wrapper.
type resultEnvelope struct {
	Type   string  `json:"type"`
	Result *string `json:"result"`
}

// unwrapEnvelope pulls the named result field out of a structured CLI
// envelope; anything that does not parse as one passes through untouched.
func unwrapEnvelope(raw string) string {
	var env resultEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return raw
	}
	if env.Result == nil {
		return raw
	}
	return *env.Result
}

// ExtractJSONObject returns the first complete top-level JSON object in s.
// It walks brace depth while honoring string literals and backslash escapes,
// so braces inside string content or trailing unrelated braces never
// truncate or extend the extraction.
func ExtractJSONObject(s string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if start == -1 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if escaped {
			escaped = false
			continue
		}

		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], nil
				}
			}
		}
	}

	return "", ErrNoJSONObject
}

// RunJSON wraps Run in an outer validation loop: each iteration issues one
// single-attempt engine call, extracts the embedded object and checks it
// parses. Invalid output re-queries the tool, not just the parser.
func (r *Runner) RunJSON(ctx context.Context, inv *Invocation, retries int) (string, error) {
	if retries < 1 {
		retries = 1
	}

	sub := *inv
	sub.MaxRetries = 1

	var attemptErrors []string

	for attempt := 1; attempt <= retries; attempt++ {
		res, err := r.Run(ctx, &sub)

		var raw string
		if err != nil {
			var execErr *ExecutionError
			if !errors.As(err, &execErr) {
				return "", err
			}
			raw = execErr.Output
		} else {
			raw = res.Output
		}

		candidate, extractErr := ExtractJSONObject(unwrapEnvelope(raw))
		if extractErr == nil && json.Valid([]byte(candidate)) {
			return candidate, nil
		}

		reason := "extracted text is not valid JSON"
		if extractErr != nil {
			reason = extractErr.Error()
		}
		attemptErrors = append(attemptErrors, fmt.Sprintf("attempt %d: %s", attempt, reason))
		log.Warn("json validation failed",
			"tool", inv.Tool, "attempt", attempt, "reason", reason)

		if attempt < retries {
			if err := sleepCtx(ctx, r.FailureBackoff); err != nil {
				return "", err
			}
		}
	}

	return "", &ValidationFailure{
		Message:  fmt.Sprintf("Failed to generate valid JSON after %d attempts", retries),
		Attempts: retries,
		Errors:   attemptErrors,
	}
}
