package claude

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Invocation is the per-call configuration bag. It is built once per
// request, consumed by one task, then discarded.
type Invocation struct {
	Tool               string
	Prompt             string
	Model              string
	Timeout            time.Duration
	MaxRetries         int
	MaxTurns           int
	OutputFormat       string
	JSONSchema         string
	SystemPrompt       string
	AppendSystemPrompt string
	AllowedTools       []string
	DisallowedTools    []string
	AddDirs            []string
	Verbose            bool
}

// BuildArgs translates an invocation into a structured argument list for the
// claude CLI. The prompt is never part of the argv; it is delivered on the
// child's stdin by the runner.
func BuildArgs(inv *Invocation, model string) []string {
	args := []string{
		"-p",
		"--model", model,
		"--dangerously-skip-permissions",
	}

	if inv.OutputFormat != "" {
		args = append(args, "--output-format", inv.OutputFormat)
	}
	if inv.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(inv.MaxTurns))
	}
	if inv.SystemPrompt != "" {
		args = append(args, "--system-prompt", inv.SystemPrompt)
	}
	if inv.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", inv.AppendSystemPrompt)
	}
	if len(inv.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(inv.AllowedTools, ","))
	}
	if len(inv.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(inv.DisallowedTools, ","))
	}
	for _, dir := range expandDirs(inv.AddDirs) {
		args = append(args, "--add-dir", dir)
	}
	if inv.Verbose {
		args = append(args, "--verbose")
	}

	return args
}

// expandDirs resolves glob patterns in addDirs entries. Plain paths pass
// through as-is; patterns keep only the directories they match.
func expandDirs(dirs []string) []string {
	var out []string
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if !strings.ContainsAny(dir, "*?[{") {
			out = append(out, dir)
			continue
		}
		matches, err := doublestar.FilepathGlob(dir)
		if err != nil {
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || !info.IsDir() {
				continue
			}
			out = append(out, m)
		}
	}
	return out
}
