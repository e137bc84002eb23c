package claude

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/bridgekit/claude-mcp/internal/logger"
)

var log = logger.ForComponent("claude")

// Reserved exit statuses the CLI contract treats as timeout-class: the
// child was killed for running too long rather than failing on its input.
const (
	ExitTimeout = 124
	ExitKilled  = 137
)

var (
	ErrExecutableNotFound = errors.New("claude executable not found")
	ErrMaxRetries         = errors.New("max retries reached")
)

// Result is the outcome of a completed invocation.
type Result struct {
	Output     string
	ExitStatus int
	Attempts   int
}

// ExecutionError carries the last captured output and status after the
// retry budget is exhausted.
type ExecutionError struct {
	Message    string
	ExitStatus int
	Output     string
	Attempts   int
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// Runner executes the claude CLI with a bounded time budget and a two-tier
// retry/backoff policy. Timeout-class failures back off longer than generic
// ones: a timeout usually means contention, not a fixable input.
type Runner struct {
	Binary         string
	TimeoutBackoff time.Duration
	FailureBackoff time.Duration

	// WaitDelay bounds how long Wait blocks on output pipes after the
	// attempt context ends. A killed child may leave grandchildren holding
	// the pipe open; without this the timeout would not be honored.
	WaitDelay time.Duration

	procs *processTable
}

func NewRunner(binary string) *Runner {
	return &Runner{
		Binary:         binary,
		TimeoutBackoff: 5 * time.Second,
		FailureBackoff: 2 * time.Second,
		WaitDelay:      5 * time.Second,
		procs:          newProcessTable(),
	}
}

// CheckBinary resolves the configured executable on PATH.
func (r *Runner) CheckBinary() error {
	if _, err := exec.LookPath(r.Binary); err != nil {
		return fmt.Errorf("%w: %s", ErrExecutableNotFound, r.Binary)
	}
	return nil
}

// KillAll force-terminates every live child process group. Used during
// shutdown after the drain grace period expires.
func (r *Runner) KillAll() int {
	return r.procs.killAll()
}

// Run resolves the model, builds the argv and loops up to MaxRetries
// sequential attempts. Attempts are never parallel; exactly one child
// process exists per invocation at any time.
func (r *Runner) Run(ctx context.Context, inv *Invocation) (*Result, error) {
	model, known := ResolveModel(inv.Model)
	if !known {
		log.Warn("unknown model alias, using default", "requested", inv.Model, "model", model)
	}

	args := BuildArgs(inv, model)
	callID := uuid.NewString()

	maxRetries := inv.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastOutput string
	var lastStatus int

	for attempt := 1; attempt <= maxRetries; attempt++ {
		output, status, err := r.runOnce(ctx, inv, args)
		lastOutput = output
		lastStatus = status

		if err == nil && status == 0 {
			log.Debug("attempt succeeded",
				"call_id", callID, "tool", inv.Tool, "attempt", attempt)
			return &Result{Output: output, ExitStatus: 0, Attempts: attempt}, nil
		}

		timeoutClass := isTimeoutClass(status, err)
		log.Warn("attempt failed",
			"call_id", callID,
			"tool", inv.Tool,
			"attempt", attempt,
			"exit_status", status,
			"timeout", timeoutClass,
			"error", err)

		if attempt == maxRetries {
			if !timeoutClass && status != 0 && err == nil {
				// Generic failure on the final attempt: surface the
				// captured output alongside the failing status.
				return nil, &ExecutionError{
					Message:    fmt.Sprintf("claude exited with status %d after %d attempts", status, attempt),
					ExitStatus: status,
					Output:     output,
					Attempts:   attempt,
				}
			}
			break
		}

		backoff := r.FailureBackoff
		if timeoutClass {
			backoff = r.TimeoutBackoff
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
	}

	return nil, &ExecutionError{
		Message:    ErrMaxRetries.Error(),
		ExitStatus: lastStatus,
		Output:     lastOutput,
		Attempts:   maxRetries,
	}
}

// runOnce executes a single attempt: one child process, prompt on stdin,
// combined output capture, bounded by the invocation timeout.
func (r *Runner) runOnce(ctx context.Context, inv *Invocation, args []string) (string, int, error) {
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(attemptCtx, r.Binary, args...)
	cmd.Stdin = strings.NewReader(inv.Prompt)
	cmd.WaitDelay = r.WaitDelay

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return "", -1, fmt.Errorf("failed to start %s: %w", r.Binary, err)
	}

	unregister := r.procs.register(cmd)
	err := cmd.Wait()
	unregister()

	output := sanitizeUTF8(combined.Bytes())

	if attemptCtx.Err() == context.DeadlineExceeded {
		return output, ExitTimeout, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, exitErr.ExitCode(), nil
		}
		return output, -1, err
	}

	return output, 0, nil
}

func isTimeoutClass(status int, err error) bool {
	if status == ExitTimeout || status == ExitKilled {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sanitizeUTF8 replaces invalid byte sequences from the child's output so
// responses always marshal as valid JSON strings.
func sanitizeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
