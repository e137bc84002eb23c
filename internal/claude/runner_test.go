//go:build unix

package claude

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeStub installs an executable shell script and returns its path plus a
// counter file that records one line per invocation.
func writeStub(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	countFile := filepath.Join(dir, "count")
	script := fmt.Sprintf("#!/bin/sh\necho run >> %s\n%s\n", countFile, body)

	path := filepath.Join(dir, "stub-claude")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path, countFile
}

func invocations(t *testing.T, countFile string) int {
	t.Helper()
	data, err := os.ReadFile(countFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatal(err)
	}
	return strings.Count(string(data), "\n")
}

func fastRunner(binary string) *Runner {
	r := NewRunner(binary)
	r.TimeoutBackoff = 30 * time.Millisecond
	r.FailureBackoff = 10 * time.Millisecond
	r.WaitDelay = 200 * time.Millisecond
	return r
}

func TestRunSuccessSingleAttempt(t *testing.T) {
	stub, countFile := writeStub(t, "echo ok")
	r := fastRunner(stub)

	res, err := r.Run(context.Background(), &Invocation{
		Prompt:     "hi",
		MaxRetries: 3,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := strings.TrimSpace(res.Output); got != "ok" {
		t.Errorf("output = %q, want ok", got)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
	if n := invocations(t, countFile); n != 1 {
		t.Errorf("stub invoked %d times, want 1", n)
	}
}

func TestRunReadsPromptFromStdin(t *testing.T) {
	stub, _ := writeStub(t, "cat")
	r := fastRunner(stub)

	res, err := r.Run(context.Background(), &Invocation{
		Prompt:     "the prompt text",
		MaxRetries: 1,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(res.Output, "the prompt text") {
		t.Errorf("stub did not receive prompt on stdin: %q", res.Output)
	}
}

func TestRunTimeoutSentinelRetriesWithSlowBackoff(t *testing.T) {
	stub, countFile := writeStub(t, "exit 124")
	r := fastRunner(stub)

	start := time.Now()
	_, err := r.Run(context.Background(), &Invocation{
		Prompt:     "hi",
		MaxRetries: 3,
		Timeout:    10 * time.Second,
	})
	elapsed := time.Since(start)

	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Message != ErrMaxRetries.Error() {
		t.Errorf("message = %q, want max retries reached", execErr.Message)
	}
	if n := invocations(t, countFile); n != 3 {
		t.Errorf("stub invoked %d times, want exactly maxRetries=3", n)
	}
	// Two backoffs at the timeout tier.
	if min := 2 * r.TimeoutBackoff; elapsed < min {
		t.Errorf("elapsed %v < %v: timeout backoff not applied", elapsed, min)
	}
}

func TestRunKilledSentinelIsTimeoutClass(t *testing.T) {
	stub, countFile := writeStub(t, "exit 137")
	r := fastRunner(stub)

	_, err := r.Run(context.Background(), &Invocation{Prompt: "hi", MaxRetries: 2, Timeout: 10 * time.Second})

	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if n := invocations(t, countFile); n != 2 {
		t.Errorf("stub invoked %d times, want 2", n)
	}
}

func TestRunGenericFailureReturnsOutputAndStatus(t *testing.T) {
	stub, countFile := writeStub(t, "echo some diagnostic; exit 7")
	r := fastRunner(stub)

	_, err := r.Run(context.Background(), &Invocation{Prompt: "hi", MaxRetries: 2, Timeout: 10 * time.Second})

	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.ExitStatus != 7 {
		t.Errorf("exit status = %d, want 7", execErr.ExitStatus)
	}
	if !strings.Contains(execErr.Output, "some diagnostic") {
		t.Errorf("captured output missing: %q", execErr.Output)
	}
	if execErr.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", execErr.Attempts)
	}
	if n := invocations(t, countFile); n != 2 {
		t.Errorf("stub invoked %d times, want 2", n)
	}
}

func TestRunRecoversAfterTransientFailure(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	// Fails once, then succeeds.
	script := fmt.Sprintf("#!/bin/sh\nif [ ! -f %s ]; then touch %s; exit 1; fi\necho recovered\n", marker, marker)
	stub := filepath.Join(dir, "stub-claude")
	if err := os.WriteFile(stub, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}

	r := fastRunner(stub)
	res, err := r.Run(context.Background(), &Invocation{Prompt: "hi", MaxRetries: 3, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.Attempts)
	}
	if !strings.Contains(res.Output, "recovered") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestRunDeadlineTreatedAsTimeout(t *testing.T) {
	stub, countFile := writeStub(t, "sleep 5")
	r := fastRunner(stub)

	start := time.Now()
	_, err := r.Run(context.Background(), &Invocation{
		Prompt:     "hi",
		MaxRetries: 2,
		Timeout:    100 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("timeout not enforced, elapsed %v", elapsed)
	}
	if n := invocations(t, countFile); n != 2 {
		t.Errorf("stub invoked %d times, want 2", n)
	}
}

func TestCheckBinary(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		r := NewRunner("definitely-not-a-real-binary-xyz")
		if err := r.CheckBinary(); !errors.Is(err, ErrExecutableNotFound) {
			t.Errorf("CheckBinary = %v, want ErrExecutableNotFound", err)
		}
	})

	t.Run("present", func(t *testing.T) {
		stub, _ := writeStub(t, "echo ok")
		if err := NewRunner(stub).CheckBinary(); err != nil {
			t.Errorf("CheckBinary = %v", err)
		}
	})
}

func TestRunJSONExtractsFromNoisyOutput(t *testing.T) {
	stub, countFile := writeStub(t, `echo 'Sure! Here you go: {"answer": 42} Let me know if you need more.'`)
	r := fastRunner(stub)

	out, err := r.RunJSON(context.Background(), &Invocation{Prompt: "hi", Timeout: 10 * time.Second}, 3)
	if err != nil {
		t.Fatalf("RunJSON failed: %v", err)
	}
	if out != `{"answer": 42}` {
		t.Errorf("RunJSON = %q", out)
	}
	if n := invocations(t, countFile); n != 1 {
		t.Errorf("stub invoked %d times, want 1", n)
	}
}

func TestRunJSONUnwrapsEnvelope(t *testing.T) {
	stub, _ := writeStub(t, `echo '{"type":"result","result":"{\"ok\":true}"}'`)
	r := fastRunner(stub)

	out, err := r.RunJSON(context.Background(), &Invocation{Prompt: "hi", Timeout: 10 * time.Second}, 2)
	if err != nil {
		t.Fatalf("RunJSON failed: %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("RunJSON = %q", out)
	}
}

func TestRunJSONExhaustionReportsAttempts(t *testing.T) {
	stub, countFile := writeStub(t, "echo no json here at all")
	r := fastRunner(stub)

	_, err := r.RunJSON(context.Background(), &Invocation{Prompt: "hi", Timeout: 10 * time.Second}, 3)

	var vf *ValidationFailure
	if !errors.As(err, &vf) {
		t.Fatalf("expected ValidationFailure, got %v", err)
	}
	if vf.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", vf.Attempts)
	}
	if len(vf.Errors) != 3 {
		t.Errorf("error trace has %d entries, want 3", len(vf.Errors))
	}
	// Invalid JSON re-queries the tool, not just the parser.
	if n := invocations(t, countFile); n != 3 {
		t.Errorf("stub invoked %d times, want 3", n)
	}
}

func TestSanitizeUTF8(t *testing.T) {
	t.Run("valid passthrough", func(t *testing.T) {
		if got := sanitizeUTF8([]byte("héllo")); got != "héllo" {
			t.Errorf("sanitizeUTF8 = %q", got)
		}
	})

	t.Run("invalid bytes replaced", func(t *testing.T) {
		got := sanitizeUTF8([]byte{'o', 'k', 0xff, 0xfe})
		if !strings.HasPrefix(got, "ok") {
			t.Errorf("sanitizeUTF8 = %q", got)
		}
		for _, r := range got {
			if r == 0xFFFD {
				return
			}
		}
		t.Errorf("expected replacement rune in %q", got)
	})
}
