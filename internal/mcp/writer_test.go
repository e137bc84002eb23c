package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/bridgekit/claude-mcp/pkg/protocol"
)

func TestLockedWriterNoInterleaving(t *testing.T) {
	var buf bytes.Buffer
	lw := NewLockedWriter(&buf)

	const n = 200
	// Large payloads make torn writes likely if the lock is broken.
	payload := make([]byte, 8192)
	for i := range payload {
		payload[i] = 'x'
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			lw.WriteResponse(&protocol.JSONRPCResponse{
				JSONRPC: "2.0",
				ID:      id,
				Result:  protocol.NewTextResult(string(payload)),
			})
		}(i)
	}
	wg.Wait()

	scanner := bufio.NewScanner(&buf)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	seen := make(map[float64]bool)
	lines := 0
	for scanner.Scan() {
		lines++
		var resp protocol.JSONRPCResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
		id, ok := resp.ID.(float64)
		if !ok {
			t.Fatalf("line %d has non-numeric id %v", lines, resp.ID)
		}
		if seen[id] {
			t.Fatalf("duplicate id %v", id)
		}
		seen[id] = true
	}

	if lines != n {
		t.Errorf("got %d lines, want %d", lines, n)
	}
}

func TestLockedWriterAppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	lw := NewLockedWriter(&buf)

	for i := 0; i < 3; i++ {
		if err := lw.WriteResponse(&protocol.JSONRPCResponse{JSONRPC: "2.0", ID: i}); err != nil {
			t.Fatal(err)
		}
	}

	if got := bytes.Count(buf.Bytes(), []byte("\n")); got != 3 {
		t.Errorf("got %d newlines, want 3", got)
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		t.Error("output does not end with newline")
	}
	if bytes.Contains(buf.Bytes(), []byte("\n\n")) {
		t.Error(fmt.Sprintf("blank line in output: %q", buf.String()))
	}
}
