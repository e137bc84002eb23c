package mcp

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/bridgekit/claude-mcp/pkg/protocol"
)

// LockedWriter serializes response lines from concurrently completing tasks.
// The lock is created at startup, owned by the writer, and held for exactly
// one marshal-and-write; it is never held across a task's lifetime.
type LockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLockedWriter(w io.Writer) *LockedWriter {
	return &LockedWriter{w: w}
}

// WriteResponse emits one complete JSON-RPC response line. The newline is
// part of the single write, so concurrent responses never interleave.
func (lw *LockedWriter) WriteResponse(resp *protocol.JSONRPCResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err = lw.w.Write(data)
	return err
}
