package mcp

import (
	"bufio"
	"encoding/json"
	"io"
	"time"

	"github.com/bridgekit/claude-mcp/internal/claude"
	"github.com/bridgekit/claude-mcp/internal/dispatch"
	"github.com/bridgekit/claude-mcp/pkg/protocol"
)

// Server reads line-delimited JSON-RPC from a stream and routes it to the
// handler. Slow work runs on the dispatch pool; the read loop only performs
// parsing and the cheap synchronous checks.
type Server struct {
	handler *Handler
	writer  *LockedWriter
	pool    *dispatch.Pool
	runner  *claude.Runner
}

func NewServer(handler *Handler, writer *LockedWriter, pool *dispatch.Pool, runner *claude.Runner) *Server {
	return &Server{
		handler: handler,
		writer:  writer,
		pool:    pool,
		runner:  runner,
	}
}

func (s *Server) Handler() *Handler {
	return s.handler
}

// ProcessStream runs the read loop until EOF or a read error. Blank lines
// are skipped; malformed JSON produces a parse-error response with a null id.
func (s *Server) ProcessStream(reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writer.WriteResponse(&Response{
				JSONRPC: "2.0",
				ID:      nil,
				Error: &protocol.JSONRPCError{
					Code:    protocol.CodeParseError,
					Message: "Parse error",
				},
			})
			continue
		}

		if resp := s.handler.Handle(&req); resp != nil {
			if err := s.writer.WriteResponse(resp); err != nil {
				return err
			}
		}
	}

	return scanner.Err()
}

// Shutdown drains in-flight tasks up to the grace period, then kills any
// child process groups still running.
func (s *Server) Shutdown(grace time.Duration) {
	if !s.pool.Drain(grace) {
		if killed := s.runner.KillAll(); killed > 0 {
			log.Warn("killed orphaned child processes", "count", killed)
		}
	}
}
