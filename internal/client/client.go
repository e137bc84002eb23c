package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/bridgekit/claude-mcp/internal/logger"
	"github.com/bridgekit/claude-mcp/pkg/version"
)

var log = logger.ForComponent("client")

// Client drives a claude-mcp server over its stdio, speaking the same
// line-delimited JSON-RPC the server emits. It exists for the `call`
// subcommand and for smoke-testing a built binary.
type Client struct {
	cmd  *exec.Cmd
	conn *jsonrpc2.Conn
}

type stdioReadWriteCloser struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *stdioReadWriteCloser) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *stdioReadWriteCloser) Write(p []byte) (int, error) {
	return s.writer.Write(p)
}

func (s *stdioReadWriteCloser) Close() error {
	rerr := s.reader.Close()
	werr := s.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

type noopHandler struct{}

func (noopHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {}

// Spawn starts the server process and performs the initialize handshake.
func Spawn(ctx context.Context, command string, args ...string) (*Client, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to start %s: %w", command, err)
	}

	rwc := &stdioReadWriteCloser{reader: stdout, writer: stdin}
	c := Connect(ctx, rwc)
	c.cmd = cmd

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// Connect wraps an existing stream without spawning a process. The caller
// is responsible for the handshake.
func Connect(ctx context.Context, rwc io.ReadWriteCloser) *Client {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.PlainObjectCodec{})
	return &Client{conn: jsonrpc2.NewConn(ctx, stream, noopHandler{})}
}

// Initialize performs the protocol handshake.
func (c *Client) Initialize(ctx context.Context) error {
	return c.initialize(ctx)
}

func (c *Client) initialize(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	params := map[string]interface{}{
		"protocolVersion": version.ProtocolVersion,
		"clientInfo": map[string]interface{}{
			"name":    "claude-mcp-client",
			"version": version.Version,
		},
	}

	var result json.RawMessage
	if err := c.conn.Call(initCtx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	if err := c.conn.Notify(initCtx, "notifications/initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized notification failed: %w", err)
	}

	return nil
}

// ListTools returns the server's tool names.
func (c *Client) ListTools(ctx context.Context) ([]string, error) {
	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := c.conn.Call(ctx, "tools/list", struct{}{}, &result); err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}

	names := make([]string, len(result.Tools))
	for i, t := range result.Tools {
		names[i] = t.Name
	}
	return names, nil
}

// CallTool invokes one tool and returns the text content of the result.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (string, error) {
	params := map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := c.conn.Call(ctx, "tools/call", params, &result); err != nil {
		return "", fmt.Errorf("tools/call failed: %w", err)
	}

	for _, content := range result.Content {
		if content.Type == "text" {
			return content.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in result")
}

// Close shuts the connection and reaps the child, escalating to a kill if it
// does not exit promptly after stdin closes.
func (c *Client) Close() error {
	c.conn.Close()

	if c.cmd == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- c.cmd.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		log.Warn("server did not exit after close, killing", "pid", c.cmd.Process.Pid)
		c.cmd.Process.Kill()
		return <-done
	}
}
