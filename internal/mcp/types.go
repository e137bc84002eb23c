package mcp

import "github.com/bridgekit/claude-mcp/pkg/protocol"

type Request = protocol.JSONRPCRequest
type Response = protocol.JSONRPCResponse

type ClientInfo struct {
	Name    string
	Version string
}
