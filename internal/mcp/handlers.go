package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bridgekit/claude-mcp/internal/claude"
	"github.com/bridgekit/claude-mcp/internal/config"
	"github.com/bridgekit/claude-mcp/internal/dispatch"
	"github.com/bridgekit/claude-mcp/internal/journal"
	"github.com/bridgekit/claude-mcp/internal/logger"
	"github.com/bridgekit/claude-mcp/internal/tools"
	"github.com/bridgekit/claude-mcp/pkg/protocol"
	"github.com/bridgekit/claude-mcp/pkg/version"
)

var log = logger.ForComponent("mcp")

// Settings are the hot-reloadable per-call defaults.
type Settings struct {
	DefaultModel      string
	DefaultTimeout    time.Duration
	DefaultMaxRetries int
	JSONRetries       int
}

func SettingsFrom(cfg *config.Config) *Settings {
	return &Settings{
		DefaultModel:      cfg.DefaultModel,
		DefaultTimeout:    time.Duration(cfg.DefaultTimeoutSeconds) * time.Second,
		DefaultMaxRetries: cfg.DefaultMaxRetries,
		JSONRetries:       cfg.JSONRetries,
	}
}

type Handler struct {
	registry *tools.Registry
	runner   *claude.Runner
	pool     *dispatch.Pool
	writer   *LockedWriter
	journal  *journal.Store

	settings atomic.Pointer[Settings]

	startTime   time.Time
	initialized bool
	clientInfo  ClientInfo
}

// NewHandler wires the request router. journal may be nil.
func NewHandler(registry *tools.Registry, runner *claude.Runner, pool *dispatch.Pool, writer *LockedWriter, jrnl *journal.Store, settings *Settings) *Handler {
	h := &Handler{
		registry:  registry,
		runner:    runner,
		pool:      pool,
		writer:    writer,
		journal:   jrnl,
		startTime: time.Now(),
	}
	h.settings.Store(settings)
	return h
}

// ApplySettings swaps the per-call defaults; in-flight tasks keep the
// settings they started with.
func (h *Handler) ApplySettings(s *Settings) {
	h.settings.Store(s)
}

// Handle routes one request. A nil return means no synchronous response:
// either the request was a notification or a spawned task will emit the
// response when it completes.
func (h *Handler) Handle(req *Request) *Response {
	switch req.Method {
	case "initialize":
		result, err := h.handleInitialize(req)
		return h.respond(req, result, err)
	case "ping":
		return h.respond(req, map[string]interface{}{}, nil)
	case "initialized", "notifications/initialized":
		h.initialized = true
		return nil
	case "tools/list":
		return h.respond(req, h.handleListTools(), nil)
	case "tools/call":
		return h.handleCallTool(req)
	default:
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("Method not found: %s", req.Method), nil)
	}
}

func (h *Handler) respond(req *Request, result interface{}, err error) *Response {
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		return errorResponse(req.ID, protocol.CodeInternalError, err.Error(), nil)
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func errorResponse(id interface{}, code int, message string, data interface{}) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &protocol.JSONRPCError{Code: code, Message: message, Data: data},
	}
}

func (h *Handler) handleInitialize(req *Request) (interface{}, error) {
	initReq := struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}{}

	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			return nil, fmt.Errorf("failed to parse initialize request: %w", err)
		}
	}

	h.clientInfo.Name = initReq.ClientInfo.Name
	h.clientInfo.Version = initReq.ClientInfo.Version

	return map[string]interface{}{
		"protocolVersion": negotiateProtocolVersion(initReq.ProtocolVersion),
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    version.ServerName,
			"version": version.Version,
		},
	}, nil
}

func negotiateProtocolVersion(clientVersion string) string {
	for _, v := range version.SupportedProtocolVersions {
		if clientVersion == v {
			return v
		}
	}
	return version.ProtocolVersion
}

func (h *Handler) handleListTools() interface{} {
	list := h.registry.List()
	out := make([]protocol.Tool, len(list))
	for i, def := range list {
		out[i] = protocol.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Schema,
		}
	}
	return map[string]interface{}{"tools": out}
}

type callArguments struct {
	Prompt             string   `json:"prompt"`
	Model              string   `json:"model"`
	Timeout            float64  `json:"timeout"`
	MaxRetries         int      `json:"maxRetries"`
	MaxTurns           int      `json:"maxTurns"`
	OutputFormat       string   `json:"outputFormat"`
	JSONSchema         string   `json:"jsonSchema"`
	SystemPrompt       string   `json:"systemPrompt"`
	AppendSystemPrompt string   `json:"appendSystemPrompt"`
	AllowedTools       []string `json:"allowedTools"`
	DisallowedTools    []string `json:"disallowedTools"`
	AddDirs            []string `json:"addDirs"`
	Verbose            bool     `json:"verbose"`
}

// handleCallTool performs the cheap synchronous checks, then hands the slow
// path to the pool. The read loop is never blocked on an execution.
func (h *Handler) handleCallTool(req *Request) *Response {
	callReq := struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}{}

	if err := json.Unmarshal(req.Params, &callReq); err != nil {
		return h.respond(req, nil, fmt.Errorf("failed to parse tool call request: %w", err))
	}

	def, ok := h.registry.Get(callReq.Name)
	if !ok {
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("Unknown tool: %s", callReq.Name), nil)
	}

	if err := h.runner.CheckBinary(); err != nil {
		return h.respond(req, nil, err)
	}

	var args callArguments
	if len(callReq.Arguments) > 0 {
		if err := json.Unmarshal(callReq.Arguments, &args); err != nil {
			return h.respond(req, nil, fmt.Errorf("failed to parse tool arguments: %w", err))
		}
	}
	if args.Prompt == "" {
		return h.respond(req, nil, fmt.Errorf("prompt is required"))
	}

	if !h.pool.Admit() {
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, protocol.CodeInternalError,
			"server busy: tool call rate limit exceeded", nil)
	}

	settings := h.settings.Load()
	inv := buildInvocation(def, &args, settings)

	id := req.ID
	h.pool.Go(def.Name, func(ctx context.Context) {
		h.executeCall(ctx, def, inv, settings, id)
	})

	return nil
}

// executeCall runs one tool invocation to completion and emits exactly one
// response line when the request carried an id.
func (h *Handler) executeCall(ctx context.Context, def tools.Definition, inv *claude.Invocation, settings *Settings, id interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("tool execution panicked",
				"tool", def.Name, "panic", r, "stack", string(debug.Stack()))
			h.emit(id, errorResponse(id, protocol.CodeInternalError,
				fmt.Sprintf("tool execution panicked: %v", r), nil))
		}
	}()

	callID := uuid.NewString()
	start := time.Now()
	log.Info("tool call started", "call_id", callID, "tool", def.Name, "model", inv.Model)

	entry := journal.Entry{
		ID:    callID,
		Tool:  def.Name,
		Model: inv.Model,
	}

	var resp *Response
	if def.JSONMode {
		output, err := h.runner.RunJSON(ctx, inv, settings.JSONRetries)
		if err != nil {
			resp = jsonErrorResponse(id, err)
			entry.Outcome = journal.OutcomeJSONError
			entry.Attempts = settings.JSONRetries
			entry.Error = err.Error()
		} else {
			resp = &Response{JSONRPC: "2.0", ID: id, Result: protocol.NewTextResult(output)}
			entry.Outcome = journal.OutcomeSuccess
		}
	} else {
		res, err := h.runner.Run(ctx, inv)
		if err != nil {
			resp = execErrorResponse(id, err)
			entry.Outcome = journal.OutcomeExecError
			entry.Error = err.Error()
			var execErr *claude.ExecutionError
			if errors.As(err, &execErr) {
				entry.Attempts = execErr.Attempts
				entry.ExitStatus = execErr.ExitStatus
			}
		} else {
			text := strings.TrimRight(res.Output, "\n")
			resp = &Response{JSONRPC: "2.0", ID: id, Result: protocol.NewTextResult(text)}
			entry.Outcome = journal.OutcomeSuccess
			entry.Attempts = res.Attempts
		}
	}

	entry.Duration = time.Since(start)
	if h.journal != nil {
		h.journal.Record(entry)
	}

	log.Info("tool call finished",
		"call_id", callID, "tool", def.Name,
		"outcome", entry.Outcome, "duration", entry.Duration)

	h.emit(id, resp)
}

// emit writes the final response unless the call was a notification.
func (h *Handler) emit(id interface{}, resp *Response) {
	if id == nil || resp == nil {
		return
	}
	if err := h.writer.WriteResponse(resp); err != nil {
		log.Error("failed to write response", "error", err)
	}
}

func jsonErrorResponse(id interface{}, err error) *Response {
	var vf *claude.ValidationFailure
	if errors.As(err, &vf) {
		return errorResponse(id, protocol.CodeInternalError, vf.Message, vf)
	}
	return errorResponse(id, protocol.CodeInternalError, err.Error(), nil)
}

func execErrorResponse(id interface{}, err error) *Response {
	var execErr *claude.ExecutionError
	if errors.As(err, &execErr) {
		return errorResponse(id, protocol.CodeInternalError, execErr.Message, map[string]interface{}{
			"exitStatus": execErr.ExitStatus,
			"attempts":   execErr.Attempts,
			"output":     execErr.Output,
		})
	}
	return errorResponse(id, protocol.CodeInternalError, err.Error(), nil)
}

// buildInvocation merges tool defaults, call arguments and server settings
// into the per-call configuration bag.
func buildInvocation(def tools.Definition, args *callArguments, settings *Settings) *claude.Invocation {
	inv := &claude.Invocation{
		Tool:       def.Name,
		Prompt:     def.PromptPrefix + args.Prompt,
		Model:      args.Model,
		Timeout:    time.Duration(args.Timeout * float64(time.Second)),
		MaxRetries: args.MaxRetries,
	}

	if inv.Model == "" {
		inv.Model = settings.DefaultModel
	}
	if inv.Timeout <= 0 {
		inv.Timeout = settings.DefaultTimeout
	}
	if inv.MaxRetries < 1 {
		inv.MaxRetries = settings.DefaultMaxRetries
	}

	if def.Extended {
		inv.MaxTurns = args.MaxTurns
		inv.OutputFormat = args.OutputFormat
		inv.SystemPrompt = args.SystemPrompt
		inv.AppendSystemPrompt = args.AppendSystemPrompt
		inv.AllowedTools = args.AllowedTools
		inv.DisallowedTools = args.DisallowedTools
		inv.AddDirs = args.AddDirs
		inv.Verbose = args.Verbose
	}

	if def.JSONMode {
		inv.JSONSchema = args.JSONSchema
		inv.Prompt += "\n\nRespond with a single valid JSON object and no surrounding commentary."
		if args.JSONSchema != "" {
			inv.Prompt += "\nThe object must conform to this JSON schema:\n" + args.JSONSchema
		}
	}

	return inv
}
