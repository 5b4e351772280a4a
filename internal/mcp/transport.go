package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id,omitempty"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

const protocolVersion = "2024-11-05"

// errExit ends Serve after an exit notification.
var errExit = errors.New("exit requested")

// MCPTransport handles JSON-RPC 2.0 communication over a line-delimited stream
type MCPTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	server  *MCPServer
	logger  *zap.Logger
	version string

	mu sync.Mutex
}

func NewMCPTransport(server *MCPServer, r io.Reader, w io.Writer, version string, logger *zap.Logger) *MCPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MCPTransport{
		reader:  bufio.NewReader(r),
		writer:  w,
		server:  server,
		logger:  logger,
		version: version,
	}
}

// Serve processes requests until the input closes, an exit notification
// arrives or ctx is cancelled.
func (t *MCPTransport) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := t.reader.ReadBytes('\n')
			if len(line) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				t.logger.Info("client disconnected")
				return nil
			}
			return fmt.Errorf("failed to read request: %w", err)
		case line := <-lines:
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			response, err := t.safeProcess(ctx, line)
			if errors.Is(err, errExit) {
				return nil
			}
			if response == nil {
				continue
			}
			if err := t.sendResponse(response); err != nil {
				return err
			}
		}
	}
}

func (t *MCPTransport) safeProcess(ctx context.Context, line []byte) (resp *JSONRPCResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic recovered while processing request", zap.Any("panic", r))
			resp = errorResponse(nil, InternalError, "Internal server error", nil)
			err = nil
		}
	}()
	return t.processRequest(ctx, line)
}

// processRequest processes a JSON-RPC request and returns a response, nil for
// notifications.
func (t *MCPTransport) processRequest(ctx context.Context, data []byte) (*JSONRPCResponse, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse(nil, ParseError, "Parse error", err.Error()), nil
	}
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, InvalidRequest, "Invalid Request - JSON-RPC 2.0 required", nil), nil
	}

	t.logger.Debug("request", zap.String("method", req.Method))

	switch req.Method {
	case "initialize":
		return t.handleInitialize(req), nil
	case "initialized", "notifications/initialized":
		return nil, nil
	case "ping":
		return resultResponse(req.ID, map[string]interface{}{}), nil
	case "shutdown":
		return resultResponse(req.ID, nil), nil
	case "exit":
		return nil, errExit
	case "tools/list":
		return t.handleToolsList(req), nil
	case "tools/call":
		return t.handleToolCall(ctx, req), nil
	default:
		// Direct method calls
		result, err := t.server.HandleCommand(ctx, req.Method, req.Params)
		if err != nil {
			code := InternalError
			if strings.HasPrefix(err.Error(), "unknown method") {
				code = MethodNotFound
			}
			return errorResponse(req.ID, code, err.Error(), nil), nil
		}
		return resultResponse(req.ID, result), nil
	}
}

func (t *MCPTransport) handleInitialize(req JSONRPCRequest) *JSONRPCResponse {
	return resultResponse(req.ID, map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{
				"listChanged": false,
			},
		},
		"serverInfo": map[string]interface{}{
			"name":    "donelist",
			"version": t.version,
		},
	})
}

func (t *MCPTransport) handleToolsList(req JSONRPCRequest) *JSONRPCResponse {
	list := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		list = append(list, map[string]interface{}{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": tool.InputSchema,
		})
	}
	return resultResponse(req.ID, map[string]interface{}{"tools": list})
}

func (t *MCPTransport) handleToolCall(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	type ToolCallParams struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	}

	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, InvalidParams, "Invalid params", err.Error())
	}

	tool, ok := findTool(params.Name)
	if !ok {
		return errorResponse(req.ID, MethodNotFound, fmt.Sprintf("Unknown tool: %s", params.Name), nil)
	}

	result, err := t.server.HandleCommand(ctx, tool.Command, params.Arguments)
	if err != nil {
		return errorResponse(req.ID, InternalError, err.Error(), nil)
	}

	var text string
	if str, ok := result.(string); ok {
		text = str
	} else {
		encoded, err := json.Marshal(result)
		if err != nil {
			return errorResponse(req.ID, InternalError, "Failed to serialize result", err.Error())
		}
		text = string(encoded)
	}

	return resultResponse(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
	})
}

func (t *MCPTransport) sendResponse(response *JSONRPCResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

func resultResponse(id interface{}, result interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id interface{}, code int, message string, data interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
	}
}
