package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/datnetwork/datmind/pkg/logging"
	"github.com/datnetwork/datmind/pkg/telemetry"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC error
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MethodHandler is a function that handles a JSON-RPC method
type MethodHandler func(ctx *gin.Context, params json.RawMessage) (interface{}, error)

// JSONRPCHandler dispatches single and batched JSON-RPC calls
type JSONRPCHandler struct {
	methods map[string]MethodHandler
	logger  *zap.Logger
}

// NewJSONRPCHandler creates a new JSON-RPC handler
func NewJSONRPCHandler() *JSONRPCHandler {
	return &JSONRPCHandler{
		methods: make(map[string]MethodHandler),
		logger:  logging.WithComponent("jsonrpc"),
	}
}

// RegisterMethod registers a method handler
func (h *JSONRPCHandler) RegisterMethod(method string, handler MethodHandler) {
	h.methods[method] = handler
}

// Handle serves one HTTP request carrying a call or a batch of calls.
// Batched calls run in order so commands from one batch reach the ledger in
// the order the client sent them.
func (h *JSONRPCHandler) Handle(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "jsonrpc.handle")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusOK, errorResponse(nil, ErrParseError, "Parse error", err))
		return
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			c.JSON(http.StatusOK, errorResponse(nil, ErrParseError, "Parse error", err))
			return
		}
		if len(batch) == 0 {
			c.JSON(http.StatusOK, errorResponse(nil, ErrInvalidRequest, "Invalid Request", fmt.Errorf("empty batch")))
			return
		}
		span.SetAttributes(attribute.Int("rpc.batch_size", len(batch)))

		responses := make([]JSONRPCResponse, 0, len(batch))
		for _, raw := range batch {
			responses = append(responses, h.call(c, raw))
		}
		c.JSON(http.StatusOK, responses)
		return
	}

	c.JSON(http.StatusOK, h.call(c, body))
}

// call decodes and runs a single request
func (h *JSONRPCHandler) call(c *gin.Context, raw json.RawMessage) JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, ErrParseError, "Parse error", err)
	}

	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, ErrInvalidRequest, "Invalid Request", fmt.Errorf("invalid jsonrpc version"))
	}

	handler, ok := h.methods[req.Method]
	if !ok {
		return errorResponse(req.ID, ErrMethodNotFound, "Method not found", fmt.Errorf("method %s not found", req.Method))
	}

	ctx, span := telemetry.StartSpan(c.Request.Context(), "rpc."+req.Method)
	defer span.End()
	span.SetAttributes(attribute.String("rpc.method", req.Method))

	parent := c.Request
	c.Request = parent.WithContext(ctx)
	start := time.Now()
	result, err := handler(c, req.Params)
	c.Request = parent

	if err != nil {
		code, message := classify(err)
		telemetry.RecordRPC(ctx, req.Method, code, time.Since(start))
		h.logError(req.Method, code, message, err)
		return errorResponse(req.ID, code, message, err)
	}

	telemetry.RecordRPC(ctx, req.Method, 0, time.Since(start))
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	}
}

func (h *JSONRPCHandler) logError(method string, code int, message string, err error) {
	if code == ErrServerError || code == ErrInternalError {
		h.logger.Error("JSON-RPC error", zap.String("method", method), zap.String("message", message), zap.Error(err))
		return
	}
	h.logger.Debug("JSON-RPC request refused", zap.String("method", method), zap.Int("code", code), zap.Error(err))
}

func errorResponse(id interface{}, code int, message string, err error) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    err.Error(),
		},
	}
}

// Standard JSON-RPC error codes
const (
	ErrParseError     = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternalError  = -32603
)
