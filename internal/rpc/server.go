// Package rpc serves gateway operations as newline-delimited JSON-RPC 2.0
// over a byte stream, normally stdin and stdout.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"filegate/gateway/internal/errinfo"
	"filegate/gateway/internal/logging"
)

const (
	jsonRPCVersion = "2.0"
	maxMessageSize = 10 * 1024 * 1024

	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeApplication    = -32000
)

// CancelMethod cancels an in-flight request by id. It is handled by the
// server itself and never reaches a registered handler.
const CancelMethod = "$/cancelRequest"

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	APIVer  string          `json:"api_version,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type Handler func(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo)

type Server struct {
	apiVersion string
	reader     io.Reader
	writer     *bufio.Writer
	writeMu    sync.Mutex
	handlers   map[string]Handler
	logger     *slog.Logger

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc
	wg         sync.WaitGroup
}

func NewServer(apiVersion string, r io.Reader, w io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		apiVersion: apiVersion,
		reader:     r,
		writer:     bufio.NewWriter(w),
		handlers:   make(map[string]Handler),
		inflight:   make(map[string]context.CancelFunc),
		logger:     logger,
	}
}

func (s *Server) Register(method string, handler Handler) {
	s.handlers[method] = handler
}

// RegisterAll registers every handler in the map.
func (s *Server) RegisterAll(handlers map[string]Handler) {
	for method, handler := range handlers {
		s.Register(method, handler)
	}
}

// Serve reads requests until the input ends or ctx is canceled. Requests are
// handled concurrently; Serve returns only after every handler finished.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.dispatch(ctx, line)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			s.logger.Warn("rpc.message_too_large", "limit", maxMessageSize)
			s.sendError(nil, codeInvalidRequest, "message too large", nil)
		}
		s.logger.Error("rpc.read_failed", "error", err.Error())
		return err
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn("rpc.invalid_json", "error", err.Error())
		s.sendError(nil, codeParseError, "invalid json", nil)
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		s.logger.Warn("rpc.invalid_version", "version", req.JSONRPC)
		s.sendError(req.ID, codeInvalidRequest, "invalid jsonrpc version", nil)
		return
	}
	if req.APIVer != "" && req.APIVer != s.apiVersion {
		s.logger.Warn("rpc.incompatible_version", "requested", req.APIVer, "expected", s.apiVersion)
		s.sendError(req.ID, codeInvalidRequest, "incompatible api_version", map[string]string{"expected": s.apiVersion})
		return
	}
	if req.Method == CancelMethod {
		s.cancel(req.Params)
		return
	}
	handler, ok := s.handlers[req.Method]
	if !ok {
		s.logger.Warn("rpc.method_not_found", "method", req.Method)
		s.sendError(req.ID, codeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
		return
	}
	s.logger.Debug("rpc.request", "method", req.Method, "id", string(req.ID), "params", logging.RedactJSON(req.Params))

	reqCtx, cancel := context.WithCancel(ctx)
	key := string(req.ID)
	if key != "" {
		s.inflightMu.Lock()
		s.inflight[key] = cancel
		s.inflightMu.Unlock()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if key != "" {
				s.inflightMu.Lock()
				delete(s.inflight, key)
				s.inflightMu.Unlock()
			}
			cancel()
		}()
		s.handle(reqCtx, req, handler)
	}()
}

func (s *Server) handle(ctx context.Context, req Request, handler Handler) {
	result, errInfo := handler(ctx, req.Params)
	if req.ID == nil {
		return
	}
	if errInfo != nil {
		s.logger.Warn("rpc.response_error", "method", req.Method, "id", string(req.ID), "error", logging.RedactAny(errInfo))
		msg := errInfo.ErrorCode
		if errInfo.Detail != "" {
			msg = errInfo.Detail
		}
		s.sendError(req.ID, codeApplication, msg, errInfo)
		return
	}
	s.logger.Debug("rpc.response", "method", req.Method, "id", string(req.ID), "result", logging.RedactAny(result))
	s.send(Response{JSONRPC: jsonRPCVersion, ID: req.ID, Result: result})
}

func (s *Server) cancel(params json.RawMessage) {
	var p struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || len(p.ID) == 0 {
		s.logger.Warn("rpc.cancel_invalid")
		return
	}
	s.inflightMu.Lock()
	cancel, ok := s.inflight[string(p.ID)]
	s.inflightMu.Unlock()
	if ok {
		s.logger.Info("rpc.cancel", "id", string(p.ID))
		cancel()
	}
}

// Notify writes a server-initiated notification. Safe for concurrent use.
func (s *Server) Notify(method string, params any) {
	s.logger.Debug("rpc.notify", "method", method, "params", logging.RedactAny(params))
	s.send(Notification{JSONRPC: jsonRPCVersion, Method: method, Params: params})
}

func (s *Server) sendError(id json.RawMessage, code int, message string, data any) {
	s.send(Response{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &ErrorPayload{Code: code, Message: message, Data: data},
	})
}

func (s *Server) send(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("rpc.marshal_failed", "error", err.Error())
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = s.writer.Write(append(data, '\n'))
	_ = s.writer.Flush()
}
