// Package httpapi exposes the gateway operations over HTTP. Handlers are the
// same ones the JSON-RPC transport serves; this package only maps routes and
// query strings onto their params and renders errors with HTTP statuses.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"filegate/gateway/internal/errinfo"
	"filegate/gateway/internal/gateway"
	"filegate/gateway/internal/logging"
)

const (
	maxBodyBytes    = 4 * 1024 * 1024
	shutdownTimeout = 5 * time.Second
)

type Options struct {
	// AllowedOrigins lists origins that may call the API from a browser.
	// "*" allows any origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

type Server struct {
	gw             *gateway.Gateway
	handlers       map[string]gateway.Handler
	allowedOrigins []string
	logger         *slog.Logger
	router         chi.Router
	pingInterval   time.Duration
}

func New(gw *gateway.Gateway, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{
		gw:             gw,
		handlers:       gw.Handlers(),
		allowedOrigins: opts.AllowedOrigins,
		logger:         logger,
		pingInterval:   15 * time.Second,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	r.Use(s.cors)

	r.Get("/_health", s.handleHealth)
	r.Get("/projects", s.op("ProjectsList", nil))
	r.Route("/projects/{id}", func(r chi.Router) {
		r.Get("/", s.op("ProjectGet", nil))
		r.Get("/fs", s.op("FsList", query("path")))
		r.Get("/search", s.op("FsSearch", query("q", "limit")))
		r.Get("/file", s.op("FileGet", query("path")))
		r.Get("/staged", s.op("StagedRead", query("path", "max_bytes")))
		r.Post("/staged", s.op("StagedWrite", body))
		r.Delete("/staged", s.op("StagedDiscard", query("path")))
		r.Post("/promote", s.op("StagedPromote", body))
		r.Get("/diff", s.op("StagedDiff", query("from_rel", "to_rel")))
		r.Get("/mentions", s.op("MentionsResolve", query("text")))
		r.Get("/mentions/suggest", s.op("MentionsSuggest", query("q", "limit")))
	})
	r.Post("/ask", s.op("AgentAsk", body))
	r.Get("/ask/stream", s.handleAskStream)
	return r
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http.listen", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("http.shutdown")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"version":     gateway.Version,
		"api_version": gateway.APIVersion,
	})
}

// paramsFunc builds the JSON params of an operation from the request.
type paramsFunc func(r *http.Request) (map[string]any, *errinfo.ErrorInfo)

// op adapts a gateway operation to an HTTP handler. The {id} route param,
// when present, becomes project_id.
func (s *Server) op(method string, build paramsFunc) http.HandlerFunc {
	handler := s.handlers[method]
	return func(w http.ResponseWriter, r *http.Request) {
		params := map[string]any{}
		if build != nil {
			var errInfo *errinfo.ErrorInfo
			params, errInfo = build(r)
			if errInfo != nil {
				writeError(w, errInfo)
				return
			}
		}
		if id := chi.URLParam(r, "id"); id != "" {
			params["project_id"] = id
		}
		raw, err := json.Marshal(params)
		if err != nil {
			writeError(w, errinfo.ValidationFailed("", "invalid params"))
			return
		}
		result, errInfo := handler(r.Context(), raw)
		if errInfo != nil {
			s.logger.Warn("http.op_failed", "method", method, "request_id", middleware.GetReqID(r.Context()), "error", logging.RedactAny(errInfo))
			writeError(w, errInfo)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// query copies the named query parameters. limit and max_bytes are parsed
// as integers.
func query(names ...string) paramsFunc {
	return func(r *http.Request) (map[string]any, *errinfo.ErrorInfo) {
		values := r.URL.Query()
		params := make(map[string]any, len(names))
		for _, name := range names {
			if !values.Has(name) {
				continue
			}
			raw := values.Get(name)
			switch name {
			case "limit", "max_bytes":
				n, err := strconv.Atoi(raw)
				if err != nil {
					return nil, errinfo.ValidationFailed("", name+" must be an integer")
				}
				params[name] = n
			default:
				params[name] = raw
			}
		}
		return params, nil
	}
}

func body(r *http.Request) (map[string]any, *errinfo.ErrorInfo) {
	params := map[string]any{}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, errinfo.ValidationFailed("", "read body failed")
	}
	if len(data) > maxBodyBytes {
		return nil, errinfo.PayloadTooLarge("", "", maxBodyBytes)
	}
	if len(data) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, errinfo.ValidationFailed("", "body must be a JSON object")
	}
	return params, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, errInfo *errinfo.ErrorInfo) {
	writeJSON(w, errinfo.HTTPStatus(errInfo.ErrorCode), map[string]any{"error": errInfo})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && s.originAllowed(origin)
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		}
		if r.Method == http.MethodOptions {
			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}
