// Package server exposes the orchestrator over JSON-over-HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/orchestrator"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes bounds the size of a query request body.
const maxBodyBytes = 1 << 20

// Router answers queries; *orchestrator.Orchestrator implements it.
type Router interface {
	Route(ctx context.Context, q orchestrator.Query) (*orchestrator.Response, error)
}

// Compile-time check.
var _ Router = (*orchestrator.Orchestrator)(nil)

// Health reports which collaborators are configured.
type Health struct {
	Oracle    bool `json:"oracle_configured"`
	Analytics bool `json:"analytics_configured"`
	Table     bool `json:"table_configured"`
}

// Server serves the query API.
type Server struct {
	router  Router
	health  Health
	version string
	logger  *zap.Logger
	timeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l.Named("http")
		}
	}
}

// WithHealth sets the configuration status reported by GET /health.
func WithHealth(h Health) Option {
	return func(s *Server) { s.health = h }
}

// WithVersion sets the version reported by GET /.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithRequestTimeout bounds the handling of one query. Zero means no bound
// beyond the client's own.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// New creates a Server that answers queries with router.
func New(router Router, opts ...Option) *Server {
	s := &Server{router: router, version: "dev", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	r.HandleFunc("/query/stream", s.handleQueryStream).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleInfo).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Kind: "invalid_request"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Kind: "invalid_request"})
	})
	r.Use(s.requestID, s.accessLog)
	return otelhttp.NewHandler(r, "querydesk")
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	}
}

// queryRequest is the POST /query body. propertyId is accepted for scope_id.
type queryRequest struct {
	Query      string `json:"query"`
	ScopeID    string `json:"scope_id"`
	PropertyID string `json:"propertyId"`
}

type errorBody struct {
	Error string             `json:"error"`
	Kind  string             `json:"kind"`
	Hint  string             `json:"hint,omitempty"`
	Meta  *orchestrator.Meta `json:"meta,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q, err := decodeQuery(w, r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	resp, err := s.router.Route(ctx, q)
	if err != nil {
		s.writeError(w, r, err, resp)
		return
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		loggerFrom(r.Context(), s.logger).Error("query result not encodable", zap.Error(err))
	}
}

// decodeQuery reads a queryRequest body into a Query.
func decodeQuery(w http.ResponseWriter, r *http.Request) (orchestrator.Query, error) {
	var req queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return orchestrator.Query{}, fault.New(fault.InvalidRequest, "server.query", "request body must be a JSON object with a query field")
	}
	scope := req.ScopeID
	if scope == "" {
		scope = req.PropertyID
	}
	return orchestrator.Query{Text: req.Query, ScopeID: scope}, nil
}

func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		Health
	}{Status: "ok", Health: s.health})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "querydesk",
		"version": s.version,
		"endpoints": map[string]string{
			"query":  "POST /query",
			"stream": "POST /query/stream",
			"health": "GET /health",
		},
		"routes": []string{
			string(orchestrator.IntentAnalytics),
			string(orchestrator.IntentTable),
			string(orchestrator.IntentFusion),
		},
	})
}

// writeError maps err to a status code and a body. Unclassified errors are
// reported without their text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, resp *orchestrator.Response) {
	status, body := s.failure(r, err, resp)
	writeJSON(w, status, body)
}

// failure logs err and builds its status code and body.
func (s *Server) failure(r *http.Request, err error, resp *orchestrator.Response) (int, errorBody) {
	kind := fault.KindOf(err)
	status := fault.HTTPStatus(kind)
	body := errorBody{Error: err.Error(), Kind: kind.String(), Hint: fault.Hint(kind)}
	if kind == fault.Internal {
		body.Error = "internal error"
	}
	if resp != nil {
		body.Meta = &resp.Meta
	}
	loggerFrom(r.Context(), s.logger).Warn("query failed",
		zap.String("kind", kind.String()), zap.Int("status", status), zap.Error(err))
	return status, body
}

// internalBody is sent when a response cannot be encoded.
var internalBody = errorBody{Error: "internal error", Kind: fault.Internal.String(), Hint: fault.Hint(fault.Internal)}

// writeJSON encodes v before writing the header. A value that cannot be
// encoded is answered with a 500 and the encoding error is returned.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		err = fmt.Errorf("server: encode response: %w", err)
		status = http.StatusInternalServerError
		data, _ = json.Marshal(internalBody)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
	return err
}
