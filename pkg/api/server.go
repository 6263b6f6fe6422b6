package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vjranagit/framepivot/pkg/frame"
	"github.com/vjranagit/framepivot/pkg/storage"
	"github.com/vjranagit/framepivot/pkg/transform"
	"github.com/vjranagit/framepivot/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	tenantHeader = "X-Tenant-ID"

	defaultRange = time.Hour
)

// Config holds server configuration
type Config struct {
	ListenAddr string
	Timeout    time.Duration
	// Lookback bounds how old a sample may be for table queries
	Lookback time.Duration
}

// Server implements the HTTP API server
type Server struct {
	cfg        Config
	storage    storage.Storage
	transforms *transform.Registry
	registry   *prometheus.Registry
	metrics    *httpMetrics
	logger     *zap.Logger
	router     *mux.Router
	server     *http.Server
}

// NewServer creates a new API server. Request metrics are registered on reg,
// which is also served on /metrics.
func NewServer(cfg Config, store storage.Storage, transforms *transform.Registry, reg *prometheus.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	s := &Server{
		cfg:        cfg,
		storage:    store,
		transforms: transforms,
		registry:   reg,
		metrics:    newHTTPMetrics(reg),
		logger:     logger,
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/api/v1/write", s.handleWrite).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/query", s.handleQuery).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/query/table", s.handleTableQuery).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/label/{name}/values", s.handleLabelValues).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/transform", s.handleTransformChain).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/transform/{id}", s.handleTransform).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return r
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("API server listening", zap.String("addr", s.cfg.ListenAddr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleWrite handles remote write requests
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req types.WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if tenantID := r.Header.Get(tenantHeader); tenantID != "" {
		req.TenantID = tenantID
	}

	if err := s.storage.Write(r.Context(), &req); err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("write failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleQuery runs a range query and returns one frame per series
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	query := params.Get("query")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing query parameter"))
		return
	}

	now := time.Now()
	endTime, err := parseTime(params.Get("end"), now)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid end time: %w", err))
		return
	}
	startTime, err := parseTime(params.Get("start"), endTime.Add(-defaultRange))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid start time: %w", err))
		return
	}
	if startTime.After(endTime) {
		s.writeError(w, http.StatusBadRequest, errors.New("start time is after end time"))
		return
	}

	series, err := s.storage.Query(r.Context(), &types.QueryRequest{
		TenantID:  r.Header.Get(tenantHeader),
		Query:     query,
		StartTime: startTime,
		EndTime:   endTime,
	})
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("query failed: %w", err))
		return
	}

	s.writeFrames(w, frame.FromRange(series))
}

// handleTableQuery runs an instant query and pivots the label sets of the
// result into columns of a single table frame.
func (s *Server) handleTableQuery(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	query := params.Get("query")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing query parameter"))
		return
	}

	at, err := parseTime(params.Get("time"), time.Now())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid time: %w", err))
		return
	}

	lookback := s.cfg.Lookback
	if raw := params.Get("lookback"); raw != "" {
		lookback, err = time.ParseDuration(raw)
		if err != nil || lookback < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid lookback %q", raw))
			return
		}
	}

	start := time.UnixMilli(0)
	if lookback > 0 {
		start = at.Add(-lookback)
	}

	series, err := s.storage.Query(r.Context(), &types.QueryRequest{
		TenantID:  r.Header.Get(tenantHeader),
		Query:     query,
		StartTime: start,
		EndTime:   at,
	})
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("query failed: %w", err))
		return
	}

	t, err := s.transforms.Build(transform.LabelsAsColumnsID, nil)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	out, err := t.Apply(r.Context(), frame.FromSeries(series, at, lookback))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.writeFrames(w, out)
}

// handleLabelValues lists the values a label takes across the tenant's series
func (s *Server) handleLabelValues(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	values, err := s.storage.LabelValues(r.Context(), r.Header.Get(tenantHeader), name)
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("label values failed: %w", err))
		return
	}
	if values == nil {
		values = []string{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   values,
	})
}

type transformRequest struct {
	Options jsoniter.RawMessage `json:"options"`
	Frames  []*frame.Frame      `json:"frames"`
}

type chainRequest struct {
	Transforms []transform.Step `json:"transforms"`
	Frames     []*frame.Frame   `json:"frames"`
}

// handleTransform applies a registered transform to frames posted in the body
func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	s.applyChain(w, r, []transform.Step{{ID: mux.Vars(r)["id"], Options: req.Options}}, req.Frames)
}

// handleTransformChain applies the listed transforms in order, each one
// consuming the frames produced by the previous.
func (s *Server) handleTransformChain(w http.ResponseWriter, r *http.Request) {
	var req chainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	s.applyChain(w, r, req.Transforms, req.Frames)
}

func (s *Server) applyChain(w http.ResponseWriter, r *http.Request, steps []transform.Step, frames []*frame.Frame) {
	chain, err := s.transforms.BuildChain(steps)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	out, err := chain.Apply(r.Context(), frames)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.writeFrames(w, out)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) writeFrames(w http.ResponseWriter, frames []*frame.Frame) {
	if frames == nil {
		frames = []*frame.Frame{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   frames,
	})
}

// writeJSON encodes v before writing the status line, so an encoding
// failure still reaches the client as a 500.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		status = http.StatusInternalServerError
		data, _ = json.Marshal(map[string]string{
			"status": "error",
			"error":  fmt.Sprintf("encode response: %v", err),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{
		"status": "error",
		"error":  err.Error(),
	})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, transform.ErrUnknownTransform):
		return http.StatusNotFound
	case errors.Is(err, transform.ErrMalformedInput),
		errors.Is(err, transform.ErrSchemaConflict),
		errors.Is(err, transform.ErrInvalidOptions),
		errors.Is(err, storage.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseTime accepts RFC3339 or unix seconds with an optional fraction.
// An empty string yields def.
func parseTime(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse %q as RFC3339 or unix timestamp", s)
	}
	return time.UnixMilli(int64(secs * 1000)).UTC(), nil
}
