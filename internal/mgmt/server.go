package mgmt

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Zeeeepa/attune-ai-sub002/internal/longterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	// RatePerSecond and RateBurst bound requests per source address.
	RatePerSecond float64
	RateBurst     int
}

// Server exposes the management service over HTTP. Read routes are open;
// mutating routes require a bearer token that maps to an AgentCredential
// and passes the per-source-address rate limit.
type Server struct {
	service *Service
	tokens  *TokenAuthority
	limiter *ipLimiter
	mux     *http.ServeMux
}

// NewServer creates the HTTP surface over the given service.
func NewServer(service *Service, tokens *TokenAuthority, cfg ServerConfig) *Server {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}

	s := &Server{
		service: service,
		tokens:  tokens,
		limiter: newIPLimiter(cfg.RatePerSecond, cfg.RateBurst),
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /patterns", s.handleListPatterns)
	s.mux.HandleFunc("POST /patterns/export", s.authenticated(s.handleExport))
	s.mux.HandleFunc("DELETE /patterns/{id}", s.authenticated(s.handleDelete))
	s.mux.HandleFunc("PUT /patterns/{id}", s.handleImmutable)
	s.mux.HandleFunc("PATCH /patterns/{id}", s.handleImmutable)

	return s
}

// ServeHTTP implements http.Handler with the rate limit applied to every
// route.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(r.RemoteAddr) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	s.mux.ServeHTTP(w, r)
}

type credHandler func(w http.ResponseWriter, r *http.Request, cred types.AgentCredential)

// authenticated wraps mutating handlers with bearer-token validation.
func (s *Server) authenticated(next credHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		cred, err := s.tokens.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next(w, r, cred)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.service.HealthCheck(r.Context())

	code := http.StatusOK
	if health.State == types.HealthStateUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Statistics(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	filter := longterm.ListFilter{PatternType: r.URL.Query().Get("type")}
	if name := r.URL.Query().Get("classification"); name != "" {
		class, err := types.ParseClassification(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown classification "+name)
			return
		}
		filter.Classification = &class
	}

	summaries, err := s.service.ListPatterns(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": summaries, "count": len(summaries)})
}

type exportBody struct {
	Classification   string `json:"classification,omitempty"`
	PatternType      string `json:"pattern_type,omitempty"`
	IncludeSensitive bool   `json:"include_sensitive,omitempty"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, cred types.AgentCredential) {
	var body exportBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid export request body")
		return
	}

	req := ExportRequest{
		PatternType:      body.PatternType,
		IncludeSensitive: body.IncludeSensitive,
	}
	if body.Classification != "" {
		class, err := types.ParseClassification(body.Classification)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown classification "+body.Classification)
			return
		}
		req.Classification = &class
	}

	bundle, err := s.service.ExportPatterns(r.Context(), cred, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, cred types.AgentCredential) {
	id, err := types.ParseID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pattern id")
		return
	}

	if err := s.service.DeletePattern(r.Context(), cred, id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id.String()})
}

// handleImmutable answers update attempts on vault rows. Promoted patterns
// are append-only; a correction is a new version, never an edit in place.
func (s *Server) handleImmutable(w http.ResponseWriter, r *http.Request) {
	writeServiceError(w, types.NewError(types.PATTERN_IMMUTABLE,
		"promoted patterns are immutable; submit a correction as a new version"))
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps the error taxonomy onto HTTP status codes without
// leaking internals beyond the code and message.
func writeServiceError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case types.IsCode(err, types.PERMISSION_DENIED):
		code = http.StatusForbidden
	case types.IsCode(err, types.PATTERN_NOT_FOUND):
		code = http.StatusNotFound
	case types.IsCode(err, types.CONFLICT), types.IsCode(err, types.DUPLICATE_PATTERN):
		code = http.StatusConflict
	case types.IsCode(err, types.PATTERN_IMMUTABLE):
		code = http.StatusMethodNotAllowed
	case types.IsCode(err, types.SUBSTRATE_UNAVAILABLE):
		code = http.StatusServiceUnavailable
	}

	var memErr *types.MemoryError
	if errors.As(err, &memErr) {
		writeJSON(w, code, map[string]string{"error": memErr.Message, "code": string(memErr.Code)})
		return
	}
	writeError(w, code, err.Error())
}
