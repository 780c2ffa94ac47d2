package chi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/prodsearch/internal/domain"
	"github.com/kailas-cloud/prodsearch/internal/store"
	healthuc "github.com/kailas-cloud/prodsearch/internal/usecase/health"
	recommenduc "github.com/kailas-cloud/prodsearch/internal/usecase/recommend"
	searchuc "github.com/kailas-cloud/prodsearch/internal/usecase/search"
)

// Request bounds enforced at the edge.
const (
	DefaultK = 10
	MaxK     = 100
)

// Error codes returned in the response body.
const (
	CodeBadRequest  = "bad_request"
	CodeNotFound    = "not_found"
	CodeRateLimited = "rate_limited"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal_error"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Searcher runs the query pipeline.
type Searcher interface {
	Search(ctx context.Context, identity string, q domain.Query) (*searchuc.Response, error)
}

// Recommender produces per-user recommendation lists.
type Recommender interface {
	Recommend(ctx context.Context, userID string, k int, category string) (*recommenduc.Response, error)
}

// CatalogReader serves single-product lookups.
type CatalogReader interface {
	Get(ctx context.Context, identity, productID string) (store.ProductRow, error)
}

// HealthChecker aggregates component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server exposes the query pipeline over HTTP.
type Server struct {
	search        Searcher
	recommend     Recommender
	catalog       CatalogReader
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(search Searcher, recommend Recommender, catalog CatalogReader, health HealthChecker, logger *zap.Logger) *Server {
	s := &Server{
		search:    search,
		recommend: recommend,
		catalog:   catalog,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		rateLimitHandler,
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrUnavailable, http.StatusServiceUnavailable, CodeUnavailable),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeUnavailable),
	}
	return s
}

// Routes mounts all handlers on a router.
func (s *Server) Routes(r chi.Router) {
	r.Get("/v1/search", s.Search)
	r.Get("/v1/recommendations/{userID}", s.Recommendations)
	r.Get("/v1/products/{productID}", s.GetProduct)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// searchResponse is the JSON body of GET /v1/search.
type searchResponse struct {
	Query    string          `json:"query"`
	Results  []domain.Result `json:"results"`
	Degraded []string        `json:"degraded,omitempty"`
	Cached   bool            `json:"cached"`
}

// Search handles GET /v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("q")
	if raw == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "query parameter q is required")
		return
	}

	k, err := parseK(r.URL.Query().Get("k"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	userID := r.URL.Query().Get("user_id")
	q := domain.NewQuery(raw, userID, k, r.URL.Query().Get("category"))
	if q.Normalized == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "query contains no searchable text")
		return
	}

	resp, err := s.search.Search(r.Context(), identity(userID, r), q)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Query:    q.Normalized,
		Results:  resp.Results,
		Degraded: resp.Degraded,
		Cached:   resp.Cached,
	})
}

// Recommendations handles GET /v1/recommendations/{userID}.
func (s *Server) Recommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "user id is required")
		return
	}

	k, err := parseK(r.URL.Query().Get("k"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	resp, err := s.recommend.Recommend(r.Context(), userID, k, r.URL.Query().Get("category"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// productResponse is the JSON body of GET /v1/products/{productID}.
type productResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Popularity  float64   `json:"popularity"`
	CreatedAt   time.Time `json:"created_at"`
}

// GetProduct handles GET /v1/products/{productID}.
func (s *Server) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	if productID == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "product id is required")
		return
	}

	p, err := s.catalog.Get(r.Context(), identity(r.URL.Query().Get("user_id"), r), productID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, productResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
		Popularity:  p.Popularity,
		CreatedAt:   p.CreatedAt,
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	for _, h := range s.errorHandlers {
		if h(w, err) {
			s.logger.Warn("request failed", zap.Error(err))
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

// rateLimitHandler handles ErrRateLimited with a Retry-After header.
func rateLimitHandler(w http.ResponseWriter, err error) bool {
	if !errors.Is(err, domain.ErrRateLimited) {
		return false
	}
	var rl *domain.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
	return true
}

// identity picks the rate-limit subject: the user id when present, the
// client address for anonymous traffic.
func identity(userID string, r *http.Request) string {
	if userID != "" {
		return userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseK(raw string) (int, error) {
	if raw == "" {
		return DefaultK, nil
	}
	k, err := strconv.Atoi(raw)
	if err != nil || k <= 0 {
		return 0, errors.New("k must be a positive integer")
	}
	if k > MaxK {
		return 0, errors.New("k must be at most " + strconv.Itoa(MaxK))
	}
	return k, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
