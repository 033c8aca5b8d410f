package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/config"
	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/metrics"
)

func bareServer() *Server {
	return &Server{logger: zap.NewNop()}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestRespondServiceError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"input", fmt.Errorf("submit: %w", domain.InvalidInput("rating must be between 1 and 5")), http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rating must be between 1 and 5"},
		{"not found", fmt.Errorf("lock movie: %w", domain.ErrNotFound), http.StatusNotFound, "NOT_FOUND", "Resource not found"},
		{"unauthenticated", domain.ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information"},
		{"forbidden with reason", fmt.Errorf("edit: %w", fmt.Errorf("%w: you can only change your own reviews", domain.ErrForbidden)), http.StatusForbidden, "FORBIDDEN", "you can only change your own reviews"},
		{"forbidden bare", domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "You are not allowed to perform this action"},
		{"conflict", domain.Conflict("a movie with this title already exists"), http.StatusConflict, "CONFLICT", "a movie with this title already exists"},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			bareServer().respondServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			body := decodeError(t, rec)
			if body.Code != tt.code || body.Message != tt.message {
				t.Fatalf("body = %+v, want %s %q", body, tt.code, tt.message)
			}
		})
	}
}

func TestRespondDecodeError(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"empty", "", http.StatusUnprocessableEntity},
		{"malformed", "{", http.StatusUnprocessableEntity},
		{"syntax", "invalid json", http.StatusUnprocessableEntity},
		{"wrong type", `{"rating":"five"}`, http.StatusUnprocessableEntity},
		{"unknown field", `{"rating":5,"stars":5}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			var dst reviewSubmitRequest
			err := decodeJSONBody(rec, req, &dst)
			if err == nil {
				t.Fatalf("expected decode error")
			}
			bareServer().respondDecodeError(rec, err)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestParsePagination(t *testing.T) {
	values, _ := url.ParseQuery("page=3&limit= 25 ")
	p, err := parsePagination(values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Page != 3 || p.Limit != 25 {
		t.Fatalf("unexpected pagination %+v", p)
	}

	for _, raw := range []string{"page=abc", "limit=-1", "page=1.5", "limit=10abc"} {
		values, _ := url.ParseQuery(raw)
		if _, err := parsePagination(values); err == nil {
			t.Fatalf("%q: expected error", raw)
		}
	}
}

func TestBuildReviewFilter(t *testing.T) {
	movieID := "7f0c1a9e-3c43-4d0a-9d6e-3b1d2f1a2b3c"
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/reviews?movieId="+movieID+"&limit=20&offset=40", nil)
	filter, err := buildReviewFilter(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filter.MovieID != movieID || filter.UserID != "" || filter.Limit != 20 || filter.Offset != 40 {
		t.Fatalf("unexpected filter %+v", filter)
	}

	for _, q := range []string{"movieId=42", "userId=not-a-uuid", "limit=x", "offset=-5"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/reviews?"+q, nil)
		if _, err := buildReviewFilter(req); err == nil {
			t.Fatalf("%q: expected error", q)
		}
	}
}

func attachParam(req *http.Request, name, value string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add(name, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, ctx))
}

func TestHandlersRejectMalformedIDs(t *testing.T) {
	srv := bareServer()
	cases := []struct {
		name    string
		param   string
		handler http.HandlerFunc
	}{
		{"get movie", "id", srv.handleGetMovie},
		{"movie reviews", "id", srv.handleListMovieReviews},
		{"submit review", "movieId", srv.handleSubmitReview},
		{"my review", "movieId", srv.handleGetMyReview},
		{"edit review", "reviewId", srv.handleEditReview},
		{"delete review", "reviewId", srv.handleDeleteReview},
		{"admin delete review", "reviewId", srv.handleAdminDeleteReview},
		{"delete user", "id", srv.handleDeleteUser},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := attachParam(httptest.NewRequest(http.MethodGet, "/", nil), c.param, "not-a-uuid")
			rec := httptest.NewRecorder()
			c.handler(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if body := decodeError(t, rec); body.Code != "BAD_REQUEST" {
				t.Fatalf("code = %q", body.Code)
			}
		})
	}
}

func TestHealthzWithoutDatabase(t *testing.T) {
	srv := New(config.Config{AuthRateLimitPerMin: 100}, nil, Services{}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRouterRecordsRoutePattern(t *testing.T) {
	srv := New(config.Config{AuthRateLimitPerMin: 100}, nil, Services{}, nil)
	counter := metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/api/v1/movies/{id}", "400")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/movies/nope", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Fatalf("route counter delta = %v, want 1", got)
	}
}

func TestAuthRateLimit(t *testing.T) {
	srv := New(config.Config{AuthRateLimitPerMin: 1}, nil, Services{}, nil)
	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec.Code
	}
	// An empty body fails validation before any service call.
	if code := send(); code != http.StatusUnprocessableEntity {
		t.Fatalf("first request: status = %d, want 422", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", code)
	}
}
