package httpserver

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Clark-Hu/movie-reviews/internal/auth"
	"github.com/Clark-Hu/movie-reviews/internal/catalog"
)

type pagination struct {
	Page  int
	Limit int
}

func parsePagination(query url.Values) (pagination, error) {
	var p pagination
	if val := strings.TrimSpace(query.Get("page")); val != "" {
		page, err := strconv.Atoi(val)
		if err != nil || page < 0 {
			return p, fmt.Errorf("invalid page value")
		}
		p.Page = page
	}
	if val := strings.TrimSpace(query.Get("limit")); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil || limit < 0 {
			return p, fmt.Errorf("invalid limit value")
		}
		p.Limit = limit
	}
	return p, nil
}

func (s *Server) handleListMovies(w http.ResponseWriter, r *http.Request) {
	p, err := parsePagination(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	page, err := s.catalog.ListMovies(r.Context(), p.Page, p.Limit)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	items := make([]movieResponse, 0, len(page.Items))
	for _, movie := range page.Items {
		items = append(items, toMovieResponse(movie))
	}
	s.respondJSON(w, http.StatusOK, movieListResponse{
		Items: items,
		Page:  page.Page,
		Limit: page.Limit,
		Total: page.Total,
	})
}

func (s *Server) handleGetMovie(w http.ResponseWriter, r *http.Request) {
	id, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}
	detail, err := s.catalog.GetMovie(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, movieDetailResponse{
		movieResponse: toMovieResponse(detail.Movie),
		Reviews:       toAuthoredReviews(detail.Reviews),
	})
}

func (s *Server) handleListMovieReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}
	items, err := s.reviews.ListReviewsForMovie(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toAuthoredReviews(items))
}

func (s *Server) handleCreateMovie(w http.ResponseWriter, r *http.Request) {
	var req catalog.MovieInput
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	movie, err := s.catalog.CreateMovie(r.Context(), auth.PrincipalFromContext(r.Context()), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/movies/"+movie.ID)
	s.respondJSON(w, http.StatusCreated, toMovieResponse(movie))
}

func (s *Server) handleUpdateMovie(w http.ResponseWriter, r *http.Request) {
	id, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req catalog.MoviePatch
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	movie, err := s.catalog.UpdateMovie(r.Context(), auth.PrincipalFromContext(r.Context()), id, req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toMovieResponse(movie))
}

func (s *Server) handleDeleteMovie(w http.ResponseWriter, r *http.Request) {
	id, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}
	res, err := s.catalog.DeleteMovie(r.Context(), auth.PrincipalFromContext(r.Context()), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toCascadeResponse(res))
}

func (s *Server) handleRecomputeRating(w http.ResponseWriter, r *http.Request) {
	id, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}
	agg, err := s.catalog.RecomputeRating(r.Context(), auth.PrincipalFromContext(r.Context()), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toAggregateResponse(agg))
}
