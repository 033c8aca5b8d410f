package httpserver

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Clark-Hu/movie-reviews/internal/auth"
	"github.com/Clark-Hu/movie-reviews/internal/reviews"
	"github.com/Clark-Hu/movie-reviews/internal/validation"
)

type reviewSubmitRequest struct {
	Rating *int   `json:"rating" validate:"required"`
	Text   string `json:"text"`
}

type reviewEditRequest struct {
	Rating *int    `json:"rating"`
	Text   *string `json:"text"`
}

type myReviewResponse struct {
	Review *reviewResponse `json:"review"`
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	movieID, ok := s.uuidParam(w, r, "movieId")
	if !ok {
		return
	}
	var req reviewSubmitRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if err := validation.Struct(&req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	res, err := s.reviews.SubmitReview(r.Context(), auth.PrincipalFromContext(r.Context()), movieID, *req.Rating, req.Text)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, toMutationResponse(res, true))
}

func (s *Server) handleGetMyReview(w http.ResponseWriter, r *http.Request) {
	movieID, ok := s.uuidParam(w, r, "movieId")
	if !ok {
		return
	}
	review, err := s.reviews.GetOwnReview(r.Context(), auth.PrincipalFromContext(r.Context()), movieID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	var resp myReviewResponse
	if review != nil {
		rr := toReviewResponse(*review)
		resp.Review = &rr
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEditReview(w http.ResponseWriter, r *http.Request) {
	reviewID, ok := s.uuidParam(w, r, "reviewId")
	if !ok {
		return
	}
	var req reviewEditRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	res, err := s.reviews.EditOwnReview(r.Context(), auth.PrincipalFromContext(r.Context()), reviewID,
		reviews.Patch{Rating: req.Rating, Text: req.Text})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toMutationResponse(res, true))
}

func (s *Server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	reviewID, ok := s.uuidParam(w, r, "reviewId")
	if !ok {
		return
	}
	res, err := s.reviews.DeleteOwnReview(r.Context(), auth.PrincipalFromContext(r.Context()), reviewID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toMutationResponse(res, false))
}

func (s *Server) handleAdminDeleteReview(w http.ResponseWriter, r *http.Request) {
	reviewID, ok := s.uuidParam(w, r, "reviewId")
	if !ok {
		return
	}
	res, err := s.reviews.AdminDeleteReview(r.Context(), auth.PrincipalFromContext(r.Context()), reviewID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toMutationResponse(res, false))
}

// buildReviewFilter reads the admin listing query. Ids, when present, must be
// UUIDs.
func buildReviewFilter(r *http.Request) (reviews.ListFilter, error) {
	var filter reviews.ListFilter
	query := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *string
	}{{"movieId", &filter.MovieID}, {"userId", &filter.UserID}} {
		raw := strings.TrimSpace(query.Get(p.name))
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, errInvalidParam(p.name)
		}
		*p.dst = id.String()
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}

func (s *Server) handleAdminListReviews(w http.ResponseWriter, r *http.Request) {
	filter, err := buildReviewFilter(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	items, err := s.reviews.ListAllReviews(r.Context(), auth.PrincipalFromContext(r.Context()), filter)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toListingResponses(items))
}
