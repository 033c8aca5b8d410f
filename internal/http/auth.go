package httpserver

import (
	"errors"
	"net/http"

	"github.com/Clark-Hu/movie-reviews/internal/accounts"
	"github.com/Clark-Hu/movie-reviews/internal/auth"
	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/validation"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req accounts.RegisterInput
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	sess, err := s.accounts.Register(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if err := validation.Struct(&req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	sess, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, domain.ErrUnauthenticated) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid email or password")
		return
	}
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.accounts.Me(r.Context(), auth.PrincipalFromContext(r.Context()))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toUserResponse(user))
}
