// Package catalog manages movies: public browsing and administrator edits.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/repository"
	"github.com/Clark-Hu/movie-reviews/internal/reviews"
	"github.com/Clark-Hu/movie-reviews/internal/validation"
)

const dateLayout = "2006-01-02"

var errTitleTaken = domain.Conflict("a movie with this title already exists")

// MovieInput is the create payload.
type MovieInput struct {
	Title       string  `json:"title" validate:"notblank,max=200"`
	Description string  `json:"description" validate:"notblank,max=5000"`
	PosterURL   string  `json:"posterUrl" validate:"required,poster"`
	ReleaseDate *string `json:"releaseDate" validate:"omitempty,datetime=2006-01-02"`
	Genre       *string `json:"genre" validate:"omitempty,max=100"`
}

// MoviePatch is a partial update; nil fields keep their value.
type MoviePatch struct {
	Title       *string `json:"title" validate:"omitempty,notblank,max=200"`
	Description *string `json:"description" validate:"omitempty,notblank,max=5000"`
	PosterURL   *string `json:"posterUrl" validate:"omitempty,poster"`
	ReleaseDate *string `json:"releaseDate" validate:"omitempty,datetime=2006-01-02"`
	Genre       *string `json:"genre" validate:"omitempty,max=100"`
}

// Page is one page of the public movie list.
type Page struct {
	Items []domain.Movie
	Page  int
	Limit int
	Total int64
}

// MovieDetail is a movie with its reviews, most recent first.
type MovieDetail struct {
	Movie   domain.Movie
	Reviews []domain.ReviewWithAuthor
}

// Service implements catalog operations.
type Service struct {
	repo        *repository.Repository
	coordinator *reviews.Coordinator
	publisher   reviews.EventPublisher
	logger      *zap.Logger
	newID       func() string
}

// NewService builds the catalog service. publisher may be nil.
func NewService(repo *repository.Repository, coordinator *reviews.Coordinator, publisher reviews.EventPublisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		coordinator: coordinator,
		publisher:   publisher,
		logger:      logger,
		newID:       uuid.NewString,
	}
}

// ListMovies returns a page of movies, newest first. page is 1-based.
func (s *Service) ListMovies(ctx context.Context, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	} else if limit > 100 {
		limit = 100
	}
	res, err := s.repo.Movies.List(ctx, repository.MovieListFilters{Limit: limit, Offset: (page - 1) * limit})
	if err != nil {
		return Page{}, fmt.Errorf("list movies: %w", err)
	}
	return Page{Items: res.Items, Page: page, Limit: limit, Total: res.Total}, nil
}

// GetMovie returns a movie and its reviews.
func (s *Service) GetMovie(ctx context.Context, id string) (MovieDetail, error) {
	movie, err := s.repo.Movies.GetByID(ctx, id)
	if err != nil {
		return MovieDetail{}, err
	}
	items, err := s.repo.Reviews.ListReviewsForMovie(ctx, id)
	if err != nil {
		return MovieDetail{}, fmt.Errorf("list reviews: %w", err)
	}
	return MovieDetail{Movie: movie, Reviews: items}, nil
}

// CreateMovie adds a movie. Only administrators may call it.
func (s *Service) CreateMovie(ctx context.Context, actor domain.Principal, in MovieInput) (domain.Movie, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Movie{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.PosterURL = strings.TrimSpace(in.PosterURL)
	in.Genre = trimOptional(in.Genre)
	if in.Genre != nil && *in.Genre == "" {
		in.Genre = nil
	}
	if err := validation.Struct(&in); err != nil {
		return domain.Movie{}, err
	}
	release, err := parseDate(in.ReleaseDate)
	if err != nil {
		return domain.Movie{}, err
	}

	movie, err := s.repo.Movies.Create(ctx, repository.MovieCreateParams{
		ID:          s.newID(),
		Title:       in.Title,
		Description: in.Description,
		PosterURL:   in.PosterURL,
		ReleaseDate: release,
		Genre:       in.Genre,
	})
	if errors.Is(err, domain.ErrConflict) {
		return domain.Movie{}, errTitleTaken
	}
	if err != nil {
		return domain.Movie{}, fmt.Errorf("create movie: %w", err)
	}
	s.logger.Info("movie created", zap.String("movie_id", movie.ID), zap.String("admin_id", actor.UserID))
	return movie, nil
}

// UpdateMovie edits a movie. The average rating cannot be set directly.
func (s *Service) UpdateMovie(ctx context.Context, actor domain.Principal, id string, patch MoviePatch) (domain.Movie, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Movie{}, err
	}
	patch.Title = trimOptional(patch.Title)
	patch.Description = trimOptional(patch.Description)
	patch.PosterURL = trimOptional(patch.PosterURL)
	patch.Genre = trimOptional(patch.Genre)
	if err := validation.Struct(&patch); err != nil {
		return domain.Movie{}, err
	}
	release, err := parseDate(patch.ReleaseDate)
	if err != nil {
		return domain.Movie{}, err
	}

	movie, err := s.repo.Movies.Update(ctx, id, repository.MovieUpdateParams{
		Title:       patch.Title,
		Description: patch.Description,
		PosterURL:   patch.PosterURL,
		ReleaseDate: release,
		Genre:       patch.Genre,
	})
	if errors.Is(err, domain.ErrConflict) {
		return domain.Movie{}, errTitleTaken
	}
	return movie, err
}

// DeleteMovie removes a movie and all of its reviews in one transaction.
func (s *Service) DeleteMovie(ctx context.Context, actor domain.Principal, id string) (reviews.CascadeResult, error) {
	if err := requireAdmin(actor); err != nil {
		return reviews.CascadeResult{}, err
	}
	var result reviews.CascadeResult
	err := s.repo.InTx(ctx, func(tx *repository.Repository) error {
		var err error
		result, err = s.coordinator.OnMovieDeleted(ctx, tx.Reviews, id)
		if err != nil {
			return err
		}
		return tx.Movies.Delete(ctx, id)
	})
	if err != nil {
		return reviews.CascadeResult{}, err
	}
	s.logger.Info("movie deleted",
		zap.String("movie_id", id),
		zap.String("admin_id", actor.UserID),
		zap.Int64("reviews_removed", result.RemovedReviews))
	return result, nil
}

// RecomputeRating rebuilds a movie's average rating from its reviews.
func (s *Service) RecomputeRating(ctx context.Context, actor domain.Principal, id string) (domain.RatingAggregate, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.RatingAggregate{}, err
	}
	agg, err := s.coordinator.RecomputeAggregate(ctx, id)
	if err != nil {
		return domain.RatingAggregate{}, err
	}
	if s.publisher != nil {
		if err := s.publisher.RatingUpdated(ctx, agg); err != nil {
			s.logger.Warn("publish rating updated", zap.String("movie_id", id), zap.Error(err))
		}
	}
	return agg, nil
}

func parseDate(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, *raw)
	if err != nil {
		return nil, domain.InvalidInput("releaseDate must be a date in YYYY-MM-DD format")
	}
	return &t, nil
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

func requireAdmin(actor domain.Principal) error {
	if !actor.Authenticated() {
		return domain.ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		return domain.ErrForbidden
	}
	return nil
}
