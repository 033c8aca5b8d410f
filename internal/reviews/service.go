package reviews

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/metrics"
)

// EventPublisher announces committed review changes to other services.
type EventPublisher interface {
	RatingUpdated(ctx context.Context, agg domain.RatingAggregate) error
	ReviewDeleted(ctx context.Context, review domain.Review) error
}

// Service is the caller-facing review API. It authorizes the principal and
// delegates to the Ledger.
type Service struct {
	ledger    *Ledger
	publisher EventPublisher
	logger    *zap.Logger
}

// NewService builds a Service. publisher may be nil.
func NewService(ledger *Ledger, publisher EventPublisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ledger: ledger, publisher: publisher, logger: logger}
}

// SubmitReview creates the actor's review of the movie or overwrites the
// existing one. Result.Created tells the two apart.
func (s *Service) SubmitReview(ctx context.Context, actor domain.Principal, movieID string, rating int, text string) (Result, error) {
	if !actor.Authenticated() {
		return Result{}, domain.ErrUnauthenticated
	}
	res, err := s.ledger.Upsert(ctx, movieID, actor.UserID, rating, text)
	if err != nil {
		return Result{}, err
	}
	op := "update"
	if res.Created {
		op = "create"
	}
	s.committed(ctx, op, res)
	return res, nil
}

// GetOwnReview returns the actor's review of the movie, or nil if there is none yet.
func (s *Service) GetOwnReview(ctx context.Context, actor domain.Principal, movieID string) (*domain.Review, error) {
	if !actor.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	return s.ledger.GetByMovieAndUser(ctx, movieID, actor.UserID)
}

// EditOwnReview changes rating and/or text of a review the actor wrote.
func (s *Service) EditOwnReview(ctx context.Context, actor domain.Principal, reviewID string, patch Patch) (Result, error) {
	if !actor.Authenticated() {
		return Result{}, domain.ErrUnauthenticated
	}
	res, err := s.ledger.Edit(ctx, reviewID, patch, ownedBy(actor))
	if err != nil {
		return Result{}, err
	}
	s.committed(ctx, "edit", res)
	return res, nil
}

// DeleteOwnReview removes a review the actor wrote.
func (s *Service) DeleteOwnReview(ctx context.Context, actor domain.Principal, reviewID string) (Result, error) {
	if !actor.Authenticated() {
		return Result{}, domain.ErrUnauthenticated
	}
	res, err := s.ledger.Delete(ctx, reviewID, ownedBy(actor))
	if err != nil {
		return Result{}, err
	}
	s.committed(ctx, "delete", res)
	return res, nil
}

// AdminDeleteReview removes any review. Only administrators may call it.
func (s *Service) AdminDeleteReview(ctx context.Context, actor domain.Principal, reviewID string) (Result, error) {
	if err := requireAdmin(actor); err != nil {
		return Result{}, err
	}
	res, err := s.ledger.Delete(ctx, reviewID, nil)
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("review removed by administrator",
		zap.String("review_id", reviewID),
		zap.String("admin_id", actor.UserID))
	s.committed(ctx, "admin_delete", res)
	return res, nil
}

// ListReviewsForMovie is public; an unknown movie yields domain.ErrNotFound.
func (s *Service) ListReviewsForMovie(ctx context.Context, movieID string) ([]domain.ReviewWithAuthor, error) {
	return s.ledger.ListForMovie(ctx, movieID)
}

// ListAllReviews returns the admin listing across movies.
func (s *Service) ListAllReviews(ctx context.Context, actor domain.Principal, filter ListFilter) ([]domain.ReviewListing, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.ledger.ListAll(ctx, filter)
}

func (s *Service) committed(ctx context.Context, op string, res Result) {
	metrics.ReviewMutations.WithLabelValues(op).Inc()
	if s.publisher == nil {
		return
	}
	if op == "delete" || op == "admin_delete" {
		if err := s.publisher.ReviewDeleted(ctx, res.Review); err != nil {
			s.logger.Warn("publish review deleted", zap.String("review_id", res.Review.ID), zap.Error(err))
		}
	}
	if res.AggregateStale {
		return
	}
	if err := s.publisher.RatingUpdated(ctx, res.Aggregate); err != nil {
		s.logger.Warn("publish rating updated", zap.String("movie_id", res.Aggregate.MovieID), zap.Error(err))
	}
}

func ownedBy(actor domain.Principal) Guard {
	return func(r domain.Review) error {
		if r.UserID != actor.UserID {
			return fmt.Errorf("%w: you can only change your own reviews", domain.ErrForbidden)
		}
		return nil
	}
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
