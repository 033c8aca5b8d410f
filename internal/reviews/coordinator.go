package reviews

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/metrics"
)

// Coordinator keeps Movie.AverageRating in step with the review set and
// cascades review removal when a movie or user is deleted.
type Coordinator struct {
	store   Store
	logger  *zap.Logger
	retries int
}

// NewCoordinator builds a Coordinator. retries is the number of extra
// recompute attempts after a failure.
func NewCoordinator(store Store, logger *zap.Logger, retries int) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retries < 0 {
		retries = 0
	}
	return &Coordinator{store: store, logger: logger, retries: retries}
}

// CascadeResult reports what a parent delete removed.
type CascadeResult struct {
	RemovedReviews int64
	// Aggregates holds the refreshed aggregate of every movie that lost a review.
	Aggregates []domain.RatingAggregate
	// StaleMovies lists movies whose aggregate could not be refreshed.
	StaleMovies []string
}

// Recompute refreshes the movie's average rating from a fresh read of its
// reviews, as part of the caller's unit of work q. Each attempt runs in its
// own savepoint. When every attempt fails the error wraps
// domain.ErrAggregateRecomputeFailed and the caller's writes stay intact.
func (c *Coordinator) Recompute(ctx context.Context, q Queries, movieID string) (domain.RatingAggregate, error) {
	var (
		agg     domain.RatingAggregate
		lastErr error
	)
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			metrics.AggregateRecomputes.WithLabelValues(metrics.RecomputeRetried).Inc()
			c.logger.Warn("retrying aggregate recompute",
				zap.String("movie_id", movieID),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
		}
		lastErr = q.Savepoint(ctx, func(sq Queries) error {
			var err error
			agg, err = recomputeOnce(ctx, sq, movieID)
			return err
		})
		if lastErr == nil {
			metrics.AggregateRecomputes.WithLabelValues(metrics.RecomputeOK).Inc()
			return agg, nil
		}
		if errors.Is(lastErr, domain.ErrNotFound) {
			return domain.RatingAggregate{}, lastErr
		}
		if ctx.Err() != nil {
			break
		}
	}

	metrics.AggregateRecomputes.WithLabelValues(metrics.RecomputeFailed).Inc()
	c.logger.Error("aggregate recompute failed, average rating may be stale",
		zap.String("movie_id", movieID),
		zap.Int("attempts", c.retries+1),
		zap.Error(lastErr))
	return domain.RatingAggregate{}, fmt.Errorf("%w: movie %s: %v", domain.ErrAggregateRecomputeFailed, movieID, lastErr)
}

// RecomputeAggregate refreshes one movie's average rating in its own unit of
// work. It is the on-demand entry point used to repair a stale aggregate.
func (c *Coordinator) RecomputeAggregate(ctx context.Context, movieID string) (domain.RatingAggregate, error) {
	var agg domain.RatingAggregate
	err := c.store.InTx(ctx, func(q Queries) error {
		var err error
		agg, err = c.Recompute(ctx, q, movieID)
		return err
	})
	if err != nil {
		return domain.RatingAggregate{}, err
	}
	return agg, nil
}

// OnMovieDeleted removes every review of the movie inside the caller's unit
// of work. The caller deletes the movie row afterwards, so no aggregate is
// written.
func (c *Coordinator) OnMovieDeleted(ctx context.Context, q Queries, movieID string) (CascadeResult, error) {
	if err := q.LockMovie(ctx, movieID); err != nil {
		return CascadeResult{}, fmt.Errorf("lock movie %s: %w", movieID, err)
	}
	removed, err := q.DeleteReviewsForMovie(ctx, movieID)
	if err != nil {
		return CascadeResult{}, fmt.Errorf("delete reviews for movie %s: %w", movieID, err)
	}
	metrics.CascadeDeletedReviews.WithLabelValues("movie").Add(float64(removed))
	c.logger.Info("removed reviews of deleted movie",
		zap.String("movie_id", movieID),
		zap.Int64("removed", removed))
	return CascadeResult{RemovedReviews: removed}, nil
}

// OnUserDeleted removes every review authored by the user inside the
// caller's unit of work and recomputes each movie that lost one. The user's
// movies are locked in ascending order before the user row, matching the
// movie-then-author order of single review writes.
func (c *Coordinator) OnUserDeleted(ctx context.Context, q Queries, userID string) (CascadeResult, error) {
	reviewed, err := q.ReviewedMovies(ctx, userID)
	if err != nil {
		return CascadeResult{}, fmt.Errorf("reviewed movies of user %s: %w", userID, err)
	}
	for _, movieID := range reviewed {
		// A movie deleted since the read took its reviews with it.
		if err := q.LockMovie(ctx, movieID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return CascadeResult{}, fmt.Errorf("lock movie %s: %w", movieID, err)
		}
	}
	if err := q.LockUser(ctx, userID); err != nil {
		return CascadeResult{}, fmt.Errorf("lock user %s: %w", userID, err)
	}
	movieIDs, removed, err := q.DeleteReviewsForUser(ctx, userID)
	if err != nil {
		return CascadeResult{}, fmt.Errorf("delete reviews for user %s: %w", userID, err)
	}
	metrics.CascadeDeletedReviews.WithLabelValues("user").Add(float64(removed))

	// Reviews written between the read and the user lock may add movies.
	sort.Strings(movieIDs)
	result := CascadeResult{RemovedReviews: removed}
	for _, movieID := range movieIDs {
		agg, err := c.Recompute(ctx, q, movieID)
		switch {
		case err == nil:
			result.Aggregates = append(result.Aggregates, agg)
		case errors.Is(err, domain.ErrAggregateRecomputeFailed):
			result.StaleMovies = append(result.StaleMovies, movieID)
		default:
			return CascadeResult{}, err
		}
	}
	c.logger.Info("removed reviews of deleted user",
		zap.String("user_id", userID),
		zap.Int64("removed", removed),
		zap.Int("movies_recomputed", len(result.Aggregates)),
		zap.Int("movies_stale", len(result.StaleMovies)))
	return result, nil
}

func recomputeOnce(ctx context.Context, q Queries, movieID string) (domain.RatingAggregate, error) {
	if err := q.LockMovie(ctx, movieID); err != nil {
		return domain.RatingAggregate{}, err
	}
	count, sum, err := q.RatingStats(ctx, movieID)
	if err != nil {
		return domain.RatingAggregate{}, fmt.Errorf("rating stats: %w", err)
	}
	average := RoundedAverage(sum, count)
	if err := q.SetAverageRating(ctx, movieID, average); err != nil {
		return domain.RatingAggregate{}, fmt.Errorf("store average rating: %w", err)
	}
	return domain.RatingAggregate{MovieID: movieID, Count: count, Average: average}, nil
}

// RoundedAverage returns sum/count rounded to one decimal place, halves away
// from zero, or 0 when count is zero. Integer arithmetic keeps x.x5 boundaries
// exact.
func RoundedAverage(sum, count int64) float64 {
	if count <= 0 {
		return 0
	}
	if sum < 0 {
		return -RoundedAverage(-sum, count)
	}
	tenths := (20*sum + count) / (2 * count)
	return float64(tenths) / 10
}
