package reviews

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

// Admin listing bounds.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Result is the outcome of a committed review mutation.
type Result struct {
	Review domain.Review
	// Created is true when the mutation inserted a new review.
	Created bool
	// Aggregate is the movie's refreshed rating; zero when AggregateStale.
	Aggregate domain.RatingAggregate
	// AggregateStale is set when the review change committed but the movie's
	// average rating could not be refreshed.
	AggregateStale bool
}

// Guard inspects the locked review before a mutation and rejects it with an
// error. A nil Guard allows everything.
type Guard func(domain.Review) error

// Ledger owns review records. Every write runs in one unit of work that ends
// with the Coordinator refreshing the affected movie's aggregate.
type Ledger struct {
	store       Store
	coordinator *Coordinator
	logger      *zap.Logger
	newID       func() string
}

// NewLedger builds a Ledger over store.
func NewLedger(store Store, coordinator *Coordinator, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:       store,
		coordinator: coordinator,
		logger:      logger,
		newID:       uuid.NewString,
	}
}

// Upsert records the user's review of the movie: a new review the first time,
// an overwrite of rating and text afterwards.
func (l *Ledger) Upsert(ctx context.Context, movieID, userID string, rating int, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if err := ValidateRating(rating); err != nil {
		return Result{}, err
	}
	if err := ValidateText(text); err != nil {
		return Result{}, err
	}

	params := UpsertParams{
		ID:      l.newID(),
		MovieID: movieID,
		UserID:  userID,
		Rating:  rating,
		Text:    text,
	}

	var res Result
	err := l.store.InTx(ctx, func(q Queries) error {
		if err := q.LockMovie(ctx, movieID); err != nil {
			return fmt.Errorf("lock movie: %w", err)
		}
		var (
			review  domain.Review
			created bool
		)
		err := q.Savepoint(ctx, func(sq Queries) error {
			var err error
			review, created, err = sq.UpsertReview(ctx, params)
			return err
		})
		if errors.Is(err, domain.ErrConflict) {
			// Another writer claimed the (movie, user) key first; ours becomes an overwrite.
			l.logger.Debug("review upsert conflict, applying as update",
				zap.String("movie_id", movieID),
				zap.String("user_id", userID))
			review, err = q.UpdateReviewByMovieAndUser(ctx, params)
			created = false
		}
		if err != nil {
			return fmt.Errorf("upsert review: %w", err)
		}
		res.Review, res.Created = review, created
		return l.settle(ctx, q, movieID, &res)
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Edit applies a partial update to a review after guard approves the locked row.
func (l *Ledger) Edit(ctx context.Context, reviewID string, patch Patch, guard Guard) (Result, error) {
	patch, err := normalizePatch(patch)
	if err != nil {
		return Result{}, err
	}

	var res Result
	err = l.store.InTx(ctx, func(q Queries) error {
		current, err := lockReview(ctx, q, reviewID)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(current); err != nil {
				return err
			}
		}
		updated, err := q.UpdateReview(ctx, reviewID, patch)
		if err != nil {
			return fmt.Errorf("update review: %w", err)
		}
		res.Review = updated
		return l.settle(ctx, q, updated.MovieID, &res)
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Delete removes a review after guard approves the locked row and returns
// the removed record.
func (l *Ledger) Delete(ctx context.Context, reviewID string, guard Guard) (Result, error) {
	var res Result
	err := l.store.InTx(ctx, func(q Queries) error {
		current, err := lockReview(ctx, q, reviewID)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(current); err != nil {
				return err
			}
		}
		deleted, err := q.DeleteReview(ctx, reviewID)
		if err != nil {
			return fmt.Errorf("delete review: %w", err)
		}
		res.Review = deleted
		return l.settle(ctx, q, deleted.MovieID, &res)
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Get returns a review by id.
func (l *Ledger) Get(ctx context.Context, reviewID string) (domain.Review, error) {
	var review domain.Review
	err := l.store.View(ctx, func(q Queries) error {
		var err error
		review, err = q.GetReview(ctx, reviewID)
		return err
	})
	return review, err
}

// GetByMovieAndUser returns the user's review of the movie, or nil when the
// user has not reviewed it.
func (l *Ledger) GetByMovieAndUser(ctx context.Context, movieID, userID string) (*domain.Review, error) {
	var review domain.Review
	err := l.store.View(ctx, func(q Queries) error {
		var err error
		review, err = q.GetReviewByMovieAndUser(ctx, movieID, userID)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}

// ListForMovie returns the movie's reviews, most recent first.
func (l *Ledger) ListForMovie(ctx context.Context, movieID string) ([]domain.ReviewWithAuthor, error) {
	var items []domain.ReviewWithAuthor
	err := l.store.View(ctx, func(q Queries) error {
		exists, err := q.MovieExists(ctx, movieID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		items, err = q.ListReviewsForMovie(ctx, movieID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListAll returns reviews across all movies, most recent first.
func (l *Ledger) ListAll(ctx context.Context, filter ListFilter) ([]domain.ReviewListing, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	} else if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	var items []domain.ReviewListing
	err := l.store.View(ctx, func(q Queries) error {
		var err error
		items, err = q.ListReviews(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// lockReview locks the review's movie and then the review itself. Writers
// always take the movie lock before any review lock.
func lockReview(ctx context.Context, q Queries, reviewID string) (domain.Review, error) {
	peek, err := q.GetReview(ctx, reviewID)
	if err != nil {
		return domain.Review{}, fmt.Errorf("load review: %w", err)
	}
	if err := q.LockMovie(ctx, peek.MovieID); err != nil {
		return domain.Review{}, fmt.Errorf("lock movie: %w", err)
	}
	current, err := q.GetReviewForUpdate(ctx, reviewID)
	if err != nil {
		return domain.Review{}, fmt.Errorf("load review: %w", err)
	}
	return current, nil
}

// settle refreshes the movie aggregate as the last step of a mutation. A
// recompute that exhausted its retries leaves the review change committed and
// marks the result stale; the next mutation or an on-demand recompute repairs it.
func (l *Ledger) settle(ctx context.Context, q Queries, movieID string, res *Result) error {
	agg, err := l.coordinator.Recompute(ctx, q, movieID)
	if errors.Is(err, domain.ErrAggregateRecomputeFailed) {
		res.AggregateStale = true
		return nil
	}
	if err != nil {
		return err
	}
	res.Aggregate = agg
	return nil
}

// ValidateRating checks the rating is an integer star value.
func ValidateRating(rating int) error {
	if rating < domain.MinRating || rating > domain.MaxRating {
		return domain.InvalidInput("rating must be an integer between %d and %d", domain.MinRating, domain.MaxRating)
	}
	return nil
}

// ValidateText checks already-trimmed review text.
func ValidateText(text string) error {
	if text == "" {
		return domain.InvalidInput("review text cannot be empty")
	}
	if utf8.RuneCountInString(text) > domain.MaxReviewTextLength {
		return domain.InvalidInput("review text cannot exceed %d characters", domain.MaxReviewTextLength)
	}
	return nil
}

func normalizePatch(patch Patch) (Patch, error) {
	if patch.Rating == nil && patch.Text == nil {
		return Patch{}, domain.InvalidInput("at least rating or text must be provided")
	}
	if patch.Rating != nil {
		if err := ValidateRating(*patch.Rating); err != nil {
			return Patch{}, err
		}
	}
	if patch.Text != nil {
		text := strings.TrimSpace(*patch.Text)
		if err := ValidateText(text); err != nil {
			return Patch{}, err
		}
		patch.Text = &text
	}
	return patch, nil
}
