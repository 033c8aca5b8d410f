// Package reviews keeps per-user movie reviews and the movie average rating
// derived from them consistent.
//
// Ledger applies review writes, Coordinator recomputes the affected movie's
// aggregate inside the same unit of work and removes dependent reviews when a
// movie or user goes away, and Service authorizes callers in front of both.
package reviews

import (
	"context"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

// UpsertParams carries a review write keyed by (MovieID, UserID). ID is used
// only when a new row is inserted.
type UpsertParams struct {
	ID      string
	MovieID string
	UserID  string
	Rating  int
	Text    string
}

// Patch is a partial review update; nil fields are left unchanged.
type Patch struct {
	Rating *int
	Text   *string
}

// ListFilter narrows the admin review listing.
type ListFilter struct {
	MovieID string
	UserID  string
	Limit   int
	Offset  int
}

// Queries is the storage surface the ledger and coordinator run against.
// Lookups of missing rows return domain.ErrNotFound; uniqueness violations
// return domain.ErrConflict.
type Queries interface {
	MovieExists(ctx context.Context, movieID string) (bool, error)
	// LockMovie holds the movie row until the enclosing unit of work ends so
	// aggregate writes for one movie are serialized.
	LockMovie(ctx context.Context, movieID string) error
	LockUser(ctx context.Context, userID string) error
	// RatingStats reads the count and sum of current ratings for a movie.
	RatingStats(ctx context.Context, movieID string) (count, sum int64, err error)
	SetAverageRating(ctx context.Context, movieID string, average float64) error

	// UpsertReview inserts or overwrites the (movie, user) review in a single
	// statement and reports whether a new row was created.
	UpsertReview(ctx context.Context, params UpsertParams) (domain.Review, bool, error)
	UpdateReviewByMovieAndUser(ctx context.Context, params UpsertParams) (domain.Review, error)
	UpdateReview(ctx context.Context, reviewID string, patch Patch) (domain.Review, error)
	GetReview(ctx context.Context, reviewID string) (domain.Review, error)
	// GetReviewForUpdate reads a review and locks it for the rest of the unit of work.
	GetReviewForUpdate(ctx context.Context, reviewID string) (domain.Review, error)
	GetReviewByMovieAndUser(ctx context.Context, movieID, userID string) (domain.Review, error)
	ListReviewsForMovie(ctx context.Context, movieID string) ([]domain.ReviewWithAuthor, error)
	ListReviews(ctx context.Context, filter ListFilter) ([]domain.ReviewListing, error)
	DeleteReview(ctx context.Context, reviewID string) (domain.Review, error)
	DeleteReviewsForMovie(ctx context.Context, movieID string) (int64, error)
	// ReviewedMovies lists the distinct movies the user has reviewed, ascending.
	ReviewedMovies(ctx context.Context, userID string) ([]string, error)
	// DeleteReviewsForUser removes every review by the user and returns the
	// distinct movie ids that lost one.
	DeleteReviewsForUser(ctx context.Context, userID string) ([]string, int64, error)

	// Savepoint runs fn in a nested unit of work. A failure inside fn is rolled
	// back without poisoning the enclosing one.
	Savepoint(ctx context.Context, fn func(q Queries) error) error
}

// Store opens units of work over Queries.
type Store interface {
	// View runs read-only fn without a transaction.
	View(ctx context.Context, fn func(q Queries) error) error
	// InTx runs fn atomically; an error from fn discards every write.
	InTx(ctx context.Context, fn func(q Queries) error) error
}
