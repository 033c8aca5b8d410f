package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/reviews"
)

// ReviewsRepository implements reviews.Queries on Postgres.
type ReviewsRepository struct {
	db DBTX
}

var _ reviews.Queries = (*ReviewsRepository)(nil)

const reviewColumns = `id, movie_id, user_id, rating, text, created_at, updated_at`

// Savepoint runs fn against a nested transaction; on a pool it opens a fresh one.
func (r *ReviewsRepository) Savepoint(ctx context.Context, fn func(q reviews.Queries) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&ReviewsRepository{db: tx})
	})
}

// MovieExists reports whether a movie row exists.
func (r *ReviewsRepository) MovieExists(ctx context.Context, movieID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM movies WHERE id = $1)`, movieID).Scan(&exists)
	if err != nil {
		if err = mapError(err); errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}

// LockMovie takes a row lock on the movie for the rest of the transaction.
func (r *ReviewsRepository) LockMovie(ctx context.Context, movieID string) error {
	var id string
	if err := r.db.QueryRow(ctx, `SELECT id FROM movies WHERE id = $1 FOR UPDATE`, movieID).Scan(&id); err != nil {
		return mapError(err)
	}
	return nil
}

// LockUser takes a row lock on the user for the rest of the transaction.
func (r *ReviewsRepository) LockUser(ctx context.Context, userID string) error {
	var id string
	if err := r.db.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id); err != nil {
		return mapError(err)
	}
	return nil
}

// RatingStats returns count and sum of the movie's ratings.
func (r *ReviewsRepository) RatingStats(ctx context.Context, movieID string) (int64, int64, error) {
	const query = `
        SELECT COUNT(*)::int8, COALESCE(SUM(rating), 0)::int8
        FROM reviews
        WHERE movie_id = $1
    `
	var count, sum int64
	if err := r.db.QueryRow(ctx, query, movieID).Scan(&count, &sum); err != nil {
		return 0, 0, mapError(err)
	}
	return count, sum, nil
}

// SetAverageRating stores the derived average on the movie row.
func (r *ReviewsRepository) SetAverageRating(ctx context.Context, movieID string, average float64) error {
	tag, err := r.db.Exec(ctx, `UPDATE movies SET average_rating = $2 WHERE id = $1`, movieID, average)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertReview inserts or overwrites the (movie, user) review and indicates
// whether it was newly created.
func (r *ReviewsRepository) UpsertReview(ctx context.Context, params reviews.UpsertParams) (domain.Review, bool, error) {
	query := fmt.Sprintf(`
        INSERT INTO reviews (id, movie_id, user_id, rating, text)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT ON CONSTRAINT reviews_movie_user_key
        DO UPDATE SET rating = EXCLUDED.rating, text = EXCLUDED.text, updated_at = now()
        RETURNING %s, (xmax = 0) AS inserted
    `, reviewColumns)

	var (
		review   domain.Review
		inserted bool
	)
	err := r.db.QueryRow(ctx, query, params.ID, params.MovieID, params.UserID, params.Rating, params.Text).Scan(
		&review.ID,
		&review.MovieID,
		&review.UserID,
		&review.Rating,
		&review.Text,
		&review.CreatedAt,
		&review.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return domain.Review{}, false, mapError(err)
	}
	return review, inserted, nil
}

// UpdateReviewByMovieAndUser overwrites rating and text of an existing review.
func (r *ReviewsRepository) UpdateReviewByMovieAndUser(ctx context.Context, params reviews.UpsertParams) (domain.Review, error) {
	query := fmt.Sprintf(`
        UPDATE reviews
        SET rating = $3, text = $4, updated_at = now()
        WHERE movie_id = $1 AND user_id = $2
        RETURNING %s
    `, reviewColumns)
	review, err := scanReview(r.db.QueryRow(ctx, query, params.MovieID, params.UserID, params.Rating, params.Text))
	if err != nil {
		return domain.Review{}, mapError(err)
	}
	return review, nil
}

// UpdateReview applies a partial update.
func (r *ReviewsRepository) UpdateReview(ctx context.Context, reviewID string, patch reviews.Patch) (domain.Review, error) {
	query := fmt.Sprintf(`
        UPDATE reviews
        SET rating = COALESCE($2, rating),
            text = COALESCE($3, text),
            updated_at = now()
        WHERE id = $1
        RETURNING %s
    `, reviewColumns)
	review, err := scanReview(r.db.QueryRow(ctx, query, reviewID, patch.Rating, patch.Text))
	if err != nil {
		return domain.Review{}, mapError(err)
	}
	return review, nil
}

// GetReview fetches a review by identifier.
func (r *ReviewsRepository) GetReview(ctx context.Context, reviewID string) (domain.Review, error) {
	query := fmt.Sprintf(`SELECT %s FROM reviews WHERE id = $1`, reviewColumns)
	review, err := scanReview(r.db.QueryRow(ctx, query, reviewID))
	if err != nil {
		return domain.Review{}, mapError(err)
	}
	return review, nil
}

// GetReviewForUpdate fetches a review and locks it.
func (r *ReviewsRepository) GetReviewForUpdate(ctx context.Context, reviewID string) (domain.Review, error) {
	query := fmt.Sprintf(`SELECT %s FROM reviews WHERE id = $1 FOR UPDATE`, reviewColumns)
	review, err := scanReview(r.db.QueryRow(ctx, query, reviewID))
	if err != nil {
		return domain.Review{}, mapError(err)
	}
	return review, nil
}

// GetReviewByMovieAndUser fetches the user's review of a movie.
func (r *ReviewsRepository) GetReviewByMovieAndUser(ctx context.Context, movieID, userID string) (domain.Review, error) {
	query := fmt.Sprintf(`SELECT %s FROM reviews WHERE movie_id = $1 AND user_id = $2`, reviewColumns)
	review, err := scanReview(r.db.QueryRow(ctx, query, movieID, userID))
	if err != nil {
		return domain.Review{}, mapError(err)
	}
	return review, nil
}

// ListReviewsForMovie returns the movie's reviews with author names, newest first.
func (r *ReviewsRepository) ListReviewsForMovie(ctx context.Context, movieID string) ([]domain.ReviewWithAuthor, error) {
	const query = `
        SELECT r.id, r.movie_id, r.user_id, r.rating, r.text, r.created_at, r.updated_at, u.name
        FROM reviews r
        JOIN users u ON u.id = r.user_id
        WHERE r.movie_id = $1
        ORDER BY r.created_at DESC, r.id DESC
    `
	rows, err := r.db.Query(ctx, query, movieID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	items := make([]domain.ReviewWithAuthor, 0)
	for rows.Next() {
		var item domain.ReviewWithAuthor
		if err := rows.Scan(
			&item.ID,
			&item.MovieID,
			&item.UserID,
			&item.Rating,
			&item.Text,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.AuthorName,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return items, nil
}

// ListReviews returns the admin listing. Limit must already be bounded.
func (r *ReviewsRepository) ListReviews(ctx context.Context, filter reviews.ListFilter) ([]domain.ReviewListing, error) {
	where := make([]string, 0)
	args := make([]any, 0)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.MovieID != "" {
		where = append(where, "r.movie_id = "+arg(filter.MovieID))
	}
	if filter.UserID != "" {
		where = append(where, "r.user_id = "+arg(filter.UserID))
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
        SELECT r.id, r.movie_id, r.user_id, r.rating, r.text, r.created_at, r.updated_at,
               u.name, u.email, m.title
        FROM reviews r
        JOIN users u ON u.id = r.user_id
        JOIN movies m ON m.id = r.movie_id`)
	if len(where) > 0 {
		queryBuilder.WriteString(" WHERE ")
		queryBuilder.WriteString(strings.Join(where, " AND "))
	}
	queryBuilder.WriteString(" ORDER BY r.created_at DESC, r.id DESC")
	queryBuilder.WriteString(fmt.Sprintf(" LIMIT %s OFFSET %s", arg(filter.Limit), arg(filter.Offset)))

	rows, err := r.db.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	items := make([]domain.ReviewListing, 0)
	for rows.Next() {
		var item domain.ReviewListing
		if err := rows.Scan(
			&item.ID,
			&item.MovieID,
			&item.UserID,
			&item.Rating,
			&item.Text,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.AuthorName,
			&item.AuthorEmail,
			&item.MovieTitle,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return items, nil
}

// DeleteReview removes a review and returns it.
func (r *ReviewsRepository) DeleteReview(ctx context.Context, reviewID string) (domain.Review, error) {
	query := fmt.Sprintf(`DELETE FROM reviews WHERE id = $1 RETURNING %s`, reviewColumns)
	review, err := scanReview(r.db.QueryRow(ctx, query, reviewID))
	if err != nil {
		return domain.Review{}, mapError(err)
	}
	return review, nil
}

// DeleteReviewsForMovie removes every review of the movie in one statement.
func (r *ReviewsRepository) DeleteReviewsForMovie(ctx context.Context, movieID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM reviews WHERE movie_id = $1`, movieID)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// ReviewedMovies returns the distinct movies the user has reviewed, ordered
// by id.
func (r *ReviewsRepository) ReviewedMovies(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT movie_id FROM reviews WHERE user_id = $1 ORDER BY movie_id`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	movieIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError(err)
	}
	return movieIDs, nil
}

// DeleteReviewsForUser removes every review by the user in one statement and
// returns the distinct movies affected.
func (r *ReviewsRepository) DeleteReviewsForUser(ctx context.Context, userID string) ([]string, int64, error) {
	rows, err := r.db.Query(ctx, `DELETE FROM reviews WHERE user_id = $1 RETURNING movie_id`, userID)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	var (
		removed  int64
		movieIDs []string
	)
	seen := make(map[string]struct{})
	for rows.Next() {
		var movieID string
		if err := rows.Scan(&movieID); err != nil {
			return nil, 0, err
		}
		removed++
		if _, ok := seen[movieID]; ok {
			continue
		}
		seen[movieID] = struct{}{}
		movieIDs = append(movieIDs, movieID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err)
	}
	return movieIDs, removed, nil
}

func scanReview(row pgx.Row) (domain.Review, error) {
	var review domain.Review
	err := row.Scan(
		&review.ID,
		&review.MovieID,
		&review.UserID,
		&review.Rating,
		&review.Text,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
	if err != nil {
		return domain.Review{}, err
	}
	return review, nil
}
