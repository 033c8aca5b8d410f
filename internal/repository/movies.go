package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

// MoviesRepository provides persistence helpers for movie entities.
type MoviesRepository struct {
	db DBTX
}

const movieColumns = `
    id,
    title,
    description,
    poster_url,
    release_date,
    genre,
    average_rating,
    created_at,
    updated_at
`

// MovieCreateParams bundles the fields required to create a movie.
type MovieCreateParams struct {
	ID          string
	Title       string
	Description string
	PosterURL   string
	ReleaseDate *time.Time
	Genre       *string
}

// MovieUpdateParams carries a partial update; nil fields keep their value.
type MovieUpdateParams struct {
	Title       *string
	Description *string
	PosterURL   *string
	ReleaseDate *time.Time
	Genre       *string
}

// MovieListFilters encapsulates pagination options.
type MovieListFilters struct {
	Limit  int
	Offset int
}

// MovieListResult returns the paginated payload.
type MovieListResult struct {
	Items []domain.Movie
	Total int64
}

// Create inserts a new movie row and returns the stored entity.
func (r *MoviesRepository) Create(ctx context.Context, params MovieCreateParams) (domain.Movie, error) {
	query := fmt.Sprintf(`
        INSERT INTO movies (id, title, description, poster_url, release_date, genre)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING %s
    `, movieColumns)

	row := r.db.QueryRow(ctx, query, params.ID, params.Title, params.Description, params.PosterURL, params.ReleaseDate, params.Genre)
	movie, err := scanMovie(row)
	if err != nil {
		return domain.Movie{}, mapError(err)
	}
	return movie, nil
}

// GetByID fetches a movie by its identifier.
func (r *MoviesRepository) GetByID(ctx context.Context, id string) (domain.Movie, error) {
	query := fmt.Sprintf(`SELECT %s FROM movies WHERE id = $1`, movieColumns)
	movie, err := scanMovie(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Movie{}, mapError(err)
	}
	return movie, nil
}

// Update applies a partial update. The average rating is not writable here.
func (r *MoviesRepository) Update(ctx context.Context, id string, params MovieUpdateParams) (domain.Movie, error) {
	query := fmt.Sprintf(`
        UPDATE movies
        SET title = COALESCE($2, title),
            description = COALESCE($3, description),
            poster_url = COALESCE($4, poster_url),
            release_date = COALESCE($5, release_date),
            genre = COALESCE($6, genre),
            updated_at = now()
        WHERE id = $1
        RETURNING %s
    `, movieColumns)

	row := r.db.QueryRow(ctx, query, id, params.Title, params.Description, params.PosterURL, params.ReleaseDate, params.Genre)
	movie, err := scanMovie(row)
	if err != nil {
		return domain.Movie{}, mapError(err)
	}
	return movie, nil
}

// Delete removes the movie row. Dependent reviews must already be gone.
func (r *MoviesRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM movies WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns one page of movies, newest first, with the total count.
func (r *MoviesRepository) List(ctx context.Context, filters MovieListFilters) (MovieListResult, error) {
	if filters.Limit <= 0 {
		filters.Limit = 10
	} else if filters.Limit > 100 {
		filters.Limit = 100
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM movies`).Scan(&total); err != nil {
		return MovieListResult{}, fmt.Errorf("count movies: %w", err)
	}

	query := fmt.Sprintf(`
        SELECT %s FROM movies
        ORDER BY created_at DESC, id DESC
        LIMIT $1 OFFSET $2
    `, movieColumns)
	rows, err := r.db.Query(ctx, query, filters.Limit, filters.Offset)
	if err != nil {
		return MovieListResult{}, err
	}
	defer rows.Close()

	items := make([]domain.Movie, 0)
	for rows.Next() {
		movie, err := scanMovie(rows)
		if err != nil {
			return MovieListResult{}, err
		}
		items = append(items, movie)
	}
	if err := rows.Err(); err != nil {
		return MovieListResult{}, err
	}

	return MovieListResult{Items: items, Total: total}, nil
}

func scanMovie(row pgx.Row) (domain.Movie, error) {
	var movie domain.Movie
	err := row.Scan(
		&movie.ID,
		&movie.Title,
		&movie.Description,
		&movie.PosterURL,
		&movie.ReleaseDate,
		&movie.Genre,
		&movie.AverageRating,
		&movie.CreatedAt,
		&movie.UpdatedAt,
	)
	if err != nil {
		return domain.Movie{}, err
	}
	return movie, nil
}
