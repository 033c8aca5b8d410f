package domain

import "time"

// Movie represents the canonical movie entity in the database/service.
// AverageRating is derived from the movie's reviews and is only written by the
// rating recompute step.
type Movie struct {
	ID            string
	Title         string
	Description   string
	PosterURL     string
	ReleaseDate   *time.Time
	Genre         *string
	AverageRating float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RatingAggregate provides average and count for a movie's reviews.
type RatingAggregate struct {
	MovieID string
	Count   int64
	Average float64
}
