package domain

import "time"

// Review bounds.
const (
	MinRating           = 1
	MaxRating           = 5
	MaxReviewTextLength = 1000
)

// Review is a single user's rating and text for a movie. There is at most one
// review per (MovieID, UserID) pair.
type Review struct {
	ID        string
	MovieID   string
	UserID    string
	Rating    int
	Text      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReviewWithAuthor is a review joined with the author's display name.
type ReviewWithAuthor struct {
	Review
	AuthorName string
}

// ReviewListing is the admin projection of a review.
type ReviewListing struct {
	Review
	AuthorName  string
	AuthorEmail string
	MovieTitle  string
}
