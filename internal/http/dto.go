package httpserver

import (
	"time"

	"github.com/Clark-Hu/movie-reviews/internal/accounts"
	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/reviews"
)

const dateLayout = "2006-01-02"

type userResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type sessionResponse struct {
	User      userResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

type movieResponse struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	PosterURL     string    `json:"posterUrl"`
	ReleaseDate   *string   `json:"releaseDate"`
	Genre         *string   `json:"genre"`
	AverageRating float64   `json:"averageRating"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type movieListResponse struct {
	Items []movieResponse `json:"items"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
	Total int64           `json:"total"`
}

type movieDetailResponse struct {
	movieResponse
	Reviews []reviewResponse `json:"reviews"`
}

type reviewResponse struct {
	ID          string    `json:"id"`
	MovieID     string    `json:"movieId"`
	UserID      string    `json:"userId"`
	Rating      int       `json:"rating"`
	Text        string    `json:"text"`
	AuthorName  string    `json:"authorName,omitempty"`
	AuthorEmail string    `json:"authorEmail,omitempty"`
	MovieTitle  string    `json:"movieTitle,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type aggregateResponse struct {
	MovieID       string  `json:"movieId"`
	AverageRating float64 `json:"averageRating"`
	ReviewCount   int64   `json:"reviewCount"`
}

// reviewMutationResponse reports a committed review change. Movie is omitted
// when the rating could not be refreshed; AggregateStale says so explicitly.
type reviewMutationResponse struct {
	Review         *reviewResponse    `json:"review,omitempty"`
	Movie          *aggregateResponse `json:"movie,omitempty"`
	AggregateStale bool               `json:"aggregateStale"`
}

type cascadeResponse struct {
	RemovedReviews int64               `json:"removedReviews"`
	Movies         []aggregateResponse `json:"movies"`
	StaleMovies    []string            `json:"staleMovies"`
}

func toUserResponse(u domain.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func toSessionResponse(sess accounts.Session) sessionResponse {
	return sessionResponse{User: toUserResponse(sess.User), Token: sess.Token, ExpiresAt: sess.ExpiresAt}
}

func toMovieResponse(movie domain.Movie) movieResponse {
	resp := movieResponse{
		ID:            movie.ID,
		Title:         movie.Title,
		Description:   movie.Description,
		PosterURL:     movie.PosterURL,
		Genre:         movie.Genre,
		AverageRating: movie.AverageRating,
		CreatedAt:     movie.CreatedAt,
		UpdatedAt:     movie.UpdatedAt,
	}
	if movie.ReleaseDate != nil {
		d := movie.ReleaseDate.Format(dateLayout)
		resp.ReleaseDate = &d
	}
	return resp
}

func toReviewResponse(r domain.Review) reviewResponse {
	return reviewResponse{
		ID:        r.ID,
		MovieID:   r.MovieID,
		UserID:    r.UserID,
		Rating:    r.Rating,
		Text:      r.Text,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func toAuthoredReviews(items []domain.ReviewWithAuthor) []reviewResponse {
	out := make([]reviewResponse, 0, len(items))
	for _, item := range items {
		resp := toReviewResponse(item.Review)
		resp.AuthorName = item.AuthorName
		out = append(out, resp)
	}
	return out
}

func toListingResponses(items []domain.ReviewListing) []reviewResponse {
	out := make([]reviewResponse, 0, len(items))
	for _, item := range items {
		resp := toReviewResponse(item.Review)
		resp.AuthorName = item.AuthorName
		resp.AuthorEmail = item.AuthorEmail
		resp.MovieTitle = item.MovieTitle
		out = append(out, resp)
	}
	return out
}

func toAggregateResponse(agg domain.RatingAggregate) aggregateResponse {
	return aggregateResponse{MovieID: agg.MovieID, AverageRating: agg.Average, ReviewCount: agg.Count}
}

func toMutationResponse(res reviews.Result, includeReview bool) reviewMutationResponse {
	resp := reviewMutationResponse{AggregateStale: res.AggregateStale}
	if includeReview {
		review := toReviewResponse(res.Review)
		resp.Review = &review
	}
	if !res.AggregateStale {
		agg := toAggregateResponse(res.Aggregate)
		resp.Movie = &agg
	}
	return resp
}

func toCascadeResponse(res reviews.CascadeResult) cascadeResponse {
	movies := make([]aggregateResponse, 0, len(res.Aggregates))
	for _, agg := range res.Aggregates {
		movies = append(movies, toAggregateResponse(agg))
	}
	stale := res.StaleMovies
	if stale == nil {
		stale = []string{}
	}
	return cascadeResponse{RemovedReviews: res.RemovedReviews, Movies: movies, StaleMovies: stale}
}
