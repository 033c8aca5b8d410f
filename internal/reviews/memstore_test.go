package reviews

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

var errInjected = errors.New("injected failure")

type memState struct {
	movies  map[string]float64
	titles  map[string]string
	users   map[string]string
	reviews map[string]domain.Review
	tick    int64
}

func (s memState) clone() memState {
	c := memState{
		movies:  make(map[string]float64, len(s.movies)),
		titles:  make(map[string]string, len(s.titles)),
		users:   make(map[string]string, len(s.users)),
		reviews: make(map[string]domain.Review, len(s.reviews)),
		tick:    s.tick,
	}
	for k, v := range s.movies {
		c.movies[k] = v
	}
	for k, v := range s.titles {
		c.titles[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.reviews {
		c.reviews[k] = v
	}
	return c
}

// memStore is a serializable in-memory Store. Each unit of work holds the
// lock for its whole duration and is rolled back on error.
type memStore struct {
	mu    sync.Mutex
	state memState

	// failSetAverage makes the next n SetAverageRating calls fail.
	failSetAverage int
	// plainInsert makes UpsertReview behave like INSERT without ON CONFLICT.
	plainInsert bool

	setAverageCalls int
	// trace records row locks and bulk deletes in call order.
	trace []string
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		movies:  map[string]float64{},
		titles:  map[string]string{},
		users:   map[string]string{},
		reviews: map[string]domain.Review{},
	}}
}

func (m *memStore) addMovie(id, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.movies[id] = 0
	m.state.titles[id] = title
}

func (m *memStore) addUser(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.users[id] = name
}

func (m *memStore) average(id string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.movies[id]
}

func (m *memStore) reviewCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.reviews)
}

func (m *memStore) View(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memQueries{m: m})
}

func (m *memStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.state.clone()
	if err := fn(&memQueries{m: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

type memQueries struct {
	m *memStore
}

func (q *memQueries) st() *memState { return &q.m.state }

func (q *memQueries) now() time.Time {
	q.st().tick++
	return time.Unix(1700000000+q.st().tick, 0).UTC()
}

func (q *memQueries) Savepoint(ctx context.Context, fn func(q Queries) error) error {
	snapshot := q.m.state.clone()
	if err := fn(q); err != nil {
		q.m.state = snapshot
		return err
	}
	return nil
}

func (q *memQueries) MovieExists(ctx context.Context, movieID string) (bool, error) {
	_, ok := q.st().movies[movieID]
	return ok, nil
}

func (q *memQueries) LockMovie(ctx context.Context, movieID string) error {
	if _, ok := q.st().movies[movieID]; !ok {
		return domain.ErrNotFound
	}
	q.m.trace = append(q.m.trace, "lock movie "+movieID)
	return nil
}

func (q *memQueries) LockUser(ctx context.Context, userID string) error {
	if _, ok := q.st().users[userID]; !ok {
		return domain.ErrNotFound
	}
	q.m.trace = append(q.m.trace, "lock user "+userID)
	return nil
}

func (q *memQueries) RatingStats(ctx context.Context, movieID string) (int64, int64, error) {
	var count, sum int64
	for _, r := range q.st().reviews {
		if r.MovieID == movieID {
			count++
			sum += int64(r.Rating)
		}
	}
	return count, sum, nil
}

func (q *memQueries) SetAverageRating(ctx context.Context, movieID string, average float64) error {
	q.m.setAverageCalls++
	if q.m.failSetAverage > 0 {
		q.m.failSetAverage--
		return errInjected
	}
	if _, ok := q.st().movies[movieID]; !ok {
		return domain.ErrNotFound
	}
	q.st().movies[movieID] = average
	return nil
}

func (q *memQueries) find(movieID, userID string) (domain.Review, bool) {
	for _, r := range q.st().reviews {
		if r.MovieID == movieID && r.UserID == userID {
			return r, true
		}
	}
	return domain.Review{}, false
}

func (q *memQueries) UpsertReview(ctx context.Context, p UpsertParams) (domain.Review, bool, error) {
	if _, ok := q.st().movies[p.MovieID]; !ok {
		return domain.Review{}, false, domain.ErrNotFound
	}
	if _, ok := q.st().users[p.UserID]; !ok {
		return domain.Review{}, false, domain.ErrNotFound
	}
	if existing, ok := q.find(p.MovieID, p.UserID); ok {
		if q.m.plainInsert {
			return domain.Review{}, false, domain.ErrConflict
		}
		existing.Rating, existing.Text, existing.UpdatedAt = p.Rating, p.Text, q.now()
		q.st().reviews[existing.ID] = existing
		return existing, false, nil
	}
	now := q.now()
	r := domain.Review{
		ID:        p.ID,
		MovieID:   p.MovieID,
		UserID:    p.UserID,
		Rating:    p.Rating,
		Text:      p.Text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.st().reviews[r.ID] = r
	return r, true, nil
}

func (q *memQueries) UpdateReviewByMovieAndUser(ctx context.Context, p UpsertParams) (domain.Review, error) {
	existing, ok := q.find(p.MovieID, p.UserID)
	if !ok {
		return domain.Review{}, domain.ErrNotFound
	}
	existing.Rating, existing.Text, existing.UpdatedAt = p.Rating, p.Text, q.now()
	q.st().reviews[existing.ID] = existing
	return existing, nil
}

func (q *memQueries) UpdateReview(ctx context.Context, reviewID string, patch Patch) (domain.Review, error) {
	r, ok := q.st().reviews[reviewID]
	if !ok {
		return domain.Review{}, domain.ErrNotFound
	}
	if patch.Rating != nil {
		r.Rating = *patch.Rating
	}
	if patch.Text != nil {
		r.Text = *patch.Text
	}
	r.UpdatedAt = q.now()
	q.st().reviews[reviewID] = r
	return r, nil
}

func (q *memQueries) GetReview(ctx context.Context, reviewID string) (domain.Review, error) {
	r, ok := q.st().reviews[reviewID]
	if !ok {
		return domain.Review{}, domain.ErrNotFound
	}
	return r, nil
}

func (q *memQueries) GetReviewForUpdate(ctx context.Context, reviewID string) (domain.Review, error) {
	return q.GetReview(ctx, reviewID)
}

func (q *memQueries) GetReviewByMovieAndUser(ctx context.Context, movieID, userID string) (domain.Review, error) {
	r, ok := q.find(movieID, userID)
	if !ok {
		return domain.Review{}, domain.ErrNotFound
	}
	return r, nil
}

func (q *memQueries) sorted(keep func(domain.Review) bool) []domain.Review {
	var out []domain.Review
	for _, r := range q.st().reviews {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (q *memQueries) ListReviewsForMovie(ctx context.Context, movieID string) ([]domain.ReviewWithAuthor, error) {
	var out []domain.ReviewWithAuthor
	for _, r := range q.sorted(func(r domain.Review) bool { return r.MovieID == movieID }) {
		out = append(out, domain.ReviewWithAuthor{Review: r, AuthorName: q.st().users[r.UserID]})
	}
	return out, nil
}

func (q *memQueries) ListReviews(ctx context.Context, f ListFilter) ([]domain.ReviewListing, error) {
	rows := q.sorted(func(r domain.Review) bool {
		return (f.MovieID == "" || r.MovieID == f.MovieID) && (f.UserID == "" || r.UserID == f.UserID)
	})
	if f.Offset >= len(rows) {
		return nil, nil
	}
	rows = rows[f.Offset:]
	if len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	out := make([]domain.ReviewListing, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ReviewListing{
			Review:     r,
			AuthorName: q.st().users[r.UserID],
			MovieTitle: q.st().titles[r.MovieID],
		})
	}
	return out, nil
}

func (q *memQueries) DeleteReview(ctx context.Context, reviewID string) (domain.Review, error) {
	r, ok := q.st().reviews[reviewID]
	if !ok {
		return domain.Review{}, domain.ErrNotFound
	}
	delete(q.st().reviews, reviewID)
	return r, nil
}

func (q *memQueries) DeleteReviewsForMovie(ctx context.Context, movieID string) (int64, error) {
	var n int64
	for id, r := range q.st().reviews {
		if r.MovieID == movieID {
			delete(q.st().reviews, id)
			n++
		}
	}
	return n, nil
}

func (q *memQueries) ReviewedMovies(ctx context.Context, userID string) ([]string, error) {
	seen := map[string]bool{}
	var movies []string
	for _, r := range q.st().reviews {
		if r.UserID == userID && !seen[r.MovieID] {
			seen[r.MovieID] = true
			movies = append(movies, r.MovieID)
		}
	}
	sort.Strings(movies)
	return movies, nil
}

func (q *memQueries) DeleteReviewsForUser(ctx context.Context, userID string) ([]string, int64, error) {
	q.m.trace = append(q.m.trace, "delete reviews of "+userID)
	seen := map[string]bool{}
	var (
		movies []string
		n      int64
	)
	for id, r := range q.st().reviews {
		if r.UserID != userID {
			continue
		}
		delete(q.st().reviews, id)
		n++
		if !seen[r.MovieID] {
			seen[r.MovieID] = true
			movies = append(movies, r.MovieID)
		}
	}
	return movies, n, nil
}

// deleteMovie and deleteUser stand in for the parent delete that follows a cascade.
func (q *memQueries) deleteMovie(id string) {
	delete(q.st().movies, id)
	delete(q.st().titles, id)
}

func (q *memQueries) deleteUser(id string) {
	delete(q.st().users, id)
}
