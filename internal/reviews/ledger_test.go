package reviews

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

func newTestLedger(s *memStore) *Ledger {
	return NewLedger(s, NewCoordinator(s, nil, 1), nil)
}

func mustUpsert(t *testing.T, l *Ledger, movieID, userID string, rating int) Result {
	t.Helper()
	res, err := l.Upsert(context.Background(), movieID, userID, rating, "review by "+userID)
	if err != nil {
		t.Fatalf("upsert %s/%s: %v", movieID, userID, err)
	}
	return res
}

func TestLedgerLifecycleScenarios(t *testing.T) {
	s := newMemStore()
	s.addMovie("m", "Heat")
	s.addUser("user1", "Ann")
	s.addUser("user2", "Bob")
	l := newTestLedger(s)
	ctx := context.Background()

	// Two reviews average to 4.0.
	first := mustUpsert(t, l, "m", "user1", 5)
	if !first.Created {
		t.Fatalf("first submission should create")
	}
	res := mustUpsert(t, l, "m", "user2", 3)
	if res.Aggregate.Average != 4 || res.Aggregate.Count != 2 {
		t.Fatalf("expected 4.0 over 2 reviews, got %+v", res.Aggregate)
	}

	// Resubmission overwrites in place.
	res = mustUpsert(t, l, "m", "user1", 1)
	if res.Created {
		t.Fatalf("resubmission should not create")
	}
	if res.Review.ID != first.Review.ID {
		t.Fatalf("resubmission changed id: %s -> %s", first.Review.ID, res.Review.ID)
	}
	if res.Aggregate.Average != 2 {
		t.Fatalf("expected 2.0, got %v", res.Aggregate.Average)
	}
	own, err := l.GetByMovieAndUser(ctx, "m", "user1")
	if err != nil || own == nil || own.Rating != 1 {
		t.Fatalf("expected single user1 review with rating 1, got %+v, %v", own, err)
	}

	// Deleting user2's review leaves user1's rating.
	user2, err := l.GetByMovieAndUser(ctx, "m", "user2")
	if err != nil || user2 == nil {
		t.Fatalf("user2 review lookup: %+v, %v", user2, err)
	}
	res, err = l.Delete(ctx, user2.ID, nil)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Aggregate.Average != 1 || s.average("m") != 1 {
		t.Fatalf("expected 1.0 after delete, got %v (stored %v)", res.Aggregate.Average, s.average("m"))
	}

	// Out-of-range rating leaves everything alone.
	_, err = l.Upsert(ctx, "m", "user1", 6, "too good")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	own, _ = l.GetByMovieAndUser(ctx, "m", "user1")
	if own.Rating != 1 || s.average("m") != 1 {
		t.Fatalf("rejected write changed state: rating %d average %v", own.Rating, s.average("m"))
	}

	// Deleting the last review resets the aggregate.
	if _, err := l.Delete(ctx, own.ID, nil); err != nil {
		t.Fatalf("delete last: %v", err)
	}
	if s.average("m") != 0 {
		t.Fatalf("expected 0 with no reviews, got %v", s.average("m"))
	}
}

func TestLedgerUpsertValidation(t *testing.T) {
	s := newMemStore()
	s.addMovie("m", "Heat")
	s.addUser("u", "Ann")
	l := newTestLedger(s)

	cases := []struct {
		name   string
		rating int
		text   string
	}{
		{"rating zero", 0, "fine"},
		{"rating six", 6, "fine"},
		{"negative", -1, "fine"},
		{"empty text", 3, ""},
		{"blank text", 3, "   \n\t"},
		{"too long", 3, strings.Repeat("x", domain.MaxReviewTextLength+1)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := l.Upsert(context.Background(), "m", "u", c.rating, c.text)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
	if s.reviewCount() != 0 {
		t.Fatalf("invalid input must not write, have %d reviews", s.reviewCount())
	}
}

func TestLedgerUpsertTrimsAndAcceptsMaxLength(t *testing.T) {
	s := newMemStore()
	s.addMovie("m", "Heat")
	s.addUser("u", "Ann")
	l := newTestLedger(s)

	text := strings.Repeat("é", domain.MaxReviewTextLength)
	res, err := l.Upsert(context.Background(), "m", "u", 4, "  "+text+"  ")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.Review.Text != text {
		t.Fatalf("text was not trimmed")
	}
}

func TestLedgerUpsertUnknownMovie(t *testing.T) {
	s := newMemStore()
	s.addUser("u", "Ann")
	l := newTestLedger(s)

	_, err := l.Upsert(context.Background(), "missing", "u", 4, "fine")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLedgerUpsertConflictFallsBackToUpdate(t *testing.T) {
	s := newMemStore()
	s.addMovie("m", "Heat")
	s.addUser("u", "Ann")
	l := newTestLedger(s)
	first := mustUpsert(t, l, "m", "u", 2)

	s.plainInsert = true
	res, err := l.Upsert(context.Background(), "m", "u", 5, "changed my mind")
	if err != nil {
		t.Fatalf("conflict must not surface: %v", err)
	}
	if res.Created || res.Review.ID != first.Review.ID || res.Review.Rating != 5 {
		t.Fatalf("expected overwrite of %s, got %+v", first.Review.ID, res)
	}
	if res.Aggregate.Average != 5 {
		t.Fatalf("expected 5.0, got %v", res.Aggregate.Average)
	}
	if s.reviewCount() != 1 {
		t.Fatalf("expected one review, have %d", s.reviewCount())
	}
}

func TestLedgerStaleAggregateKeepsReview(t *testing.T) {
	s := newMemStore()
	s.addMovie("m", "Heat")
	s.addUser("u1", "Ann")
	s.addUser("u2", "Bob")
	l := newTestLedger(s)
	mustUpsert(t, l, "m", "u1", 4)

	s.failSetAverage = 2
	res, err := l.Upsert(context.Background(), "m", "u2", 1, "meh")
	if err != nil {
		t.Fatalf("review write should commit: %v", err)
	}
	if !res.AggregateStale || !res.Created {
		t.Fatalf("expected created+stale, got %+v", res)
	}
	if s.reviewCount() != 2 {
		t.Fatalf("review was rolled back")
	}
	if got := s.average("m"); got != 4 {
		t.Fatalf("stale average should stay 4, got %v", got)
	}

	agg, err := l.coordinator.RecomputeAggregate(context.Background(), "m")
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if agg.Average != 2.5 || s.average("m") != 2.5 {
		t.Fatalf("repair produced %v", agg.Average)
	}
}

func TestLedgerEdit(t *testing.T) {
	s := newMemStore()
	s.addMovie("m", "Heat")
	s.addUser("u", "Ann")
	l := newTestLedger(s)
	r := mustUpsert(t, l, "m", "u", 2).Review
	ctx := context.Background()

	rating := 5
	res, err := l.Edit(ctx, r.ID, Patch{Rating: &rating}, nil)
	if err != nil {
		t.Fatalf("edit rating: %v", err)
	}
	if res.Review.Rating != 5 || res.Review.Text != r.Text || res.Aggregate.Average != 5 {
		t.Fatalf("unexpected edit result %+v", res)
	}

	text := "  second thoughts  "
	res, err = l.Edit(ctx, r.ID, Patch{Text: &text}, nil)
	if err != nil {
		t.Fatalf("edit text: %v", err)
	}
	if res.Review.Text != "second thoughts" || res.Review.Rating != 5 {
		t.Fatalf("unexpected edit result %+v", res.Review)
	}

	if _, err := l.Edit(ctx, r.ID, Patch{}, nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("empty patch: expected ErrInvalidInput, got %v", err)
	}
	bad := 0
	if _, err := l.Edit(ctx, r.ID, Patch{Rating: &bad}, nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("bad rating: expected ErrInvalidInput, got %v", err)
	}
	if _, err := l.Edit(ctx, "missing", Patch{Rating: &rating}, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing review: expected ErrNotFound, got %v", err)
	}
}

func TestLedgerGuardRejectionChangesNothing(t *testing.T) {
	s := newMemStore()
	s.addMovie("m", "Heat")
	s.addUser("u", "Ann")
	l := newTestLedger(s)
	r := mustUpsert(t, l, "m", "u", 3).Review

	deny := func(domain.Review) error { return domain.ErrForbidden }
	rating := 1
	if _, err := l.Edit(context.Background(), r.ID, Patch{Rating: &rating}, deny); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := l.Delete(context.Background(), r.ID, deny); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	got, err := l.Get(context.Background(), r.ID)
	if err != nil || got.Rating != 3 {
		t.Fatalf("guarded review changed: %+v, %v", got, err)
	}
}

func TestLedgerGetByMovieAndUserAbsent(t *testing.T) {
	s := newMemStore()
	s.addMovie("m", "Heat")
	l := newTestLedger(s)

	got, err := l.GetByMovieAndUser(context.Background(), "m", "nobody")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", got, err)
	}
}

func TestLedgerListForMovie(t *testing.T) {
	s := newMemStore()
	s.addMovie("m", "Heat")
	s.addMovie("empty", "Ran")
	s.addUser("u1", "Ann")
	s.addUser("u2", "Bob")
	l := newTestLedger(s)
	mustUpsert(t, l, "m", "u1", 4)
	mustUpsert(t, l, "m", "u2", 2)
	ctx := context.Background()

	items, err := l.ListForMovie(ctx, "m")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].UserID != "u2" || items[0].AuthorName != "Bob" {
		t.Fatalf("expected most recent first with author names, got %+v", items)
	}

	items, err = l.ListForMovie(ctx, "empty")
	if err != nil || len(items) != 0 {
		t.Fatalf("expected empty list, got %+v, %v", items, err)
	}

	if _, err := l.ListForMovie(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLedgerListAllBounds(t *testing.T) {
	s := newMemStore()
	s.addMovie("m1", "Heat")
	s.addMovie("m2", "Ran")
	s.addUser("u1", "Ann")
	s.addUser("u2", "Bob")
	l := newTestLedger(s)
	mustUpsert(t, l, "m1", "u1", 4)
	mustUpsert(t, l, "m2", "u1", 3)
	mustUpsert(t, l, "m1", "u2", 1)
	ctx := context.Background()

	all, err := l.ListAll(ctx, ListFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 listings, got %d, %v", len(all), err)
	}
	if all[0].MovieTitle != "Heat" || all[0].AuthorName != "Bob" {
		t.Fatalf("unexpected first listing %+v", all[0])
	}

	byUser, err := l.ListAll(ctx, ListFilter{UserID: "u1"})
	if err != nil || len(byUser) != 2 {
		t.Fatalf("expected 2 listings for u1, got %d, %v", len(byUser), err)
	}

	page, err := l.ListAll(ctx, ListFilter{Limit: 1, Offset: 1})
	if err != nil || len(page) != 1 || page[0].MovieID != "m2" {
		t.Fatalf("unexpected page %+v, %v", page, err)
	}
}

func TestLedgerConcurrentUpsertsKeepOneReview(t *testing.T) {
	s := newMemStore()
	s.addMovie("m", "Heat")
	s.addUser("u", "Ann")
	l := newTestLedger(s)

	const writers = 8
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		rating := i%5 + 1
		go func() {
			_, err := l.Upsert(context.Background(), "m", "u", rating, "race")
			errs <- err
		}()
	}
	for i := 0; i < writers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if s.reviewCount() != 1 {
		t.Fatalf("expected one review, have %d", s.reviewCount())
	}
	own, _ := l.GetByMovieAndUser(context.Background(), "m", "u")
	if s.average("m") != float64(own.Rating) {
		t.Fatalf("average %v does not match surviving rating %d", s.average("m"), own.Rating)
	}
}
