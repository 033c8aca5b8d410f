// Package events publishes committed review changes to NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

// Subjects and the stream that captures them.
const (
	SubjectRatingUpdated = "movies.rating.updated"
	SubjectReviewDeleted = "reviews.deleted"

	StreamName = "MOVIE_REVIEWS"
)

var streamSubjects = []string{"movies.>", "reviews.>"}

// Event is the envelope written to every subject.
type Event struct {
	EventID    string    `json:"event_id"`
	EventName  string    `json:"event_name"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// RatingUpdatedPayload is published after a movie's average rating changes.
type RatingUpdatedPayload struct {
	MovieID string  `json:"movieId"`
	Average float64 `json:"average"`
	Count   int64   `json:"count"`
}

// ReviewDeletedPayload is published after a review is removed.
type ReviewDeletedPayload struct {
	ReviewID string `json:"reviewId"`
	MovieID  string `json:"movieId"`
	UserID   string `json:"userId"`
}

// Publisher sends events and waits for the JetStream ack. A nil JetStream
// context turns it into a stub that only logs at debug level.
type Publisher struct {
	js  nats.JetStreamContext
	log *zap.Logger
	now func() time.Time
}

// New creates a Publisher over an existing JetStream context; js may be nil.
func New(js nats.JetStreamContext, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{js: js, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Connect dials url, ensures the stream exists and returns a Publisher with
// its close function. An empty url yields a stub.
func Connect(url string, log *zap.Logger) (*Publisher, func(), error) {
	if url == "" {
		return New(nil, log), func() {}, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("movie-reviews"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(false),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}
	if err := ensureStream(js); err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}
	closeFn := func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return New(js, log), closeFn, nil
}

func ensureStream(js nats.JetStreamManager) error {
	_, err := js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: streamSubjects,
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	return err
}

// RatingUpdated announces a movie's refreshed aggregate.
func (p *Publisher) RatingUpdated(ctx context.Context, agg domain.RatingAggregate) error {
	return p.publish(SubjectRatingUpdated, "movie.rating_updated", RatingUpdatedPayload{
		MovieID: agg.MovieID,
		Average: agg.Average,
		Count:   agg.Count,
	})
}

// ReviewDeleted announces a removed review.
func (p *Publisher) ReviewDeleted(ctx context.Context, review domain.Review) error {
	return p.publish(SubjectReviewDeleted, "review.deleted", ReviewDeletedPayload{
		ReviewID: review.ID,
		MovieID:  review.MovieID,
		UserID:   review.UserID,
	})
}

func (p *Publisher) publish(subject, name string, payload any) error {
	if p == nil {
		return nil
	}
	if p.js == nil {
		p.log.Debug("events: stub publish", zap.String("subject", subject))
		return nil
	}
	data, err := json.Marshal(Event{
		EventID:    uuid.NewString(),
		EventName:  name,
		OccurredAt: p.now(),
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	ack, err := p.js.Publish(subject, data)
	if err != nil {
		p.log.Warn("events: publish failed", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.log.Debug("events: published",
		zap.String("subject", subject),
		zap.String("stream", ack.Stream),
		zap.Uint64("seq", ack.Sequence),
	)
	return nil
}
