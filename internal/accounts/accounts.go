// Package accounts manages registration, login and administrator user
// management.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Clark-Hu/movie-reviews/internal/auth"
	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/repository"
	"github.com/Clark-Hu/movie-reviews/internal/reviews"
	"github.com/Clark-Hu/movie-reviews/internal/validation"
)

var errEmailTaken = domain.Conflict("a user with this email already exists")

// Session is a signed-in user with a fresh access token.
type Session struct {
	User      domain.User
	Token     string
	ExpiresAt time.Time
}

// RegisterInput is the self-service sign-up payload.
type RegisterInput struct {
	Name     string `json:"name" validate:"notblank,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// UpdateUserInput is an administrator's partial edit of a user.
type UpdateUserInput struct {
	Name  *string `json:"name" validate:"omitempty,notblank,max=100"`
	Email *string `json:"email" validate:"omitempty,email,max=254"`
	Role  *string `json:"role" validate:"omitempty,oneof=user admin"`
}

// Options configures a Service.
type Options struct {
	Issuer auth.Issuer
	// PrimaryAdminEmail names the seeded administrator, who cannot be deleted.
	PrimaryAdminEmail string
	Publisher         reviews.EventPublisher
	Logger            *zap.Logger
	// HashCost overrides bcrypt.DefaultCost.
	HashCost int
}

// Service implements account operations.
type Service struct {
	repo         *repository.Repository
	coordinator  *reviews.Coordinator
	issuer       auth.Issuer
	primaryAdmin string
	publisher    reviews.EventPublisher
	logger       *zap.Logger
	hashCost     int
	newID        func() string
}

// NewService builds the accounts service.
func NewService(repo *repository.Repository, coordinator *reviews.Coordinator, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cost := opts.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		repo:         repo,
		coordinator:  coordinator,
		issuer:       opts.Issuer,
		primaryAdmin: normalizeEmail(opts.PrimaryAdminEmail),
		publisher:    opts.Publisher,
		logger:       logger,
		hashCost:     cost,
		newID:        uuid.NewString,
	}
}

// Register creates a member account and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if err := validation.Struct(&in); err != nil {
		return Session{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.repo.Users.Create(ctx, repository.UserCreateParams{
		ID:           s.newID(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
	})
	if errors.Is(err, domain.ErrConflict) {
		return Session{}, errEmailTaken
	}
	if err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return s.session(user)
}

// Login checks credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	creds, err := s.repo.Users.GetCredentialsByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, domain.ErrNotFound) {
		return Session{}, domain.ErrUnauthenticated
	}
	if err != nil {
		return Session{}, fmt.Errorf("load credentials: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)) != nil {
		return Session{}, domain.ErrUnauthenticated
	}
	return s.session(creds.User)
}

// Me returns the caller's account.
func (s *Service) Me(ctx context.Context, actor domain.Principal) (domain.User, error) {
	if !actor.Authenticated() {
		return domain.User{}, domain.ErrUnauthenticated
	}
	return s.repo.Users.GetByID(ctx, actor.UserID)
}

// EnsureAdmin makes sure an administrator with email exists, creating it with
// password when absent and promoting it otherwise. It is a no-op for an empty email.
func (s *Service) EnsureAdmin(ctx context.Context, email, password, name string) (domain.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return domain.User{}, nil
	}
	creds, err := s.repo.Users.GetCredentialsByEmail(ctx, email)
	switch {
	case err == nil:
		if creds.User.Role == domain.RoleAdmin {
			return creds.User, nil
		}
		role := domain.RoleAdmin
		user, err := s.repo.Users.Update(ctx, creds.User.ID, repository.UserUpdateParams{Role: &role})
		if err != nil {
			return domain.User{}, fmt.Errorf("promote admin: %w", err)
		}
		s.logger.Info("promoted existing user to administrator", zap.String("user_id", user.ID))
		return user, nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.User{}, fmt.Errorf("load admin: %w", err)
	}

	if len(password) < 6 {
		return domain.User{}, domain.InvalidInput("admin password must be at least 6 characters")
	}
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.repo.Users.Create(ctx, repository.UserCreateParams{
		ID:           s.newID(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
	})
	if errors.Is(err, domain.ErrConflict) {
		// Another instance seeded it first.
		creds, err := s.repo.Users.GetCredentialsByEmail(ctx, email)
		if err != nil {
			return domain.User{}, fmt.Errorf("load admin: %w", err)
		}
		return creds.User, nil
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("create admin: %w", err)
	}
	s.logger.Info("seeded administrator", zap.String("user_id", user.ID))
	return user, nil
}

// ListUsers returns users, newest first.
func (s *Service) ListUsers(ctx context.Context, actor domain.Principal, limit, offset int) ([]domain.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.repo.Users.List(ctx, limit, offset)
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, actor domain.Principal, id string) (domain.User, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.User{}, err
	}
	return s.repo.Users.GetByID(ctx, id)
}

// UpdateUser edits name, email or role.
func (s *Service) UpdateUser(ctx context.Context, actor domain.Principal, id string, in UpdateUserInput) (domain.User, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.User{}, err
	}
	if in.Name == nil && in.Email == nil && in.Role == nil {
		return domain.User{}, domain.InvalidInput("at least one of name, email or role must be provided")
	}
	if in.Name != nil {
		v := strings.TrimSpace(*in.Name)
		in.Name = &v
	}
	if in.Email != nil {
		v := normalizeEmail(*in.Email)
		in.Email = &v
	}
	if err := validation.Struct(&in); err != nil {
		return domain.User{}, err
	}

	params := repository.UserUpdateParams{Name: in.Name, Email: in.Email}
	if in.Role != nil {
		role := domain.Role(*in.Role)
		if role != domain.RoleAdmin && id == actor.UserID {
			return domain.User{}, fmt.Errorf("%w: administrators cannot demote themselves", domain.ErrForbidden)
		}
		params.Role = &role
	}
	user, err := s.repo.Users.Update(ctx, id, params)
	if errors.Is(err, domain.ErrConflict) {
		return domain.User{}, errEmailTaken
	}
	return user, err
}

// DeleteUser removes a user and every review they wrote in one transaction,
// refreshing the aggregates of the movies they had reviewed.
func (s *Service) DeleteUser(ctx context.Context, actor domain.Principal, id string) (reviews.CascadeResult, error) {
	if err := requireAdmin(actor); err != nil {
		return reviews.CascadeResult{}, err
	}
	if id == actor.UserID {
		return reviews.CascadeResult{}, fmt.Errorf("%w: administrators cannot delete themselves", domain.ErrForbidden)
	}

	var result reviews.CascadeResult
	err := s.repo.InTx(ctx, func(tx *repository.Repository) error {
		target, err := tx.Users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if s.primaryAdmin != "" && target.Email == s.primaryAdmin {
			return fmt.Errorf("%w: the primary administrator cannot be deleted", domain.ErrForbidden)
		}
		result, err = s.coordinator.OnUserDeleted(ctx, tx.Reviews, id)
		if err != nil {
			return err
		}
		return tx.Users.Delete(ctx, id)
	})
	if err != nil {
		return reviews.CascadeResult{}, err
	}

	s.logger.Info("user deleted",
		zap.String("user_id", id),
		zap.String("admin_id", actor.UserID),
		zap.Int64("reviews_removed", result.RemovedReviews))
	if s.publisher != nil {
		for _, agg := range result.Aggregates {
			if err := s.publisher.RatingUpdated(ctx, agg); err != nil {
				s.logger.Warn("publish rating updated", zap.String("movie_id", agg.MovieID), zap.Error(err))
			}
		}
	}
	return result, nil
}

func (s *Service) session(user domain.User) (Session, error) {
	token, exp, err := s.issuer.Issue(user, time.Time{})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{User: user, Token: token, ExpiresAt: exp}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func requireAdmin(actor domain.Principal) error {
	if !actor.Authenticated() {
		return domain.ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		return domain.ErrForbidden
	}
	return nil
}
