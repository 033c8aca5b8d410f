package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

// UsersRepository persists accounts.
type UsersRepository struct {
	db DBTX
}

const userColumns = `id, name, email, role, created_at, updated_at`

// UserCreateParams bundles the fields required to create a user.
type UserCreateParams struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         domain.Role
}

// UserUpdateParams carries a partial update; nil fields keep their value.
type UserUpdateParams struct {
	Name  *string
	Email *string
	Role  *domain.Role
}

// UserCredentials pairs a user with the stored password hash.
type UserCredentials struct {
	User         domain.User
	PasswordHash string
}

// Create inserts a user. A taken email yields domain.ErrConflict.
func (r *UsersRepository) Create(ctx context.Context, params UserCreateParams) (domain.User, error) {
	query := fmt.Sprintf(`
        INSERT INTO users (id, name, email, password_hash, role)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING %s
    `, userColumns)
	user, err := scanUser(r.db.QueryRow(ctx, query, params.ID, params.Name, params.Email, params.PasswordHash, string(params.Role)))
	if err != nil {
		return domain.User{}, mapError(err)
	}
	return user, nil
}

// GetByID fetches a user by identifier.
func (r *UsersRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.User{}, mapError(err)
	}
	return user, nil
}

// GetCredentialsByEmail fetches a user and password hash by normalized email.
func (r *UsersRepository) GetCredentialsByEmail(ctx context.Context, email string) (UserCredentials, error) {
	query := fmt.Sprintf(`SELECT %s, password_hash FROM users WHERE email = $1`, userColumns)
	var (
		creds UserCredentials
		role  string
	)
	err := r.db.QueryRow(ctx, query, email).Scan(
		&creds.User.ID,
		&creds.User.Name,
		&creds.User.Email,
		&role,
		&creds.User.CreatedAt,
		&creds.User.UpdatedAt,
		&creds.PasswordHash,
	)
	if err != nil {
		return UserCredentials{}, mapError(err)
	}
	creds.User.Role = domain.Role(role)
	return creds, nil
}

// List returns users ordered by creation time, newest first.
func (r *UsersRepository) List(ctx context.Context, limit, offset int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 50
	} else if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`
        SELECT %s FROM users
        ORDER BY created_at DESC, id DESC
        LIMIT $1 OFFSET $2
    `, userColumns)
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// Update applies a partial update.
func (r *UsersRepository) Update(ctx context.Context, id string, params UserUpdateParams) (domain.User, error) {
	var role *string
	if params.Role != nil {
		v := string(*params.Role)
		role = &v
	}
	query := fmt.Sprintf(`
        UPDATE users
        SET name = COALESCE($2, name),
            email = COALESCE($3, email),
            role = COALESCE($4, role),
            updated_at = now()
        WHERE id = $1
        RETURNING %s
    `, userColumns)
	user, err := scanUser(r.db.QueryRow(ctx, query, id, params.Name, params.Email, role))
	if err != nil {
		return domain.User{}, mapError(err)
	}
	return user, nil
}

// SetPasswordHash replaces a user's password hash.
func (r *UsersRepository) SetPasswordHash(ctx context.Context, id, hash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes the user row. Authored reviews must already be gone.
func (r *UsersRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		user domain.User
		role string
	)
	err := row.Scan(&user.ID, &user.Name, &user.Email, &role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return domain.User{}, err
	}
	user.Role = domain.Role(role)
	return user, nil
}
