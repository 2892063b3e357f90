package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/database"
	"github.com/leafcare/leafcare-engine/pkg/models"
)

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = apperrors.NotFound("user_not_found", "User not found")

const pgUniqueViolation = "23505"

// adminGuardLockKey is the transaction advisory lock that serializes changes
// able to remove an administrator.
const adminGuardLockKey int64 = 0x6c656166_61646d6e

// UserRepository defines the interface for user data access.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter, limit, offset int) ([]*models.User, int64, error)
	// Update writes name, email, roles and tenant. It returns ErrLastAdmin when
	// the change would leave no active administrator.
	Update(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	// SetActive toggles the active flag. Deactivation clears the stored refresh
	// token hash and fails with ErrLastAdmin for the last active administrator.
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	SetRefreshTokenHash(ctx context.Context, id uuid.UUID, hash *string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	// Delete permanently removes a user, guarded like SetActive.
	Delete(ctx context.Context, id uuid.UUID) error
}

// userRepository implements UserRepository using PostgreSQL.
type userRepository struct {
	db *database.DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *database.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, name, email, password_hash, roles, is_active, tenant_id,
	refresh_token_hash, last_login_at, created_at, updated_at`

// Create inserts a user and fills in its generated id and timestamps.
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.Email = models.NormalizeEmail(user.Email)

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, name, email, password_hash, roles, is_active, tenant_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		models.RoleStrings(user.Roles),
		user.IsActive,
		user.TenantID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by id.
func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByEmail retrieves a user by normalized email.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.getOne(ctx, query, models.NormalizeEmail(email))
}

func (r *userRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// List returns one page of users matching filter plus the total match count.
func (r *userRepository) List(ctx context.Context, filter models.UserFilter, limit, offset int) ([]*models.User, int64, error) {
	where, args := buildUserFilter(filter)

	var total int64
	countQuery := `SELECT COUNT(*) FROM users` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating users: %w", err)
	}

	return users, total, nil
}

// Update writes the mutable profile fields of a user.
func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	user.Email = models.NormalizeEmail(user.Email)
	user.UpdatedAt = time.Now().UTC()

	return r.withAdminGuard(ctx, user.ID, !user.HasRole(models.RoleAdmin), func(tx pgx.Tx) (pgconn.CommandTag, error) {
		return tx.Exec(ctx, `
			UPDATE users
			SET name = $1, email = $2, roles = $3, tenant_id = $4, updated_at = $5
			WHERE id = $6`,
			user.Name, user.Email, models.RoleStrings(user.Roles), user.TenantID, user.UpdatedAt, user.ID)
	})
}

// UpdatePassword replaces the stored password hash.
func (r *userRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`
	return r.execOne(ctx, query, passwordHash, time.Now().UTC(), id)
}

// SetActive activates or deactivates a user.
func (r *userRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if active {
		query := `UPDATE users SET is_active = TRUE, updated_at = $1 WHERE id = $2`
		return r.execOne(ctx, query, time.Now().UTC(), id)
	}

	return r.withAdminGuard(ctx, id, true, func(tx pgx.Tx) (pgconn.CommandTag, error) {
		return tx.Exec(ctx, `
			UPDATE users
			SET is_active = FALSE, refresh_token_hash = NULL, updated_at = $1
			WHERE id = $2`,
			time.Now().UTC(), id)
	})
}

// SetRefreshTokenHash stores (or clears, when hash is nil) the refresh token hash.
func (r *userRepository) SetRefreshTokenHash(ctx context.Context, id uuid.UUID, hash *string) error {
	query := `UPDATE users SET refresh_token_hash = $1, updated_at = $2 WHERE id = $3`
	return r.execOne(ctx, query, hash, time.Now().UTC(), id)
}

// TouchLastLogin records a successful login.
func (r *userRepository) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE users SET last_login_at = $1 WHERE id = $2`
	return r.execOne(ctx, query, at.UTC(), id)
}

// Delete permanently removes a user.
func (r *userRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.withAdminGuard(ctx, id, true, func(tx pgx.Tx) (pgconn.CommandTag, error) {
		return tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	})
}

func (r *userRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// withAdminGuard runs mutate in a transaction. When removesAdmin is true and
// the target is currently an active admin, the mutation is refused if no
// other active admin exists. Guarded transactions hold adminGuardLockKey, so
// two of them never count admins concurrently.
func (r *userRepository) withAdminGuard(ctx context.Context, id uuid.UUID, removesAdmin bool, mutate func(tx pgx.Tx) (pgconn.CommandTag, error)) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if removesAdmin {
		if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, adminGuardLockKey); err != nil {
			return fmt.Errorf("failed to acquire admin guard lock: %w", err)
		}
	}

	var roles []string
	var active bool
	err = tx.QueryRow(ctx, `SELECT roles, is_active FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&roles, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to get user: %w", err)
	}

	isActiveAdmin := active && containsRole(roles, models.RoleAdmin)
	if removesAdmin && isActiveAdmin {
		var others int
		countQuery := `SELECT COUNT(*) FROM users WHERE is_active AND 'ADMIN' = ANY(roles) AND id <> $1`
		if err = tx.QueryRow(ctx, countQuery, id).Scan(&others); err != nil {
			return fmt.Errorf("failed to count admins: %w", err)
		}
		if others == 0 {
			return apperrors.ErrLastAdmin
		}
	}

	result, err := mutate(tx)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func buildUserFilter(filter models.UserFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.Role != nil {
		args = append(args, string(*filter.Role))
		conds = append(conds, fmt.Sprintf("$%d = ANY(roles)", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if filter.TenantID != nil {
		args = append(args, *filter.TenantID)
		conds = append(conds, fmt.Sprintf("tenant_id = $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	var roles []string
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&roles,
		&user.IsActive,
		&user.TenantID,
		&user.RefreshTokenHash,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Roles = models.ParseRoles(roles)
	return &user, nil
}

func containsRole(roles []string, role models.Role) bool {
	for _, r := range roles {
		if models.Role(r) == role {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Ensure userRepository implements UserRepository at compile time.
var _ UserRepository = (*userRepository)(nil)
