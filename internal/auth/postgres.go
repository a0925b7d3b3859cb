package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore { return &userStore{db: s.db} }
func (s *PGStore) Roles(context.Context) RoleStore { return &roleStore{db: s.db} }

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

const userColumns = `id, email, display_name, password_hash, external_id, role_id,
	must_reset_password, reset_token_hash, reset_token_expires, created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	var (
		u            User
		passwordHash sql.NullString
		externalID   sql.NullString
		resetHash    sql.NullString
		resetExpires sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &passwordHash, &externalID, &u.RoleID,
		&u.MustResetPassword, &resetHash, &resetExpires, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.PasswordHash = passwordHash.String
	u.ExternalID = externalID.String
	u.ResetTokenHash = resetHash.String
	u.ResetTokenExpires = resetExpires.Time
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email) = lower($1)`, email)
	return scanUser(row)
}

func (s *userStore) FindByExternalID(ctx context.Context, externalID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where external_id = $1`, externalID)
	return scanUser(row)
}

func (s *userStore) Create(ctx context.Context, u *User) error {
	row := s.db.QueryRowContext(ctx, `
		insert into users (email, display_name, password_hash, external_id, role_id)
		values ($1, $2, nullif($3, ''), nullif($4, ''), $5)
		returning id, created_at, updated_at
	`, u.Email, u.DisplayName, u.PasswordHash, u.ExternalID, u.RoleID)
	if err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ErrConflict
		}
		return err
	}
	return nil
}

// UpdatePassword replaces the password hash and clears all pending reset
// state in one statement.
func (s *userStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		   set password_hash = $2,
		       must_reset_password = false,
		       reset_token_hash = null,
		       reset_token_expires = null,
		       updated_at = now()
		 where id = $1
	`, id, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) SetResetToken(ctx context.Context, id int64, tokenHash string, expires time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		   set reset_token_hash = $2,
		       reset_token_expires = $3,
		       updated_at = now()
		 where id = $1
	`, id, tokenHash, expires)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) Profile(ctx context.Context, id int64) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		select u.id, u.email, u.display_name, r.permission_bitmap::text,
		       u.external_id is not null
		  from users u
		  join roles r on r.id = u.role_id
		 where u.id = $1
	`, id)
	var p Profile
	if err := row.Scan(&p.ID, &p.Email, &p.Name, &p.Permissions, &p.IsFederated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Role store ---------------------------------------------------------------

type roleStore struct{ db *sql.DB }

func (s *roleStore) List(ctx context.Context) ([]RoleSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name from roles order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []RoleSummary
	for rows.Next() {
		var r RoleSummary
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *roleStore) Find(ctx context.Context, id int64) (*RoleDetail, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, permission_bitmap::text from roles where id = $1`, id)
	var d RoleDetail
	if err := row.Scan(&d.ID, &d.Name, &d.Permissions); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`select id, display_name from users where role_id = $1 order by id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var u UserSummary
		if err := rows.Scan(&u.ID, &u.DisplayName); err != nil {
			return nil, err
		}
		d.Users = append(d.Users, u)
	}
	return &d, rows.Err()
}

func (s *roleStore) Create(ctx context.Context, role *Role) error {
	row := s.db.QueryRowContext(ctx, `
		insert into roles (name, permission_bitmap)
		values ($1, $2::bit(256))
		returning id, created_at, updated_at
	`, role.Name, role.Permissions.String())
	if err := row.Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *roleStore) Rename(ctx context.Context, id int64, name string) error {
	res, err := s.db.ExecContext(ctx,
		`update roles set name = $2, updated_at = now() where id = $1`, id, name)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ErrConflict
		}
		return err
	}
	return requireRow(res)
}

func (s *roleStore) Delete(ctx context.Context, id int64) error {
	var assigned int
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from users where role_id = $1`, id).Scan(&assigned); err != nil {
		return err
	}
	if assigned > 0 {
		return ErrRoleInUse
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return ErrRoleInUse
		}
		return err
	}
	return requireRow(res)
}

// SetPermission is a read-modify-write of one row. Concurrent edits to the
// same role race with last-write-wins, which is acceptable for rare
// administrative actions.
func (s *roleStore) SetPermission(ctx context.Context, roleID int64, perm Permission, enabled bool) error {
	if !perm.Valid() {
		return fmt.Errorf("%w: permission code %d", ErrInvalidInput, perm)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`select permission_bitmap::text from roles where id = $1 for update`, roleID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	bitmap, err := ParseBitmap(raw)
	if err != nil {
		return err
	}
	bitmap.Set(int(perm), enabled)
	if _, err := tx.ExecContext(ctx,
		`update roles set permission_bitmap = $2::bit(256), updated_at = now() where id = $1`,
		roleID, bitmap.String()); err != nil {
		return err
	}
	return tx.Commit()
}

// Authorized pushes the bit test to the storage layer: a single predicate
// comparing two fixed-width bit patterns with a bitwise AND, instead of
// transferring the user/role graph to test membership.
func (s *roleStore) Authorized(ctx context.Context, userID int64, required Bitmap) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		select (r.permission_bitmap & $2::bit(256)) = $2::bit(256)
		  from users u
		  join roles r on r.id = u.role_id
		 where u.id = $1
	`, userID, required.String())
	var allowed bool
	if err := row.Scan(&allowed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return allowed, nil
}

// helpers ------------------------------------------------------------------

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
