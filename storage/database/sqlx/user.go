package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/user"
)

const selectUsers = `
SELECT u.id, u.name, u.username, u.email, u.is_active, u.roles, u.password_hash,
       u.created_at, u.updated_at, u.last_login,
       COALESCE(p.public_name, '') AS public_name,
       COALESCE(p.public_status, '') AS public_status,
       COALESCE(p.public_bio, '') AS public_bio
FROM users u
LEFT JOIN user_profile p ON p.user_id = u.id`

// sortable columns of QueryUsers
var userOrderingFields = map[string]string{
	"name":       "u.name",
	"username":   "u.username",
	"email":      "u.email",
	"is_active":  "u.is_active",
	"created_at": "u.created_at",
	"last_login": "u.last_login",
}

type userRow struct {
	ID           int          `db:"id"`
	Name         string       `db:"name"`
	Username     string       `db:"username"`
	Email        string       `db:"email"`
	IsActive     bool         `db:"is_active"`
	Roles        roleList     `db:"roles"`
	PasswordHash []byte       `db:"password_hash"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
	LastLogin    sql.NullTime `db:"last_login"`
	user.Profile
}

func (row userRow) toUser() user.User {
	usr := user.User{
		ID:           row.ID,
		Name:         row.Name,
		Username:     row.Username,
		Email:        row.Email,
		IsActive:     row.IsActive,
		Roles:        []string(row.Roles),
		PasswordHash: row.PasswordHash,
		Profile:      row.Profile,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.LastLogin.Valid {
		usr.LastLogin = row.LastLogin.Time.UTC()
	}
	if len(usr.PasswordHash) == 0 {
		usr.PasswordHash = nil
	}
	return usr
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// passwordHash is never NULL; users without a password get an empty hash.
func passwordHash(usr user.User) []byte {
	if usr.PasswordHash == nil {
		return []byte{}
	}
	return usr.PasswordHash
}

type userRepository struct {
	db core.DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db core.DB) user.Repository {
	return &userRepository{db: db}
}

func excludedIDs(excludedUsers []user.User) []int {
	ids := make([]int, 0, len(excludedUsers))
	for _, usr := range excludedUsers {
		ids = append(ids, usr.ID)
	}
	return ids
}

// excluding appends an "id NOT IN (...)" clause to query when users are excluded.
func excluding(query, column string, args []interface{}, excludedUsers []user.User) (string, []interface{}, error) {
	if len(excludedUsers) == 0 {
		return query, args, nil
	}
	q, inArgs, err := sqlx.In(" AND "+column+" NOT IN (?)", excludedIDs(excludedUsers))
	if err != nil {
		return "", nil, err
	}
	return query + q, append(args, inArgs...), nil
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	if username != "" {
		q, args, err := excluding("SELECT COUNT(*) FROM users WHERE username = ?", "id", []interface{}{username}, excludedUsers)
		if err != nil {
			return err
		}
		n, err := count(ctx, repo.db, q, args...)
		if err != nil {
			return errors.Wrap(err, "checking username")
		}
		if n > 0 {
			return user.ErrUsernameExists
		}
	}
	if email != "" {
		q, args, err := excluding("SELECT COUNT(*) FROM users WHERE email = ?", "id", []interface{}{email}, excludedUsers)
		if err != nil {
			return err
		}
		n, err := count(ctx, repo.db, q, args...)
		if err != nil {
			return errors.Wrap(err, "checking email")
		}
		if n > 0 {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CheckPublicNameUniqueness(ctx context.Context, publicName string, excludedUsers ...user.User) error {
	q, args, err := excluding("SELECT COUNT(*) FROM user_profile WHERE public_name = ?", "user_id", []interface{}{publicName}, excludedUsers)
	if err != nil {
		return err
	}
	n, err := count(ctx, repo.db, q, args...)
	if err != nil {
		return errors.Wrap(err, "checking public name")
	}
	if n > 0 {
		return user.ErrPublicNameExists
	}
	return nil
}

func saveProfile(ctx context.Context, tx *sqlx.Tx, userID int, prof user.Profile) error {
	q := `
INSERT INTO user_profile (user_id, public_name, public_status, public_bio) VALUES (?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    public_name = excluded.public_name,
    public_status = excluded.public_status,
    public_bio = excluded.public_bio`
	_, err := tx.ExecContext(ctx, tx.Rebind(q), userID, prof.PublicName, prof.PublicStatus, prof.PublicBio)
	return errors.Wrap(err, "saving profile")
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := `
INSERT INTO users (name, username, email, is_active, roles, password_hash, created_at, updated_at, last_login)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`
		id, err := insertReturningID(
			ctx, tx, q,
			usr.Name, usr.Username, usr.Email, usr.IsActive, roleList(usr.Roles), passwordHash(usr),
			usr.CreatedAt, usr.UpdatedAt, nullTime(usr.LastLogin),
		)
		if err != nil {
			return errors.Wrap(err, "inserting user")
		}
		usr.ID = id
		return saveProfile(ctx, tx, id, usr.Profile)
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter != nil {
		if filter.Search != "" {
			search := "%" + strings.ToLower(filter.Search) + "%"
			where = append(where, "(LOWER(u.name) LIKE ? OR u.username LIKE ? OR u.email LIKE ?)")
			args = append(args, search, search, search)
		}
		if filter.IsActive != nil {
			where = append(where, "u.is_active = ?")
			args = append(args, *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			where = append(where, "u.created_at >= ?")
			args = append(args, filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			where = append(where, "u.created_at <= ?")
			args = append(args, filter.CreatedTo.UTC())
		}
		if len(filter.Roles) > 0 {
			roles := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				roles = append(roles, "(',' || u.roles) LIKE ?")
				args = append(args, "%,"+role+"%")
			}
			where = append(where, "("+strings.Join(roles, " OR ")+")")
		}
	}

	q := selectUsers
	if len(where) > 0 {
		q += "\nWHERE " + strings.Join(where, " AND ")
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: false}}
	}
	orderBy := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		if col, ok := userOrderingFields[ord.Field]; ok {
			orderBy = append(orderBy, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
		}
	}
	orderBy = append(orderBy, "u.id ASC")
	q += "\nORDER BY " + strings.Join(orderBy, ", ")

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var (
		cond string
		args []interface{}
	)
	switch {
	case filter.ID != 0:
		cond, args = "u.id = ?", []interface{}{filter.ID}
	case filter.Username != "":
		cond, args = "u.username = ?", []interface{}{filter.Username}
	case filter.Email != "":
		cond, args = "u.email = ?", []interface{}{filter.Email}
	case filter.UsernameOrEmail != "":
		cond, args = "(u.username = ? OR u.email = ?)", []interface{}{filter.UsernameOrEmail, filter.UsernameOrEmail}
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	if err := repo.db.GetContext(ctx, &row, repo.db.Rebind(selectUsers+"\nWHERE "+cond+"\nLIMIT 1"), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := `
UPDATE users
SET name = ?, username = ?, email = ?, is_active = ?, roles = ?, password_hash = ?, updated_at = ?, last_login = ?
WHERE id = ?`
		res, err := tx.ExecContext(
			ctx, tx.Rebind(q),
			usr.Name, usr.Username, usr.Email, usr.IsActive, roleList(usr.Roles), passwordHash(usr),
			usr.UpdatedAt, nullTime(usr.LastLogin), usr.ID,
		)
		if err != nil {
			return errors.Wrap(err, "updating user")
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return user.ErrNotFound
		}
		return saveProfile(ctx, tx, usr.ID, usr.Profile)
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...int) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In("DELETE FROM users WHERE id IN (?)", ids)
	if err != nil {
		return err
	}
	_, err = repo.db.ExecContext(ctx, repo.db.Rebind(q), args...)
	return errors.Wrap(err, "deleting users")
}
