// Package sqlxrepos holds the sqlx repositories, shared by the postgres and sqlite3 engines.
// Queries are written with '?' bind vars and rebound for the driver in use.
package sqlxrepos

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/elearn/core"
)

// withTx runs fn in a transaction, rolled back when fn fails.
func withTx(ctx context.Context, db core.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func count(ctx context.Context, db core.DBExecutor, query string, args ...interface{}) (int, error) {
	var n int
	err := db.GetContext(ctx, &n, db.Rebind(query), args...)
	return n, err
}

func queryIDs(ctx context.Context, db core.DBExecutor, query string, args ...interface{}) ([]int, error) {
	ids := make([]int, 0)
	if err := db.SelectContext(ctx, &ids, db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return ids, nil
}

// insertReturningID runs an INSERT ... RETURNING id statement.
func insertReturningID(ctx context.Context, db core.DBExecutor, query string, args ...interface{}) (int, error) {
	var id int
	err := db.QueryRowxContext(ctx, db.Rebind(query), args...).Scan(&id)
	return id, err
}

// roleList is stored as a comma separated TEXT column.
type roleList []string

var (
	_ sql.Scanner   = (*roleList)(nil)
	_ driver.Valuer = roleList(nil)
)

func (rl *roleList) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case nil:
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return errors.Errorf("cannot scan %T into roleList", src)
	}
	if s == "" {
		*rl = nil
		return nil
	}
	*rl = strings.Split(s, ",")
	return nil
}

func (rl roleList) Value() (driver.Value, error) {
	return strings.Join(rl, ","), nil
}
