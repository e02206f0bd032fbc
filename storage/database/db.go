package database

import (
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/trezcool/elearn/core"
	appfs "github.com/trezcool/elearn/fs"
)

// Supported engines.
const (
	EnginePostgres = "postgres"
	EngineSQLite   = "sqlite3"
	EngineInMem    = "inmem"
)

var ErrUnknownEngine = errors.New("unknown database engine")

func open(dbName string, admin bool, conf *core.Config) (*sqlx.DB, error) {
	switch conf.Database.Engine {
	case EnginePostgres:
		user := url.UserPassword(conf.Database.User, conf.Database.Password)
		if admin && conf.Database.AdminUser != "" {
			user = url.UserPassword(conf.Database.AdminUser, conf.Database.AdminPassword)
		}

		sslMode := "require"
		if conf.Database.DisableTLS {
			sslMode = "disable"
		}
		q := make(url.Values)
		q.Set("sslmode", sslMode)
		q.Set("timezone", "utc")

		u := url.URL{
			Scheme:   conf.Database.Engine,
			User:     user,
			Host:     conf.Database.Address(),
			Path:     dbName,
			RawQuery: q.Encode(),
		}
		return sqlx.Open(EnginePostgres, u.String())
	case EngineSQLite:
		return OpenSQLite(dbName)
	default:
		return nil, errors.Wrap(ErrUnknownEngine, conf.Database.Engine)
	}
}

// OpenSQLite opens the sqlite3 database at dsn with foreign keys enforced.
func OpenSQLite(dsn string) (*sqlx.DB, error) {
	if !strings.Contains(dsn, "_foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_foreign_keys=on"
	}
	db, err := sqlx.Open(EngineSQLite, dsn)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer at a time
	db.SetMaxOpenConns(1)
	return db, nil
}

func Open(conf *core.Config) (*sqlx.DB, error) {
	return open(conf.Database.Name, false, conf)
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sqlx.DB) error {
	var err error
	maxAttempts := 30
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		err = db.Ping()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}

	if err != nil {
		return errors.Wrap(err, "DB ping timeout")
	}
	return nil
}

func exists(db *sqlx.DB, query string, args ...interface{}) (bool, error) {
	var found bool
	err := db.Get(&found, query, args...)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return found, err
}

func createAppUser(db *sqlx.DB, conf *core.Config) error {
	if conf.Database.User == "" || conf.Database.User == conf.Database.AdminUser {
		return nil
	}

	found, err := exists(db, "SELECT true FROM pg_roles WHERE rolname = $1", conf.Database.User)
	if err != nil {
		return errors.Wrap(err, "checking app user")
	}
	if !found {
		q := fmt.Sprintf(
			"CREATE USER %s CREATEDB ENCRYPTED PASSWORD %s",
			pq.QuoteIdentifier(conf.Database.User), pq.QuoteLiteral(conf.Database.Password),
		)
		if _, err = db.Exec(q); err != nil {
			return errors.Wrap(err, "creating app user")
		}
	}
	return nil
}

func createDB(db *sqlx.DB, conf *core.Config) error {
	found, err := exists(db, "SELECT true FROM pg_database WHERE datname = $1", conf.Database.Name)
	if err != nil {
		return errors.Wrap(err, "checking DB")
	}
	if !found {
		if _, err = db.Exec("CREATE DATABASE " + pq.QuoteIdentifier(conf.Database.Name)); err != nil {
			return errors.Wrap(err, "creating database")
		}
	}
	return nil
}

// CreateIfNotExist creates the app user & database on postgres; other engines need nothing.
func CreateIfNotExist(conf *core.Config) error {
	if conf.Database.Engine != EnginePostgres {
		return nil
	}

	// connect as admin
	adminDB, err := open("postgres", true, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = adminDB.Close() }()

	if err = ping(adminDB); err != nil {
		return errors.Wrap(err, "pinging database")
	}
	if err = createAppUser(adminDB, conf); err != nil {
		return errors.Wrap(err, "creating app user")
	}

	// create DB as app user
	db, err := open("postgres", false, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = db.Close() }()
	return createDB(db, conf)
}

// MigrationsDir returns the embedded migrations directory of engine.
func MigrationsDir(engine string) string {
	return path.Join(appfs.MigrationsDir, engine)
}

// SetUpGoose points goose at the embedded migrations of engine.
func SetUpGoose(engine string, logger *log.Logger) error {
	goose.SetBaseFS(appfs.FS)
	if logger != nil {
		goose.SetLogger(logger)
	}
	return goose.SetDialect(engine)
}

func Migrate(db *sqlx.DB, logger *log.Logger) error {
	engine := db.DriverName()
	if err := SetUpGoose(engine, logger); err != nil {
		return errors.Wrap(err, "setting up migrations")
	}
	if err := goose.Up(db.DB, MigrationsDir(engine)); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}
