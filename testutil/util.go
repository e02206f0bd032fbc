// Package testutil holds the helpers shared by the test suites.
package testutil

import (
	"context"
	"io/ioutil"
	"log"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/user"
	logsvc "github.com/trezcool/elearn/services/logger"
	"github.com/trezcool/elearn/storage/database"
)

// NewConfig returns the default config, in test mode, with the in-memory engine & broker.
func NewConfig() *core.Config {
	conf := core.NewConfig()
	conf.TestMode = true
	conf.Database.Engine = database.EngineInMem
	conf.Chat.Broker = "inmem"
	conf.Chat.RateLimit = 0
	return conf
}

// NewLogger returns a logger that prints nothing and never reports.
func NewLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(ioutil.Discard, "", 0), conf)
	logger.Enable(false)
	return logger
}

func NewValidator() (*validator.Validate, ut.Translator) {
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)
	return validate, translator
}

// OpenSQLiteDB opens a private in-memory sqlite3 database, migrated and closed on cleanup.
func OpenSQLiteDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.OpenSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("OpenSQLiteDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db, log.New(ioutil.Discard, "", 0)); err != nil {
		t.Fatalf("OpenSQLiteDB() failed to migrate: %v", err)
	}
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		Profile:   user.Profile{PublicName: uname},
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}
