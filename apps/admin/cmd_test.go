package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io/ioutil"
	"strconv"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elearn/core/chat"
	"github.com/trezcool/elearn/core/user"
	sqlxrepos "github.com/trezcool/elearn/storage/database/sqlx"
	"github.com/trezcool/elearn/testutil"
)

func setup(t *testing.T) *commandLine {
	t.Helper()

	// set up DB & repos
	db := testutil.OpenSQLiteDB(t)
	validate, _ := testutil.NewValidator()
	usrRepo := sqlxrepos.NewUserRepository(db)

	// start CLI
	return &commandLine{
		db:      db,
		usrRepo: usrRepo,
		usrSvc:  user.NewService(usrRepo),
		rooms:   chat.NewRegistry(sqlxrepos.NewChatRepository(db), validate),
		out:     ioutil.Discard,
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	var gotDir string
	gooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		gotDir = dir
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "course", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}
	assert.Equal(t, "migrations/sqlite3", gotDir)
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	existing := testutil.CreateUser(t, cli.usrRepo, "User", "awe", "awe@test.cd", "mdr", []string{user.RoleTeacher}, false)

	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no email", args: []string{"adduser", "-username", "hero"}, extra: "pwd", wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "hero", "-email", "hero@test.cd"}, wantErr: errHelp},
		{name: "bad flag", args: []string{"adduser", "-lol"}, wantErr: errHelp},
		{name: "new student", args: []string{"adduser", "-username", " Hero ", "-email", "HERO@test.cd"}, extra: "LolC@t123"},
		{name: "existing user made admin", args: []string{"adduser", "-username", "awe", "-email", "awe@test.cd", "-admin"}, extra: "LolC@t456"},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		pwd, _ := tt.extra.(string)
		mockPassword(pwd)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}

	hero, err := cli.usrSvc.GetByUsernameOrEmail(ctx, "hero")
	require.NoError(t, err)
	assert.Equal(t, "hero@test.cd", hero.Email)
	assert.True(t, hero.IsActive)
	assert.Equal(t, user.StudentRoles, hero.Roles)
	assert.Equal(t, "hero", hero.Profile.PublicName)
	assert.NoError(t, hero.CheckPassword("LolC@t123"))

	awe, err := cli.usrSvc.GetByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.True(t, awe.IsActive)
	assert.ElementsMatch(t, user.AllRoles, awe.Roles)
	assert.NoError(t, awe.CheckPassword("LolC@t456"))
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, cli.usrRepo, "User", "awe", "awe@test.cd", "mdr", nil, true)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: "lol", wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: "lol"},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: "lmao"},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		pwd, _ := tt.extra.(string)
		mockPassword(pwd)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			tt.check(t, err)
			if err != nil {
				return
			}
			refreshedUsr, err := cli.usrSvc.GetByID(context.Background(), usr.ID)
			require.NoError(t, err)
			assert.False(t, bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash), "failed to update new password")
			assert.NoError(t, refreshedUsr.CheckPassword(pwd))
		})
	}
}

func Test_commandLine_createRoom(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no name", args: []string{"createroom"}, wantErr: errHelp},
		{name: "created", args: []string{"createroom", "-name", " General ", "-description", "everything"}},
		{name: "already exists", args: []string{"createroom", "-name", "General"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}

	t.Run("blank name", func(t *testing.T) {
		err := cli.run([]string{"admin", "createroom", "-name", "   "})
		var vErrs validator.ValidationErrors
		assert.True(t, errors.As(err, &vErrs), "err = %v", err)
	})

	room, err := cli.rooms.GetByName(context.Background(), "General")
	require.NoError(t, err)
	assert.Equal(t, "everything", room.Description)
}
