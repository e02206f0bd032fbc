package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/user"
)

// addUser updates or creates an active user.User; admins get every role, new users are students.
func (cli *commandLine) addUser(uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if errors.Cause(err) == user.ErrNotFound {
		usr, err = cli.usrSvc.GetByUsernameOrEmail(ctx, email)
	}
	isNew := errors.Cause(err) == user.ErrNotFound
	if err != nil && !isNew {
		return err
	}

	now := time.Now().UTC()
	if isNew {
		usr = user.User{
			Username:  uname,
			Email:     email,
			Roles:     user.StudentRoles,
			Profile:   user.Profile{PublicName: uname},
			CreatedAt: now,
		}
	}
	if isAdmin {
		usr.Roles = user.AllRoles
	}
	usr.IsActive = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}

	if isNew {
		usr, err = cli.usrRepo.CreateUser(ctx, usr)
	} else {
		usr, err = cli.usrRepo.UpdateUser(ctx, usr)
	}
	if err != nil {
		return err
	}
	cli.printf("user %q saved (id %d)\n", usr.Username, usr.ID)
	return nil
}
