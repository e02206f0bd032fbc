package main

import (
	"github.com/pressly/goose/v3"

	"github.com/trezcool/elearn/storage/database"
)

var gooseRunFunc = goose.Run // mockable

func (cli *commandLine) migrate(args []string) error {
	engine := cli.db.DriverName()
	if err := database.SetUpGoose(engine, nil); err != nil {
		return err
	}
	return gooseRunFunc(args[0], cli.db.DB, database.MigrationsDir(engine), args[1:]...)
}
