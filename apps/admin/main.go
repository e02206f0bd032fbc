package main

import (
	"log"
	"os"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/chat"
	"github.com/trezcool/elearn/core/user"
	"github.com/trezcool/elearn/storage/database"
	sqlxrepos "github.com/trezcool/elearn/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()
	if conf.Database.Engine == database.EngineInMem {
		logger.Fatalf("the admin CLI needs a persistent database engine, got %q", conf.Database.Engine)
	}

	// set up DB
	errAndDie(database.CreateIfNotExist(conf))
	db, err := database.Open(conf)
	errAndDie(err)
	defer func() { _ = db.Close() }()
	errAndDie(db.Ping())

	// set up validators used by the services
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)

	// start CLI
	usrRepo := sqlxrepos.NewUserRepository(db)
	cli := commandLine{
		db:      db,
		usrRepo: usrRepo,
		usrSvc:  user.NewService(usrRepo),
		rooms:   chat.NewRegistry(sqlxrepos.NewChatRepository(db), validate),
	}
	if err = cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		_ = db.Close()
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
