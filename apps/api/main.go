package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"golang.org/x/time/rate"

	echoapi "github.com/trezcool/elearn/apps/api/echo"
	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/chat"
	"github.com/trezcool/elearn/core/course"
	"github.com/trezcool/elearn/core/user"
	appfs "github.com/trezcool/elearn/fs"
	broadcastsvc "github.com/trezcool/elearn/services/broadcast"
	emailsvc "github.com/trezcool/elearn/services/email"
	logsvc "github.com/trezcool/elearn/services/logger"
	"github.com/trezcool/elearn/storage/database"
	inmemdb "github.com/trezcool/elearn/storage/database/inmem"
	sqlxrepos "github.com/trezcool/elearn/storage/database/sqlx"
)

const logFlags = log.LstdFlags | log.Lmicroseconds | log.Lshortfile

type repositories struct {
	users   user.Repository
	chat    chat.Repository
	courses course.Repository
	close   func() error
}

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := newLogger("API : ", conf)
	dbLogger := newLogger("DB : ", conf)
	chatLogger := newLogger("CHAT : ", conf)

	// set up DB
	repos, err := setUpRepositories(conf, log.New(os.Stdout, "DB : ", logFlags))
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = repos.close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// set up broadcaster
	broadcaster, err := broadcastsvc.New(conf, chatLogger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up chat broker: %v", err), err)
	}
	defer func() {
		if err = broadcaster.Close(); err != nil {
			chatLogger.Error("Failed to close broker connection", err)
		}
	}()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, logger)
	user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswordsFile, logger)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	usrSvc := user.NewService(repos.users)
	rooms := chat.NewRegistry(repos.chat, validate)
	messages := chat.NewMessageStore(repos.chat, conf.Chat.MessageMaxLength)
	chatHandler := chat.NewHandler(
		chat.NewGate(usrSvc, rooms, conf.Chat.MembersOnly),
		messages,
		usrSvc,
		broadcaster,
		chatLogger,
		chat.Options{
			SendBufferSize: conf.Chat.SendBufferSize,
			WriteTimeout:   conf.Chat.WriteTimeout,
			RateLimit:      rate.Limit(conf.Chat.RateLimit),
			RateBurst:      conf.Chat.RateBurst,
			StrictProfiles: conf.Chat.StrictProfiles,
		},
	)
	courseSvc := course.NewService(repos.courses, usrSvc, mailSvc, validate, logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("chat_broker").Set(conf.Chat.Broker)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		Validate:   validate,
		Translator: translator,
		UserSvc:    usrSvc,
		Rooms:      rooms,
		Messages:   messages,
		Chat:       chatHandler,
		CourseSvc:  courseSvc,
	})

	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests and chat connections a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func newLogger(prefix string, conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, prefix, logFlags), conf)
	logger.Enable(!conf.Debug)
	return logger
}

// setUpRepositories opens (creating and migrating it first) the configured database.
func setUpRepositories(conf *core.Config, migrationLogger *log.Logger) (repositories, error) {
	if conf.Database.Engine == database.EngineInMem {
		db := inmemdb.NewDB()
		return repositories{
			users:   inmemdb.NewUserRepository(db),
			chat:    inmemdb.NewChatRepository(db),
			courses: inmemdb.NewCourseRepository(db),
			close:   func() error { return nil },
		}, nil
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		return repositories{}, err
	}
	db, err := database.Open(conf)
	if err != nil {
		return repositories{}, err
	}
	if err = database.Migrate(db, migrationLogger); err != nil {
		_ = db.Close()
		return repositories{}, err
	}
	return repositories{
		users:   sqlxrepos.NewUserRepository(db),
		chat:    sqlxrepos.NewChatRepository(db),
		courses: sqlxrepos.NewCourseRepository(db),
		close:   db.Close,
	}, nil
}
