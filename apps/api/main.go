package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	echoapi "github.com/mzazilink/backend/apps/api/echo"
	"github.com/mzazilink/backend/core"
	"github.com/mzazilink/backend/core/account"
	"github.com/mzazilink/backend/core/link"
	emailsvc "github.com/mzazilink/backend/services/email"
	logsvc "github.com/mzazilink/backend/services/logger"
	notifsvc "github.com/mzazilink/backend/services/notification"
	"github.com/mzazilink/backend/storage/database"
)

func main() {
	conf := core.NewConfig()

	std := log.New(os.Stdout, conf.AppName+" API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(std, conf)
	logger.Enable(!conf.Debug)

	if err := run(conf, std, logger); err != nil {
		logger.Fatal("api: startup failed", err)
	}
}

func run(conf *core.Config, std *log.Logger, logger core.Logger) error {
	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err = db.Ping(); err != nil {
		return err
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	notifier := notifsvc.NewEmailNotifier(conf, mailSvc, logger)

	acctSvc := account.NewService(database.NewAccountRepository(db), logger)
	linkSvc := link.NewService(
		database.NewLinkRepository(db),
		database.NewMembershipChecker(db),
		notifier,
		logger,
		conf.Link,
	)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	app := echoapi.NewServer(&echoapi.Options{
		Addr:           conf.Server.Addr,
		Conf:           conf,
		Logger:         logger,
		LinkSvc:        linkSvc,
		AccountSvc:     acctSvc,
		SignalShutdown: func() { shutdown <- syscall.SIGTERM },
	})

	serverErrors := make(chan error, 1)
	go func() { serverErrors <- app.Start() }()
	std.Printf("API listening on %s", conf.Server.Addr)

	select {
	case err = <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case sig := <-shutdown:
		std.Printf("shutdown started: %v", sig)
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()
		if err = app.Stop(ctx); err != nil {
			logger.Warn("could not stop server gracefully: " + err.Error())
			return err
		}
	}
	return nil
}
