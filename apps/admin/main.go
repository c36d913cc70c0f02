package main

import (
	"log"
	"os"

	"github.com/mzazilink/backend/core"
	"github.com/mzazilink/backend/core/account"
	logsvc "github.com/mzazilink/backend/services/logger"
	"github.com/mzazilink/backend/storage/database"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	conf := core.NewConfig()
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	// set up DB; the connection is lazy so `migrate` can create the
	// database before anything touches it
	db, err := database.Open(conf)
	errAndDie(err)
	defer func() { _ = db.Close() }()

	// start CLI
	cli := commandLine{
		conf:     conf,
		db:       db,
		acctSvc:  account.NewService(database.NewAccountRepository(db), logsvc.NewNopLogger()),
		linkRepo: database.NewLinkRepository(db),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
