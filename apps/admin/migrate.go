package main

import (
	"github.com/mzazilink/backend/storage/database"
)

func (cli *commandLine) migrate() error {
	if err := database.CreateIfNotExist(cli.conf); err != nil {
		return err
	}
	if err := database.Migrate(cli.db.DB); err != nil {
		return err
	}
	logger.Println("database is up to date")
	return nil
}
