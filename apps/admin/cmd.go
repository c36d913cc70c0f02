package main

import (
	"errors"
	"flag"
	"fmt"
	"syscall"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/mzazilink/backend/core"
	"github.com/mzazilink/backend/core/account"
	"github.com/mzazilink/backend/core/link"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf     *core.Config
	db       *sqlx.DB
	acctSvc  account.Service
	linkRepo link.Repository
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate - create the database if needed and apply pending migrations")
	fmt.Println("  addaccount -school SCHOOL_ID -name NAME -username USERNAME -email EMAIL -role ROLE - create an account; the password is prompted")
	fmt.Println("  purgeretentions - permanently delete retention records past their recovery window")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addAccountCmd := flag.NewFlagSet("addaccount", flag.ExitOnError)
	addAccountSchool := addAccountCmd.String("school", "", "The school the account belongs to.")
	addAccountName := addAccountCmd.String("name", "", "The person's full name.")
	addAccountUname := addAccountCmd.String("username", "", "The account's username.")
	addAccountEmail := addAccountCmd.String("email", "", "The account's email address.")
	addAccountRole := addAccountCmd.String("role", account.RoleSchoolAdmin, "One of: school_admin, teacher, guardian.")

	switch args[1] {
	case "migrate":
		return cli.migrate()
	case "addaccount":
		if err := addAccountCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addAccountSchool == "" || *addAccountName == "" || *addAccountUname == "" || *addAccountEmail == "" {
			addAccountCmd.Usage()
			return errHelp
		}
		fmt.Print("Enter password:")
		pwd, err := readPasswordFunc(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			addAccountCmd.Usage()
			return errHelp
		}
		return cli.addAccount(*addAccountSchool, *addAccountName, *addAccountUname, *addAccountEmail, *addAccountRole, string(pwd))
	case "purgeretentions":
		return cli.purgeRetentions()
	default:
		cli.printUsage()
		return errHelp
	}
}
