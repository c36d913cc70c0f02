package main

import (
	"context"

	"github.com/mzazilink/backend/core/account"
)

// addAccount creates an account.Account after running the usual validations.
func (cli *commandLine) addAccount(schoolID, name, uname, email, role, pwd string) error {
	ctx := context.Background()
	na := account.NewAccount{
		SchoolID:        schoolID,
		Name:            name,
		Username:        uname,
		Email:           email,
		Role:            role,
		Password:        pwd,
		PasswordConfirm: pwd,
	}
	if err := na.Validate(ctx, cli.acctSvc); err != nil {
		return err
	}
	acct, err := cli.acctSvc.Create(ctx, na)
	if err != nil {
		return err
	}
	logger.Printf("created %s account %s (%s)", acct.Role, acct.Username, acct.ID)
	return nil
}
