package main

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/mzazilink/backend/core"
	"github.com/mzazilink/backend/core/account"
	"github.com/mzazilink/backend/core/link"
	logsvc "github.com/mzazilink/backend/services/logger"
	inmemdb "github.com/mzazilink/backend/storage/database/inmem"
)

func setup(t *testing.T) (*commandLine, *inmemdb.LinkRepository, account.Service) {
	t.Helper()
	logger = log.New(os.Stdout, "ADMIN : ", 0)

	db := inmemdb.NewDB()
	linkRepo := inmemdb.NewLinkRepository(db)
	acctSvc := account.NewService(inmemdb.NewAccountRepository(db), logsvc.NewNopLogger())

	cli := &commandLine{
		conf:     &core.Config{},
		acctSvc:  acctSvc,
		linkRepo: linkRepo,
	}
	return cli, linkRepo, acctSvc
}

type cliTest struct {
	name    string
	args    []string // without program name
	pwd     string
	wantErr bool
	wantHlp bool
}

func Test_commandLine_addAccount(t *testing.T) {
	cli, _, acctSvc := setup(t)

	validArgs := []string{
		"addaccount",
		"-school", "school-1",
		"-name", "Head Teacher",
		"-username", "headteacher",
		"-email", "headteacher@test.cd",
		"-role", "school_admin",
	}

	tests := []cliTest{
		{name: "no command", wantHlp: true},
		{name: "unknown command", args: []string{"lol"}, wantHlp: true},
		{name: "no flags", args: []string{"addaccount"}, wantHlp: true},
		{name: "flags but no password", args: validArgs, wantHlp: true},
		{name: "invalid role", args: []string{
			"addaccount", "-school", "school-1", "-name", "X", "-username", "someuser",
			"-email", "x@test.cd", "-role", "superhero",
		}, pwd: "Sup3rSecret!", wantErr: true},
		{name: "ok", args: validArgs, pwd: "Sup3rSecret!"},
		{name: "duplicate username", args: validArgs, pwd: "Sup3rSecret!", wantErr: true},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			return []byte(tt.pwd), nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			switch {
			case tt.wantHlp:
				if err != errHelp {
					t.Errorf("cli.run() error = %v, want errHelp", err)
				}
			case tt.wantErr:
				if err == nil || err == errHelp {
					t.Errorf("cli.run() error = %v, want a real error", err)
				}
			default:
				if err != nil {
					t.Fatalf("cli.run() unexpected error = %v", err)
				}
				acct, err := acctSvc.GetByUsernameOrEmail(context.Background(), "headteacher")
				if err != nil {
					t.Fatalf("GetByUsernameOrEmail() failed, %v", err)
				}
				if acct.Role != account.RoleSchoolAdmin {
					t.Errorf("created account role = %s, want %s", acct.Role, account.RoleSchoolAdmin)
				}
				if err := acct.CheckPassword("Sup3rSecret!"); err != nil {
					t.Error("created account password does not verify")
				}
			}
		})
	}
}

func Test_commandLine_purgeRetentions(t *testing.T) {
	cli, linkRepo, _ := setup(t)
	now := time.Now().UTC()

	expired := link.Retention{
		SchoolID: "school-1", GuardianID: "g1", StudentID: "s1", LinkRequestID: "r1",
		DeletedAt: now.Add(-100 * 24 * time.Hour), DeletedBy: "a", DeletedByRole: "school_admin",
		DeletionReason: "mislink", Relationship: link.RelationPrimaryGuardian, Tier: link.TierViewOnly,
		RetentionUntil: now.Add(-10 * 24 * time.Hour),
	}
	fresh := expired
	fresh.LinkRequestID = "r2"
	fresh.RetentionUntil = now.Add(10 * 24 * time.Hour)
	linkRepo.SeedRetention(expired)
	kept := linkRepo.SeedRetention(fresh)

	if err := cli.run([]string{"admin", "purgeretentions"}); err != nil {
		t.Fatalf("cli.run() unexpected error = %v", err)
	}

	tombs, err := linkRepo.QueryRetentions(context.Background(), "school-1")
	if err != nil {
		t.Fatalf("QueryRetentions() failed, %v", err)
	}
	if len(tombs) != 1 || tombs[0].ID != kept.ID {
		t.Errorf("retentions after purge = %+v, want only %s", tombs, kept.ID)
	}
}
