package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/karibu/core"
	"github.com/trezcool/karibu/core/progress"
	"github.com/trezcool/karibu/storage/database"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf    *core.Config
	db      *sqlx.DB
	progSvc *progress.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  createdb - create the application database and user if they do not exist")
	fmt.Println("  migrate COMMAND [args] - run database migrations (goose commands)")
	fmt.Println("  reconcile -user USER_ID - re-check a user's eligible badges and grant the missing ones")
	fmt.Println("  grantbadge -user USER_ID -badge BADGE_ID - award a badge to a user")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	reconcileCmd := flag.NewFlagSet("reconcile", flag.ExitOnError)
	reconcileUser := reconcileCmd.String("user", "", "The user's ID.")

	grantBadgeCmd := flag.NewFlagSet("grantbadge", flag.ExitOnError)
	grantBadgeUser := grantBadgeCmd.String("user", "", "The user's ID.")
	grantBadgeBadge := grantBadgeCmd.String("badge", "", "The badge's ID.")

	switch args[1] {
	case "createdb":
		return database.CreateIfNotExist(cli.conf)
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "reconcile":
		if err := reconcileCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *reconcileUser == "" {
			reconcileCmd.Usage()
			return errHelp
		}
		return cli.reconcile(*reconcileUser)
	case "grantbadge":
		if err := grantBadgeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *grantBadgeUser == "" || *grantBadgeBadge == "" {
			grantBadgeCmd.Usage()
			return errHelp
		}
		return cli.grantBadge(*grantBadgeUser, *grantBadgeBadge)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) reconcile(userID string) error {
	if err := cli.progSvc.Reconcile(context.Background(), userID); err != nil {
		return err
	}
	fmt.Printf("badges reconciled for user %s\n", userID)
	return nil
}

func (cli *commandLine) grantBadge(userID, badgeID string) error {
	out, err := cli.progSvc.GrantBadge(context.Background(), userID, badgeID)
	if err != nil {
		return err
	}
	fmt.Printf("badge %s for user %s: %s\n", badgeID, userID, out)
	return nil
}
