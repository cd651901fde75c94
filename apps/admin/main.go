package main

import (
	"log"
	"os"

	"github.com/trezcool/karibu/core"
	"github.com/trezcool/karibu/core/progress"
	catalogsvc "github.com/trezcool/karibu/services/catalog"
	emailsvc "github.com/trezcool/karibu/services/email"
	logsvc "github.com/trezcool/karibu/services/logger"
	notifsvc "github.com/trezcool/karibu/services/notification"
	"github.com/trezcool/karibu/storage/database"
	sqlxrepos "github.com/trezcool/karibu/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf, err := core.NewConfig()
	errAndDie(err)

	// set up DB & repos
	db, err := database.Open(conf)
	errAndDie(err)
	defer func() { _ = db.Close() }()
	repo := sqlxrepos.NewProgressRepository(db)

	var modCat progress.ModuleCatalog
	if conf.Catalog.BaseURL != "" {
		modCat = catalogsvc.NewHTTPCatalog(conf)
	} else {
		modCat = catalogsvc.NewStaticCatalog()
	}

	appLogger := logsvc.NewStdLogger(logger)
	notifSvc := notifsvc.NewService(repo, emailsvc.NewConsoleService(conf), nil, appLogger)

	// start CLI
	cli := commandLine{
		conf:    conf,
		db:      db,
		progSvc: progress.NewService(repo, modCat, progress.DefaultBadgeCatalog(), notifSvc, appLogger),
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
