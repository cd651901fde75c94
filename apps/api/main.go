package main

import (
	"log"
	"os"

	echoapi "github.com/trezcool/karibu/apps/api/echo"
	"github.com/trezcool/karibu/core"
	"github.com/trezcool/karibu/core/progress"
	catalogsvc "github.com/trezcool/karibu/services/catalog"
	emailsvc "github.com/trezcool/karibu/services/email"
	logsvc "github.com/trezcool/karibu/services/logger"
	notifsvc "github.com/trezcool/karibu/services/notification"
	"github.com/trezcool/karibu/storage/database"
	sqlxrepos "github.com/trezcool/karibu/storage/database/sqlx"

	"github.com/redis/go-redis/v9"
)

func main() {
	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf, err := core.NewConfig()
	errAndDie(std, err)

	var logger core.Logger
	if conf.RollbarToken != "" {
		logger = logsvc.NewRollbarLogger(std, conf)
	} else {
		logger = logsvc.NewStdLogger(std)
	}

	// set up DB & repos
	db, err := database.Open(conf)
	errAndDie(std, err)
	defer func() { _ = db.Close() }()
	repo := sqlxrepos.NewProgressRepository(db)

	// set up the module catalog (owned by the content service)
	var modCat progress.ModuleCatalog
	if conf.Catalog.BaseURL != "" {
		modCat = catalogsvc.NewHTTPCatalog(conf)
		if conf.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     conf.Redis.Addr,
				Password: conf.Redis.Password,
				DB:       conf.Redis.DB,
			})
			modCat = catalogsvc.NewCachedCatalog(modCat, rdb, conf.Catalog.CacheTTL, logger)
		}
	} else {
		// no content service configured: empty catalog, completion never fires
		logger.Warn("no catalog.baseURL configured; serving an empty module catalog")
		modCat = catalogsvc.NewStaticCatalog()
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	notifSvc := notifsvc.NewService(repo, mailSvc, nil /* user emails come with identity integration */, logger)
	progSvc := progress.NewService(repo, modCat, progress.DefaultBadgeCatalog(), notifSvc, logger)

	// start API server
	app := echoapi.NewServer(&echoapi.Options{
		Addr:        conf.Server.Addr,
		Conf:        conf,
		Logger:      logger,
		ProgressSvc: progSvc,
		ModCat:      modCat,
		NotifRepo:   repo,
	})
	app.Start()
}

func errAndDie(std *log.Logger, err error) {
	if err != nil {
		std.Fatal(err)
	}
}
