package main

import (
	"context"
	"log"
	"os"

	"github.com/trezcool/masomo-dashboard/core"
	"github.com/trezcool/masomo-dashboard/core/session"
	"github.com/trezcool/masomo-dashboard/core/user"
	logsvc "github.com/trezcool/masomo-dashboard/services/logger"
	"github.com/trezcool/masomo-dashboard/services/masomoapi"
	"github.com/trezcool/masomo-dashboard/storage"
)

var logger core.Logger

func main() {
	ctx := context.Background()
	conf := core.NewConfig()

	lg := logsvc.NewRollbarLogger(log.New(os.Stderr, "MASOMO : ", log.LstdFlags), conf)
	lg.Enable(!conf.Debug)
	logger = lg

	// set up the session
	stores, closer, err := storage.Open(ctx, conf)
	errAndDie(err)
	store, err := stores.Store(conf.Session.Namespace)
	errAndDie(err)
	container, err := session.NewContainer(store, logger)
	errAndDie(err)
	errAndDie(container.Rehydrate(ctx))

	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)

	// start CLI
	cli := newCommandLine(container, masomoapi.NewFromConfig(conf), validate, translator, os.Stdout)
	err = cli.run(ctx, os.Args)
	if cErr := closer.Close(); cErr != nil {
		logger.Error("failed to close session store", cErr)
	}
	if err != nil {
		if err != errHelp {
			cli.printError(err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
