// Package di is the composition root of the web dashboard.
package di

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoweb "github.com/trezcool/masomo-dashboard/apps/web/echo"
	"github.com/trezcool/masomo-dashboard/core"
	"github.com/trezcool/masomo-dashboard/core/session"
	"github.com/trezcool/masomo-dashboard/core/user"
	logsvc "github.com/trezcool/masomo-dashboard/services/logger"
	"github.com/trezcool/masomo-dashboard/services/masomoapi"
	"github.com/trezcool/masomo-dashboard/storage"
)

// StoreParam is the session storage shared by every device.
type StoreParam struct {
	dig.In
	Factory session.StoreFactory
	Closer  io.Closer `name:"storeCloser"`
}

type storeResult struct {
	dig.Out
	Factory session.StoreFactory
	Closer  io.Closer `name:"storeCloser"`
}

type serverParams struct {
	dig.In
	Conf       *core.Config
	Logger     core.Logger
	Store      StoreParam
	API        echoweb.API
	Validate   *validator.Validate
	Translator ut.Translator
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "WEB : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStores(conf *core.Config, logger core.Logger) storeResult {
	factory, closer, err := storage.Open(context.Background(), conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up session store: %v", err), err)
	}
	return storeResult{Factory: factory, Closer: closer}
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)
	return validate
}

func newServer(p serverParams) *echoweb.Server {
	return echoweb.NewServer(echoweb.ServerDeps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Stores:     p.Store.Factory,
		API:        p.API,
		Validate:   p.Validate,
		Translator: p.Translator,
	})
}

// New returns the dependency injection dig.Container of the web dashboard.
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newStores))
	must(c.Provide(masomoapi.NewFromConfig, dig.As(new(echoweb.API))))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
