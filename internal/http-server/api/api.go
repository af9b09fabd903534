package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"passgate/internal/config"
	"passgate/internal/http-server/handlers/errors"
	"passgate/internal/http-server/handlers/history"
	"passgate/internal/http-server/handlers/passes"
	"passgate/internal/http-server/handlers/payment"
	"passgate/internal/http-server/handlers/scan"
	"passgate/internal/http-server/handlers/stripehandler"
	"passgate/internal/http-server/middleware/authenticate"
	"passgate/internal/http-server/middleware/timeout"
	"passgate/lib/sl"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	scan.Core
	passes.Core
	history.Core
	payment.Core
	stripehandler.Core
}

func New(conf *config.Config, log *slog.Logger, handler Handler) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := chi.NewRouter()
	router.Use(timeout.Timeout(5))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Route("/v1", func(rootApi chi.Router) {
		rootApi.Use(authenticate.New(log, handler))
		rootApi.Post("/scan", scan.Submit(log, handler))
		rootApi.Route("/passes", func(p chi.Router) {
			p.Get("/", passes.ResolveOwner(log, handler))
			p.Post("/visitor", passes.IssueVisitor(log, handler))
			p.Delete("/{id}", passes.Revoke(log, handler))
		})
		rootApi.Get("/scans", history.List(log, handler))
		rootApi.Post("/payment/link", payment.Link(log, handler))
	})
	router.Route("/webhook", func(rootWH chi.Router) {
		rootWH.Post("/event", stripehandler.Event(log, handler))
	})

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:      router,
		ErrorLog:     httpLog,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIp, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}
