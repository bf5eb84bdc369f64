package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/davecheney/tube/activitypub"
	"github.com/davecheney/tube/internal/group"
	"github.com/davecheney/tube/internal/httpx"
	"github.com/davecheney/tube/wellknown"
	"github.com/davecheney/tube/workers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ServeCmd struct {
	Addr   string `help:"address to listen" default:":8080"`
	Domain string `required:"" help:"domain name of the instance"`
}

func (s *ServeCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	inst, err := newInstance(ctx, db, s.Domain)
	if err != nil {
		return err
	}
	logger := ctx.Logger
	h := func(fn func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
		return httpx.HandlerFunc(logger, fn)
	}

	c := chi.NewRouter()
	c.Use(middleware.RequestID)
	c.Use(middleware.RealIP)
	c.Use(requestLogger(logger))
	c.Use(middleware.Recoverer)

	wk := wellknown.NewService(db, s.Domain)
	c.Route("/", func(r chi.Router) {
		actors := activitypub.NewActors(db)
		inbox := h(inst.inbox.Create)

		r.Post("/inbox", inbox)

		r.Route("/accounts/{name}", func(r chi.Router) {
			r.Get("/", h(actors.ShowAccount))
			r.Post("/inbox", inbox)
			r.Get("/outbox", h(actors.Outbox))
			r.Get("/followers", h(actors.Followers))
			r.Get("/following", h(actors.Following))
		})
		r.Route("/video-channels/{name}", func(r chi.Router) {
			r.Get("/", h(actors.ShowChannel))
			r.Post("/inbox", inbox)
			r.Get("/outbox", h(actors.Outbox))
			r.Get("/followers", h(actors.Followers))
			r.Get("/following", h(actors.Following))
		})

		r.Route("/.well-known", func(r chi.Router) {
			r.Get("/webfinger", h(wk.Webfinger))
			r.Get("/host-meta", h(wk.HostMeta))
			r.Get("/nodeinfo", h(wk.NodeInfoIndex))
		})
		r.Get("/nodeinfo/{version}", h(wk.NodeInfoShow))

		r.Handle("/static/redundancy/*", http.StripPrefix("/static/redundancy/", http.FileServer(http.Dir(inst.store.Root()))))
		r.Handle("/metrics", promhttp.Handler())

		r.Get("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			io.WriteString(w, "User-agent: *\nDisallow: /")
		})
	})

	walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		route = strings.Replace(route, "/*/", "/", -1)
		logger.Debug("route", "method", method, "route", route)
		return nil
	}
	if err := chi.Walk(c, walkFunc); err != nil {
		logger.Warn("walk routes", "err", err)
	}

	sigctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g := group.New(sigctx, logger)
	g.Go("http", func(ctx context.Context) error {
		svr := &http.Server{
			Addr:         s.Addr,
			Handler:      c,
			WriteTimeout: 15 * time.Second,
			ReadTimeout:  15 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			svr.Shutdown(shutdown)
		}()
		logger.Info("listening", "addr", s.Addr, "domain", s.Domain)
		if err := svr.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go("queue", inst.queue.Run)
	g.Go("score-sweeper", workers.NewScoreSweeper(db, ctx.Settings.Scores.SweepInterval, logger))
	g.Go("redundancy", inst.engine.Run)
	return g.Wait()
}

// requestLogger logs each request once it has been served.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
