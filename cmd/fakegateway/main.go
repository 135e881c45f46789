package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/fakegateway"
	"github.com/danilovkiri/dk-go-prepcredits/internal/logger"
)

func main() {
	log := logger.InitLog(os.Getenv("LOG_LEVEL"))
	cfg, err := fakegateway.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("")
	}
	a := flag.String("a", ":7070", "Server address")
	flag.Parse()
	// priority: flag -> env -> default flag
	if cfg.ServerAddress == "" || isFlagPassed("a") {
		cfg.ServerAddress = *a
	}

	gateway := fakegateway.New(cfg, log)
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      gateway.Router(),
		IdleTimeout:  60 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		ctxTO, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxTO)
	}()

	log.Info().Str("address", cfg.ServerAddress).Str("webhooks", cfg.WebhookBaseURL).Msg("fake gateway start attempted")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("")
	}
}

func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
