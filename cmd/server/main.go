package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/api/rest/v1"
	"github.com/danilovkiri/dk-go-prepcredits/internal/config"
	"github.com/danilovkiri/dk-go-prepcredits/internal/logger"
)

func main() {
	wg := &sync.WaitGroup{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// get configuration
	cfg, err := config.NewConfiguration()
	log := logger.InitLog("")
	if err != nil {
		log.Fatal().Err(err).Msg("")
	}
	log = logger.InitLog(cfg.LogConfig.Level)
	if err = cfg.ParseFlags(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("")
	}

	// initialize server
	server, storage, err := rest.InitServer(ctx, cfg, log, wg)
	if err != nil {
		log.Fatal().Err(err).Msg("")
	}

	// set a listener for graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-done
		log.Info().Msg("server shutdown attempted")
		ctxTO, cancelTO := context.WithTimeout(ctx, 5*time.Second)
		defer cancelTO()
		if err := server.Shutdown(ctxTO); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
		cancel()
	}()

	// start up the server
	log.Info().Str("address", cfg.ServerConfig.ServerAddress).Msg("server start attempted")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("")
	}
	wg.Wait()
	if err := storage.Close(); err != nil {
		log.Error().Err(err).Msg("storage close failed")
	}
	log.Info().Msg("server shutdown succeeded")
}
