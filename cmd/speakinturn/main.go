package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	router "github.com/dkeye/SpeakInTurn/internal/adapters/http"
	"github.com/dkeye/SpeakInTurn/internal/adapters/rtc"
	sigx "github.com/dkeye/SpeakInTurn/internal/adapters/signal"
	"github.com/dkeye/SpeakInTurn/internal/app/audio"
	"github.com/dkeye/SpeakInTurn/internal/app/moderator"
	"github.com/dkeye/SpeakInTurn/internal/app/participant"
	"github.com/dkeye/SpeakInTurn/internal/config"
	"github.com/dkeye/SpeakInTurn/internal/domain"
	"github.com/dkeye/SpeakInTurn/internal/media"
	"github.com/dkeye/SpeakInTurn/internal/status"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("bad flags")
	}
	cfg, v, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := config.ApplyLogLevel(cfg.LogLevel); err != nil {
		log.Error().Err(err).Str("log_level", cfg.LogLevel).Msg("bad log level, keeping info")
	}
	config.WatchLogLevel(v)

	role, err := domain.ParseRole(cfg.Role)
	if err != nil {
		log.Fatal().Err(err).Msg("bad role")
	}

	peers, err := rtc.NewFactory(rtc.Config(cfg.ICEServers))
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}
	exchanger := sigx.NewHTTPExchanger(cfg.SignalURL, cfg.ExchangeTimeout)
	hub := status.NewHub(status.SimplePolicy{})

	var (
		r       *gin.Engine
		wg      conc.WaitGroup
		cleanup func()
	)
	switch role {
	case domain.RoleParticipant:
		capturer, err := media.NewCapturer(media.Source(cfg.Audio.Source), cfg.Audio.File, cfg.Audio.Loop)
		if err != nil {
			log.Fatal().Err(err).Msg("audio source")
		}
		audioMgr := audio.NewManager(peers, exchanger, capturer, cfg.AudioGrace)
		client := participant.NewClient(peers, exchanger, audioMgr, hub, participant.Options{PrimaryGrace: cfg.PrimaryGrace})
		wg.Go(func() { client.Run(ctx) })
		cleanup = audioMgr.Close
		r = router.SetupParticipantRouter(ctx, cfg, hub, client)
	case domain.RoleModerator:
		ctrl := moderator.NewController(peers, exchanger, hub, moderator.Options{ControlGrace: cfg.ControlGrace})
		wg.Go(func() { ctrl.Run(ctx) })
		cleanup = func() {}
		r = router.SetupModeratorRouter(ctx, cfg, hub, ctrl)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("role", string(role)).Msg("SpeakInTurn started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	wg.Wait()
	cleanup()
	hub.Close()
	log.Info().Msg("Server exited gracefully")
}
