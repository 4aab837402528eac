package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbcare/telecall/internal/adapter/driven/gateway/ws"
	repo "github.com/tbcare/telecall/internal/adapter/driven/persistence/memory"
	redisrepo "github.com/tbcare/telecall/internal/adapter/driven/persistence/redis"
	"github.com/tbcare/telecall/internal/adapter/driven/redisconn"
	"github.com/tbcare/telecall/internal/adapter/driven/signaling/memory"
	redisstore "github.com/tbcare/telecall/internal/adapter/driven/signaling/redis"
	handler "github.com/tbcare/telecall/internal/adapter/driving/http"
	"github.com/tbcare/telecall/internal/auth"
	"github.com/tbcare/telecall/internal/config"
	"github.com/tbcare/telecall/internal/core/port"
	"github.com/tbcare/telecall/internal/core/service"
	"github.com/tbcare/telecall/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	l := logging.New(os.Stdout, cfg.LogLevel)
	clk := clock.New()

	signals, appointments, closeStores, err := openStores(cfg, l)
	if err != nil {
		l.Fatal().Err(err).Str("store", cfg.Store).Msg("Failed to open stores")
	}
	defer closeStores()

	messages := repo.NewMessageRepository()
	hub := ws.NewHub()

	appointmentService := service.NewAppointmentService(appointments, hub, clk)
	chatService := service.NewChatService(messages, appointments, hub, clk)
	roomService := service.NewRoomService(appointments)
	h := handler.NewHandler(appointmentService, chatService, roomService, signals, hub,
		auth.NewVerifier(cfg.JWTSecret), clk, cfg.AllowedOrigins)

	go hub.Run()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("port", cfg.Port).Str("store", cfg.Store).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	l.Info().Msg("Server exited")
}

// openStores builds the signal store and appointment repository selected by
// cfg.Store.
func openStores(cfg *config.Config, l zerolog.Logger) (port.SignalStore, port.AppointmentRepository, func(), error) {
	if cfg.Store != config.StoreRedis {
		return memory.NewStore(), repo.NewAppointmentRepository(), func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := redisconn.Connect(ctx, redisconn.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	signals := redisstore.NewStore(client, cfg.SignalTTL, l.With().Str("component", "signals").Logger())
	return signals, redisrepo.NewAppointmentRepository(client), func() { _ = client.Close() }, nil
}
